package kernel

import (
	"context"
	"sync"
)

// connState is the mutable core shared by every copy of a Connection. A
// Connection value is a thin handle onto it; closing is idempotent and
// safe to call from any copy.
type connState struct {
	session  string
	username string

	shellOut   chan Message // Connection -> driver
	controlOut chan Message // Connection -> driver
	iopubIn    chan Message // driver -> Connection, bounded broadcast queue

	mu      sync.Mutex
	waiters map[string]chan Message

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Queue sizes per §5: small bounded send queues, a larger IOPub queue.
const (
	sendQueueSize  = 8
	iopubQueueSize = 64
)

func newConnState(parent context.Context, session, username string) *connState {
	ctx, cancel := context.WithCancel(parent)
	return &connState{
		session:    session,
		username:   username,
		shellOut:   make(chan Message, sendQueueSize),
		controlOut: make(chan Message, sendQueueSize),
		iopubIn:    make(chan Message, iopubQueueSize),
		waiters:    make(map[string]chan Message),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// registerWaiter inserts a one-shot reply slot for msgID. It must be called
// before the corresponding request is handed to the driver, so that a reply
// racing ahead of the caller can never be missed.
func (s *connState) registerWaiter(msgID string) chan Message {
	ch := make(chan Message, 1)
	s.mu.Lock()
	s.waiters[msgID] = ch
	s.mu.Unlock()
	return ch
}

// removeWaiter deletes and returns the waiter for msgID, if any. It is safe
// to call this more than once for the same id; only the first call finds it.
func (s *connState) removeWaiter(msgID string) (chan Message, bool) {
	s.mu.Lock()
	ch, ok := s.waiters[msgID]
	if ok {
		delete(s.waiters, msgID)
	}
	s.mu.Unlock()
	return ch, ok
}

// deliver routes a decoded shell/control reply to its waiter, if one is
// still registered. Replies with no matching waiter (abandoned or unknown)
// are silently discarded.
func (s *connState) deliver(msg Message) {
	if msg.ParentHeader == nil {
		return
	}
	ch, ok := s.removeWaiter(msg.ParentHeader.MsgID)
	if !ok {
		return
	}
	ch <- msg
}

// publishIOPub pushes an IOPub message onto the broadcast queue, dropping
// the oldest buffered message if the queue is full rather than blocking the
// driver's receive loop.
func (s *connState) publishIOPub(msg Message) {
	for {
		select {
		case s.iopubIn <- msg:
			return
		default:
		}
		select {
		case <-s.iopubIn:
		default:
			return
		}
	}
}

// Connection is the channel-neutral, transport-agnostic client API used to
// talk to a kernel over either ZeroMQ or WebSocket.
type Connection struct {
	state *connState
}

// Close fires the cancellation signal shared by every copy of this
// Connection. All background driver goroutines exit promptly, and every
// pending or future operation on any copy observes a DisconnectError.
// Close is idempotent and safe to call more than once or concurrently.
func (c *Connection) Close() {
	c.state.closeOnce.Do(func() {
		c.state.cancel()
	})
}

// CallShell sends a message on the shell channel and returns a handle for
// awaiting its reply.
func (c *Connection) CallShell(ctx context.Context, msg Message) (*PendingRequest, error) {
	return c.call(ctx, c.state.shellOut, msg)
}

// CallControl sends a message on the control channel and returns a handle
// for awaiting its reply.
func (c *Connection) CallControl(ctx context.Context, msg Message) (*PendingRequest, error) {
	return c.call(ctx, c.state.controlOut, msg)
}

func (c *Connection) call(ctx context.Context, out chan<- Message, msg Message) (*PendingRequest, error) {
	if c.state.ctx.Err() != nil {
		return nil, ErrDisconnect
	}
	msgID := msg.Header.MsgID
	replyCh := c.state.registerWaiter(msgID)

	select {
	case out <- msg:
		return &PendingRequest{state: c.state, msgID: msgID, replyCh: replyCh}, nil
	case <-c.state.ctx.Done():
		c.state.removeWaiter(msgID)
		return nil, ErrDisconnect
	case <-ctx.Done():
		c.state.removeWaiter(msgID)
		return nil, ctx.Err()
	}
}

// RecvIOPub blocks for the next IOPub broadcast message.
func (c *Connection) RecvIOPub(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-c.state.iopubIn:
		if !ok {
			return Message{}, ErrDisconnect
		}
		return msg, nil
	case <-c.state.ctx.Done():
		return Message{}, ErrDisconnect
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// TryRecvIOPub returns the next buffered IOPub message without blocking.
// It never fails: the second return value is false when nothing is queued.
func (c *Connection) TryRecvIOPub() (Message, bool) {
	select {
	case msg, ok := <-c.state.iopubIn:
		if !ok {
			return Message{}, false
		}
		return msg, true
	default:
		return Message{}, false
	}
}

// NewMessage builds an outbound message stamped with this connection's
// session and username and a fresh msg_id.
func (c *Connection) NewMessage(msgType string, content any) (Message, error) {
	return newMessage(c.state.session, c.state.username, msgType, content)
}

// PendingRequest is a scoped handle to a single outstanding shell/control
// request. If the caller abandons it without ever retrieving the reply, it
// must call Drop to release the correlation-table entry (Go has no
// destructors, so this discipline is explicit rather than automatic).
type PendingRequest struct {
	state   *connState
	msgID   string
	replyCh chan Message
	done    bool
}

// Drop releases the correlation-table entry for this request if it has not
// already been delivered. Safe to call multiple times or after GetReply.
func (p *PendingRequest) Drop() {
	if p.done {
		return
	}
	p.done = true
	p.state.removeWaiter(p.msgID)
}

// rawReply blocks until the reply for this request arrives, the connection
// closes, or ctx is canceled.
func (p *PendingRequest) rawReply(ctx context.Context) (Message, error) {
	if p.done {
		return Message{}, ErrDisconnect
	}
	select {
	case msg := <-p.replyCh:
		p.done = true
		return msg, nil
	case <-p.state.ctx.Done():
		p.Drop()
		return Message{}, ErrDisconnect
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// GetReply awaits and decodes the reply to a PendingRequest as Reply[U].
// Go methods cannot carry their own type parameters, so this is a free
// function parameterized over the expected content type.
func GetReply[U any](ctx context.Context, p *PendingRequest) (TypedMessage[Reply[U]], error) {
	msg, err := p.rawReply(ctx)
	if err != nil {
		return TypedMessage[Reply[U]]{}, err
	}
	return IntoTyped[Reply[U]](msg)
}
