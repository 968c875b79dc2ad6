package kernel

import "context"

// KernelInfo sends a kernel_info_request and returns the reply, or an error
// if the request could not be sent, the connection dropped before a reply
// arrived, or the kernel's reply did not fit the expected shape. A reply
// with status=error is returned as a *KernelErrorReply, and one with
// status=abort as ErrDisconnect.
func KernelInfo(ctx context.Context, conn *Connection) (KernelInfoReply, error) {
	msg, err := conn.NewMessage(MsgKernelInfoRequest, KernelInfoRequest{})
	if err != nil {
		return KernelInfoReply{}, err
	}
	pending, err := conn.CallShell(ctx, msg)
	if err != nil {
		return KernelInfoReply{}, err
	}
	reply, err := GetReply[KernelInfoReply](ctx, pending)
	if err != nil {
		return KernelInfoReply{}, err
	}
	if reply.Content.Status == StatusError {
		return KernelInfoReply{}, &KernelErrorReply{Reply: *reply.Content.Error}
	}
	if reply.Content.Status == StatusAbort {
		return KernelInfoReply{}, ErrDisconnect
	}
	return reply.Content.OK, nil
}

// KernelErrorReply wraps an ename/evalue/traceback error reported by the
// kernel itself, as opposed to a transport-level failure.
type KernelErrorReply struct {
	Reply ErrorReply
}

func (e *KernelErrorReply) Error() string {
	return e.Reply.EName + ": " + e.Reply.EValue
}

// CellEventKind discriminates the tagged union streamed back by RunCell.
type CellEventKind string

const (
	CellStdout        CellEventKind = "stdout"
	CellStderr        CellEventKind = "stderr"
	CellExecuteResult CellEventKind = "execute_result"
	CellDisplayData   CellEventKind = "display_data"
	CellUpdateDisplay CellEventKind = "update_display_data"
	CellClearOutput   CellEventKind = "clear_output"
	CellError         CellEventKind = "error"
	CellDisconnected  CellEventKind = "disconnected"
)

// CellEvent is one unit of IOPub traffic translated into a caller-facing
// event. Exactly one of the typed fields is populated, matching Kind, except
// for CellDisconnected, which carries none.
type CellEvent struct {
	Kind CellEventKind

	Stream        *Stream
	ExecuteResult *ExecuteResult
	DisplayData   *DisplayData
	ClearOutput   *ClearOutput
	Error         *ErrorReply
}

// RunCell submits code as an execute_request and returns a channel of
// CellEvents translated from the kernel's IOPub traffic for that cell. The
// channel closes once the kernel reports status=idle for this request, the
// connection is closed, or ctx is canceled — whichever comes first. Per
// cell ordering is preserved, but this implementation does not filter
// IOPub traffic by parent_header.msg_id: concurrent cells on one
// Connection will interleave their events (see the execution model note in
// the design log).
func RunCell(ctx context.Context, conn *Connection, code string) (<-chan CellEvent, error) {
	msg, err := conn.NewMessage(MsgExecuteRequest, ExecuteRequest{
		Code:            code,
		StoreHistory:    true,
		UserExpressions: map[string]string{},
		AllowStdin:      false,
		StopOnError:     true,
	})
	if err != nil {
		return nil, err
	}
	msgID := msg.Header.MsgID

	// Drain any IOPub traffic left over from a prior cell on this
	// connection before submitting: events aren't filtered by
	// parent_header.msg_id, so a stale message here would otherwise
	// surface as this cell's output.
	for {
		if _, ok := conn.TryRecvIOPub(); !ok {
			break
		}
	}

	pending, err := conn.CallShell(ctx, msg)
	if err != nil {
		return nil, err
	}

	events := make(chan CellEvent, 16)
	go runCellLoop(ctx, conn, pending, msgID, events)
	return events, nil
}

func runCellLoop(ctx context.Context, conn *Connection, pending *PendingRequest, msgID string, events chan<- CellEvent) {
	defer close(events)
	defer pending.Drop()

	for {
		msg, err := conn.RecvIOPub(ctx)
		if err != nil {
			events <- CellEvent{Kind: CellDisconnected}
			return
		}

		switch msg.Header.MsgType {
		case MsgStream:
			typed, err := IntoTyped[Stream](msg)
			if err != nil {
				continue
			}
			kind := CellStdout
			if typed.Content.Name == "stderr" {
				kind = CellStderr
			}
			events <- CellEvent{Kind: kind, Stream: &typed.Content}
		case MsgExecuteResult:
			typed, err := IntoTyped[ExecuteResult](msg)
			if err != nil {
				continue
			}
			events <- CellEvent{Kind: CellExecuteResult, ExecuteResult: &typed.Content}
		case MsgDisplayData:
			typed, err := IntoTyped[DisplayData](msg)
			if err != nil {
				continue
			}
			events <- CellEvent{Kind: CellDisplayData, DisplayData: &typed.Content}
		case MsgUpdateDisplayData:
			typed, err := IntoTyped[DisplayData](msg)
			if err != nil {
				continue
			}
			events <- CellEvent{Kind: CellUpdateDisplay, DisplayData: &typed.Content}
		case MsgClearOutput:
			typed, err := IntoTyped[ClearOutput](msg)
			if err != nil {
				continue
			}
			events <- CellEvent{Kind: CellClearOutput, ClearOutput: &typed.Content}
		case MsgError:
			typed, err := IntoTyped[ErrorReply](msg)
			if err != nil {
				continue
			}
			events <- CellEvent{Kind: CellError, Error: &typed.Content}
		case MsgStatus:
			typed, err := IntoTyped[Status](msg)
			if err != nil {
				continue
			}
			if typed.Content.ExecutionState == StatusIdle && msg.ParentHeader != nil && msg.ParentHeader.MsgID == msgID {
				return
			}
		}
	}
}
