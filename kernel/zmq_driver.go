package kernel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"

	"github.com/go-zeromq/zmq4"
)

// delimiter is the Jupyter wire-protocol frame that separates ZMQ routing
// identities (always empty for a DEALER/SUB client) from the signed message.
const delimiter = "<IDS|MSG>"

var emptyJSON = json.RawMessage("{}")

// toZMQPayload marshals a Message into the ordered frame list a DEALER or
// PUB/SUB socket expects, HMAC-SHA256 signing
// header+parent+metadata+content+buffers with key.
func toZMQPayload(msg Message, key []byte) ([][]byte, error) {
	header, err := json.Marshal(msg.Header)
	if err != nil {
		return nil, err
	}
	var parentHeader []byte
	if msg.ParentHeader != nil {
		parentHeader, err = json.Marshal(msg.ParentHeader)
		if err != nil {
			return nil, err
		}
	} else {
		parentHeader = []byte("null")
	}
	content := msg.Content
	if content == nil {
		content = emptyJSON
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(header)
	mac.Write(parentHeader)
	mac.Write(emptyJSON)
	mac.Write(content)
	for _, b := range msg.Buffers {
		mac.Write(b)
	}
	signature := hex.EncodeToString(mac.Sum(nil))

	frames := make([][]byte, 0, 6+len(msg.Buffers))
	frames = append(frames,
		[]byte(delimiter),
		[]byte(signature),
		header,
		parentHeader,
		emptyJSON,
		content,
	)
	frames = append(frames, msg.Buffers...)
	return frames, nil
}

// fromZMQPayload parses the frame list of a received ZMQ message back into
// a Message, verifying its HMAC-SHA256 signature against key. A missing
// delimiter or signature mismatch is reported as an error so the caller can
// drop the frame and keep polling rather than tearing down the connection.
func fromZMQPayload(frames [][]byte, key []byte) (Message, error) {
	idx := -1
	for i, f := range frames {
		if string(f) == delimiter {
			idx = i
			break
		}
	}
	if idx == -1 || idx+5 >= len(frames) {
		return Message{}, &DeserializeError{Err: errNoDelimiter}
	}

	signature := string(frames[idx+1])
	headerBytes := frames[idx+2]
	parentHeaderBytes := frames[idx+3]
	metadataBytes := frames[idx+4]
	contentBytes := frames[idx+5]

	mac := hmac.New(sha256.New, key)
	mac.Write(headerBytes)
	mac.Write(parentHeaderBytes)
	mac.Write(metadataBytes)
	mac.Write(contentBytes)
	for _, b := range frames[idx+6:] {
		mac.Write(b)
	}
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return Message{}, &DeserializeError{Err: errBadSignature}
	}

	var header KernelHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return Message{}, &DeserializeError{Err: err}
	}

	var parentHeader *KernelHeader
	if len(parentHeaderBytes) > 0 && string(parentHeaderBytes) != "{}" && string(parentHeaderBytes) != "null" {
		parentHeader = &KernelHeader{}
		if err := json.Unmarshal(parentHeaderBytes, parentHeader); err != nil {
			return Message{}, &DeserializeError{Err: err}
		}
	}

	msg := Message{
		Header:       header,
		ParentHeader: parentHeader,
		Content:      json.RawMessage(contentBytes),
	}
	if idx+6 < len(frames) {
		msg.Buffers = frames[idx+6:]
	}
	return msg, nil
}

type wireError string

func (e wireError) Error() string { return string(e) }

const (
	errNoDelimiter  wireError = "no <IDS|MSG> delimiter in frame"
	errBadSignature wireError = "signature verification failed"
)

// dialZMQ opens the shell (DEALER), control (DEALER), iopub (SUB), and stdin
// (DEALER) sockets described by info and wires them into state. The stdin
// socket is opened but never read or written; no heartbeat socket is created.
func dialZMQ(ctx context.Context, info ConnectionInfo, state *connState) error {
	key := []byte(info.Key)

	shell := zmq4.NewDealer(ctx)
	if err := shell.Dial(info.addr(info.ShellPort)); err != nil {
		return &ConnectError{Message: "dial shell socket", Err: err}
	}
	control := zmq4.NewDealer(ctx)
	if err := control.Dial(info.addr(info.ControlPort)); err != nil {
		shell.Close()
		return &ConnectError{Message: "dial control socket", Err: err}
	}
	iopub := zmq4.NewSub(ctx)
	if err := iopub.Dial(info.addr(info.IOPubPort)); err != nil {
		shell.Close()
		control.Close()
		return &ConnectError{Message: "dial iopub socket", Err: err}
	}
	if err := iopub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		shell.Close()
		control.Close()
		iopub.Close()
		return &ConnectError{Message: "subscribe iopub socket", Err: err}
	}
	stdin := zmq4.NewDealer(ctx)
	if err := stdin.Dial(info.addr(info.StdinPort)); err != nil {
		shell.Close()
		control.Close()
		iopub.Close()
		return &ConnectError{Message: "dial stdin socket", Err: err}
	}

	go zmqSendLoop(ctx, shell, state.shellOut, key)
	go zmqSendLoop(ctx, control, state.controlOut, key)
	go zmqRecvLoop(ctx, shell, state, key, state.deliver)
	go zmqRecvLoop(ctx, control, state, key, state.deliver)
	go zmqRecvLoop(ctx, iopub, state, key, state.publishIOPub)

	go func() {
		<-ctx.Done()
		shell.Close()
		control.Close()
		iopub.Close()
		stdin.Close()
	}()

	return nil
}

func zmqSendLoop(ctx context.Context, sock zmq4.Socket, out <-chan Message, key []byte) {
	for {
		select {
		case msg := <-out:
			frames, err := toZMQPayload(msg, key)
			if err != nil {
				log.Printf("jute: encode outbound message: %v", err)
				continue
			}
			if err := sock.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func zmqRecvLoop(ctx context.Context, sock zmq4.Socket, state *connState, key []byte, route func(Message)) {
	for {
		zmsg, err := sock.Recv()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("jute: zmq recv: %v", err)
				return
			}
		}
		msg, err := fromZMQPayload(zmsg.Frames, key)
		if err != nil {
			log.Printf("jute: dropping malformed frame: %v", err)
			continue
		}
		route(msg)
	}
}
