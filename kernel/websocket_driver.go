package kernel

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// wsSubprotocol is the Jupyter kernel WebSocket sub-protocol negotiated with
// jupyter_server. Plain connections (no sub-protocol) use JSON text frames
// instead of the offset-table binary framing; this driver always asks for
// the binary form.
const wsSubprotocol = "v1.kernel.websocket.jupyter.org"

// channel names as carried in the WebSocket offset-table framing.
const (
	channelShell   = "shell"
	channelControl = "control"
	channelIOPub   = "iopub"
	channelStdin   = "stdin"
)

// toWSPayload encodes a message for the given channel using the offset-table
// binary framing: a little-endian u64 offset count (== number of fields),
// that many little-endian u64 byte offsets (one per field, start position
// only), then the concatenated fields themselves (channel, header,
// parent_header, metadata, content, buffers...). The final field's end is
// the end of the payload and is never written on the wire; fromWSPayload
// synthesizes it on decode.
func toWSPayload(channel string, msg Message) ([]byte, error) {
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

	fields := make([][]byte, 0, 5+len(msg.Buffers))
	fields = append(fields, []byte(channel), header, parentHeader, emptyJSON, content)
	fields = append(fields, msg.Buffers...)

	offsetCount := len(fields)
	headerLen := 8 + 8*offsetCount
	out := make([]byte, headerLen)
	binary.LittleEndian.PutUint64(out[0:8], uint64(offsetCount))

	cur := uint64(headerLen)
	for i, f := range fields {
		binary.LittleEndian.PutUint64(out[8+8*i:16+8*i], cur)
		cur += uint64(len(f))
	}

	for _, f := range fields {
		out = append(out, f...)
	}
	return out, nil
}

// fromWSPayload decodes a message framed per toWSPayload.
func fromWSPayload(data []byte) (channel string, msg Message, err error) {
	if len(data) < 8 {
		return "", Message{}, &DeserializeError{Err: fmt.Errorf("frame too short for offset count")}
	}
	offsetCount := int(binary.LittleEndian.Uint64(data[0:8]))
	if offsetCount < 5 {
		return "", Message{}, &DeserializeError{Err: fmt.Errorf("offset count %d too small", offsetCount)}
	}
	offsetsEnd := 8 + 8*offsetCount
	if offsetsEnd > len(data) {
		return "", Message{}, &DeserializeError{Err: fmt.Errorf("frame too short for %d offsets", offsetCount)}
	}
	// boundaries holds one start offset per field plus a synthesized final
	// boundary at len(data); it is never carried on the wire.
	boundaries := make([]uint64, offsetCount+1)
	for i := 0; i < offsetCount; i++ {
		boundaries[i] = binary.LittleEndian.Uint64(data[8+8*i : 16+8*i])
	}
	boundaries[offsetCount] = uint64(len(data))

	fields := make([][]byte, offsetCount)
	for i := 0; i < offsetCount; i++ {
		start, end := boundaries[i], boundaries[i+1]
		if end < start || int(end) > len(data) {
			return "", Message{}, &DeserializeError{Err: fmt.Errorf("offset %d out of range", i)}
		}
		fields[i] = data[start:end]
	}

	var header KernelHeader
	if err := json.Unmarshal(fields[1], &header); err != nil {
		return "", Message{}, &DeserializeError{Err: err}
	}
	var parentHeader *KernelHeader
	if len(fields[2]) > 0 && string(fields[2]) != "{}" && string(fields[2]) != "null" {
		parentHeader = &KernelHeader{}
		if err := json.Unmarshal(fields[2], parentHeader); err != nil {
			return "", Message{}, &DeserializeError{Err: err}
		}
	}

	msg = Message{
		Header:       header,
		ParentHeader: parentHeader,
		Content:      json.RawMessage(fields[4]),
	}
	if len(fields) > 5 {
		msg.Buffers = fields[5:]
	}
	return string(fields[0]), msg, nil
}

// dialWebSocket opens a single multiplexed WebSocket to
// <baseURL>/api/kernels/<kernelID>/channels, authenticated with a bearer
// token, and wires shell/control/iopub traffic into state. All three
// logical channels share the one socket, demultiplexed by the channel name
// carried in each frame.
func dialWebSocket(ctx context.Context, baseURL, kernelID, token string, state *connState) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return &ConnectError{Message: "parse base url", Err: err}
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = u.Path + "/api/kernels/" + url.PathEscape(kernelID) + "/channels"

	dialer := websocket.Dialer{Subprotocols: []string{wsSubprotocol}}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "token "+token)
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return &ConnectError{Message: "websocket handshake", Err: err}
	}

	go wsSendLoop(ctx, conn, state)
	go wsRecvLoop(ctx, conn, state)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return nil
}

func wsSendLoop(ctx context.Context, conn *websocket.Conn, state *connState) {
	for {
		select {
		case msg := <-state.shellOut:
			sendWS(conn, channelShell, msg)
		case msg := <-state.controlOut:
			sendWS(conn, channelControl, msg)
		case <-ctx.Done():
			return
		}
	}
}

func sendWS(conn *websocket.Conn, channel string, msg Message) {
	payload, err := toWSPayload(channel, msg)
	if err != nil {
		log.Printf("jute: encode outbound websocket message: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		log.Printf("jute: websocket write: %v", err)
	}
}

func wsRecvLoop(ctx context.Context, conn *websocket.Conn, state *connState) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				log.Printf("jute: websocket read: %v", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		channel, msg, err := fromWSPayload(data)
		if err != nil {
			log.Printf("jute: dropping malformed websocket frame: %v", err)
			continue
		}
		switch channel {
		case channelShell, channelControl:
			state.deliver(msg)
		case channelIOPub:
			state.publishIOPub(msg)
		case channelStdin:
			// stdin round-trips are out of scope; discard.
		default:
			log.Printf("jute: dropping websocket message on unknown channel %q", channel)
		}
	}
}
