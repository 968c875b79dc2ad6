package kernel

import (
	"encoding/json"
	"fmt"
)

// Message type identifiers. This is deliberately a plain string rather than
// a closed enum: an unrecognized msg_type round-trips as-is instead of
// failing to parse, matching the wire protocol's open-ended message set.
const (
	MsgExecuteRequest    = "execute_request"
	MsgExecuteReply      = "execute_reply"
	MsgInspectRequest    = "inspect_request"
	MsgInspectReply      = "inspect_reply"
	MsgCompleteRequest   = "complete_request"
	MsgCompleteReply     = "complete_reply"
	MsgHistoryRequest    = "history_request"
	MsgHistoryReply      = "history_reply"
	MsgIsCompleteRequest = "is_complete_request"
	MsgIsCompleteReply   = "is_complete_reply"
	MsgCommInfoRequest   = "comm_info_request"
	MsgCommInfoReply     = "comm_info_reply"
	MsgKernelInfoRequest = "kernel_info_request"
	MsgKernelInfoReply   = "kernel_info_reply"
	MsgShutdownRequest   = "shutdown_request"
	MsgShutdownReply     = "shutdown_reply"
	MsgInterruptRequest  = "interrupt_request"
	MsgInterruptReply    = "interrupt_reply"
	MsgStream            = "stream"
	MsgDisplayData       = "display_data"
	MsgUpdateDisplayData = "update_display_data"
	MsgExecuteInput      = "execute_input"
	MsgExecuteResult     = "execute_result"
	MsgError             = "error"
	MsgStatus            = "status"
	MsgClearOutput       = "clear_output"
)

// KernelHeader identifies a single message on the wire.
type KernelHeader struct {
	MsgID    string `json:"msg_id"`
	Session  string `json:"session"`
	Username string `json:"username"`
	Date     string `json:"date"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

// ProtocolVersion is the Jupyter messaging protocol version this client
// speaks.
const ProtocolVersion = "5.4"

// Message is a message as it travels the wire: content is left as raw JSON
// until a caller asks for a specific shape via IntoTyped.
type Message struct {
	Header       KernelHeader
	ParentHeader *KernelHeader
	Content      json.RawMessage
	Buffers      [][]byte
}

// TypedMessage is a Message whose content has been decoded into T.
type TypedMessage[T any] struct {
	Header       KernelHeader
	ParentHeader *KernelHeader
	Content      T
	Buffers      [][]byte
}

// IntoTyped decodes a Message's content into T. A content shape mismatch
// returns a DeserializeError; it does not affect the owning Connection.
func IntoTyped[T any](m Message) (TypedMessage[T], error) {
	var content T
	if err := json.Unmarshal(m.Content, &content); err != nil {
		return TypedMessage[T]{}, &DeserializeError{Err: err}
	}
	return TypedMessage[T]{
		Header:       m.Header,
		ParentHeader: m.ParentHeader,
		Content:      content,
		Buffers:      m.Buffers,
	}, nil
}

// newMessage builds an outbound Message with a fresh msg_id, the given
// session and username, and content marshaled to JSON.
func newMessage(session, username, msgType string, content any) (Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return Message{}, fmt.Errorf("marshal message content: %w", err)
	}
	return Message{
		Header: KernelHeader{
			MsgID:    newUUID(),
			Session:  session,
			Username: username,
			Date:     nowISO8601(),
			MsgType:  msgType,
			Version:  ProtocolVersion,
		},
		Content: raw,
	}, nil
}

// ReplyStatus discriminates the Reply tagged union.
type ReplyStatus string

const (
	StatusOK    ReplyStatus = "ok"
	StatusError ReplyStatus = "error"
	StatusAbort ReplyStatus = "abort"
)

// ErrorReply is the content of an error response.
type ErrorReply struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// Reply is the content of a shell/control reply, discriminated by the wire
// "status" field. The wire value "aborted" is an alias for "abort" (see
// https://github.com/ipython/ipykernel/issues/367).
type Reply[T any] struct {
	Status ReplyStatus
	OK     T
	Error  *ErrorReply
}

func (r *Reply[T]) UnmarshalJSON(b []byte) error {
	var tag struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(b, &tag); err != nil {
		return err
	}
	switch tag.Status {
	case "ok":
		r.Status = StatusOK
		return json.Unmarshal(b, &r.OK)
	case "error":
		r.Status = StatusError
		var e ErrorReply
		if err := json.Unmarshal(b, &e); err != nil {
			return err
		}
		r.Error = &e
		return nil
	case "abort", "aborted":
		r.Status = StatusAbort
		return nil
	default:
		return fmt.Errorf("unknown reply status %q", tag.Status)
	}
}

// ExecuteRequest asks the kernel to execute a block of code.
type ExecuteRequest struct {
	Code            string            `json:"code"`
	Silent          bool              `json:"silent"`
	StoreHistory    bool              `json:"store_history"`
	UserExpressions map[string]string `json:"user_expressions"`
	AllowStdin      bool              `json:"allow_stdin"`
	StopOnError     bool              `json:"stop_on_error"`
}

// ExecuteReply is the content of an execute_reply on status=ok.
type ExecuteReply struct {
	ExecutionCount  int               `json:"execution_count"`
	UserExpressions map[string]string `json:"user_expressions,omitempty"`
}

// InspectRequest asks the kernel for introspection of a code fragment.
type InspectRequest struct {
	Code        string `json:"code"`
	CursorPos   int    `json:"cursor_pos"`
	DetailLevel int    `json:"detail_level"`
}

// InspectReply is the result of an inspect_request.
type InspectReply struct {
	Found    bool                       `json:"found"`
	Data     map[string]json.RawMessage `json:"data"`
	Metadata map[string]json.RawMessage `json:"metadata"`
}

// CompleteRequest asks the kernel for completions at a cursor position.
type CompleteRequest struct {
	Code      string `json:"code"`
	CursorPos int    `json:"cursor_pos"`
}

// CompleteReply is the result of a complete_request.
type CompleteReply struct {
	Matches     []string                   `json:"matches"`
	CursorStart int                        `json:"cursor_start"`
	CursorEnd   int                        `json:"cursor_end"`
	Metadata    map[string]json.RawMessage `json:"metadata"`
}

// KernelInfoRequest carries no fields.
type KernelInfoRequest struct{}

// KernelInfoReply describes the running kernel.
type KernelInfoReply struct {
	ProtocolVersion       string       `json:"protocol_version"`
	Implementation        string       `json:"implementation"`
	ImplementationVersion string       `json:"implementation_version"`
	LanguageInfo          LanguageInfo `json:"language_info"`
	Banner                string       `json:"banner"`
	Debugger              bool         `json:"debugger"`
}

// LanguageInfo describes the kernel's programming language.
type LanguageInfo struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	Mimetype          string `json:"mimetype"`
	FileExtension     string `json:"file_extension"`
	NbconvertExporter string `json:"nbconvert_exporter"`
}

// ShutdownRequest asks the kernel to shut down, possibly before a restart.
type ShutdownRequest struct {
	Restart bool `json:"restart"`
}

// ShutdownReply confirms a shutdown_request.
type ShutdownReply struct {
	Restart bool `json:"restart"`
}

// InterruptRequest carries no fields.
type InterruptRequest struct{}

// InterruptReply carries no fields.
type InterruptReply struct{}

// Stream is IOPub output from the kernel's stdout or stderr.
type Stream struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// DisplayData carries rich output to be shown in a frontend.
type DisplayData struct {
	Data      map[string]json.RawMessage `json:"data"`
	Metadata  map[string]json.RawMessage `json:"metadata"`
	Transient *DisplayDataTransient      `json:"transient,omitempty"`
}

// DisplayDataTransient carries an updatable display id.
type DisplayDataTransient struct {
	DisplayID *string `json:"display_id,omitempty"`
}

// ExecuteInput rebroadcasts the code from an execute_request.
type ExecuteInput struct {
	Code           string `json:"code"`
	ExecutionCount int    `json:"execution_count"`
}

// ExecuteResult carries the return value of a cell execution.
type ExecuteResult struct {
	ExecutionCount int                        `json:"execution_count"`
	Data           map[string]json.RawMessage `json:"data"`
	Metadata       map[string]json.RawMessage `json:"metadata"`
}

// KernelStatus is the kernel's busy/idle/starting execution state.
type KernelStatus string

const (
	StatusStarting KernelStatus = "starting"
	StatusIdle     KernelStatus = "idle"
	StatusBusy     KernelStatus = "busy"
)

// Status is the content of an IOPub status message.
type Status struct {
	ExecutionState KernelStatus `json:"execution_state"`
}

// ClearOutput asks the frontend to clear visible output.
type ClearOutput struct {
	Wait bool `json:"wait"`
}
