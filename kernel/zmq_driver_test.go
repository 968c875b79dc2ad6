package kernel

import (
	"encoding/json"
	"testing"
)

func TestZMQPayloadRoundTrip(t *testing.T) {
	key := []byte("secret-key")
	parent := &KernelHeader{MsgID: "parent-1", MsgType: MsgExecuteRequest}
	msg := Message{
		Header:       KernelHeader{MsgID: "req-1", Session: "s", MsgType: MsgExecuteRequest, Version: ProtocolVersion},
		ParentHeader: parent,
		Content:      json.RawMessage(`{"code":"1+1"}`),
		Buffers:      [][]byte{[]byte("extra")},
	}

	frames, err := toZMQPayload(msg, key)
	if err != nil {
		t.Fatalf("toZMQPayload: %v", err)
	}

	got, err := fromZMQPayload(frames, key)
	if err != nil {
		t.Fatalf("fromZMQPayload: %v", err)
	}
	if got.Header.MsgID != "req-1" {
		t.Errorf("MsgID = %q", got.Header.MsgID)
	}
	if got.ParentHeader == nil || got.ParentHeader.MsgID != "parent-1" {
		t.Fatalf("ParentHeader = %+v", got.ParentHeader)
	}
	if string(got.Content) != `{"code":"1+1"}` {
		t.Errorf("Content = %s", got.Content)
	}
	if len(got.Buffers) != 1 || string(got.Buffers[0]) != "extra" {
		t.Errorf("Buffers = %v", got.Buffers)
	}
}

func TestZMQPayloadNoParentHeader(t *testing.T) {
	key := []byte("k")
	msg := Message{
		Header:  KernelHeader{MsgID: "req-2"},
		Content: json.RawMessage(`{}`),
	}
	frames, err := toZMQPayload(msg, key)
	if err != nil {
		t.Fatalf("toZMQPayload: %v", err)
	}
	got, err := fromZMQPayload(frames, key)
	if err != nil {
		t.Fatalf("fromZMQPayload: %v", err)
	}
	if got.ParentHeader != nil {
		t.Errorf("expected nil ParentHeader, got %+v", got.ParentHeader)
	}
}

func TestZMQPayloadSignatureMismatchRejected(t *testing.T) {
	msg := Message{Header: KernelHeader{MsgID: "req-3"}, Content: json.RawMessage(`{}`)}
	frames, err := toZMQPayload(msg, []byte("key-a"))
	if err != nil {
		t.Fatalf("toZMQPayload: %v", err)
	}
	if _, err := fromZMQPayload(frames, []byte("key-b")); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestZMQPayloadMissingDelimiter(t *testing.T) {
	frames := [][]byte{[]byte("not-a-delimiter"), []byte("sig")}
	if _, err := fromZMQPayload(frames, []byte("k")); err == nil {
		t.Fatal("expected error for missing delimiter")
	}
}

func TestZMQPayloadIgnoresLeadingIdentityFrames(t *testing.T) {
	key := []byte("k")
	msg := Message{Header: KernelHeader{MsgID: "req-4"}, Content: json.RawMessage(`{}`)}
	frames, err := toZMQPayload(msg, key)
	if err != nil {
		t.Fatalf("toZMQPayload: %v", err)
	}
	withIdentity := append([][]byte{[]byte("routing-id")}, frames...)
	got, err := fromZMQPayload(withIdentity, key)
	if err != nil {
		t.Fatalf("fromZMQPayload: %v", err)
	}
	if got.Header.MsgID != "req-4" {
		t.Errorf("MsgID = %q", got.Header.MsgID)
	}
}
