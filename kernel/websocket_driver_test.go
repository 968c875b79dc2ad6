package kernel

import (
	"encoding/binary"
	"encoding/json"
	"testing"
)

// TestWSPayloadOffsetTableLayout pins the wire layout to the §4.4 offset-table
// framing directly, in bytes, rather than round-tripping through this
// package's own encoder and decoder: a symmetric bug in both would otherwise
// go unnoticed.
func TestWSPayloadOffsetTableLayout(t *testing.T) {
	msg := Message{
		Header:  KernelHeader{MsgID: "m1", MsgType: MsgExecuteRequest},
		Content: json.RawMessage(`{}`),
		Buffers: [][]byte{[]byte("abc"), []byte("de")},
	}

	data, err := toWSPayload(channelShell, msg)
	if err != nil {
		t.Fatalf("toWSPayload: %v", err)
	}

	const nbuffers = 2
	wantOffsetCount := 5 + nbuffers
	gotOffsetCount := int(binary.LittleEndian.Uint64(data[0:8]))
	if gotOffsetCount != wantOffsetCount {
		t.Fatalf("offset count = %d, want %d", gotOffsetCount, wantOffsetCount)
	}

	tableLen := 8 * (wantOffsetCount + 1)
	if len(data) < tableLen {
		t.Fatalf("frame too short for offset table: len=%d, want >= %d", len(data), tableLen)
	}

	firstOffset := int(binary.LittleEndian.Uint64(data[8:16]))
	if firstOffset != tableLen {
		t.Errorf("first field offset = %d, want %d (count prefix + %d offsets)", firstOffset, tableLen, wantOffsetCount)
	}

	// No trailing total-length entry is carried on the wire: the table
	// holds exactly wantOffsetCount u64 offsets after the count prefix, so
	// the last offset is the start of the final buffer ("de"), which runs to
	// the end of the frame.
	lastOffset := int(binary.LittleEndian.Uint64(data[8*wantOffsetCount : 8*wantOffsetCount+8]))
	if lastOffset+len("de") != len(data) {
		t.Errorf("last offset = %d, want %d (final buffer ends the frame)", lastOffset, len(data)-len("de"))
	}
}

func TestWSPayloadRoundTrip(t *testing.T) {
	msg := Message{
		Header:       KernelHeader{MsgID: "m1", MsgType: MsgExecuteRequest},
		ParentHeader: &KernelHeader{MsgID: "p1"},
		Content:      json.RawMessage(`{"code":"print(1)"}`),
		Buffers:      [][]byte{[]byte("abc"), []byte("de")},
	}

	data, err := toWSPayload(channelShell, msg)
	if err != nil {
		t.Fatalf("toWSPayload: %v", err)
	}

	channel, got, err := fromWSPayload(data)
	if err != nil {
		t.Fatalf("fromWSPayload: %v", err)
	}
	if channel != channelShell {
		t.Errorf("channel = %q, want %q", channel, channelShell)
	}
	if got.Header.MsgID != "m1" {
		t.Errorf("MsgID = %q", got.Header.MsgID)
	}
	if got.ParentHeader == nil || got.ParentHeader.MsgID != "p1" {
		t.Fatalf("ParentHeader = %+v", got.ParentHeader)
	}
	if string(got.Content) != `{"code":"print(1)"}` {
		t.Errorf("Content = %s", got.Content)
	}
	if len(got.Buffers) != 2 || string(got.Buffers[0]) != "abc" || string(got.Buffers[1]) != "de" {
		t.Errorf("Buffers = %v", got.Buffers)
	}
}

func TestWSPayloadNoBuffersNoParent(t *testing.T) {
	msg := Message{Header: KernelHeader{MsgID: "m2"}, Content: json.RawMessage(`{}`)}
	data, err := toWSPayload(channelIOPub, msg)
	if err != nil {
		t.Fatalf("toWSPayload: %v", err)
	}
	channel, got, err := fromWSPayload(data)
	if err != nil {
		t.Fatalf("fromWSPayload: %v", err)
	}
	if channel != channelIOPub {
		t.Errorf("channel = %q", channel)
	}
	if got.ParentHeader != nil {
		t.Errorf("expected nil ParentHeader, got %+v", got.ParentHeader)
	}
	if len(got.Buffers) != 0 {
		t.Errorf("expected no buffers, got %v", got.Buffers)
	}
}

func TestWSPayloadTruncatedFrameRejected(t *testing.T) {
	msg := Message{Header: KernelHeader{MsgID: "m3"}, Content: json.RawMessage(`{}`)}
	data, err := toWSPayload(channelShell, msg)
	if err != nil {
		t.Fatalf("toWSPayload: %v", err)
	}
	if _, _, err := fromWSPayload(data[:len(data)-5]); err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

func TestWSPayloadTooShortForOffsetCount(t *testing.T) {
	if _, _, err := fromWSPayload([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for undersized frame")
	}
}
