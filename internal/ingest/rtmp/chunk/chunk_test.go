package chunk

import (
	"bytes"
	"testing"
)

func TestWriterReaderRoundTripSingleChunk(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	payload := []byte("hello rtmp")
	if err := w.WriteMessage(3, TypeAMF0Command, 0, 0, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewReader(&buf)
	msg, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.TypeID != TypeAMF0Command {
		t.Fatalf("type id = %d", msg.TypeID)
	}
	if !bytes.Equal(msg.Payload, payload) {
		t.Fatalf("payload = %q, want %q", msg.Payload, payload)
	}
}

func TestWriterReaderRoundTripMultiChunk(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetChunkSize(8)
	payload := bytes.Repeat([]byte{0xAB}, 40)
	if err := w.WriteMessage(5, TypeVideo, 100, 1, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewReader(&buf)
	r.SetChunkSize(8)
	msg, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msg.Payload) != len(payload) {
		t.Fatalf("payload length = %d, want %d", len(msg.Payload), len(payload))
	}
	if !bytes.Equal(msg.Payload, payload) {
		t.Fatal("payload mismatch across chunk boundaries")
	}
	if msg.MessageStreamID != 1 {
		t.Fatalf("stream id = %d", msg.MessageStreamID)
	}
}

func TestReaderAppliesSetChunkSizeControlMessage(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	sizePayload := []byte{0x00, 0x00, 0x02, 0x00} // 512
	if err := w.WriteMessage(2, TypeSetChunkSize, 0, 0, sizePayload); err != nil {
		t.Fatalf("write control: %v", err)
	}
	w.SetChunkSize(512)
	payload := bytes.Repeat([]byte{0x01}, 300)
	if err := w.WriteMessage(4, TypeAudio, 0, 1, payload); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	r := NewReader(&buf)
	msg, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.TypeID != TypeAudio {
		t.Fatalf("expected control message to be consumed internally, got type %d", msg.TypeID)
	}
	if !bytes.Equal(msg.Payload, payload) {
		t.Fatal("audio payload mismatch")
	}
}

func TestReaderRejectsFMT3WithNoPriorHeader(t *testing.T) {
	// FMT 3 basic header for csid 7, with no prior chunk on that stream.
	var buf bytes.Buffer
	buf.WriteByte((3 << 6) | 7)
	r := NewReader(&buf)
	if _, err := r.ReadMessage(); err == nil {
		t.Fatal("expected error for fmt3 with no prior header")
	}
}
