package link

import (
	"testing"

	"github.com/nixfleet-labs/homebase-gateway/internal/protocol"
)

func chunkFrame(messageID string, index, total int, data string) *protocol.InboundFrame {
	return &protocol.InboundFrame{
		IsChunkedMessage: true,
		MessageID:        messageID,
		ChunkIndex:       index,
		TotalChunks:      total,
		Data:             data,
	}
}

func TestChunkBuffers_ReassemblesInOrder(t *testing.T) {
	bufs := newChunkBuffers()

	payload := `{"type":"datapoint","name":"ess/status","data":"running"}`
	mid := len(payload) / 2

	if f, err := bufs.Accept(chunkFrame("m1", 0, 2, payload[:mid])); err != nil || f != nil {
		t.Fatalf("first chunk: frame=%v err=%v, want (nil, nil)", f, err)
	}

	f, err := bufs.Accept(chunkFrame("m1", 1, 2, payload[mid:]))
	if err != nil {
		t.Fatalf("second chunk: unexpected error %v", err)
	}
	if f == nil {
		t.Fatal("second chunk: expected reassembled frame, got nil")
	}
	if f.Name != "ess/status" || f.Data != "running" {
		t.Errorf("reassembled frame = %+v, want name=ess/status data=running", f)
	}
}

func TestChunkBuffers_OutOfOrderStillReassembles(t *testing.T) {
	bufs := newChunkBuffers()

	if _, err := bufs.Accept(chunkFrame("m2", 2, 3, `C"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := bufs.Accept(chunkFrame("m2", 0, 3, `{"type":"datapoint","name":"x","data":"A`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, err := bufs.Accept(chunkFrame("m2", 1, 3, `B`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f == nil {
		t.Fatal("expected reassembled frame once all three slots arrive")
	}
}

func TestChunkBuffers_DuplicateIndexIsIdempotent(t *testing.T) {
	bufs := newChunkBuffers()

	if _, err := bufs.Accept(chunkFrame("m3", 0, 2, `{"type":"datapoint","name":"x","data":"first-write"`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := bufs.Accept(chunkFrame("m3", 0, 2, `{"type":"datapoint","name":"x","data":"should-be-ignored"`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Had the duplicate been counted, the buffer would already have been
	// dispatched and this last chunk would start a fresh, incomplete one.
	f, err := bufs.Accept(chunkFrame("m3", 1, 2, `}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f == nil || f.Data != "first-write" {
		t.Errorf("reassembled frame = %+v, want data=first-write (first write wins)", f)
	}
}

func TestChunkBuffers_RejectsOversizedTotalChunks(t *testing.T) {
	bufs := newChunkBuffers()
	if _, err := bufs.Accept(chunkFrame("m4", 0, maxTotalChunks+1, "x")); err == nil {
		t.Error("expected error for totalChunks beyond the cap")
	}
}

func TestChunkBuffers_ClearDropsInFlightBuffers(t *testing.T) {
	bufs := newChunkBuffers()
	if _, err := bufs.Accept(chunkFrame("m5", 0, 2, "partial")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bufs.Clear()
	if len(bufs.byMessageID) != 0 {
		t.Errorf("byMessageID has %d entries after Clear, want 0", len(bufs.byMessageID))
	}
}
