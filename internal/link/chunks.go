package link

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nixfleet-labs/homebase-gateway/internal/protocol"
)

// maxTotalChunks bounds a pathological totalChunks announcement (spec §4.C,
// §5: "chunk slots ≤ 2000 per message").
const maxTotalChunks = 2000

// chunkBuffer accumulates one chunked message's slots until all are filled
// (spec §3 Chunk Buffer). It is owned exclusively by the Link's inbox loop;
// nothing here is safe for concurrent use, by design (spec §5 single-writer
// invariant).
type chunkBuffer struct {
	totalChunks int
	slots       [][]byte
	filled      int
}

func newChunkBuffer(total int) (*chunkBuffer, error) {
	if total < 1 || total > maxTotalChunks {
		return nil, fmt.Errorf("invalid totalChunks %d", total)
	}
	return &chunkBuffer{totalChunks: total, slots: make([][]byte, total)}, nil
}

// put records chunk data at index. Duplicate indices are idempotent: the
// first write wins and the fill count is not incremented twice.
func (b *chunkBuffer) put(index int, data []byte) error {
	if index < 0 || index >= b.totalChunks {
		return fmt.Errorf("chunk index %d out of range [0,%d)", index, b.totalChunks)
	}
	if b.slots[index] != nil {
		return nil
	}
	b.slots[index] = data
	b.filled++
	return nil
}

// complete reports whether every slot has been filled.
func (b *chunkBuffer) complete() bool {
	return b.filled == b.totalChunks
}

// reassemble concatenates slots in index order and parses the result as a
// single inbound frame, for re-entry into the normal dispatch path.
func (b *chunkBuffer) reassemble() (*protocol.InboundFrame, error) {
	var buf bytes.Buffer
	for _, s := range b.slots {
		buf.Write(s)
	}

	var frame protocol.InboundFrame
	if err := json.Unmarshal(buf.Bytes(), &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// chunkBuffers tracks all in-flight chunked messages for one Link, keyed by
// messageId. Owned by the inbox loop, same single-writer discipline as
// chunkBuffer itself.
type chunkBuffers struct {
	byMessageID map[string]*chunkBuffer
}

func newChunkBuffers() *chunkBuffers {
	return &chunkBuffers{byMessageID: make(map[string]*chunkBuffer)}
}

// Accept folds one chunk frame into its buffer, returning the reassembled
// frame once every slot is present (nil otherwise).
func (c *chunkBuffers) Accept(f *protocol.InboundFrame) (*protocol.InboundFrame, error) {
	buf, ok := c.byMessageID[f.MessageID]
	if !ok {
		nb, err := newChunkBuffer(f.TotalChunks)
		if err != nil {
			return nil, err
		}
		buf = nb
		c.byMessageID[f.MessageID] = buf
	}

	if err := buf.put(f.ChunkIndex, []byte(f.Data)); err != nil {
		return nil, err
	}

	if !buf.complete() {
		return nil, nil
	}

	delete(c.byMessageID, f.MessageID)
	return buf.reassemble()
}

// Clear drops every in-flight buffer, called on link teardown.
func (c *chunkBuffers) Clear() {
	c.byMessageID = make(map[string]*chunkBuffer)
}
