// Package chunk reassembles RTMP messages from an interleaved stream of
// chunks (basic header + message header, FMT 0-3, extended timestamps, and
// dynamic chunk-size changes), adapted from the pack's from-scratch RTMP
// chunk-stream implementation.
package chunk

import (
	"encoding/binary"
	"fmt"
	"io"
)

const defaultChunkSize = 128

// Reader demultiplexes a single net.Conn's byte stream into complete RTMP
// Messages, tracking one streamState per chunk stream ID (CSID) and applying
// Set Chunk Size control messages to itself as it encounters them.
type Reader struct {
	r         io.Reader
	chunkSize uint32
	states    map[uint32]*streamState
}

// NewReader wraps r, which must be the raw byte stream of an accepted RTMP
// connection positioned immediately after the handshake.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:         r,
		chunkSize: defaultChunkSize,
		states:    make(map[uint32]*streamState),
	}
}

// SetChunkSize overrides the maximum chunk payload size used to split
// incoming chunks; the publisher announces this via a Set Chunk Size
// control message which ReadMessage applies automatically.
func (rd *Reader) SetChunkSize(size uint32) {
	if size > 0 {
		rd.chunkSize = size
	}
}

// ReadMessage blocks until one complete RTMP message has been reassembled
// from the underlying stream, transparently looping over as many chunks as
// that requires and applying any Set Chunk Size messages it observes along
// the way.
func (rd *Reader) ReadMessage() (*Message, error) {
	for {
		state, err := rd.readOneChunk()
		if err != nil {
			return nil, err
		}
		if state == nil {
			continue
		}
		if !state.complete() {
			continue
		}
		msg := &Message{
			TypeID:          state.header.MessageTypeID,
			Timestamp:       state.header.Timestamp,
			MessageStreamID: state.header.MessageStreamID,
			ChunkStreamID:   state.header.CSID,
			Payload:         append([]byte(nil), state.buf...),
		}
		state.started = false
		state.buf = state.buf[:0]

		if rd.maybeHandleControl(msg) {
			continue
		}
		return msg, nil
	}
}

// readOneChunk reads a single chunk (header plus up to chunkSize bytes of
// payload) and returns the streamState it belongs to.
func (rd *Reader) readOneChunk() (*streamState, error) {
	fmtVal, csid, err := parseBasicHeader(rd.r)
	if err != nil {
		return nil, err
	}

	state, ok := rd.states[csid]
	if !ok {
		state = &streamState{}
		rd.states[csid] = state
	}
	var prev *Header
	if ok {
		h := state.header
		prev = &h
	}

	h, err := parseHeaderFields(rd.r, fmtVal, csid, prev)
	if err != nil {
		return nil, fmt.Errorf("chunk: csid %d: %w", csid, err)
	}
	state.applyHeader(h)

	if !state.started || len(state.buf) == 0 {
		state.beginMessage()
	}

	remaining := state.want - uint32(len(state.buf))
	take := rd.chunkSize
	if remaining < take {
		take = remaining
	}
	if take > 0 {
		payload := make([]byte, take)
		if _, err := io.ReadFull(rd.r, payload); err != nil {
			return nil, fmt.Errorf("chunk: csid %d: read payload: %w", csid, err)
		}
		state.append(payload)
	}
	return state, nil
}

// maybeHandleControl applies protocol control messages that affect chunk
// demuxing itself (currently only Set Chunk Size) and reports whether msg
// was such a message and should not be surfaced to the caller.
func (rd *Reader) maybeHandleControl(msg *Message) bool {
	if msg.TypeID != TypeSetChunkSize {
		return false
	}
	if len(msg.Payload) < 4 {
		return true
	}
	size := binary.BigEndian.Uint32(msg.Payload[:4]) & 0x7FFFFFFF
	rd.SetChunkSize(size)
	return true
}
