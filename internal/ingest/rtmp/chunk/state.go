package chunk

// streamState accumulates chunks for one chunk stream ID until a full
// message has been read, applying the FMT0-3 header inheritance rules.
type streamState struct {
	header  Header
	buf     []byte
	want    uint32
	started bool
}

// applyHeader folds a newly parsed header into the stream's running state,
// inheriting fields the header omitted per its FMT, and updates s.header in
// place with the absolute timestamp and message length/type/stream id to use
// for this chunk.
func (s *streamState) applyHeader(h *Header) {
	switch h.FMT {
	case 0:
		s.header = *h
	case 1:
		length := h.MessageLength
		typeID := h.MessageTypeID
		streamID := s.header.MessageStreamID
		s.header.Timestamp += h.Timestamp
		s.header.MessageLength = length
		s.header.MessageTypeID = typeID
		s.header.MessageStreamID = streamID
		s.header.IsDelta = true
	case 2:
		s.header.Timestamp += h.Timestamp
		s.header.IsDelta = true
	case 3:
		if s.header.IsDelta && !s.started {
			s.header.Timestamp += h.Timestamp
		}
	}
	s.header.HasExtendedTimestamp = h.HasExtendedTimestamp
}

func (s *streamState) beginMessage() {
	s.buf = s.buf[:0]
	s.want = s.header.MessageLength
	s.started = true
}

func (s *streamState) append(p []byte) {
	s.buf = append(s.buf, p...)
}

func (s *streamState) complete() bool {
	return uint32(len(s.buf)) >= s.want
}
