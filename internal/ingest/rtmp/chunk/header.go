package chunk

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Header is one parsed chunk header (basic header + message header +
// optional extended timestamp).
type Header struct {
	FMT                    byte
	CSID                   uint32
	Timestamp              uint32
	IsDelta                bool
	MessageLength          uint32
	MessageTypeID          byte
	MessageStreamID        uint32
	HasExtendedTimestamp   bool
	ExtendedTimestampValue uint32
}

func parseBasicHeader(r io.Reader) (fmtVal byte, csid uint32, err error) {
	var first [1]byte
	if _, err = io.ReadFull(r, first[:]); err != nil {
		return 0, 0, err
	}
	fmtVal = first[0] >> 6
	raw := first[0] & 0x3F
	switch raw {
	case 0:
		var b [1]byte
		if _, err = io.ReadFull(r, b[:]); err != nil {
			return 0, 0, fmt.Errorf("chunk: read 2-byte basic header: %w", err)
		}
		csid = uint32(b[0]) + 64
	case 1:
		var b [2]byte
		if _, err = io.ReadFull(r, b[:]); err != nil {
			return 0, 0, fmt.Errorf("chunk: read 3-byte basic header: %w", err)
		}
		csid = uint32(b[0]) + 64 + (uint32(b[1]) << 8)
	default:
		csid = uint32(raw)
	}
	return fmtVal, csid, nil
}

// parseHeader reads the next chunk header from r, inheriting fields from
// prev (the last header seen on this CSID) per the FMT0-3 compression rules.
func parseHeader(r io.Reader, prev *Header) (*Header, error) {
	fmtVal, csid, err := parseBasicHeader(r)
	if err != nil {
		return nil, err
	}
	return parseHeaderFields(r, fmtVal, csid, prev)
}

// parseHeaderFields reads the message-header portion (and optional extended
// timestamp) for a chunk whose basic header (fmtVal, csid) has already been
// consumed, inheriting fields from prev per the FMT0-3 compression rules.
func parseHeaderFields(r io.Reader, fmtVal byte, csid uint32, prev *Header) (*Header, error) {
	h := &Header{FMT: fmtVal, CSID: csid}

	switch fmtVal {
	case 0:
		var mh [11]byte
		if _, err := io.ReadFull(r, mh[:]); err != nil {
			return nil, fmt.Errorf("chunk: read fmt0 message header: %w", err)
		}
		abs := uint32(mh[0])<<16 | uint32(mh[1])<<8 | uint32(mh[2])
		h.Timestamp = abs
		h.MessageLength = uint32(mh[3])<<16 | uint32(mh[4])<<8 | uint32(mh[5])
		h.MessageTypeID = mh[6]
		h.MessageStreamID = binary.LittleEndian.Uint32(mh[7:11])
		if abs == extendedTimestampMarker {
			if err := readExtendedTimestamp(r, h); err != nil {
				return nil, err
			}
		}
	case 1:
		var mh [7]byte
		if _, err := io.ReadFull(r, mh[:]); err != nil {
			return nil, fmt.Errorf("chunk: read fmt1 message header: %w", err)
		}
		delta := uint32(mh[0])<<16 | uint32(mh[1])<<8 | uint32(mh[2])
		h.Timestamp = delta
		h.IsDelta = true
		h.MessageLength = uint32(mh[3])<<16 | uint32(mh[4])<<8 | uint32(mh[5])
		h.MessageTypeID = mh[6]
		if prev != nil {
			h.MessageStreamID = prev.MessageStreamID
		}
		if delta == extendedTimestampMarker {
			if err := readExtendedTimestamp(r, h); err != nil {
				return nil, err
			}
		}
	case 2:
		var mh [3]byte
		if _, err := io.ReadFull(r, mh[:]); err != nil {
			return nil, fmt.Errorf("chunk: read fmt2 message header: %w", err)
		}
		delta := uint32(mh[0])<<16 | uint32(mh[1])<<8 | uint32(mh[2])
		h.Timestamp = delta
		h.IsDelta = true
		if delta == extendedTimestampMarker {
			if err := readExtendedTimestamp(r, h); err != nil {
				return nil, err
			}
		}
		if prev != nil {
			h.MessageLength = prev.MessageLength
			h.MessageTypeID = prev.MessageTypeID
			h.MessageStreamID = prev.MessageStreamID
		}
	case 3:
		if prev == nil {
			return nil, fmt.Errorf("chunk: fmt3 with no previous header for csid %d", csid)
		}
		*h = *prev
		h.FMT = 3
		if prev.HasExtendedTimestamp {
			if err := readExtendedTimestamp(r, h); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("chunk: unsupported fmt %d", fmtVal)
	}
	return h, nil
}

func readExtendedTimestamp(r io.Reader, h *Header) error {
	var ext [4]byte
	if _, err := io.ReadFull(r, ext[:]); err != nil {
		return fmt.Errorf("chunk: read extended timestamp: %w", err)
	}
	h.HasExtendedTimestamp = true
	val := binary.BigEndian.Uint32(ext[:])
	h.ExtendedTimestampValue = val
	h.Timestamp = val
	return nil
}
