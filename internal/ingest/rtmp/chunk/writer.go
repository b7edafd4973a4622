package chunk

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Writer serializes outbound RTMP messages (protocol control messages and
// AMF0 command replies) onto a connection using one FMT0 header per message
// followed by FMT3 continuation chunks; FMT1/FMT2 header compression across
// messages is not used.
type Writer struct {
	w         io.Writer
	chunkSize uint32
}

// NewWriter wraps w for writing outbound chunk-stream messages.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, chunkSize: defaultChunkSize}
}

// SetChunkSize updates the maximum outbound chunk payload size.
func (wr *Writer) SetChunkSize(size uint32) {
	if size > 0 {
		wr.chunkSize = size
	}
}

// WriteMessage writes msg as one or more chunks on csid, using FMT0 for the
// first chunk and FMT3 continuation chunks for the remainder.
func (wr *Writer) WriteMessage(csid uint32, typeID byte, timestamp, streamID uint32, payload []byte) error {
	basic := make([]byte, 0, 3)
	basic = appendBasicHeader(basic, 0, csid)

	mh := make([]byte, 11)
	ts := timestamp
	if ts >= extendedTimestampMarker {
		mh[0], mh[1], mh[2] = 0xFF, 0xFF, 0xFF
	} else {
		mh[0] = byte(ts >> 16)
		mh[1] = byte(ts >> 8)
		mh[2] = byte(ts)
	}
	length := uint32(len(payload))
	mh[3] = byte(length >> 16)
	mh[4] = byte(length >> 8)
	mh[5] = byte(length)
	mh[6] = typeID
	binary.LittleEndian.PutUint32(mh[7:11], streamID)

	header := append(basic, mh...)
	var ext []byte
	if ts >= extendedTimestampMarker {
		ext = binary.BigEndian.AppendUint32(nil, ts)
		header = append(header, ext...)
	}
	if _, err := wr.w.Write(header); err != nil {
		return fmt.Errorf("chunk: write header: %w", err)
	}

	for offset := 0; offset < len(payload); {
		end := offset + int(wr.chunkSize)
		if end > len(payload) {
			end = len(payload)
		}
		if offset > 0 {
			cont := append(appendBasicHeader(nil, 3, csid), ext...)
			if _, err := wr.w.Write(cont); err != nil {
				return fmt.Errorf("chunk: write continuation header: %w", err)
			}
		}
		if _, err := wr.w.Write(payload[offset:end]); err != nil {
			return fmt.Errorf("chunk: write payload: %w", err)
		}
		offset = end
	}
	return nil
}

func appendBasicHeader(dst []byte, fmtVal byte, csid uint32) []byte {
	switch {
	case csid < 64:
		return append(dst, (fmtVal<<6)|byte(csid))
	case csid < 64+256:
		return append(dst, fmtVal<<6, byte(csid-64))
	default:
		rel := csid - 64
		return append(dst, (fmtVal<<6)|0x01, byte(rel), byte(rel>>8))
	}
}
