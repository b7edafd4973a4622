// Package amf implements the subset of AMF0 (Number, Boolean, String, Null,
// Object) needed to parse connect/publish/FCPublish/deleteStream command
// messages and to emit onStatus replies, adapted from the pack's
// from-scratch AMF0 codec since no retrieved dependency offers one.
package amf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

const (
	markerNumber  byte = 0x00
	markerBoolean byte = 0x01
	markerString  byte = 0x02
	markerObject  byte = 0x03
	markerNull    byte = 0x05

	objectEndMarker byte = 0x09
)

// EncodeValue encodes a single AMF0 value to w, dispatching on v's Go type:
// nil->Null, float64->Number, bool->Boolean, string->String,
// map[string]any->Object.
func EncodeValue(w io.Writer, v any) error {
	switch vv := v.(type) {
	case nil:
		return EncodeNull(w)
	case float64:
		return EncodeNumber(w, vv)
	case bool:
		return EncodeBoolean(w, vv)
	case string:
		return EncodeString(w, vv)
	case map[string]any:
		return EncodeObject(w, vv)
	default:
		return fmt.Errorf("amf: unsupported value type %T", v)
	}
}

// EncodeAll encodes a sequence of AMF0 values, concatenated in order; this
// is how an RTMP command message payload (e.g. ["onStatus", 0, nil, info])
// is built.
func EncodeAll(values ...any) ([]byte, error) {
	var buf bytes.Buffer
	for i, v := range values {
		if err := EncodeValue(&buf, v); err != nil {
			return nil, fmt.Errorf("amf: value %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeValue decodes one AMF0 value from r.
func DecodeValue(r io.Reader) (any, error) {
	var marker [1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return nil, fmt.Errorf("amf: read marker: %w", err)
	}
	return decodeWithMarker(marker[0], r)
}

// DecodeAll decodes a concatenated sequence of AMF0 values from data until
// exhaustion, as found in an incoming RTMP command message payload.
func DecodeAll(data []byte) ([]any, error) {
	r := bytes.NewReader(data)
	var out []any
	for r.Len() > 0 {
		v, err := DecodeValue(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeWithMarker(marker byte, r io.Reader) (any, error) {
	switch marker {
	case markerNumber:
		return decodeNumberBody(r)
	case markerBoolean:
		return decodeBooleanBody(r)
	case markerString:
		return decodeStringBody(r)
	case markerNull:
		return nil, nil
	case markerObject:
		return decodeObjectBody(r)
	default:
		return nil, fmt.Errorf("amf: unsupported marker 0x%02x", marker)
	}
}

// EncodeNumber writes an AMF0 Number: marker 0x00 + 8-byte big-endian IEEE754 double.
func EncodeNumber(w io.Writer, v float64) error {
	var buf [9]byte
	buf[0] = markerNumber
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v))
	_, err := w.Write(buf[:])
	return err
}

func decodeNumberBody(r io.Reader) (float64, error) {
	var num [8]byte
	if _, err := io.ReadFull(r, num[:]); err != nil {
		return 0, fmt.Errorf("amf: read number: %w", err)
	}
	return math.Float64frombits(binary.BigEndian.Uint64(num[:])), nil
}

// EncodeBoolean writes an AMF0 Boolean: marker 0x01 + 1 byte (0x00/0x01).
func EncodeBoolean(w io.Writer, v bool) error {
	b := byte(0x00)
	if v {
		b = 0x01
	}
	_, err := w.Write([]byte{markerBoolean, b})
	return err
}

func decodeBooleanBody(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, fmt.Errorf("amf: read boolean: %w", err)
	}
	return b[0] != 0x00, nil
}

// EncodeString writes an AMF0 String: marker 0x02 + 2-byte big-endian
// length + UTF-8 bytes. Strings longer than 65535 bytes are rejected, as
// AMF0's short-string form cannot represent them.
func EncodeString(w io.Writer, s string) error {
	b := []byte(s)
	if len(b) > 0xFFFF {
		return fmt.Errorf("amf: string length %d exceeds 65535", len(b))
	}
	hdr := make([]byte, 3, 3+len(b))
	hdr[0] = markerString
	binary.BigEndian.PutUint16(hdr[1:3], uint16(len(b)))
	_, err := w.Write(append(hdr, b...))
	return err
}

func decodeStringBody(r io.Reader) (string, error) {
	return readShortString(r)
}

func readShortString(r io.Reader) (string, error) {
	var ln [2]byte
	if _, err := io.ReadFull(r, ln[:]); err != nil {
		return "", fmt.Errorf("amf: read string length: %w", err)
	}
	l := binary.BigEndian.Uint16(ln[:])
	if l == 0 {
		return "", nil
	}
	buf := make([]byte, l)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("amf: read string: %w", err)
	}
	return string(buf), nil
}

// EncodeNull writes an AMF0 Null: a single marker byte 0x05.
func EncodeNull(w io.Writer) error {
	_, err := w.Write([]byte{markerNull})
	return err
}

// EncodeObject writes an AMF0 Object: marker 0x03, then for each key a
// 2-byte length-prefixed UTF-8 key followed by its value, terminated by the
// empty-key + 0x09 end sentinel. Keys are emitted sorted for deterministic
// output.
func EncodeObject(w io.Writer, m map[string]any) error {
	if _, err := w.Write([]byte{markerObject}); err != nil {
		return fmt.Errorf("amf: write object marker: %w", err)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		kb := []byte(k)
		if len(kb) > 0xFFFF {
			return fmt.Errorf("amf: object key %q too long", k)
		}
		var hdr [2]byte
		binary.BigEndian.PutUint16(hdr[:], uint16(len(kb)))
		if _, err := w.Write(hdr[:]); err != nil {
			return fmt.Errorf("amf: write object key length: %w", err)
		}
		if _, err := w.Write(kb); err != nil {
			return fmt.Errorf("amf: write object key: %w", err)
		}
		if err := EncodeValue(w, m[k]); err != nil {
			return fmt.Errorf("amf: object key %q: %w", k, err)
		}
	}
	_, err := w.Write([]byte{0x00, 0x00, objectEndMarker})
	return err
}

func decodeObjectBody(r io.Reader) (map[string]any, error) {
	out := make(map[string]any)
	for {
		var klen [2]byte
		if _, err := io.ReadFull(r, klen[:]); err != nil {
			return nil, fmt.Errorf("amf: read object key length: %w", err)
		}
		l := binary.BigEndian.Uint16(klen[:])
		if l == 0 {
			var end [1]byte
			if _, err := io.ReadFull(r, end[:]); err != nil {
				return nil, fmt.Errorf("amf: read object end marker: %w", err)
			}
			if end[0] != objectEndMarker {
				return nil, fmt.Errorf("amf: expected object end marker, got 0x%02x", end[0])
			}
			return out, nil
		}
		keyBytes := make([]byte, l)
		if _, err := io.ReadFull(r, keyBytes); err != nil {
			return nil, fmt.Errorf("amf: read object key: %w", err)
		}
		v, err := DecodeValue(r)
		if err != nil {
			return nil, fmt.Errorf("amf: object key %q: %w", string(keyBytes), err)
		}
		out[string(keyBytes)] = v
	}
}
