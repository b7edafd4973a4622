package relay

import "bytes"

const overflowThreshold = 1 << 20 // 1 MiB

// statLineWriter splits a child process's stdout/stderr into lines,
// invoking onLine for each complete one. It tracks the size of the
// as-yet-unterminated partial line; rather than letting that remainder grow
// without bound (a misbehaving child emitting output with no newlines), it
// is dropped once it crosses overflowThreshold. No other buffering occurs:
// completed lines are handed off and discarded immediately.
type statLineWriter struct {
	onLine   func(string)
	partial  []byte
	overflow bool
}

func newStatLineWriter(onLine func(string)) *statLineWriter {
	return &statLineWriter{onLine: onLine}
}

func (w *statLineWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexAny(p, "\r\n")
		if idx == -1 {
			w.appendPartial(p)
			break
		}
		line := p[:idx]
		p = p[idx+1:]
		if w.overflow {
			w.partial = nil
			w.overflow = false
			continue
		}
		full := append(w.partial, line...)
		w.partial = nil
		if trimmed := bytes.TrimSpace(full); len(trimmed) > 0 && w.onLine != nil {
			w.onLine(string(trimmed))
		}
	}
	return total, nil
}

func (w *statLineWriter) appendPartial(p []byte) {
	if w.overflow {
		return
	}
	w.partial = append(w.partial, p...)
	if len(w.partial) > overflowThreshold {
		w.partial = nil
		w.overflow = true
	}
}
