package kfmt

import "io"

// PrefixWriter wraps an io.Writer and emits Prefix at the start of every
// line written through it. Diagnostics use it to tag multi-line dumps with
// the name of the subsystem that produced them.
type PrefixWriter struct {
	Sink   io.Writer
	Prefix []byte

	midLine bool
}

// Write forwards p to the sink, injecting the prefix after each line break.
// The returned count excludes the injected prefixes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written, start int

	for i, b := range p {
		if !w.midLine {
			if _, err := w.Sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		if b != '\n' {
			continue
		}

		n, err := w.Sink.Write(p[start : i+1])
		written += n
		if err != nil {
			return written, err
		}
		start = i + 1
		w.midLine = false
	}

	if start < len(p) {
		n, err := w.Sink.Write(p[start:])
		written += n
		if err != nil {
			return written, err
		}
	}

	return written, nil
}
