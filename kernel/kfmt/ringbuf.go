package kfmt

import "io"

// ringBufferSize is the capacity of the early output buffer. It must be a
// power of 2.
const ringBufferSize = 4096

// ringBuffer captures Printf output produced before a console sink has been
// attached. When full, the oldest bytes are overwritten.
type ringBuffer struct {
	data   [ringBufferSize]byte
	rd, wr int
}

func (rb *ringBuffer) Write(p []byte) (int, error) {
	const mask = ringBufferSize - 1

	for _, b := range p {
		rb.data[rb.wr] = b
		rb.wr = (rb.wr + 1) & mask
		if rb.wr == rb.rd {
			rb.rd = (rb.rd + 1) & mask
		}
	}

	return len(p), nil
}

// Read drains up to len(p) buffered bytes. It returns io.EOF once the buffer
// is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.rd == rb.wr {
		return 0, io.EOF
	}

	end := rb.wr
	if rb.rd > rb.wr {
		end = ringBufferSize
	}

	n := copy(p, rb.data[rb.rd:end])
	rb.rd = (rb.rd + n) & (ringBufferSize - 1)
	return n, nil
}
