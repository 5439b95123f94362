// Package kfmt implements the kernel console sink: a minimal, allocation-free
// Printf and the plumbing needed to buffer its output until a console is
// attached.
package kfmt

import (
	"io"
	"unsafe"
)

// scratchSize defines the size of the shared buffer used for staging
// formatted output before it is handed to the sink.
const scratchSize = 64

var (
	errMissingArg   = "(MISSING)"
	errWrongArgType = "%!(WRONGTYPE)"
	errNoVerb       = "%!(NOVERB)"
	errExtraArg     = "%!(EXTRA)"

	digits = "0123456789abcdef"

	// scratch stages output before it is written to the sink. Printf is
	// only ever invoked by a single CPU so a shared buffer is sufficient.
	scratch    [scratchSize]byte
	scratchLen int

	// earlyPrintBuffer stores Printf output before a sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is where Printf sends its output. If set to nil, the
	// output is redirected to earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the writer that Printf currently targets. If no sink
// has been attached, the returned writer appends to the early print buffer.
func GetOutputSink() io.Writer {
	if outputSink == nil {
		return &earlyPrintBuffer
	}
	return outputSink
}

// Printf provides a minimal Printf implementation that is safe to call from
// interrupt context as it never allocates memory. It supports the following
// subset of the fmt verbs:
//
//	%s strings and byte slices
//	%d base 10 integers
//	%o base 8 integers
//	%x base 16 integers with lower-case letters
//	%t booleans
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces; base-8 and base-16 integers are
// left-padded with zeroes.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but writes its output to w. If w is
// nil, the output is appended to the early print buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var argIndex, width int

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			putByte(w, format[i])
			continue
		}

		for width, i = 0, i+1; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			putString(w, errNoVerb)
			break
		}

		verb := format[i]
		switch verb {
		case '%':
			putByte(w, '%')
			continue
		case 'd', 'o', 'x', 's', 't':
		default:
			putString(w, errNoVerb)
			continue
		}

		if argIndex >= len(args) {
			putString(w, errMissingArg)
			continue
		}

		switch verb {
		case 'd':
			fmtInt(w, args[argIndex], 10, width)
		case 'o':
			fmtInt(w, args[argIndex], 8, width)
		case 'x':
			fmtInt(w, args[argIndex], 16, width)
		case 's':
			fmtString(w, args[argIndex], width)
		case 't':
			fmtBool(w, args[argIndex])
		}
		argIndex++
	}

	for ; argIndex < len(args); argIndex++ {
		putString(w, errExtraArg)
	}

	flush(w)
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		putString(w, errWrongArgType)
	case b:
		putString(w, "true")
	default:
		putString(w, "false")
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		putRepeat(w, ' ', width-len(s))
		putString(w, s)
	case []byte:
		putRepeat(w, ' ', width-len(s))
		for _, b := range s {
			putByte(w, b)
		}
	default:
		putString(w, errWrongArgType)
	}
}

// fmtInt formats a built-in signed or unsigned integer in the requested base.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		uval uint64
		neg  bool
		buf  [64]byte
		pos  = len(buf)
	)

	switch n := v.(type) {
	case uint8:
		uval = uint64(n)
	case uint16:
		uval = uint64(n)
	case uint32:
		uval = uint64(n)
	case uint64:
		uval = n
	case uint:
		uval = uint64(n)
	case uintptr:
		uval = uint64(n)
	case int8:
		uval, neg = abs(int64(n))
	case int16:
		uval, neg = abs(int64(n))
	case int32:
		uval, neg = abs(int64(n))
	case int64:
		uval, neg = abs(n)
	case int:
		uval, neg = abs(int64(n))
	default:
		putString(w, errWrongArgType)
		return
	}

	for {
		pos--
		buf[pos] = digits[uval%base]
		if uval /= base; uval == 0 {
			break
		}
	}

	if width > len(buf)-1 {
		width = len(buf) - 1
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	numLen := len(buf) - pos
	if neg {
		numLen++
	}

	switch {
	case neg && padCh == ' ':
		putRepeat(w, ' ', width-numLen)
		putByte(w, '-')
	case neg:
		putByte(w, '-')
		putRepeat(w, '0', width-numLen)
	default:
		putRepeat(w, padCh, width-numLen)
	}

	for ; pos < len(buf); pos++ {
		putByte(w, buf[pos])
	}
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func putRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		putByte(w, ch)
	}
}

func putString(w io.Writer, s string) {
	for i := 0; i < len(s); i++ {
		putByte(w, s[i])
	}
}

func putByte(w io.Writer, b byte) {
	if scratchLen == scratchSize {
		flush(w)
	}
	scratch[scratchLen] = b
	scratchLen++
}

// flush hands the staged output to w. The slice header is passed through
// noEscape so the compiler does not flag the scratch buffer as escaping to
// the heap due to the call through the io.Writer interface.
func flush(w io.Writer) {
	if scratchLen == 0 {
		return
	}

	p := scratch[:scratchLen]
	scratchLen = 0
	doWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		_, _ = w.Write(p)
	} else {
		_, _ = earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
