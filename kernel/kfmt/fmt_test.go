package kfmt

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestPrintf(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	// mute vet warnings about malformed printf formatting strings
	printfn := Printf

	specs := []struct {
		fn        func()
		expOutput string
	}{
		{func() { printfn("no args") }, "no args"},
		{func() { printfn("%t and %t", true, false) }, "true and false"},
		{func() { printfn("%8t", false) }, "false"},
		{func() { printfn("%s arg", "STRING") }, "STRING arg"},
		{func() { printfn("%s arg", []byte("BYTES")) }, "BYTES arg"},
		{func() { printfn("'%4s'", "AB") }, "'  AB'"},
		{func() { printfn("'%2s'", "ABCD") }, "'ABCD'"},
		{func() { printfn("%d", uint8(10)) }, "10"},
		{func() { printfn("%o", uint16(0777)) }, "777"},
		{func() { printfn("0x%x", uint32(0xbadf00d)) }, "0xbadf00d"},
		{func() { printfn("0x%x", uintptr(0xffffff7ffffff000)) }, "0xffffff7ffffff000"},
		{func() { printfn("'%6d'", uint64(123)) }, "'   123'"},
		{func() { printfn("0x%16x", uint64(0x2000)) }, "0x0000000000002000"},
		{func() { printfn("0x%3x", int64(0xbadf00d)) }, "0xbadf00d"},
		{func() { printfn("%d", int8(-12)) }, "-12"},
		{func() { printfn("'%5d'", int32(-12)) }, "'  -12'"},
		{func() { printfn("'%5x'", int(-0xa)) }, "'-000a'"},
		{func() { printfn("%d", 0) }, "0"},
		{func() { printfn("100%%") }, "100%"},
		{func() { printfn("%d") }, "(MISSING)"},
		{func() { printfn("%d", "not an int") }, "%!(WRONGTYPE)"},
		{func() { printfn("%s", 42) }, "%!(WRONGTYPE)"},
		{func() { printfn("%t", "yes") }, "%!(WRONGTYPE)"},
		{func() { printfn("%q", 1) }, "%!(NOVERB)%!(EXTRA)"},
		{func() { printfn("trailing %") }, "trailing %!(NOVERB)"},
		{func() { printfn("none", 1, 2) }, "none%!(EXTRA)%!(EXTRA)"},
	}

	var buf bytes.Buffer
	SetOutputSink(&buf)

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			buf.Reset()
			spec.fn()

			if got := buf.String(); got != spec.expOutput {
				t.Fatalf("expected to get %q; got %q", spec.expOutput, got)
			}
		})
	}
}

func TestPrintfLongOutput(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	var buf bytes.Buffer
	SetOutputSink(&buf)
	buf.Reset()

	exp := strings.Repeat("0123456789", 3*scratchSize/10+1)
	Printf("%s|%d", exp, 42)

	if got := buf.String(); got != exp+"|42" {
		t.Fatalf("expected to get %q; got %q", exp+"|42", got)
	}
}

func TestPrintfToRingBuffer(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	outputSink = nil
	earlyPrintBuffer.rd, earlyPrintBuffer.wr = 0, 0

	exp := "[sched] switch 1 -> 2"
	Printf("[sched] switch %d -> %d", 1, 2)

	var buf bytes.Buffer
	SetOutputSink(&buf)

	if got := buf.String(); got != exp {
		t.Fatalf("expected early output %q to be flushed to the sink; got %q", exp, got)
	}

	if got := GetOutputSink(); got != &buf {
		t.Fatal("expected GetOutputSink to return the attached sink")
	}
}

func TestFprintf(t *testing.T) {
	var buf bytes.Buffer

	Fprintf(&buf, "area [0x%x, 0x%x)", uintptr(0x2000), uintptr(0x3000))

	if exp, got := "area [0x2000, 0x3000)", buf.String(); got != exp {
		t.Fatalf("expected to get %q; got %q", exp, got)
	}
}

func TestGetOutputSinkWithoutSink(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	outputSink = nil
	if got := GetOutputSink(); got != &earlyPrintBuffer {
		t.Fatal("expected GetOutputSink to return the early print buffer when no sink is attached")
	}
}
