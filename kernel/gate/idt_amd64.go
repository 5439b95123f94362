package gate

import (
	"encoding/binary"
	"unsafe"
)

const (
	// numEntryStubs is the number of vectors with an entry stub: the 32
	// CPU exceptions followed by the 16 remapped PIC IRQs.
	numEntryStubs = 48

	kernelCodeSelector = 0x8

	// present, DPL 0, 64-bit interrupt gate. Interrupt gates clear
	// RFLAGS.IF on entry so handlers run with interrupts masked.
	interruptGateFlags = 0x8e
)

// idtEntry is a 64-bit IDT gate descriptor.
type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	flags      uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

func (e *idtEntry) set(handlerAddr uintptr) {
	e.offsetLow = uint16(handlerAddr)
	e.selector = kernelCodeSelector
	e.ist = 0
	e.flags = interruptGateFlags
	e.offsetMid = uint16(handlerAddr >> 16)
	e.offsetHigh = uint32(handlerAddr >> 32)
	e.reserved = 0
}

func (e *idtEntry) present() bool {
	return e.flags&0x80 != 0
}

func (e *idtEntry) handlerAddr() uintptr {
	return uintptr(e.offsetLow) | uintptr(e.offsetMid)<<16 | uintptr(e.offsetHigh)<<32
}

var (
	idt [numInterrupts]idtEntry

	// idtDescriptor holds the 16-bit limit and 64-bit base loaded by LIDT.
	idtDescriptor [10]byte

	// The following functions are overridden by tests.
	gateEntryAddrFn = gateEntryAddr
	loadIDTFn       = loadIDT
)

// Init installs the entry stubs for the CPU exceptions and the PIC IRQs into
// the interrupt descriptor table and loads it. Vectors without a stub are
// left non-present so that raising them triggers a GPF.
func Init() {
	idt = [numInterrupts]idtEntry{}
	for vec := 0; vec < numEntryStubs; vec++ {
		idt[vec].set(gateEntryAddrFn(vec))
	}

	binary.LittleEndian.PutUint16(idtDescriptor[0:], uint16(unsafe.Sizeof(idt)-1))
	binary.LittleEndian.PutUint64(idtDescriptor[2:], uint64(uintptr(unsafe.Pointer(&idt[0]))))

	loadIDTFn(uintptr(unsafe.Pointer(&idtDescriptor[0])))
}

// gateEntryAddr returns the address of the entry stub for the specified
// vector. The stubs are defined in gate_amd64.s.
func gateEntryAddr(vec int) uintptr

// loadIDT executes LIDT with the descriptor stored at descAddr.
func loadIDT(descAddr uintptr)
