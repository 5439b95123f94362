package vmm

import (
	"lightos/kernel"
	"lightos/kernel/cpu"
	"lightos/kernel/gate"
	"lightos/kernel/kfmt"
)

// FaultResolver attempts to resolve a page fault at faultAddress. The
// errorCode is the value pushed by the CPU for the fault. A nil return value
// means that the faulting instruction can be retried.
type FaultResolver func(faultAddress uintptr, errorCode uint64) *kernel.Error

var (
	// the following functions are mocked by tests.
	readCR2Fn         = cpu.ReadCR2
	handleInterruptFn = gate.HandleInterrupt
	panicFn           = kfmt.Panic

	faultResolver FaultResolver

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

// SetFaultResolver registers the function that page faults are routed to.
func SetFaultResolver(resolver FaultResolver) {
	faultResolver = resolver
}

func installFaultHandlers() {
	handleInterruptFn(gate.PageFaultException, pageFaultHandler)
	handleInterruptFn(gate.GPFException, generalProtectionFaultHandler)
}

// pageFaultHandler is invoked when a PDT or PDT-entry is not present or when a
// RW protection check fails.
func pageFaultHandler(regs *gate.Registers) {
	faultAddress := uintptr(readCR2Fn())

	err := errUnrecoverableFault
	if faultResolver != nil {
		if err = faultResolver(faultAddress, regs.Info); err == nil {
			return
		}
	}

	nonRecoverablePageFault(faultAddress, regs, err)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(errUnrecoverableFault)
}

func nonRecoverablePageFault(faultAddress uintptr, regs *gate.Registers, err *kernel.Error) {
	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: %s\n", faultAddress, faultReason(regs.Info))
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(err)
}

// faultReason decodes the error code that the CPU pushes for page faults.
func faultReason(errorCode uint64) string {
	switch errorCode & 0x1f {
	case 0:
		return "read from non-present page"
	case 1:
		return "page protection violation (read)"
	case 2:
		return "write to non-present page"
	case 3:
		return "page protection violation (write)"
	case 4:
		return "read from non-present page in user-mode"
	case 5:
		return "page protection violation (user-mode read)"
	case 6:
		return "write to non-present page in user-mode"
	case 7:
		return "page protection violation (user-mode write)"
	}

	switch {
	case errorCode&8 != 0:
		return "page table has reserved bit set"
	case errorCode&16 != 0:
		return "instruction fetch"
	default:
		return "unknown"
	}
}
