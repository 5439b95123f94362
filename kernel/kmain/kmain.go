// Package kmain contains the kernel initialization routine. It owns the
// singleton services (frame allocator, interrupt controller, scheduler) and
// wires them to the interrupt entry points.
package kmain

import (
	"lightos/kernel"
	"lightos/kernel/cpu"
	"lightos/kernel/gate"
	"lightos/kernel/goruntime"
	"lightos/kernel/kfmt"
	"lightos/kernel/mm/pmm"
	"lightos/kernel/mm/vmm"
	"lightos/kernel/pic"
	"lightos/kernel/sched"
	"lightos/kernel/sync"
	"lightos/multiboot"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	picController pic.Controller
	scheduler     *sched.Scheduler

	// The following functions are overridden by tests.
	gateInitFn          = gate.Init
	pmmInitFn           = pmm.Init
	goruntimeInitFn     = goruntime.Init
	picInitFn           = (*pic.Controller).Init
	programTimerFn      = pic.ProgramTimer
	handleInterruptFn   = gate.HandleInterrupt
	interruptsEnabledFn = cpu.InterruptsEnabled
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
	waitForInterruptFn  = cpu.WaitForInterrupt
	panicFn             = kfmt.Panic
	keepIdlingFn        = func() bool { return true }
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. This function is invoked by the rt0 assembly code
// after setting up the GDT and a minimal g0 struct that allows Go code to
// run on the 4K stack allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by
// the bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the
// CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)
	sync.SetInterruptControl(interruptsEnabledFn, disableInterruptsFn, enableInterruptsFn)
	gateInitFn()

	if _, err := pmmInitFn(kernelStart, kernelEnd); err != nil {
		panicFn(err)
		return
	}

	vmm.Init()

	if err := goruntimeInitFn(); err != nil {
		panicFn(err)
		return
	}

	picInitFn(&picController)
	divisor := programTimerFn(pic.DefaultTimerHz)
	kfmt.Printf("[kmain] timer running at %d Hz (divisor: %d)\n", uint32(pic.DefaultTimerHz), divisor)

	scheduler = sched.New(&picController)
	vmm.SetFaultResolver(scheduler.HandlePageFault)
	handleInterruptFn(gate.TimerIRQ, scheduler.HandleTimerInterrupt)

	enableInterruptsFn()

	// The boot thread becomes the kernel task once the first tick
	// arrives and only runs while no other task is ready. Each wait
	// re-enables interrupts so that the timer can preempt the idle loop.
	for keepIdlingFn() {
		waitForInterruptFn()
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// Scheduler returns the scheduler instance created by Kmain or nil if Kmain
// has not run yet.
func Scheduler() *sched.Scheduler {
	return scheduler
}
