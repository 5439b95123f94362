package task

import "lightos/kernel/gate"

const (
	// InitialRFlags is loaded into the flags register of a task that has
	// never run: reserved bit 1 plus the interrupt enable flag.
	InitialRFlags = 0x202

	// KernelCodeSegment and KernelDataSegment are the GDT selectors that
	// tasks execute with.
	KernelCodeSegment = 0x8
	KernelDataSegment = 0x10
)

// Context is the register state of a task that is not running. It uses the
// same layout as the trap frame pushed by the interrupt entry stubs, so
// restoring a task amounts to copying its Context over the frame of the
// interrupt that preempted the running task.
type Context gate.Registers

// NewContext returns a Context that looks as if the task at entry had been
// preempted just before executing its first instruction, using the stack
// that ends at stackTop.
func NewContext(stackTop, entry uintptr) Context {
	return Context{
		RIP:    uint64(entry),
		CS:     KernelCodeSegment,
		RFlags: InitialRFlags,
		RSP:    uint64(stackTop),
		SS:     KernelDataSegment,
	}
}

// Save captures the live register state in regs.
func (c *Context) Save(regs *gate.Registers) {
	*c = Context(*regs)
}

// Restore overwrites regs with the saved register state.
func (c *Context) Restore(regs *gate.Registers) {
	*regs = gate.Registers(*c)
}
