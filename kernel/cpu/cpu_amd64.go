// Package cpu exposes the privileged amd64 instructions used by the kernel.
// None of these functions may be invoked while running in user-mode; code
// that needs to be tested must reach them through overridable function
// variables.
package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled returns true if the interrupt flag (RFLAGS.IF) is set.
func InterruptsEnabled() bool

// Halt stops instruction execution.
func Halt()

// WaitForInterrupt enables interrupt handling and suspends execution until
// the next interrupt arrives. The interrupt flag is left set on return.
func WaitForInterrupt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8
