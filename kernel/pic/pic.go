// Package pic drives the legacy 8259A programmable interrupt controller pair
// and the 8253/8254 interval timer that feeds IRQ0.
package pic

import (
	"lightos/kernel/cpu"
	"lightos/kernel/gate"
	"lightos/kernel/sync"
)

const (
	masterCommandPort = uint16(0x20)
	masterDataPort    = uint16(0x21)
	slaveCommandPort  = uint16(0xa0)
	slaveDataPort     = uint16(0xa1)

	icw1Init     = uint8(0x11)
	icw3SlaveAt2 = uint8(0x04)
	icw3Cascade  = uint8(0x02)
	icw4Mode8086 = uint8(0x01)

	eoiCommand = uint8(0x20)
)

var (
	// The following functions are overridden by tests.
	portWriteByteFn = cpu.PortWriteByte
)

// Controller represents the chained master/slave PIC pair.
type Controller struct {
	mutex sync.IRQSafeSpinlock
}

// Init remaps the master PIC to gate.IRQBase and the slave PIC to
// gate.SlaveIRQBase so hardware IRQs do not collide with CPU exceptions. All
// IRQ lines are left unmasked.
func (c *Controller) Init() {
	c.mutex.Acquire()
	defer c.mutex.Release()

	portWriteByteFn(masterCommandPort, icw1Init)
	portWriteByteFn(slaveCommandPort, icw1Init)

	portWriteByteFn(masterDataPort, uint8(gate.IRQBase))
	portWriteByteFn(slaveDataPort, uint8(gate.SlaveIRQBase))

	portWriteByteFn(masterDataPort, icw3SlaveAt2)
	portWriteByteFn(slaveDataPort, icw3Cascade)

	portWriteByteFn(masterDataPort, icw4Mode8086)
	portWriteByteFn(slaveDataPort, icw4Mode8086)

	portWriteByteFn(masterDataPort, 0)
	portWriteByteFn(slaveDataPort, 0)
}

// Acknowledge signals end-of-interrupt for the supplied vector. Vectors that
// originate from the slave PIC need to be acknowledged by both controllers.
func (c *Controller) Acknowledge(vector gate.InterruptNumber) {
	c.mutex.Acquire()
	if vector >= gate.SlaveIRQBase {
		portWriteByteFn(slaveCommandPort, eoiCommand)
	}
	portWriteByteFn(masterCommandPort, eoiCommand)
	c.mutex.Release()
}
