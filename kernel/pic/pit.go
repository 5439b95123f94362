package pic

const (
	pitChannel0Port = uint16(0x40)
	pitCommandPort  = uint16(0x43)

	// pitSquareWave selects channel 0, lo/hi byte access and mode 3.
	pitSquareWave = uint8(0x36)

	// PITBaseFrequency is the input clock of the interval timer in Hz.
	PITBaseFrequency = 1193182

	// DefaultTimerHz is the scheduler tick rate.
	DefaultTimerHz = 100
)

// ProgramTimer configures PIT channel 0 to raise IRQ0 hz times per second.
// Frequencies that fall outside the range supported by the 16-bit divisor
// are clamped. The divisor that was programmed is returned.
func ProgramTimer(hz uint32) uint16 {
	var divisor uint32
	switch {
	case hz == 0:
		divisor = 0xffff
	default:
		divisor = PITBaseFrequency / hz
	}

	switch {
	case divisor == 0:
		divisor = 1
	case divisor > 0xffff:
		divisor = 0xffff
	}

	portWriteByteFn(pitCommandPort, pitSquareWave)
	portWriteByteFn(pitChannel0Port, uint8(divisor))
	portWriteByteFn(pitChannel0Port, uint8(divisor>>8))

	return uint16(divisor)
}
