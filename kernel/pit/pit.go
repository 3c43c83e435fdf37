// Package pit programs channel 0 of the Intel 8253/8254 programmable
// interval timer to raise IRQ0 at a fixed frequency, driving the
// scheduler's preemption tick. Grounded on original_source/kernel/src/
// kernel.c's TIMER_PHASE constant and the PIT programming sequence
// original_source issues during boot, restyled in the teacher's
// port-I/O function-variable indirection idiom (kernel/irq's inbFn/outbFn).
package pit

import "ferrite/kernel/cpu"

const (
	channel0Data = uint16(0x40)
	command      = uint16(0x43)

	// mode 3 (square wave generator), channel 0, access lobyte/hibyte,
	// binary (not BCD) counting.
	channel0Mode3 = uint8(0x36)

	// baseFrequency is the PIT's fixed input clock, in Hz.
	baseFrequency = 1193182
)

var outbFn = cpu.Outb

// SetFrequency programs channel 0 to fire at hz ticks per second. Divisors
// are truncated, so the achieved rate may differ slightly from hz for
// frequencies that do not evenly divide baseFrequency; at hz=100 (a 10ms
// quantum) the divisor truncates to 11931, about 100.007 ticks per second.
func SetFrequency(hz uint32) {
	divisor := uint16(baseFrequency / hz)

	outbFn(command, channel0Mode3)
	outbFn(channel0Data, uint8(divisor&0xFF))
	outbFn(channel0Data, uint8(divisor>>8))
}
