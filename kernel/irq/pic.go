package irq

import "ferrite/kernel/cpu"

// 8259A PIC I/O ports and ICW/OCW constants, grounded on
// original_source/kernel/driver/pic.c.
const (
	picMasterCommand = uint16(0x20)
	picMasterData    = uint16(0x21)
	picSlaveCommand  = uint16(0xA0)
	picSlaveData     = uint16(0xA1)

	icw1Init  = uint8(0x11) // edge-triggered, cascade mode, ICW4 needed
	icw4_8086 = uint8(0x01)
	picEOI    = uint8(0x20)
)

// inbFn/outbFn/ioWaitFn are mocked by tests and are automatically inlined
// by the compiler in production builds (the same indirection panic.go uses
// for cpu.Halt).
var (
	inbFn    = cpu.Inb
	outbFn   = cpu.Outb
	ioWaitFn = cpu.IOWait
)

// RemapPIC reprograms both the master and slave 8259A PICs so that IRQs
// 0-15 are delivered on vectors [offset1, offset1+8) and
// [offset2, offset2+8) instead of colliding with the CPU's reserved
// exception vectors 0-31. Grounded on original_source's pic_remap, which
// interleaves an io_wait() after every ICW byte to give the (very old,
// still emulated) PIC hardware time to latch each write.
func RemapPIC(offset1, offset2 uint8) {
	// Save the current interrupt masks; remapping does not change which
	// IRQ lines are enabled.
	mask1 := inbFn(picMasterData)
	mask2 := inbFn(picSlaveData)

	outbFn(picMasterCommand, icw1Init)
	ioWaitFn()
	outbFn(picSlaveCommand, icw1Init)
	ioWaitFn()

	outbFn(picMasterData, offset1)
	ioWaitFn()
	outbFn(picSlaveData, offset2)
	ioWaitFn()

	outbFn(picMasterData, 4) // tell master: slave sits on IRQ2
	ioWaitFn()
	outbFn(picSlaveData, 2) // tell slave its cascade identity
	ioWaitFn()

	outbFn(picMasterData, icw4_8086)
	ioWaitFn()
	outbFn(picSlaveData, icw4_8086)
	ioWaitFn()

	outbFn(picMasterData, mask1)
	outbFn(picSlaveData, mask2)
}

// sendEOI acknowledges a serviced IRQ. For irqLine >= 8 the slave PIC must
// be acknowledged before the master, since the slave is cascaded through
// the master's IRQ2 line (spec.md §5).
func sendEOI(irqLine uint8) {
	if irqLine >= 8 {
		outbFn(picSlaveCommand, picEOI)
	}
	outbFn(picMasterCommand, picEOI)
}

// SetIRQMask enables (mask=false) or disables (mask=true) delivery of the
// given IRQ line.
func SetIRQMask(irqLine uint8, mask bool) {
	port := picMasterData
	bit := irqLine
	if irqLine >= 8 {
		port = picSlaveData
		bit -= 8
	}

	cur := inbFn(port)
	if mask {
		cur |= 1 << bit
	} else {
		cur &^= 1 << bit
	}
	outbFn(port, cur)
}

// DisablePIC masks every IRQ line on both controllers, leaving the PIC
// remapped but silent. Used when an APIC takes over interrupt routing; the
// kernel core never calls it itself (spec.md §1: single-core, PIC only).
func DisablePIC() {
	outbFn(picMasterData, 0xFF)
	outbFn(picSlaveData, 0xFF)
}
