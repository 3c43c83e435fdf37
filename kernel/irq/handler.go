package irq

import (
	"ferrite/kernel/cpu"
	"ferrite/kernel/kfmt"
)

// Vector numbers for the handful of exceptions the kernel core inspects by
// name; every other vector is still dispatched, just without a symbolic
// constant.
const (
	DivideByZero       = uint8(0)
	DebugException     = uint8(1)
	NMI                = uint8(2)
	Breakpoint         = uint8(3)
	Overflow           = uint8(4)
	BoundRangeExceeded = uint8(5)
	InvalidOpcode      = uint8(6)
	DeviceNotAvailable = uint8(7)
	DoubleFault        = uint8(8)
	InvalidTSS         = uint8(10)
	SegmentNotPresent  = uint8(11)
	StackFault         = uint8(12)
	GPFException       = uint8(13)
	PageFaultException = uint8(14)

	// irqBase is the vector the master PIC's IRQ0 is remapped to
	// (spec.md §5: PIC remap offsets 32/40).
	irqBase = uint8(32)

	// SyscallVector is the software interrupt gate user code issues via
	// `int 0x80` to enter the kernel (spec.md §7).
	SyscallVector = uint8(0x80)
)

// exceptionMessage mirrors original_source/kernel/src/system/isr.c's
// exception_message table: one short description per CPU exception vector
// (0-31), used by the default handler when nothing more specific has been
// installed.
var exceptionMessage = [32]string{
	"Division by zero",
	"Debug",
	"Non-maskable interrupt",
	"Breakpoint",
	"Into detected overflow",
	"Out of bounds",
	"Invalid opcode",
	"No coprocessor",
	"Double fault",
	"Coprocessor segment overrun",
	"Bad TSS",
	"Segment not present",
	"Stack fault",
	"General protection fault",
	"Page fault",
	"Unknown interrupt",
	"Coprocessor fault",
	"Alignment check",
	"Machine check",
	"SIMD floating-point exception",
	"Reserved", "Reserved", "Reserved", "Reserved", "Reserved",
	"Reserved", "Reserved", "Reserved", "Reserved", "Reserved", "Reserved",
}

// Vector returns the IDT vector number an external IRQ line is remapped to
// (spec.md §5: the master PIC is remapped to base vector 32). The
// scheduler uses this to install its tick handler on IRQ0.
func Vector(irqLine uint8) uint8 {
	return irqBase + irqLine
}

// Handler processes an interrupt or exception. Any modification made to
// regs is propagated back to the interrupted context when the assembly
// trampoline restores it (used by the scheduler to switch stacks on a timer
// tick, and by syscall dispatch to set a return value in EAX).
type Handler func(regs *Regs)

var routines [256]Handler

// haltFn is mocked by tests; defaults to the real CPU halt instruction.
var haltFn = cpu.Halt

// Install registers handler as the routine invoked for the given vector,
// replacing whatever was previously installed. Passing a nil handler clears
// the vector, reverting it to the default behavior (panic for an
// exception, silent EOI for an IRQ).
func Install(vector uint8, handler Handler) {
	routines[vector] = handler
}

// Uninstall clears any handler previously registered for vector.
func Uninstall(vector uint8) {
	routines[vector] = nil
}

// Dispatch is invoked by the assembly ISR trampoline for every vector. It
// looks up the installed handler, falling back to the built-in exception
// diagnostic or a plain EOI for unhandled IRQs, and sends the PIC its
// end-of-interrupt for any vector in the remapped IRQ range (spec.md §5:
// grounded on original_source's isr_handler, which issues EOI before
// returning for vectors >= 32).
func Dispatch(regs *Regs) {
	vector := uint8(regs.IntNo)

	if h := routines[vector]; h != nil {
		h(regs)
	} else if vector < 32 {
		defaultExceptionHandler(regs)
	}

	if vector >= irqBase && vector < irqBase+16 {
		sendEOI(vector - irqBase)
	}
}

// defaultExceptionHandler reports an unhandled CPU exception and halts,
// mirroring original_source's fallback exception_handler.
func defaultExceptionHandler(regs *Regs) {
	vector := regs.IntNo
	msg := "Unknown exception"
	if vector < uint32(len(exceptionMessage)) {
		msg = exceptionMessage[vector]
	}

	kfmt.Printf("\n-----------------------------------\n")
	kfmt.Printf("unhandled exception %d: %s\n", vector, msg)
	regs.Print()
	regs.Frame().Print()
	kfmt.Printf("*** kernel panic: system halted ***\n")
	kfmt.Printf("-----------------------------------\n")

	haltFn()
}
