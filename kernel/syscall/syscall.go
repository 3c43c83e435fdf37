// Package syscall implements the int 0x80 gate: one interrupt vector
// multiplexed over a small set of syscall numbers, dispatched by the value
// the caller places in EAX (spec.md §4.6). Grounded on original_source's
// isr_handler dispatch-by-table idiom (kernel/src/system/isr.c) and
// restyled in the irq.Handler/routines-table idiom kernel/irq already uses
// for interrupt vectors, since a syscall gate is the same kind of
// number-to-handler dispatch one level down.
package syscall

import (
	"ferrite/kernel/console"
	"ferrite/kernel/irq"
	"ferrite/kernel/proc"
	"ferrite/kernel/rtc"
)

// Syscall numbers, placed in EAX by the caller (spec.md §4.6's "minimum
// set"). Argument registers are EBX, ECX, EDX, ESI, EDI in that order
// (spec.md §6).
const (
	Test = uint32(iota)
	Putchar
	Time
	Sleep
	ProcessTerminate
	KillProcess
)

// ErrUnknown is the sentinel value returned in EAX when EAX did not name a
// known syscall on entry, and by KillProcess when no process has the given
// pid (spec.md §4.6: "return a sentinel error code; do
// not fault", and spec.md §7's error table: disposition is "return error
// sentinel; thread continues").
const ErrUnknown = ^uint32(0)

// consoleSink is where Putchar writes; installed by the boot sequence once
// the console is initialized. A nil sink makes Putchar a no-op rather than
// dereferencing a nil interface.
var consoleSink *console.VGAText

// SetConsole installs the console Putchar writes to.
func SetConsole(c *console.VGAText) {
	consoleSink = c
}

// timeFn is mocked by tests, which have no CMOS port I/O to read; defaults
// to the real RTC.
var timeFn = rtc.Read

// Install registers Dispatch as the handler for irq.SyscallVector. Call
// once during boot after the scheduler and console are both initialized.
func Install() {
	irq.Install(irq.SyscallVector, Dispatch)
}

// Dispatch is installed as the irq.SyscallVector handler. It reads the
// syscall number from EAX, the arguments from EBX/ECX/EDX/ESI/EDI, and
// overwrites EAX with the result before returning (the assembly trampoline
// restores regs into the caller's context on iret, so this is how a
// syscall's return value reaches the caller).
func Dispatch(regs *irq.Regs) {
	switch regs.EAX {
	case Test:
		regs.EAX = 0
	case Putchar:
		putchar(byte(regs.EBX))
		regs.EAX = 0
	case Time:
		regs.EAX = uint32(timeFn().Unix())
	case Sleep:
		// The result (0) must be baked into the sleeper's saved frame
		// before it is rescheduled away, since Sleep overwrites *regs in
		// place with the incoming thread's frame.
		regs.EAX = 0
		proc.Sleep(regs, regs.EBX)
	case ProcessTerminate:
		proc.TerminateCurrent(regs)
	case KillProcess:
		if err := proc.Kill(regs.EBX); err != nil {
			regs.EAX = ErrUnknown
		} else {
			regs.EAX = 0
		}
	default:
		regs.EAX = ErrUnknown
	}
}

func putchar(c byte) {
	if consoleSink == nil {
		return
	}
	consoleSink.Write([]byte{c})
}
