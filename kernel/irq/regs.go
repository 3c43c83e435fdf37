// Package irq implements the interrupt descriptor table dispatch plane: the
// unified register frame pushed by the assembly ISR stubs, the per-vector
// handler table, PIC remapping/EOI and the page-fault decoder. Grounded on
// original_source/kernel/include/system.h (regs_t, idt_entry_t, idtr_t),
// original_source/kernel/src/system/isr.c (dispatch, exception table, PIC
// remap glue) and original_source/kernel/driver/pic.c (ICW sequence, EOI,
// IRQ masking), restyled in the Regs/Frame split and asm-backed function
// idiom of the teacher's amd64 irq package.
package irq

import "ferrite/kernel/kfmt"

// Regs is the byte-exact layout the assembly ISR trampoline pushes to the
// stack before calling Dispatch, matching original_source's regs_t. Every
// field is 32 bits: segment selectors are zero-extended by the `push ds`
// idiom the trampoline uses.
type Regs struct {
	GS, FS, ES, DS                         uint32
	EDI, ESI, EBP, ESP, EBX, EDX, ECX, EAX  uint32
	IntNo, ErrCode                          uint32
	EIP, CS, EFlags, UserESP, SS            uint32
}

// Print outputs a dump of the register snapshot to the active console.
func (r *Regs) Print() {
	kfmt.Printf("EAX=%8x EBX=%8x ECX=%8x EDX=%8x\n", r.EAX, r.EBX, r.ECX, r.EDX)
	kfmt.Printf("ESI=%8x EDI=%8x EBP=%8x ESP=%8x\n", r.ESI, r.EDI, r.EBP, r.ESP)
	kfmt.Printf("DS =%8x ES =%8x FS =%8x GS =%8x\n", r.DS, r.ES, r.FS, r.GS)
	kfmt.Printf("INT=%8x ERR=%8x\n", r.IntNo, r.ErrCode)
}

// Frame describes the portion of Regs that the CPU itself pushes when an
// interrupt or exception occurs: EIP/CS/EFLAGS always, and UserESP/SS only
// when the interrupt crossed a privilege-level boundary (ring 3 -> ring 0).
func (r *Regs) Frame() frameView {
	return frameView{r}
}

type frameView struct{ r *Regs }

// Print outputs a dump of the CPU-pushed exception frame.
func (f frameView) Print() {
	kfmt.Printf("EIP=%8x CS =%8x EFLAGS=%8x\n", f.r.EIP, f.r.CS, f.r.EFlags)
	if f.r.CS&0x3 != 0 {
		kfmt.Printf("USERESP=%8x SS=%8x\n", f.r.UserESP, f.r.SS)
	}
}

// FromRing3 reports whether the interrupted code was running in ring 3
// (user mode), decoded from the low two bits of the saved CS selector.
func (r *Regs) FromRing3() bool {
	return r.CS&0x3 == 3
}
