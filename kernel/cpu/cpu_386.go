// Package cpu exposes the arch-specific primitives the rest of the kernel is
// built on: port I/O, interrupt masking, TLB/segment management and the
// handful of privileged instructions (lgdt, lidt, ltr, hlt) that only make
// sense as raw assembly. Every function in this file has no Go body; each is
// implemented by the corresponding ISR/boot assembly stub, which is outside
// the scope of this repository (spec.md §1 lists "GDT/IDT assembly stubs,
// port I/O primitives" as external collaborators named only by interface).
package cpu

// EnableInterrupts sets the interrupt flag (sti).
func EnableInterrupts()

// DisableInterrupts clears the interrupt flag (cli).
func DisableInterrupts()

// InterruptsEnabled reports whether EFLAGS.IF is currently set.
func InterruptsEnabled() bool

// Halt stops instruction execution until the next interrupt (hlt).
func Halt()

// InvalidatePage flushes the TLB entry for the given virtual address
// (invlpg).
func InvalidatePage(virtAddr uintptr)

// LoadPageDirectory sets CR3 to the physical address of a page directory,
// flushing the entire TLB.
func LoadPageDirectory(physAddr uintptr)

// ActivePageDirectory returns the physical address currently loaded in CR3.
func ActivePageDirectory() uintptr

// ReadCR2 returns the faulting address recorded by the last page fault.
func ReadCR2() uintptr

// EnablePaging sets CR0's paging bit, turning on address translation. It
// must be called after LoadPageDirectory has installed a valid master
// directory.
func EnablePaging()

// LoadGDT loads the global descriptor table pointed to by the packed
// (limit, base) descriptor at gdtrAddr (lgdt) and reloads the segment
// registers to the kernel code/data selectors.
func LoadGDT(gdtrAddr uintptr)

// LoadIDT loads the interrupt descriptor table pointed to by the packed
// (limit, base) descriptor at idtrAddr (lidt).
func LoadIDT(idtrAddr uintptr)

// LoadTaskRegister loads the task register with the given GDT selector
// (ltr), activating the TSS used for ring-3 -> ring-0 stack switches.
func LoadTaskRegister(selector uint16)

// Inb reads a single byte from the given I/O port.
func Inb(port uint16) uint8

// Outb writes a single byte to the given I/O port.
func Outb(port uint16, value uint8)

// Inw reads a 16-bit word from the given I/O port.
func Inw(port uint16) uint16

// Outw writes a 16-bit word to the given I/O port.
func Outw(port uint16, value uint16)

// IOWait performs a throwaway write to an unused port (0x80) to give a
// slow ISA-era device time to process the previous command, as required
// between successive PIC/PIT programming writes (spec.md §6).
func IOWait() {
	Outb(0x80, 0)
}

// EnterUserMode transfers control to ring 3 by publishing the iret frame
// (cs=0x1B, ss=0x23, eflags.IF=1) described in spec.md §9 and executing
// iret. It never returns to its caller.
func EnterUserMode(entryEIP, userESP uintptr)
