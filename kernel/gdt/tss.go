package gdt

import "unsafe"

// tss is the packed x86 task state segment layout, matching
// original_source/kernel/include/system.h's tss_entry_t. The kernel only
// ever uses esp0/ss0 (the ring-0 stack loaded on a privilege-level change);
// every other field is left zeroed, matching original_source's tss_install.
type tss struct {
	prevTSS                     uint32
	esp0                        uint32
	ss0                         uint32
	esp1, ss1, esp2, ss2        uint32
	cr3                         uint32
	eip, eflags                 uint32
	eax, ecx, edx, ebx          uint32
	esp, ebp, esi, edi          uint32
	es, cs, ss, ds, fs, gs      uint32
	ldt                         uint32
	trap                        uint16
	iomapBase                   uint16
}

var theTSS tss

// installTSS zeroes the TSS, sets its initial ring-0 stack and installs
// its descriptor as GDT entry 5 (selector 0x28), grounded on
// original_source's tss_install(5, kernel_ss, kernel_esp).
func installTSS(stackSelector uint16, stackPointer uint32) {
	theTSS = tss{}
	theTSS.ss0 = uint32(stackSelector)
	theTSS.esp0 = stackPointer

	// The TSS descriptor's access byte (0x89) marks it present, ring-0, and
	// of the "32-bit available TSS" descriptor type rather than a code/data
	// segment.
	table[5] = packEntry(uint32(uintptr(unsafe.Pointer(&theTSS))), uint32(unsafe.Sizeof(theTSS)-1), accessPresent|accessTSS32Avail, 0)
}

func tableAddr() uintptr {
	return uintptr(unsafe.Pointer(&table[0]))
}

func ptrAddr(p *pointer) uintptr {
	return uintptr(unsafe.Pointer(p))
}
