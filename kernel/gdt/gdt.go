// Package gdt builds the kernel's global descriptor table and task state
// segment: the six descriptors spec.md §5 names (null, ring-0 code/data,
// ring-3 code/data, TSS) and the single TSS used to supply ring-0 stacks on
// a ring-3 -> ring-0 transition. Grounded on
// original_source/kernel/include/system.h (gdt_entry_t, gdtr_t, tss_entry_t
// packed layouts) and original_source/kernel/src/system/tss.c
// (tss_set_stack, tss_install, tss_flush), restyled in the teacher's
// asm-backed cpu.LoadGDT/LoadTaskRegister indirection idiom.
package gdt

import "ferrite/kernel/cpu"

// Selector identifies one of the six fixed GDT entries installed at boot.
type Selector uint16

// Canonical selectors, fixed by spec.md §5: ring-0 cs=0x08, ds=ss=es=fs=gs
// =0x10; ring-3 cs=0x1B, ds=ss=es=fs=gs=0x23; TSS selector 0x28.
const (
	NullSelector       Selector = 0x00
	KernelCodeSelector  Selector = 0x08
	KernelDataSelector  Selector = 0x10
	UserCodeSelector    Selector = 0x1B
	UserDataSelector    Selector = 0x23
	TSSSelector         Selector = 0x28

	entryCount = 6
)

// access byte bits shared by every descriptor kind (present, ring, the
// descriptor-type bit that distinguishes code/data segments from the TSS).
const (
	accessPresent    = 1 << 7
	accessRing3      = 3 << 5
	accessCodeOrData = 1 << 4
	accessExecutable = 1 << 3
	accessReadWrite  = 1 << 1
	accessAccessed   = 1 << 0
	accessTSS32Avail = 0x9

	flagGranularity = 1 << 3 // 4 KiB granularity
	flagSize32      = 1 << 2 // 32-bit (non-TSS) protected mode segment
)

// entry is the packed 8-byte layout original_source calls gdt_entry_t.
type entry struct {
	limitLow   uint16
	baseLow    uint16
	baseMiddle uint8
	access     uint8
	granularity uint8
	baseHigh   uint8
}

func packEntry(base uint32, limit uint32, access, flags uint8) entry {
	return entry{
		limitLow:    uint16(limit & 0xFFFF),
		baseLow:     uint16(base & 0xFFFF),
		baseMiddle:  uint8((base >> 16) & 0xFF),
		access:      access,
		granularity: uint8((limit>>16)&0x0F) | (flags << 4),
		baseHigh:    uint8((base >> 24) & 0xFF),
	}
}

// pointer is the packed (limit, base) descriptor lgdt expects. Go would pad
// base to offset 4 after a leading limit, so a leading pad field puts limit
// directly before base, and Init hands lgdt the address of limit.
type pointer struct {
	_     uint16
	limit uint16
	base  uint32
}

var table [entryCount]entry

// Init builds a flat-model GDT (every non-null, non-TSS descriptor spans
// the full 4 GiB address space) and loads it, then installs and activates
// the TSS using tssStackSelector/tssStackPointer as its initial ring-0
// stack.
func Init(tssStackSelector uint16, tssStackPointer uint32) {
	table[0] = entry{}
	table[1] = packEntry(0, 0xFFFFF, accessPresent|accessCodeOrData|accessExecutable|accessReadWrite, flagGranularity|flagSize32)
	table[2] = packEntry(0, 0xFFFFF, accessPresent|accessCodeOrData|accessReadWrite, flagGranularity|flagSize32)
	table[3] = packEntry(0, 0xFFFFF, accessPresent|accessRing3|accessCodeOrData|accessExecutable|accessReadWrite, flagGranularity|flagSize32)
	table[4] = packEntry(0, 0xFFFFF, accessPresent|accessRing3|accessCodeOrData|accessReadWrite, flagGranularity|flagSize32)

	installTSS(tssStackSelector, tssStackPointer)

	ptr := pointer{
		limit: uint16(len(table)*8 - 1),
		base:  uint32(tableAddr()),
	}
	loadGDTFn(ptrAddr(&ptr) + 2)
	loadTaskRegisterFn(uint16(TSSSelector))
}

// SetKernelStack updates the TSS's ring-0 stack pointer (esp0). It is
// called by the scheduler on every switch into a user thread so that the
// next ring-3 -> ring-0 transition lands on the incoming thread's kernel stack
// (spec.md §5, §9).
func SetKernelStack(esp uint32) {
	theTSS.esp0 = esp
}

var (
	loadGDTFn          = cpu.LoadGDT
	loadTaskRegisterFn = cpu.LoadTaskRegister
)
