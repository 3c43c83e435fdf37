package vmm

import (
	"ferrite/kernel"
	"ferrite/kernel/cpu"
	"ferrite/kernel/mem"
	"ferrite/kernel/mem/pmm"
	"reflect"
	"unsafe"
)

const (
	dirShift   = 22
	tableShift = mem.PageShift
	indexMask  = mem.PageTableEntries - 1
)

var (
	// frameAllocator is registered via SetFrameAllocator; Map and
	// AllocPageDirectory call it whenever a new page table or page
	// directory frame is required.
	frameAllocator FrameAllocatorFn

	// the following indirections are mocked by tests and automatically
	// inlined by the compiler in production builds, following the
	// teacher's cpuHaltFn/archAcquireSpinlock idiom.
	loadPageDirectoryFn   = cpu.LoadPageDirectory
	activePageDirectoryFn = cpu.ActivePageDirectory
	invalidatePageFn      = cpu.InvalidatePage

	// tableAddrFn computes the virtual address at which a page
	// directory/table frame's contents are reached. It is mocked by
	// tests, which have no real physical memory identity-mapped at
	// mem.KernelVBase, to redirect frame accesses to ordinary
	// Go-allocated buffers.
	tableAddrFn = func(frame pmm.Frame) uintptr {
		return mem.KernelVBase + frame.Address()
	}

	// masterDirectory is the template every AllocPageDirectory call
	// copies its kernel-half entries from (spec.md §3: "the kernel
	// portion ... is shared across all directories by copying its
	// directory entries on creation").
	masterDirectory PageDirectory
)

// FrameAllocatorFn allocates a single physical frame.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// SetFrameAllocator registers the function vmm uses to obtain new physical
// frames for page tables and page directories.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

// PageDirectory is a handle to a page directory's backing physical frame.
// The directory's 1024 entries are reached through the kernel's higher-half
// identity mapping rather than a recursive self-mapping, since 32-bit
// paging has no spare top-level slot to recurse through (spec.md §4.2).
type PageDirectory struct {
	frame pmm.Frame
}

// entries returns a slice overlaying the directory's 1024 32-bit entries,
// reached via the kernel's identity mapping of physical memory at
// mem.KernelVBase (spec.md §3: "the first N MiB of physical memory is
// mapped to [KV, KV+N*MiB)").
func (pd PageDirectory) entries() []pageTableEntry {
	addr := tableAddrFn(pd.frame)
	var entries []pageTableEntry
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&entries))
	hdr.Data = addr
	hdr.Len = mem.PageTableEntries
	hdr.Cap = mem.PageTableEntries
	return entries
}

func tableEntries(frame pmm.Frame) []pageTableEntry {
	return PageDirectory{frame: frame}.entries()
}

// Frame returns the physical frame backing this page directory.
func (pd PageDirectory) Frame() pmm.Frame {
	return pd.frame
}

func splitAddr(virt uintptr) (dirIndex, tableIndex uintptr) {
	return (virt >> dirShift) & indexMask, (virt >> tableShift) & indexMask
}

// Init establishes directoryFrame as the system's master kernel directory:
// every entry is cleared and the caller is expected to follow up with Map
// calls at mem.KernelVBase and above to populate the shared kernel half
// that AllocPageDirectory copies.
func Init(directoryFrame pmm.Frame) *kernel.Error {
	masterDirectory = PageDirectory{frame: directoryFrame}
	kernel.Memset(tableAddrFn(directoryFrame), 0, mem.PageTableEntries*4)
	return nil
}

// Map establishes a mapping from virt to phys in pd, allocating and zeroing
// a new page table if the directory entry for virt's table is not yet
// present. A zero PageDirectory operates on the currently active directory
// (spec.md §4.2: "When called with a null directory argument, operate on
// the current directory").
func Map(pd PageDirectory, phys, virt uintptr, flags PageTableEntryFlag) *kernel.Error {
	if pd.frame == 0 {
		pd = Current()
	}

	dirIndex, tableIndex := splitAddr(virt)
	dirEntries := pd.entries()
	dirEntry := &dirEntries[dirIndex]

	if !dirEntry.HasFlags(FlagPresent) {
		tableFrame, err := frameAllocator()
		if err != nil {
			return err
		}

		kernel.Memset(tableAddrFn(tableFrame), 0, mem.PageTableEntries*4)

		*dirEntry = 0
		dirEntry.SetFrame(tableFrame)
		dirEntry.SetFlags(FlagPresent | FlagRW | (flags & FlagUser))
	} else if flags&FlagUser != 0 {
		dirEntry.SetFlags(FlagUser)
	}

	table := tableEntries(dirEntry.Frame())
	entry := &table[tableIndex]
	*entry = 0
	entry.SetFrame(pmm.FrameFromAddress(phys))
	entry.SetFlags(flags | FlagPresent)

	invalidatePageFn(virt)
	return nil
}

// Unmap clears the page table entry mapping virt in pd, or in the current
// directory if pd is the zero value. Unmapping a virtual address with no
// present table returns ErrInvalidMapping.
func Unmap(pd PageDirectory, virt uintptr) *kernel.Error {
	if pd.frame == 0 {
		pd = Current()
	}

	dirIndex, tableIndex := splitAddr(virt)
	dirEntry := &pd.entries()[dirIndex]
	if !dirEntry.HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	table := tableEntries(dirEntry.Frame())
	entry := &table[tableIndex]
	if !entry.HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	entry.ClearFlags(FlagPresent)
	invalidatePageFn(virt)
	return nil
}

// Translate returns the physical address virt currently resolves to in pd
// (or the current directory if pd is the zero value).
func Translate(pd PageDirectory, virt uintptr) (uintptr, *kernel.Error) {
	if pd.frame == 0 {
		pd = Current()
	}

	dirIndex, tableIndex := splitAddr(virt)
	dirEntry := pd.entries()[dirIndex]
	if !dirEntry.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	entry := tableEntries(dirEntry.Frame())[tableIndex]
	if !entry.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	return entry.Frame().Address() + (virt & (uintptr(mem.PageSize) - 1)), nil
}

// IdentityMapRange maps size bytes of physical memory starting at phys to
// the identical virtual address range, rounded outward to whole pages. It
// is used once, at boot, to identity-map low physical memory; the kernel's
// [KV, KV+N*MiB) window over the same memory is mapped separately with Map.
func IdentityMapRange(pd PageDirectory, phys uintptr, size mem.Size, flags PageTableEntryFlag) *kernel.Error {
	start := phys &^ uintptr(mem.PageSize-1)
	end := (phys + uintptr(size) + uintptr(mem.PageSize) - 1) &^ uintptr(mem.PageSize-1)

	for addr := start; addr < end; addr += uintptr(mem.PageSize) {
		if err := Map(pd, addr, addr, flags); err != nil {
			return err
		}
	}
	return nil
}

// Switch loads pd as the active page directory.
func Switch(pd PageDirectory) {
	loadPageDirectoryFn(pd.frame.Address())
}

// Current returns a handle to the currently active page directory.
func Current() PageDirectory {
	return PageDirectory{frame: pmm.FrameFromAddress(activePageDirectoryFn())}
}

// AllocPageDirectory allocates a fresh page directory frame and copies the
// kernel-half entries from the master directory into it, so that every
// kernel virtual address resolves identically in every process's directory
// (spec.md §3). It does not share user-half tables.
func AllocPageDirectory() (PageDirectory, *kernel.Error) {
	frame, err := frameAllocator()
	if err != nil {
		return PageDirectory{}, err
	}

	pd := PageDirectory{frame: frame}
	dst := pd.entries()
	src := masterDirectory.entries()

	userHalfEntries := uintptr(mem.KernelVBase) >> dirShift
	for i := uintptr(0); i < mem.PageTableEntries; i++ {
		if i < userHalfEntries {
			dst[i] = 0
		} else {
			dst[i] = src[i]
		}
	}

	return pd, nil
}

// FreePageDirectory walks pd's user-half entries, frees the page tables
// they reference, and finally frees pd's own directory frame. Kernel-half
// (shared) tables are never freed.
func FreePageDirectory(pd PageDirectory, freeFrame func(pmm.Frame)) {
	userHalfEntries := uintptr(mem.KernelVBase) >> dirShift

	entries := pd.entries()
	for i := uintptr(0); i < userHalfEntries; i++ {
		entry := entries[i]
		if !entry.HasFlags(FlagPresent) {
			continue
		}

		table := tableEntries(entry.Frame())
		for _, pte := range table {
			if pte.HasFlags(FlagPresent) {
				freeFrame(pte.Frame())
			}
		}
		freeFrame(entry.Frame())
	}

	freeFrame(pd.frame)
}
