// Package multiboot decodes the subset of the multiboot2 information
// structure the kernel core actually consumes: the system memory map and
// the kernel image's own load bounds. Early boot and the rest of multiboot
// (ELF symbol tables, framebuffer/VBE tags, module lists) are outside the
// scope of this repository (spec.md §1); this package exposes only the
// external contract named in spec.md §6.
package multiboot

import (
	"reflect"
	"unsafe"
)

type tagType uint32

const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
)

// info describes the multiboot info section header.
type info struct {
	// Total size of multiboot info section.
	totalSize uint32

	// Always set to zero; reserved for future use.
	reserved uint32
}

// tagHeader describes the header that precedes each tag.
type tagHeader struct {
	// The type of the tag.
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. Each tag starts at an 8-byte aligned address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	// The size of each entry.
	entrySize uint32

	// The version of the entries that follow.
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS once it has parsed the tables it needs.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// MemBad indicates memory that failed a RAM validity check and must
	// never be used.
	MemBad

	// Any value >= memUnknown is mapped to MemReserved.
	memUnknown
)

// Usable reports whether frames in this region may be handed to the
// physical frame allocator (spec.md §3: "Only usable and acpi-reclaimable
// contribute frames").
func (t MemoryEntryType) Usable() bool {
	return t == MemAvailable || t == MemAcpiReclaimable
}

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "usable"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "ACPI NVS"
	case MemBad:
		return "bad"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical
// address, its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region
// provided by the boot loader. The visitor must return true to continue or
// false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

var infoData uintptr

// SetInfoPtr records the physical (already identity-mapped) address of the
// multiboot information structure handed to the kernel by the bootloader in
// EBX. It must be called before any other function in this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// VisitMemRegions invokes visitor for each memory region described by the
// multiboot info data. Unknown entry types are normalized to MemReserved so
// callers never need to special-case them (spec.md §3).
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += 8

	var entry *MemoryMapEntry
	for curPtr != endPtr {
		entry = (*MemoryMapEntry)(unsafe.Pointer(curPtr))

		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}

		curPtr += uintptr(ptrMapHeader.entrySize)
	}
}

// BootCmdLine parses the bootloader command line tag (a NUL-terminated
// string of space-separated tokens) into k=v pairs, ignoring any token that
// carries no '='. A missing tag yields an empty, non-nil map. This is the
// kernel's only configuration surface (spec.md §1 excludes a config file or
// environment; neither exists before paging and a heap do).
func BootCmdLine() map[string]string {
	cfg := make(map[string]string)

	ptr, size := findTagByType(tagBootCmdLine)
	if size == 0 {
		return cfg
	}

	raw := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: ptr,
	}))
	if nul := indexByte(raw, 0); nul >= 0 {
		raw = raw[:nul]
	}

	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ' ' {
			if tok := raw[start:i]; len(tok) > 0 {
				if eq := indexByte(tok, '='); eq > 0 {
					cfg[string(tok[:eq])] = string(tok[eq+1:])
				}
			}
			start = i + 1
		}
	}

	return cfg
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// findTagByType scans the multiboot info data looking for the start of the
// tag with the given type. It returns a pointer to the tag contents (past
// the tag header) and the content length, excluding the header. If the tag
// is not present, findTagByType returns (0, 0).
func findTagByType(wantType tagType) (uintptr, uint32) {
	var ptrTagHeader *tagHeader

	curPtr := infoData + 8
	for ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == wantType {
			return curPtr + 8, ptrTagHeader.size - 8
		}

		// Tags are aligned at 8-byte aligned addresses.
		curPtr += uintptr(int32(ptrTagHeader.size+7) & ^7)
	}

	return 0, 0
}
