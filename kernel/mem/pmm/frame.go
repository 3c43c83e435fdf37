// Package pmm contains code that manages physical memory frame allocations.
package pmm

import "ferrite/kernel/mem"

// Frame describes a physical memory page index.
type Frame uintptr

// InvalidFrame is returned by page allocators when they fail to reserve the
// requested frame. Bit 0 of the allocator's bitmap is always reserved
// (spec.md §3: "bit 0 is always reserved, the null frame") so Frame(0) is
// never returned as a valid allocation; InvalidFrame instead uses the
// architecture's maximum representable frame number as a sentinel that can
// never collide with a real allocation.
const InvalidFrame = ^Frame(0)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << mem.PageShift
}

// FrameFromAddress returns the Frame that contains the given physical
// address.
func FrameFromAddress(addr uintptr) Frame {
	return Frame(addr >> mem.PageShift)
}
