// Package console implements the minimal text output surface the kernel
// core needs: an io.Writer-shaped Sink interface and a default VGA text
// mode (80x25, memory-mapped at 0xB8000) implementation. Full console
// framework concerns (multiple TTYs, VESA/VBE framebuffers, console
// switching) are out of scope (spec.md §1); this package exists only so
// kfmt.SetOutputSink has somewhere concrete to write once paging is live.
// Grounded on the teacher's device/video/console package's Ega type for
// the cell-write idiom (attribute byte, 2 bytes per cell, row-major
// layout), adapted to the flat exported type this repository's smaller
// scope calls for.
package console

import (
	"reflect"
	"unsafe"

	"ferrite/kernel/sync"
)

const (
	defaultCols = 80
	defaultRows = 25

	// defaultAttribute paints light-grey text on a black background.
	defaultAttribute = byte(0x07)
)

// VGAText implements io.Writer over the VGA text-mode framebuffer.
type VGAText struct {
	cols, rows int
	fb         []uint16
	col, row   int
}

// Init configures the console to address a cols x rows text buffer located
// at the given (already-mapped) virtual address. base is typically
// mem.KernelVBase+0xB8000 once the VGA framebuffer's physical page has been
// identity-mapped into the higher half.
func (c *VGAText) Init(cols, rows int, base uintptr) {
	if cols == 0 {
		cols = defaultCols
	}
	if rows == 0 {
		rows = defaultRows
	}

	c.cols, c.rows = cols, rows
	c.col, c.row = 0, 0
	c.fb = overlayUint16(base, cols*rows)
}

// Write implements io.Writer, advancing the cursor and scrolling the
// buffer up by one line when it runs off the bottom. An exception handler
// or the timer tick can call Write (via kfmt) while foreground code is in
// the middle of its own Write, so the cursor/framebuffer update runs with
// interrupts masked (spec.md §5's uniprocessor mutual-exclusion idiom).
func (c *VGAText) Write(p []byte) (int, error) {
	cs := sync.Enter()
	defer cs.Exit()

	for _, b := range p {
		c.writeByte(b)
	}
	return len(p), nil
}

func (c *VGAText) writeByte(b byte) {
	// A full row wraps only when the next printable byte arrives, so a
	// newline right after a full row does not leave a blank row behind.
	if b == '\n' || c.col >= c.cols {
		c.col = 0
		c.row++
	}

	if c.row >= c.rows {
		c.scroll()
		c.row = c.rows - 1
	}

	if b != '\n' {
		c.fb[c.row*c.cols+c.col] = uint16(defaultAttribute)<<8 | uint16(b)
		c.col++
	}
}

func (c *VGAText) scroll() {
	copy(c.fb, c.fb[c.cols:])
	blank := uint16(defaultAttribute)<<8 | uint16(' ')
	for i := (c.rows - 1) * c.cols; i < c.rows*c.cols; i++ {
		c.fb[i] = blank
	}
}

func overlayUint16(addr uintptr, count int) []uint16 {
	return *(*[]uint16)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  count,
		Cap:  count,
	}))
}
