package irq

import (
	"ferrite/kernel/cpu"
	"ferrite/kernel/kfmt"
)

// PageFaultInfo decodes the error code the CPU pushes for vector 14,
// grounded on original_source's page_fault_handler bit layout (present,
// read/write, user/supervisor, reserved-bit, instruction-fetch).
type PageFaultInfo struct {
	// FaultAddress is the linear address that caused the fault, read
	// from CR2.
	FaultAddress uintptr

	// Present is false when the fault was caused by a not-present page,
	// true when it was caused by a protection violation.
	Present bool

	// Write is true if the fault occurred on a write access.
	Write bool

	// User is true if the fault occurred while executing in ring 3.
	User bool

	// ReservedWrite is true if the fault was caused by a write to a
	// reserved page directory/table bit.
	ReservedWrite bool

	// InstructionFetch is true if the fault occurred while fetching an
	// instruction (requires NX support).
	InstructionFetch bool
}

// DecodePageFault reads CR2 and the pushed error code out of regs,
// producing the structured view the proc/vmm packages need to decide
// whether a fault is recoverable (e.g. growing a stack) or fatal.
func DecodePageFault(regs *Regs) PageFaultInfo {
	code := regs.ErrCode
	return PageFaultInfo{
		FaultAddress:     cpu.ReadCR2(),
		Present:          code&0x1 != 0,
		Write:            code&0x2 != 0,
		User:             code&0x4 != 0,
		ReservedWrite:    code&0x8 != 0,
		InstructionFetch: code&0x10 != 0,
	}
}

// Print outputs a human-readable description of the fault, mirroring the
// diagnostic original_source's page_fault_handler writes before it gives
// up and halts.
func (info PageFaultInfo) Print() {
	action := "read from"
	if info.Write {
		action = "write to"
	}

	presence := "a non-present page"
	if info.Present {
		presence = "a protection violation"
	}

	mode := "kernel"
	if info.User {
		mode = "user"
	}

	kfmt.Printf("page fault: %s mode attempted to %s address %8x (%s)\n",
		mode, action, info.FaultAddress, presence)
}
