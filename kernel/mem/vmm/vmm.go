package vmm

import (
	"ferrite/kernel"
	"ferrite/kernel/irq"
	"ferrite/kernel/kfmt"
)

var (
	// terminateFaultingProcessFn is registered by the proc package once
	// the scheduler is running; it terminates the thread that faulted
	// instead of taking down the kernel (spec.md §4.2: "a fault at an
	// unmapped user address terminates the offending process"). Before
	// the scheduler is installed, every fault is treated as kernel-fatal.
	terminateFaultingProcessFn = func(*irq.Regs) { panicFn(errUnrecoverableFault) }

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "unrecoverable page or general protection fault"}
)

// SetFaultTerminationHandler registers the function invoked when a user-mode
// thread faults on an unmapped address, instead of the default kernel halt.
func SetFaultTerminationHandler(fn func(*irq.Regs)) {
	terminateFaultingProcessFn = fn
}

// InstallFaultHandlers wires the page-fault and general-protection-fault
// vectors to this package's handlers. It is called once during boot, after
// the IDT has been installed (spec.md §4.2, §9: wiring order resolved as
// GDT -> TSS -> IDT -> VMM fault handlers -> scheduler).
func InstallFaultHandlers() {
	irq.Install(irq.PageFaultException, pageFaultHandler)
	irq.Install(irq.GPFException, generalProtectionFaultHandler)
}

func pageFaultHandler(regs *irq.Regs) {
	info := irq.DecodePageFault(regs)

	if info.User {
		kfmt.Printf("\npage fault in user thread: ")
		info.Print()
		terminateFaultingProcessFn(regs)
		return
	}

	kfmt.Printf("\nunrecoverable page fault in kernel context: ")
	info.Print()
	regs.Print()
	regs.Frame().Print()
	panicFn(errUnrecoverableFault)
}

func generalProtectionFaultHandler(regs *irq.Regs) {
	if regs.FromRing3() {
		kfmt.Printf("\ngeneral protection fault in user thread\n")
		terminateFaultingProcessFn(regs)
		return
	}

	kfmt.Printf("\ngeneral protection fault in kernel context\n")
	regs.Print()
	regs.Frame().Print()
	panicFn(errUnrecoverableFault)
}

// panicFn is mocked by tests; defaults to kfmt.Panic.
var panicFn = kfmt.Panic
