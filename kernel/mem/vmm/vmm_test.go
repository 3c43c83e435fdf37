package vmm

import (
	"ferrite/kernel"
	"ferrite/kernel/irq"
	"testing"
)

func TestPageFaultHandlerTerminatesUserThread(t *testing.T) {
	origPanic := panicFn
	origTerminate := terminateFaultingProcessFn
	defer func() {
		panicFn = origPanic
		terminateFaultingProcessFn = origTerminate
	}()

	panicFn = func(interface{}) { t.Fatal("expected a user-mode fault not to panic the kernel") }

	var terminated *irq.Regs
	terminateFaultingProcessFn = func(regs *irq.Regs) { terminated = regs }

	regs := &irq.Regs{CS: 0x1B, ErrCode: 0x4}
	pageFaultHandler(regs)

	if terminated != regs {
		t.Fatal("expected the faulting user thread to be terminated")
	}
}

func TestPageFaultHandlerPanicsOnKernelFault(t *testing.T) {
	origPanic := panicFn
	defer func() { panicFn = origPanic }()

	var panicked interface{}
	panicFn = func(e interface{}) { panicked = e }

	pageFaultHandler(&irq.Regs{CS: 0x08, ErrCode: 0x0})

	if panicked == nil {
		t.Fatal("expected a kernel-mode fault to panic")
	}
	if _, ok := panicked.(*kernel.Error); !ok {
		t.Fatalf("expected a *kernel.Error; got %T", panicked)
	}
}

func TestGPFHandlerTerminatesUserThread(t *testing.T) {
	origPanic := panicFn
	origTerminate := terminateFaultingProcessFn
	defer func() {
		panicFn = origPanic
		terminateFaultingProcessFn = origTerminate
	}()

	panicFn = func(interface{}) { t.Fatal("expected a user-mode GPF not to panic the kernel") }

	var terminated *irq.Regs
	terminateFaultingProcessFn = func(regs *irq.Regs) { terminated = regs }

	regs := &irq.Regs{CS: 0x1B}
	generalProtectionFaultHandler(regs)

	if terminated != regs {
		t.Fatal("expected the faulting user thread to be terminated")
	}
}
