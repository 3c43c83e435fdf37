// Package boot glues every leaf package into the single Init() call the
// rt0 entrypoint invokes, in the order spec.md §9's open question resolves
// it: physical memory -> virtual memory/paging -> kernel heap -> GDT -> IDT
// -> PIC remap -> PIT -> scheduler -> syscall gate -> enable interrupts. Grounded
// on gopher-os's kmain.Kmain, which plays the same role (allocator.Init ->
// vmm.Init -> goruntime.Init) for its own, much smaller, subsystem set.
package boot

import (
	"reflect"

	"ferrite/kernel"
	"ferrite/kernel/console"
	"ferrite/kernel/cpu"
	"ferrite/kernel/gdt"
	"ferrite/kernel/irq"
	"ferrite/kernel/kfmt"
	"ferrite/kernel/mem"
	"ferrite/kernel/mem/heap"
	"ferrite/kernel/mem/pmm"
	"ferrite/kernel/mem/vmm"
	"ferrite/kernel/multiboot"
	"ferrite/kernel/pit"
	"ferrite/kernel/proc"
	"ferrite/kernel/sync"
	"ferrite/kernel/syscall"
)

const (
	// defaultTickHz is the PIT frequency used when the bootloader command
	// line carries no "phz" override (spec.md §6: "PHZ (nominal 100)").
	defaultTickHz = uint32(100)

	// kernelImageBase/kernelImageSize mark the physical range the
	// bootloader has already loaded the kernel into. No linker-provided
	// symbol pair survived distillation (early boot's own assembly is out
	// of scope per spec.md §1), so these reuse the load address and image
	// size spec.md §8 scenario 1 names as its worked example.
	kernelImageBase = uintptr(0x100000)
	kernelImageSize = mem.Size(2 * mem.Mb)

	// lowMemWindow is how much physical memory, starting at address 0, is
	// identity-plus-KV mapped during boot: enough to cover the kernel
	// image, its page tables, and the initial kernel heap arena before
	// the heap's own GrowFn can map further pages on demand.
	lowMemWindow = mem.Size(16 * mem.Mb)

	// vgaTextPhys is the physical base of the 80x25 text-mode framebuffer
	// (spec.md §6).
	vgaTextPhys = uintptr(0xB8000)

	consoleCols = 80
	consoleRows = 25

	// kernelHeapPhysBase follows the low-memory window; kernelHeapInitialSize
	// and kernelHeapMaxSize mirror the placement reasoning proc.go already
	// documents for the per-process user heap (original_source's
	// UHEAP_INITIAL_SIZE/UHEAP_MAX_SIZE macros did not survive
	// distillation either).
	kernelHeapPhysBase    = uintptr(16 * mem.Mb)
	kernelHeapInitialSize = mem.Size(1 * mem.Mb)
	kernelHeapMaxSize     = mem.Size(32 * mem.Mb)
)

var (
	frameAllocator pmm.BitmapAllocator
	kernelHeap     heap.Heap
	vgaConsole     console.VGAText

	// logPrefix tags every kfmt line with the subsystem name, so the
	// panic/exception diagnostics emitted by irq and vmm read the same
	// way as everything else written to the console.
	logPrefix = kfmt.PrefixWriter{Prefix: []byte("ferrite: ")}
)

// Init performs the kernel's entire cold-boot sequence. It is invoked once
// by the rt0 trampoline with the physical address of the multiboot info
// structure; it never returns (the last step enables interrupts and the
// PIT's first tick performs the initial context switch into the process
// New creates below, per spec.md §4.5's bootstrap note).
func Init(multibootInfoPtr uintptr) {
	sync.SetInterruptHooks(cpu.InterruptsEnabled, cpu.DisableInterrupts, cpu.EnableInterrupts)

	multiboot.SetInfoPtr(multibootInfoPtr)

	vgaConsole.Init(consoleCols, consoleRows, mem.KernelVBase+vgaTextPhys)
	logPrefix.Sink = &vgaConsole
	kfmt.SetOutputSink(&logPrefix)
	syscall.SetConsole(&vgaConsole)

	tickHz := configuredTickHz()

	initPhysicalMemory()
	dirFrame := mustAllocFrame()
	if err := vmm.Init(dirFrame); err != nil {
		kfmt.Panic(err)
	}
	vmm.SetFrameAllocator(allocFrame)

	// CR3 is loaded with the master directory before paging is enabled so
	// that Map/IdentityMapRange's zero-PageDirectory ("operate on the
	// current directory") resolves to it; loading CR3 has no effect until
	// CR0.PG is set below.
	cpu.LoadPageDirectory(dirFrame.Address())

	masterDir := vmm.PageDirectory{}
	if err := vmm.IdentityMapRange(masterDir, 0, lowMemWindow, vmm.FlagRW); err != nil {
		kfmt.Panic(err)
	}
	mapHigherHalf(masterDir, 0, lowMemWindow)

	cpu.EnablePaging()

	kernelHeap.Init(mem.KernelVBase+kernelHeapPhysBase, kernelHeapInitialSize, kernelHeapMaxSize, growKernelHeap)

	gdt.Init(uint16(gdt.KernelDataSelector), 0)
	irq.Init()
	irq.RemapPIC(32, 40)
	vmm.InstallFaultHandlers()
	pit.SetFrequency(tickHz)

	proc.SetFrameAllocator(allocFrame, freeFrame)
	proc.SetKernelHeap(&kernelHeap)
	proc.Init(tickHz)
	vmm.SetFaultTerminationHandler(proc.TerminateCurrent)

	syscall.Install()
	irq.Install(irq.Vector(0), proc.Tick)

	entry := kmainEntry
	if entry == 0 {
		entry = reflect.ValueOf(idleKmain).Pointer()
	}
	if _, err := proc.New(entry, 0, false); err != nil {
		kfmt.Panic(err)
	}

	cpu.EnableInterrupts()
	for {
		cpu.Halt()
	}
}

// kmainEntry, when set, overrides the entry point of the bootstrap
// "kernel main" process (spec.md §4.5: "at least one process... exists
// before interrupts are enabled"). Left at zero, Init schedules idleKmain
// instead — there is no shell or program loader to hand pid 1 real work
// (both out of scope per spec.md §1), so by default it simply never
// leaves the ready ring.
var kmainEntry uintptr

// SetKmainEntry records the entry point for the bootstrap process Init
// creates. It must be called before Init.
func SetKmainEntry(entry uintptr) {
	kmainEntry = entry
}

// idleKmain is pid 1's default body when no kernel-main program has been
// supplied: it just yields the rest of its quantum, tick after tick.
func idleKmain() {
	for {
		cpu.Halt()
	}
}

func configuredTickHz() uint32 {
	cfg := multiboot.BootCmdLine()
	v, ok := cfg["phz"]
	if !ok {
		return defaultTickHz
	}

	n, ok := parseUint(v)
	if !ok || n == 0 {
		return defaultTickHz
	}
	return n
}

// parseUint hand-rolls decimal parsing instead of reaching for strconv:
// spec.md §1 puts "the standard library surface (string, print formatting)"
// out of scope, and kfmt already establishes the allocation-free,
// hand-rolled-formatting idiom this mirrors in reverse.
func parseUint(s string) (uint32, bool) {
	if len(s) == 0 {
		return 0, false
	}
	var n uint32
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint32(c-'0')
	}
	return n, true
}

// initPhysicalMemory sizes the bitmap allocator from the multiboot memory
// map, marks every usable/ACPI-reclaimable region free, then deinits the
// kernel image and the first MiB (BIOS data area, real-mode IVT) so they
// are never handed out (spec.md §4.1: "deinit_region... the kernel image
// and the first few MiB are always deinit'd").
func initPhysicalMemory() {
	var totalBytes mem.Size
	multiboot.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		if end := mem.Size(entry.PhysAddress + entry.Length); end > totalBytes {
			totalBytes = end
		}
		return true
	})
	if totalBytes == 0 {
		totalBytes = lowMemWindow
	}

	frameAllocator.Init(totalBytes)

	multiboot.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		if entry.Type.Usable() {
			frameAllocator.InitRegion(uintptr(entry.PhysAddress), mem.Size(entry.Length))
		}
		return true
	})

	frameAllocator.DeinitRegion(0, mem.Size(mem.Mb))
	frameAllocator.DeinitRegion(kernelImageBase, kernelImageSize)
	frameAllocator.UpdateUsage()
}

func allocFrame() (pmm.Frame, *kernel.Error) {
	return frameAllocator.AllocBlock()
}

func freeFrame(f pmm.Frame) {
	frameAllocator.FreeBlock(f)
}

func mustAllocFrame() pmm.Frame {
	f, err := frameAllocator.AllocBlock()
	if err != nil {
		kfmt.Panic(err)
	}
	return f
}

// mapHigherHalf maps the already identity-mapped [phys, phys+size) range a
// second time at mem.KernelVBase+phys, realizing spec.md §3's "kernel
// portion... from a fixed KERNEL_VBASE" over the same physical pages the
// identity mapping covers.
func mapHigherHalf(pd vmm.PageDirectory, phys uintptr, size mem.Size) {
	start := phys &^ (uintptr(mem.PageSize) - 1)
	end := (phys + uintptr(size) + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)

	for addr := start; addr < end; addr += uintptr(mem.PageSize) {
		if err := vmm.Map(pd, addr, mem.KernelVBase+addr, vmm.FlagRW); err != nil {
			kfmt.Panic(err)
		}
	}
}

// growKernelHeap extends the kernel heap's backing store by mapping
// additional frames past its current capacity, mirroring the demand-growth
// contract heap.GrowFn describes.
func growKernelHeap(newCapacity mem.Size) *kernel.Error {
	current := kernelHeap.Capacity()
	if newCapacity <= current {
		return nil
	}

	start := mem.KernelVBase + kernelHeapPhysBase + uintptr(current)
	end := mem.KernelVBase + kernelHeapPhysBase + uintptr(newCapacity)
	for virt := start; virt < end; virt += uintptr(mem.PageSize) {
		frame, err := frameAllocator.AllocBlock()
		if err != nil {
			return err
		}
		if err := vmm.Map(vmm.PageDirectory{}, frame.Address(), virt, vmm.FlagRW); err != nil {
			return err
		}
	}
	return nil
}
