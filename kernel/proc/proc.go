// Package proc implements the process control block, thread and
// round-robin scheduler described in spec.md §4.5: a bounded slab of PCBs
// linked into ready/sleeping rings by slot index (spec.md §9's "intrusive
// PCB ring with prev/next... store PCBs in a bounded slab indexed by
// pid-mod-N; next/prev become indices" redesign note), a single active
// thread per process, and the lifecycle (New/Terminate) grounded on
// original_source/kernel/src/process/process.c's process_new/process_delete.
package proc

import (
	"ferrite/kernel"
	"ferrite/kernel/gdt"
	"ferrite/kernel/irq"
	"ferrite/kernel/mem"
	"ferrite/kernel/mem/heap"
	"ferrite/kernel/mem/pmm"
	"ferrite/kernel/mem/vmm"
)

// MaxProcesses bounds the PCB slab (original_source's process.h: "#define
// MAX_PROCESSES 256").
const MaxProcesses = 256

// DefaultEFlags and DefaultStackSize mirror original_source's
// process.c macros of the same name: IF set (and the reserved bit 1, which
// the x86 EFLAGS register always reads as 1) so every newly created thread
// starts with interrupts enabled, and a 16 KiB stack.
const (
	DefaultEFlags    = uint32(0x202)
	DefaultStackSize = mem.Size(16 * 1024)
)

// User heap placement. original_source references UHEAP_START,
// UHEAP_INITIAL_SIZE and UHEAP_MAX_SIZE from process.c but the header that
// defined them did not survive distillation; these values place the user
// heap well below KernelVBase with room to grow.
const (
	uheapInitialSize = 64 * mem.Kb
	uheapMaxSize     = 4 * mem.Mb
)

// userHeapBase is the user heap's start address in every process's
// address space (0x40000000 in production); tests point it at an ordinary
// Go-allocated buffer instead, since a plain `go test` process has no
// mapping for an arbitrary low virtual address the way a running kernel
// with pd installed would.
var userHeapBase = uintptr(0x40000000)

var (
	errTableFull      = &kernel.Error{Module: "proc", Message: "process table is full"}
	errNoSuchProcess  = &kernel.Error{Module: "proc", Message: "no process with the given pid"}
	errNoKernelHeap   = &kernel.Error{Module: "proc", Message: "no kernel heap registered; call SetKernelHeap first"}
	errNoFrameAlloc   = &kernel.Error{Module: "proc", Message: "no frame allocator registered; call SetFrameAllocator first"}
)

// FrameAllocatorFn allocates a single physical frame, matching vmm's
// indirection idiom so proc, vmm and pmm can all be wired to the same
// underlying pmm.BitmapAllocator instance during boot without proc
// importing a concrete allocator type.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

var (
	frameAllocFn FrameAllocatorFn
	frameFreeFn  func(pmm.Frame)
	kheap        *heap.Heap

	// The following indirections are mocked by tests (which have no real
	// CR3/paging hardware to drive vmm's cpu.* primitives through) and
	// automatically inlined by the compiler in production builds,
	// following the idiom vmm and irq already establish for their own
	// asm-backed dependencies.
	currentDirectoryFn = vmm.Current
	allocDirectoryFn    = vmm.AllocPageDirectory
	freeDirectoryFn     = vmm.FreePageDirectory
	switchDirectoryFn   = vmm.Switch
	mapPageFn           = vmm.Map
	setKernelStackFn    = gdt.SetKernelStack
)

// SetFrameAllocator registers the functions proc uses to obtain and
// release the physical frames backing a process's page tables (via vmm)
// and user heap. It is called once during boot.
func SetFrameAllocator(alloc FrameAllocatorFn, free func(pmm.Frame)) {
	frameAllocFn = alloc
	frameFreeFn = free
}

// SetKernelHeap registers the heap kernel-mode thread stacks are allocated
// from. It is called once during boot, after the kernel heap is
// initialized.
func SetKernelHeap(h *heap.Heap) {
	kheap = h
}

func freePhysFrame(f pmm.Frame) {
	if frameFreeFn != nil {
		frameFreeFn(f)
	}
}

// ProcState is a PCB's position in the lifecycle spec.md §4.5 describes:
// created -> ready -> running -> {ready, sleeping, terminating}.
type ProcState uint8

const (
	StateReady ProcState = iota
	StateRunning
	StateSleeping
	StateTerminating
)

// Thread holds the one schedulable execution context a PCB owns. Multiple
// threads per process (process.h's thread_t.next sibling link) are not
// implemented: original_source itself only ever allocates exactly one
// thread per process, so Thread is embedded directly in PCB rather than
// heap-allocated and linked, matching the arena+index redesign note's
// spirit of avoiding per-struct heap allocation where a fixed slab does
// the job.
type Thread struct {
	// Regs is this thread's saved register frame. While the thread is
	// running, the live frame lives on the kernel stack (the ISR
	// trampoline's argument); Regs only holds a valid snapshot while the
	// thread is not current.
	Regs irq.Regs

	StackBase uintptr
	StackSize mem.Size

	// WakeTick is the tick count at or after which a sleeping thread
	// becomes ready again (spec.md §4.5 step 3).
	WakeTick uint64
}

// PCB is a process control block: one entry in the scheduler's slab.
// Fields mirror spec.md §3's data model exactly (pid, priority,
// address-space handle, state, kernel/user flag, thread, ring siblings).
type PCB struct {
	PID       uint32
	Priority  int
	Directory vmm.PageDirectory
	State     ProcState
	IsUser    bool
	Thread    Thread

	// KernelStackTop is the top of a ring-0 stack distinct from Thread's
	// user-mode stack, valid only when IsUser. The TSS's esp0 is loaded
	// from this on every switch into the thread (spec.md §4.4: "esp0/ss0
	// used on ring-3 -> ring-0 transitions"), since a ring-3 thread's own
	// stack is unusable the moment it traps into the kernel.
	KernelStackTop uintptr

	remainingTicks uint64

	inUse      bool
	slot       int32
	next, prev int32
}

// Current returns the PCB of the thread presently running, or nil before
// the scheduler has performed its first context switch.
func Current() *PCB {
	sched.mutex.Acquire()
	defer sched.mutex.Release()

	if sched.current == noSlot {
		return nil
	}
	return &sched.slab[sched.current]
}

// New allocates a PCB and its single thread, sets up its address space and
// initial register frame, and links it into the scheduler's ready ring.
// The first call (pid 1, the "kernel main" process spec.md §4.5's
// bootstrap note requires) inherits the currently active page directory
// instead of allocating one.
func New(entry uintptr, priority int, isUser bool) (*PCB, *kernel.Error) {
	if frameAllocFn == nil {
		return nil, errNoFrameAlloc
	}

	sched.mutex.Acquire()
	defer sched.mutex.Release()
	return sched.newProcess(entry, priority, isUser)
}

func (s *Scheduler) newProcess(entry uintptr, priority int, isUser bool) (*PCB, *kernel.Error) {
	slot, ok := s.allocSlot()
	if !ok {
		return nil, errTableFull
	}
	p := &s.slab[slot]

	s.nextPID++
	p.PID = s.nextPID
	p.Priority = priority
	p.IsUser = isUser
	p.State = StateReady

	if p.PID == 1 {
		p.Directory = currentDirectoryFn()
	} else {
		dir, err := allocDirectoryFn()
		if err != nil {
			p.inUse = false
			return nil, err
		}
		p.Directory = dir
	}

	stackBase, err := allocStack(p.Directory, isUser)
	if err != nil {
		if p.PID != 1 {
			freeDirectoryFn(p.Directory, freePhysFrame)
		}
		p.inUse = false
		return nil, err
	}

	if isUser {
		kstackTop, err := allocKernelStack()
		if err != nil {
			if p.PID != 1 {
				freeDirectoryFn(p.Directory, freePhysFrame)
			}
			p.inUse = false
			return nil, err
		}
		p.KernelStackTop = kstackTop
	}

	p.Thread = Thread{StackBase: stackBase, StackSize: DefaultStackSize}
	initRegs(&p.Thread.Regs, entry, stackBase, isUser)

	s.enqueueRing(&s.ready, slot)
	return p, nil
}

// initRegs sets up a freshly created thread's saved frame so that the
// scheduler's first iret into it lands at entry with the canonical
// segment selectors for its privilege level (spec.md §3: "Canonical
// segment sets").
func initRegs(regs *irq.Regs, entry, stackTop uintptr, isUser bool) {
	*regs = irq.Regs{}
	regs.EIP = uint32(entry)
	regs.EFlags = DefaultEFlags

	if isUser {
		regs.CS = uint32(gdt.UserCodeSelector)
		sel := uint32(gdt.UserDataSelector)
		regs.DS, regs.ES, regs.FS, regs.GS, regs.SS = sel, sel, sel, sel, sel
		regs.UserESP = uint32(stackTop)
		regs.ESP = regs.UserESP
		return
	}

	regs.CS = uint32(gdt.KernelCodeSelector)
	sel := uint32(gdt.KernelDataSelector)
	regs.DS, regs.ES, regs.FS, regs.GS, regs.SS = sel, sel, sel, sel, sel
	regs.ESP = uint32(stackTop)
}

// allocStack reserves DefaultStackSize bytes of stack for a new thread and
// returns the address of its top (stacks grow down from base+size).
// Kernel threads allocate directly from the kernel heap; user threads get
// a small dedicated heap mapped at userHeapBase in their own address space,
// mirroring original_source's heap_new(UHEAP_START, ...) call, and their
// stack is the heap's first allocation.
func allocStack(pd vmm.PageDirectory, isUser bool) (uintptr, *kernel.Error) {
	if !isUser {
		if kheap == nil {
			return 0, errNoKernelHeap
		}
		base, err := kheap.Alloc(uintptr(DefaultStackSize))
		if err != nil {
			return 0, err
		}
		return base + uintptr(DefaultStackSize), nil
	}

	if err := mapUserHeapPages(pd, userHeapBase, uheapInitialSize); err != nil {
		return 0, err
	}

	// Page table entries for pd's user half were just installed via
	// mapPageFn (which, unlike the active-CR3-relative accesses below,
	// operates directly on pd's tables through the kernel's identity
	// mapping regardless of which directory is active). Writing the heap's
	// chunk headers, by contrast, means dereferencing ordinary pointers
	// into user-heap address space, which only resolves correctly while pd
	// is the active directory - so, as original_source's process_new does
	// around its own heap_new call, switch to pd for the duration and
	// restore the caller's directory afterward.
	saved := currentDirectoryFn()
	switchDirectoryFn(pd)
	defer switchDirectoryFn(saved)

	// The per-process heap object is not retained on the PCB: nothing in
	// this kernel's syscall surface allocates further user memory after
	// thread creation, so it only needs to exist long enough to place the
	// initial stack.
	var uheap heap.Heap
	uheap.Init(userHeapBase, uheapInitialSize, uheapMaxSize, nil)
	base, err := uheap.Alloc(uintptr(DefaultStackSize))
	if err != nil {
		return 0, err
	}
	return base + uintptr(DefaultStackSize), nil
}

// allocKernelStack reserves a ring-0 stack for a user thread from the
// kernel heap, distinct from the thread's own user-mode stack, and returns
// the address of its top. This is what esp0 points at once the thread is
// scheduled, so a ring3->ring0 trap has somewhere valid to push onto
// (spec.md §3/§4.4).
func allocKernelStack() (uintptr, *kernel.Error) {
	if kheap == nil {
		return 0, errNoKernelHeap
	}
	base, err := kheap.Alloc(uintptr(DefaultStackSize))
	if err != nil {
		return 0, err
	}
	return base + uintptr(DefaultStackSize), nil
}

func mapUserHeapPages(pd vmm.PageDirectory, start uintptr, size mem.Size) *kernel.Error {
	pages := (uintptr(size) + uintptr(mem.PageSize) - 1) / uintptr(mem.PageSize)
	for i := uintptr(0); i < pages; i++ {
		frame, err := frameAllocFn()
		if err != nil {
			return err
		}
		virt := start + i*uintptr(mem.PageSize)
		if err := mapPageFn(pd, frame.Address(), virt, vmm.FlagRW|vmm.FlagUser); err != nil {
			return err
		}
	}
	return nil
}

// TerminateCurrent marks the running thread terminating and forces an
// immediate reschedule, as spec.md §4.6's PROCESS_TERMINATE syscall
// requires; it never returns to the caller's original context (regs is
// overwritten with the next thread's frame before Reschedule returns).
func TerminateCurrent(regs *irq.Regs) {
	sched.mutex.Acquire()
	defer sched.mutex.Release()

	if sched.current == noSlot {
		return
	}
	sched.terminate(sched.current)
	sched.reschedule(regs)
}

// Kill marks the process with the given pid terminating. Unlike
// TerminateCurrent it does not force an immediate reschedule: if pid names
// the running process the termination takes effect on the next tick (via
// Reschedule), since forcing a switch away from a PCB the caller may still
// be inspecting would violate spec.md §9's "never reap the PCB it is
// currently running on" rule at a point with no regs to hand to Reschedule.
func Kill(pid uint32) *kernel.Error {
	sched.mutex.Acquire()
	defer sched.mutex.Release()

	slot, ok := sched.findByPID(pid)
	if !ok {
		return errNoSuchProcess
	}
	sched.terminate(slot)
	return nil
}

// Sleep marks the running thread sleeping until tick now+ms*tickHz/1000
// (spec.md §4.6's SLEEP syscall) and forces an immediate reschedule. The
// division truncates, so a duration that is not a whole number of ticks
// is rounded down (15ms at 100Hz sleeps 1 tick).
func Sleep(regs *irq.Regs, ms uint32) {
	sched.mutex.Acquire()
	defer sched.mutex.Release()

	if sched.current == noSlot {
		return
	}
	cur := &sched.slab[sched.current]
	cur.Thread.Regs = *regs
	cur.State = StateSleeping
	cur.Thread.WakeTick = sched.ticks + uint64(ms)*uint64(sched.tickHz)/1000

	sched.enqueueRing(&sched.sleeping, sched.current)
	sched.reschedule(regs)
}
