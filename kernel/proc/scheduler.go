package proc

import (
	"ferrite/kernel/gdt"
	"ferrite/kernel/irq"
	"ferrite/kernel/mem/vmm"
	"ferrite/kernel/sync"
)

// noSlot marks the absence of a slab slot in a ring head or a next/prev
// link.
const noSlot = int32(-1)

// TicksPerQuantum is the number of timer ticks a process runs before a
// forced reschedule (spec.md §4.5: "a fixed time slice, e.g. 10ms = 1 PIT
// tick at 100Hz" — one tick per quantum at that rate).
const TicksPerQuantum = uint64(1)

// Scheduler owns the PCB slab and the ready/sleeping/reap rings threaded
// through it by slot index, plus the tick counter that drives preemption.
// It is a package-level singleton (spec.md §9: "global mutable kernel
// state... guarded by an interrupt-disable discipline"); every operation
// acquires mutex, which in turn only ever contends with the single ISR
// trampoline that calls Tick, so a spinlock (rather than the CriticalSection
// cli/sti discipline sync already provides) is sufficient here: Tick itself
// only ever runs with interrupts disabled.
type Scheduler struct {
	mutex sync.Spinlock

	slab    [MaxProcesses]PCB
	nextPID uint32
	ticks   uint64
	tickHz  uint32

	current  int32
	ready    int32
	sleeping int32
	reapHead int32
}

var sched = Scheduler{current: noSlot, ready: noSlot, sleeping: noSlot, reapHead: noSlot}

// Init resets the scheduler and records the PIT frequency so Sleep can
// convert milliseconds to ticks. It must be called once during boot,
// before the first PCB is created.
func Init(tickHz uint32) {
	sched.mutex.Acquire()
	defer sched.mutex.Release()

	sched = Scheduler{tickHz: tickHz, current: noSlot, ready: noSlot, sleeping: noSlot, reapHead: noSlot}
	sync.SetYieldFn(Yield)
}

// Yield is wired into kernel/sync as the function a spinning
// Spinlock.Acquire calls once the scheduler is running (spinlock.go's
// yieldFn). It does nothing: it is not called from the ISR trampoline, so
// it has no register frame to hand to Reschedule and cannot switch
// threads. A busy-waiting thread keeps running until the next tick
// preempts it.
func Yield() {}

func (s *Scheduler) allocSlot() (int32, bool) {
	for i := range s.slab {
		if !s.slab[i].inUse {
			s.slab[i].inUse = true
			s.slab[i].slot = int32(i)
			s.slab[i].next = noSlot
			s.slab[i].prev = noSlot
			return int32(i), true
		}
	}
	return noSlot, false
}

func (s *Scheduler) findByPID(pid uint32) (int32, bool) {
	for i := range s.slab {
		if s.slab[i].inUse && s.slab[i].PID == pid {
			return int32(i), true
		}
	}
	return noSlot, false
}

// enqueueRing appends slot to the tail of the circular doubly-linked ring
// rooted at *head.
func (s *Scheduler) enqueueRing(head *int32, slot int32) {
	if *head == noSlot {
		s.slab[slot].next = slot
		s.slab[slot].prev = slot
		*head = slot
		return
	}

	tail := s.slab[*head].prev
	s.slab[tail].next = slot
	s.slab[slot].prev = tail
	s.slab[slot].next = *head
	s.slab[*head].prev = slot
}

// dequeueRing removes slot from the ring rooted at *head.
func (s *Scheduler) dequeueRing(head *int32, slot int32) {
	p := &s.slab[slot]
	if p.next == slot {
		*head = noSlot
	} else {
		s.slab[p.prev].next = p.next
		s.slab[p.next].prev = p.prev
		if *head == slot {
			*head = p.next
		}
	}
	p.next, p.prev = noSlot, noSlot
}

func (s *Scheduler) enqueueReap(slot int32) {
	s.slab[slot].next = s.reapHead
	s.slab[slot].prev = noSlot
	s.reapHead = slot
}

// terminate removes slot from whatever ring it currently occupies (none,
// if it is the running PCB) and moves it onto the reap list.
func (s *Scheduler) terminate(slot int32) {
	p := &s.slab[slot]
	if p.State == StateTerminating {
		return
	}

	switch {
	case slot == s.current:
		// Not linked into any ring while running; left in place.
	case p.State == StateSleeping:
		s.dequeueRing(&s.sleeping, slot)
	default:
		s.dequeueRing(&s.ready, slot)
	}

	p.State = StateTerminating
	s.enqueueReap(slot)
}

// wakeSleepers moves every PCB whose wake-tick has arrived from the
// sleeping ring to the ready ring (spec.md §4.5 step 3). The traversal
// captures each node's next pointer before possibly dequeuing that same
// node, so waking nodes mid-scan cannot corrupt the walk.
func (s *Scheduler) wakeSleepers() {
	if s.sleeping == noSlot {
		return
	}

	start := s.sleeping
	slot := start
	for first := true; first || slot != start; first = false {
		p := &s.slab[slot]
		next := p.next

		if p.Thread.WakeTick <= s.ticks {
			s.dequeueRing(&s.sleeping, slot)
			p.State = StateReady
			s.enqueueRing(&s.ready, slot)
		}

		if next == slot {
			break
		}
		slot = next
	}
}

// Tick is installed as the IRQ0 (PIT) handler. It implements spec.md
// §4.5's per-tick algorithm: advance the clock, wake due sleepers, and
// either let the running thread continue (quantum remains) or reschedule.
func Tick(regs *irq.Regs) {
	sched.mutex.Acquire()
	defer sched.mutex.Release()

	sched.ticks++
	sched.wakeSleepers()

	if sched.current != noSlot {
		cur := &sched.slab[sched.current]
		if cur.State == StateRunning && cur.remainingTicks > 1 {
			cur.remainingTicks--
			return
		}
	}

	sched.reschedule(regs)
}

// Reschedule performs an immediate context switch, used by the SLEEP and
// PROCESS_TERMINATE syscalls to switch away from the calling thread
// without waiting for its quantum to expire.
func Reschedule(regs *irq.Regs) {
	sched.mutex.Acquire()
	defer sched.mutex.Release()
	sched.reschedule(regs)
}

// reschedule implements spec.md §4.5 steps 5-6: save the outgoing thread's
// frame (if it is still ready to run again), pick the next ready PCB,
// switch address spaces, and overwrite regs in place with the incoming
// thread's saved frame so the ISR trampoline's iret resumes it. Reaping of
// terminated PCBs happens last, once s.current no longer refers to any of
// them (spec.md §9: never reap the PCB currently running).
func (s *Scheduler) reschedule(regs *irq.Regs) {
	if s.current != noSlot {
		cur := &s.slab[s.current]
		if cur.State == StateRunning {
			cur.Thread.Regs = *regs
			cur.State = StateReady
			s.enqueueRing(&s.ready, s.current)
		}
	}

	next := s.ready
	if next == noSlot {
		s.current = noSlot
		s.reapTerminated()
		return
	}
	s.dequeueRing(&s.ready, next)

	n := &s.slab[next]
	n.State = StateRunning
	n.remainingTicks = TicksPerQuantum
	s.current = next

	switchDirectoryFn(n.Directory)
	if n.IsUser {
		setKernelStackFn(uint32(n.KernelStackTop))
	}
	*regs = n.Thread.Regs

	s.reapTerminated()
}

// reapTerminated releases every PCB queued on the reap list: its page
// directory (and every user frame it owns), its kernel stack, and finally
// its slab slot.
func (s *Scheduler) reapTerminated() {
	slot := s.reapHead
	s.reapHead = noSlot

	for slot != noSlot {
		p := &s.slab[slot]
		next := p.next

		freeDirectoryFn(p.Directory, freePhysFrame)
		if !p.IsUser && kheap != nil && p.Thread.StackBase != 0 {
			kheap.Free(p.Thread.StackBase - uintptr(p.Thread.StackSize))
		}
		if p.IsUser && kheap != nil && p.KernelStackTop != 0 {
			kheap.Free(p.KernelStackTop - uintptr(DefaultStackSize))
		}
		p.inUse = false

		slot = next
	}
}
