// Package sched implements a preemptive round-robin scheduler. Tasks are
// switched exclusively from the timer interrupt; there is no voluntary
// yield. The scheduler also resolves page faults on behalf of the task that
// is currently running.
package sched

import (
	"lightos/kernel"
	"lightos/kernel/gate"
	"lightos/kernel/kfmt"
	"lightos/kernel/mm/vma"
	"lightos/kernel/mm/vmm"
	"lightos/kernel/sync"
	"lightos/kernel/task"
)

var (
	// ErrProtectionViolation is returned for faults on pages that are
	// present. Such faults are access violations that demand paging cannot
	// fix.
	ErrProtectionViolation = &kernel.Error{Module: "sched", Message: "protection violation"}

	errSchedulerBusy = &kernel.Error{Module: "sched", Message: "page fault while the scheduler state was being updated"}

	// The following functions are overridden by tests.
	activePDTFn   = vmm.ActivePDT
	activatePDTFn = vmm.PageDirectoryTable.Activate
	newTaskFn     = task.New
	mapPageFn     = (*vma.Manager).MapPage
)

// pageFaultPresent is set in the page fault error code when the fault was
// caused by a page-level protection check rather than a missing page.
const pageFaultPresent = 1 << 0

// InterruptController is implemented by interrupt controllers that need to
// be notified when the handling of an interrupt completes.
type InterruptController interface {
	Acknowledge(vector gate.InterruptNumber)
}

// Stats contains scheduler counters.
type Stats struct {
	// Ticks is the number of timer ticks processed.
	Ticks uint64

	// ContextSwitches is the number of times a different task was
	// resumed.
	ContextSwitches uint64

	// RootSwitches is the number of context switches that also had to
	// load a different page directory table.
	RootSwitches uint64
}

// Scheduler multiplexes the CPU between tasks. The running task sits in the
// current slot while every other task waits in a FIFO ready queue. A
// Scheduler must be created with New.
//
// The kernel task (ID 0) is the boot thread adopted on the first tick. It is
// never placed in the ready queue: once a spawned task is switched in, the
// kernel task is neither current nor ready and is not resumed again. Its
// saved context is only reachable through the scheduler itself.
type Scheduler struct {
	mutex sync.IRQSafeSpinlock

	ic      InterruptController
	ready   task.Queue
	current *task.Task

	// kernelTask represents the thread of execution that was running
	// when the first tick arrived.
	kernelTask task.Task

	nextID task.ID
	stats  Stats
}

// New returns a scheduler that acknowledges timer interrupts through ic.
func New(ic InterruptController) *Scheduler {
	return &Scheduler{
		ic:     ic,
		nextID: task.KernelTaskID + 1,
	}
}

// Spawn creates a task that starts executing at entry with pdt as its page
// directory table and appends it to the tail of the ready queue. The
// optional areas are registered with the task's VMA manager and get
// populated on demand when the task touches them.
//
// The areas are validated before any resources are allocated; an invalid
// area set leaves the scheduler untouched and does not consume a task ID.
func (s *Scheduler) Spawn(entry uintptr, pdt vmm.PageDirectoryTable, areas ...vma.Area) (task.ID, *kernel.Error) {
	var areaSet vma.Manager
	for _, area := range areas {
		if err := areaSet.AddArea(area); err != nil {
			return 0, err
		}
	}

	s.mutex.Acquire()
	id := s.nextID
	s.nextID++
	s.mutex.Release()

	t, err := newTaskFn(id, entry, pdt)
	if err != nil {
		// Give the ID back unless another Spawn already claimed a later one.
		s.mutex.Acquire()
		if s.nextID == id+1 {
			s.nextID = id
		}
		s.mutex.Release()
		return 0, err
	}
	t.Areas = areaSet

	s.mutex.Acquire()
	s.ready.PushBack(t)
	s.mutex.Release()

	kfmt.Printf("[sched] spawned task %d (entry: 0x%x, root: 0x%x, areas: %d)\n",
		uint64(id), entry, pdt.Frame().Address(), t.Areas.Len())

	return id, nil
}

// Tick preempts the running task. regs holds the register state of the
// interrupted task; when Tick returns it holds the state of the task that
// must resume. If the next task uses a different page directory table it is
// activated before returning.
//
// If the scheduler state is locked when Tick is invoked, the tick is
// dropped and the interrupted task keeps running.
func (s *Scheduler) Tick(regs *gate.Registers) {
	if !s.mutex.TryToAcquire() {
		return
	}
	defer s.mutex.Release()

	s.stats.Ticks++

	prev := s.current
	if prev == nil {
		s.kernelTask = task.Task{ID: task.KernelTaskID, PDT: activePDTFn()}
		prev = &s.kernelTask
		s.current = prev
		kfmt.Printf("[sched] kernel task %d is now running\n", uint64(prev.ID))
	}

	prev.Context.Save(regs)
	if prev != &s.kernelTask {
		s.ready.PushBack(prev)
	}

	next := s.ready.PopFront()
	if next == nil || next == prev {
		return
	}

	if next.PDT.Frame() != activePDTFn().Frame() {
		activatePDTFn(next.PDT)
		s.stats.RootSwitches++
	}

	next.Context.Restore(regs)
	s.current = next
	s.stats.ContextSwitches++
}

// HandleTimerInterrupt is the timer IRQ handler. It runs the scheduler and
// acknowledges the interrupt so the next tick can be delivered.
func (s *Scheduler) HandleTimerInterrupt(regs *gate.Registers) {
	s.Tick(regs)
	s.ic.Acknowledge(gate.TimerIRQ)
}

// HandlePageFault attempts to resolve a fault at faultAddress by populating
// the page through the VMA manager of the running task. A nil return value
// means the faulting instruction can be restarted. Faults raised before
// any task is running are treated like accesses outside every area.
func (s *Scheduler) HandlePageFault(faultAddress uintptr, errorCode uint64) *kernel.Error {
	if errorCode&pageFaultPresent != 0 {
		return ErrProtectionViolation
	}

	if !s.mutex.TryToAcquire() {
		return errSchedulerBusy
	}
	defer s.mutex.Release()

	if s.current == nil {
		return vma.ErrNoAreaFound
	}

	err := mapPageFn(&s.current.Areas, faultAddress)
	if err != nil {
		kfmt.Printf("[sched] task %d: unable to resolve page fault at 0x%16x (error code: 0x%x): %s\n",
			uint64(s.current.ID), faultAddress, errorCode, err.Message)
	}

	return err
}

// Current returns the running task or nil if the scheduler has not run yet.
func (s *Scheduler) Current() *task.Task {
	s.mutex.Acquire()
	defer s.mutex.Release()
	return s.current
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mutex.Acquire()
	defer s.mutex.Release()
	return s.stats
}

// Ready returns the number of tasks waiting in the ready queue.
func (s *Scheduler) Ready() int {
	s.mutex.Acquire()
	defer s.mutex.Release()
	return s.ready.Len()
}
