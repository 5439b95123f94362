// Package task defines the unit of scheduling: a Task couples a saved
// register context with a private stack, page directory table and the
// areas of its address space.
package task

import (
	"lightos/kernel"
	"lightos/kernel/mm"
	"lightos/kernel/mm/vma"
	"lightos/kernel/mm/vmm"
)

// StackSize is the size of the stack allocated for each task. An unmapped
// guard page sits below every stack.
const StackSize = 16 * mm.Kb

// ID uniquely identifies a Task. ID 0 is reserved for the kernel task.
type ID uint64

// KernelTaskID is the ID of the task that represents the kernel's own
// thread of execution.
const KernelTaskID ID = 0

var (
	// allocStackFn is overridden by tests.
	allocStackFn = func(size uintptr) (uintptr, *kernel.Error) {
		return vmm.AllocRegion(size, vmm.FlagRW|vmm.FlagNoExecute)
	}
)

// Task is a schedulable thread of execution.
type Task struct {
	ID ID

	// Context holds the register state while the task is not running.
	Context Context

	// PDT is the page directory table that must be active while the task
	// runs.
	PDT vmm.PageDirectoryTable

	// Areas describes the parts of the task's address space that may be
	// populated on demand.
	Areas vma.Manager

	stackBase uintptr

	// next links the task into a Queue.
	next *Task
}

// New creates a task that starts executing at entry once it is scheduled. A
// fresh stack is allocated for the task and its initial context is set up
// so the first restore transfers control to entry.
func New(id ID, entry uintptr, pdt vmm.PageDirectoryTable) (*Task, *kernel.Error) {
	stackBase, err := allocStackFn(uintptr(StackSize))
	if err != nil {
		return nil, err
	}

	return &Task{
		ID:        id,
		Context:   NewContext(stackBase+uintptr(StackSize), entry),
		PDT:       pdt,
		stackBase: stackBase,
	}, nil
}

// StackBase returns the lowest address of the task stack or 0 if the stack
// was not allocated by New.
func (t *Task) StackBase() uintptr {
	return t.stackBase
}
