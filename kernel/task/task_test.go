package task

import (
	"lightos/kernel"
	"lightos/kernel/gate"
	"lightos/kernel/mm"
	"lightos/kernel/mm/vmm"
	"testing"
)

func TestNewContext(t *testing.T) {
	ctx := NewContext(0xffff800000014000, 0x401000)

	specs := []struct {
		name      string
		got, want uint64
	}{
		{"RSP", ctx.RSP, 0xffff800000014000},
		{"RIP", ctx.RIP, 0x401000},
		{"RFlags", ctx.RFlags, InitialRFlags},
		{"CS", ctx.CS, KernelCodeSegment},
		{"SS", ctx.SS, KernelDataSegment},
		{"RAX", ctx.RAX, 0},
		{"RBP", ctx.RBP, 0},
	}

	for _, spec := range specs {
		if spec.got != spec.want {
			t.Errorf("expected %s to be 0x%x; got 0x%x", spec.name, spec.want, spec.got)
		}
	}

	if ctx.RFlags&(1<<9) == 0 {
		t.Error("expected interrupts to be enabled in the initial context")
	}
}

func TestContextSaveRestore(t *testing.T) {
	live := gate.Registers{RAX: 1, RBX: 2, R15: 15, RIP: 0x1234, RSP: 0x8000, RFlags: 0x246}

	var ctx Context
	ctx.Save(&live)

	// clobber the live registers as if another task had been running
	live = gate.Registers{RAX: 0xdead}

	ctx.Restore(&live)
	if exp := (gate.Registers{RAX: 1, RBX: 2, R15: 15, RIP: 0x1234, RSP: 0x8000, RFlags: 0x246}); live != exp {
		t.Fatalf("expected restored registers to be %+v; got %+v", exp, live)
	}

	// a fresh context is indistinguishable from a saved one
	fresh := NewContext(0x9000, 0x5000)
	fresh.Restore(&live)
	if live.RIP != 0x5000 || live.RSP != 0x9000 || live.RFlags != InitialRFlags {
		t.Fatalf("unexpected registers after restoring a new context: %+v", live)
	}
}

func TestNew(t *testing.T) {
	defer func(origAllocStack func(uintptr) (uintptr, *kernel.Error)) {
		allocStackFn = origAllocStack
	}(allocStackFn)

	t.Run("success", func(t *testing.T) {
		var requestedSize uintptr
		allocStackFn = func(size uintptr) (uintptr, *kernel.Error) {
			requestedSize = size
			return 0xffff800000010000, nil
		}

		pdt := vmm.PageDirectoryTableAt(mm.Frame(0x123))
		tsk, err := New(7, 0x401000, pdt)
		if err != nil {
			t.Fatal(err)
		}

		if requestedSize != uintptr(StackSize) {
			t.Errorf("expected a stack of %d bytes to be requested; got %d", StackSize, requestedSize)
		}

		if tsk.ID != 7 {
			t.Errorf("expected task ID to be 7; got %d", tsk.ID)
		}

		if tsk.StackBase() != 0xffff800000010000 {
			t.Errorf("expected stack base to be 0xffff800000010000; got 0x%x", tsk.StackBase())
		}

		if exp := uint64(0xffff800000010000 + uintptr(StackSize)); tsk.Context.RSP != exp {
			t.Errorf("expected RSP to point to the stack top 0x%x; got 0x%x", exp, tsk.Context.RSP)
		}

		if tsk.Context.RIP != 0x401000 {
			t.Errorf("expected RIP to point to the entry; got 0x%x", tsk.Context.RIP)
		}

		if tsk.PDT.Frame() != mm.Frame(0x123) {
			t.Errorf("expected task PDT frame to be 0x123; got %d", tsk.PDT.Frame())
		}

		if tsk.Areas.Len() != 0 {
			t.Errorf("expected a new task to have no areas; got %d", tsk.Areas.Len())
		}
	})

	t.Run("stack allocation fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "out of memory"}
		allocStackFn = func(_ uintptr) (uintptr, *kernel.Error) {
			return 0, expErr
		}

		tsk, err := New(8, 0x401000, vmm.PageDirectoryTable{})
		if err != expErr {
			t.Fatalf("expected error %v; got %v", expErr, err)
		}

		if tsk != nil {
			t.Fatal("expected no task to be returned")
		}
	})
}
