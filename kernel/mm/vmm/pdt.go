package vmm

import (
	"lightos/kernel"
	"lightos/kernel/cpu"
	"lightos/kernel/mm"
)

var (
	// activePDTFn is used by tests to override calls to activePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// switchPDTFn is used by tests to override calls to switchPDT which
	// will cause a fault if called in user-mode.
	switchPDTFn = cpu.SwitchPDT

	// The following functions are overridden by tests.
	mapFn          = Map
	mapTemporaryFn = MapTemporary
	unmapFn        = Unmap
)

// PageDirectoryTable describes the top-most table in a multi-level paging
// scheme. Its physical address is the page-table root that gets loaded into
// CR3 when a task using it is scheduled.
type PageDirectoryTable struct {
	pdtFrame mm.Frame
}

// ActivePDT returns the page directory table that is currently loaded.
func ActivePDT() PageDirectoryTable {
	return PageDirectoryTableAt(mm.FrameFromAddress(activePDTFn()))
}

// PageDirectoryTableAt returns a handle to an already initialized page
// directory table stored in pdtFrame.
func PageDirectoryTableAt(pdtFrame mm.Frame) PageDirectoryTable {
	return PageDirectoryTable{pdtFrame: pdtFrame}
}

// NewPageDirectoryTable allocates and initializes a new page directory table
// that shares the kernel half of the address space with the active one.
func NewPageDirectoryTable() (PageDirectoryTable, *kernel.Error) {
	var pdt PageDirectoryTable

	frame, err := mm.AllocFrame()
	if err != nil {
		return pdt, err
	}

	err = pdt.Init(frame)
	return pdt, err
}

// Init sets up the page directory table stored in the supplied frame. If the
// frame is not the active PDT, Init treats it as a new table: it temporarily
// maps the frame, clears it, copies the kernel-half entries of the active
// table and points the last entry back at the table itself.
func (pdt *PageDirectoryTable) Init(pdtFrame mm.Frame) *kernel.Error {
	pdt.pdtFrame = pdtFrame

	if pdtFrame == mm.FrameFromAddress(activePDTFn()) {
		return nil
	}

	pdtPage, err := mapTemporaryFn(pdtFrame)
	if err != nil {
		return err
	}

	table := tablePtr(pdtPage.Address())
	*table = pageTable{}
	copy(table[kernelEntryIndex:recursiveEntryIndex], tablePtr(pdtVirtualAddr)[kernelEntryIndex:recursiveEntryIndex])

	table[recursiveEntryIndex].SetFlags(FlagPresent | FlagRW)
	table[recursiveEntryIndex].SetFrame(pdtFrame)

	_ = unmapFn(pdtPage)
	return nil
}

// Frame returns the physical frame that holds this table.
func (pdt PageDirectoryTable) Frame() mm.Frame {
	return pdt.pdtFrame
}

// Map establishes a mapping between a virtual page and a physical memory
// frame using this PDT. If the PDT is not active, its tables are reached by
// temporarily pointing the recursive slot of the active PDT at it.
func (pdt PageDirectoryTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	return pdt.withTables(func() *kernel.Error {
		return mapFn(page, frame, flags)
	})
}

// Unmap removes a mapping previously installed by a call to Map() on this PDT.
func (pdt PageDirectoryTable) Unmap(page mm.Page) *kernel.Error {
	return pdt.withTables(func() *kernel.Error {
		return unmapFn(page)
	})
}

// withTables runs fn while the recursive mapping resolves to this PDT.
func (pdt PageDirectoryTable) withTables(fn func() *kernel.Error) *kernel.Error {
	activeAddr := activePDTFn()
	activeFrame := mm.FrameFromAddress(activeAddr)
	if activeFrame == pdt.pdtFrame {
		return fn()
	}

	// The active P4 is reached through the temporary mapping since its
	// recursive slot is about to be redirected.
	p4Page, err := mapTemporaryFn(activeFrame)
	if err != nil {
		return err
	}

	recursiveEntry := &tablePtr(p4Page.Address())[recursiveEntryIndex]
	recursiveEntry.SetFrame(pdt.pdtFrame)
	switchPDTFn(activeAddr)

	err = fn()

	recursiveEntry.SetFrame(activeFrame)
	switchPDTFn(activeAddr)
	_ = unmapFn(p4Page)

	return err
}

// Activate enables this page directory table and flushes the TLB.
func (pdt PageDirectoryTable) Activate() {
	switchPDTFn(pdt.pdtFrame.Address())
}
