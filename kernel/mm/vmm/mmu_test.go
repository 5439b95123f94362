package vmm

import (
	"lightos/kernel"
	"lightos/kernel/cpu"
	"lightos/kernel/mm"
	"unsafe"
)

// fakeMMU backs every page table virtual address that the recursive mapping
// produces with regular memory so the mapping code can run in user-mode.
type fakeMMU struct {
	tables map[uintptr]*pageTable

	nextFrame mm.Frame
	allocErr  *kernel.Error
	allocated []mm.Frame

	flushed  []uintptr
	switches []uintptr
	active   uintptr
}

func newFakeMMU() *fakeMMU {
	m := &fakeMMU{
		tables:    make(map[uintptr]*pageTable),
		nextFrame: 0x100,
		active:    0xa000,
	}

	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		table := m.table(entryAddr)
		return unsafe.Pointer(&table[(entryAddr&(mm.PageSize-1))>>mm.PointerShift])
	}
	flushTLBEntryFn = func(addr uintptr) { m.flushed = append(m.flushed, addr) }
	switchPDTFn = func(addr uintptr) { m.switches = append(m.switches, addr) }
	activePDTFn = func() uintptr { return m.active }
	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) {
		if m.allocErr != nil {
			return mm.InvalidFrame, m.allocErr
		}
		frame := m.nextFrame
		m.nextFrame++
		m.allocated = append(m.allocated, frame)
		return frame, nil
	})

	return m
}

// table returns the page table that contains the supplied virtual address.
func (m *fakeMMU) table(addr uintptr) *pageTable {
	base := addr &^ (mm.PageSize - 1)
	table, ok := m.tables[base]
	if !ok {
		table = new(pageTable)
		m.tables[base] = table
	}
	return table
}

func (m *fakeMMU) restore() {
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer { return unsafe.Pointer(entryAddr) }
	flushTLBEntryFn = cpu.FlushTLBEntry
	switchPDTFn = cpu.SwitchPDT
	activePDTFn = cpu.ActivePDT
	mapFn = Map
	mapTemporaryFn = MapTemporary
	unmapFn = Unmap
	mm.SetFrameAllocator(nil)
}
