package vma

import (
	"lightos/kernel"
	"lightos/kernel/mm"
	"lightos/kernel/mm/vmm"
	"sort"
)

var (
	// ErrAreaAlreadyExists is returned when adding an area whose start
	// address is already used by another area.
	ErrAreaAlreadyExists = &kernel.Error{Module: "vma", Message: "an area already starts at this address"}

	// ErrAreaOverlap is returned when adding an area that overlaps an
	// existing one.
	ErrAreaOverlap = &kernel.Error{Module: "vma", Message: "area overlaps an existing area"}

	// ErrInvalidArea is returned for empty areas or areas that wrap around
	// the end of the address space.
	ErrInvalidArea = &kernel.Error{Module: "vma", Message: "invalid area extents"}

	// ErrNoAreaFound is returned when an address is not covered by any
	// area.
	ErrNoAreaFound = &kernel.Error{Module: "vma", Message: "no area contains the faulting address"}

	// ErrOutOfMemory is returned when no physical frame can be allocated
	// to back a faulting page.
	ErrOutOfMemory = &kernel.Error{Module: "vma", Message: "out of memory"}

	// The following functions are overridden by tests.
	mapFn          = vmm.Map
	mapTemporaryFn = vmm.MapTemporary
	unmapFn        = vmm.Unmap
	translateFn    = vmm.Translate
	memsetFn       = kernel.Memset
)

// Manager holds the areas of a single address space ordered by start
// address. A Manager is owned by exactly one task and is not safe for
// concurrent use.
type Manager struct {
	areas         []Area
	residentPages uint64
}

// AddArea registers a new area. Areas are immutable once added.
func (m *Manager) AddArea(area Area) *kernel.Error {
	if area.Size == 0 || area.End() < area.Start {
		return ErrInvalidArea
	}

	index := sort.Search(len(m.areas), func(i int) bool {
		return m.areas[i].Start >= area.Start
	})

	if index < len(m.areas) && m.areas[index].Start == area.Start {
		return ErrAreaAlreadyExists
	}

	if (index > 0 && m.areas[index-1].overlaps(area)) ||
		(index < len(m.areas) && m.areas[index].overlaps(area)) {
		return ErrAreaOverlap
	}

	m.areas = append(m.areas, Area{})
	copy(m.areas[index+1:], m.areas[index:])
	m.areas[index] = area

	return nil
}

// FindArea returns the area that contains addr or nil if addr falls outside
// every area. The lookup locates the area with the greatest start address
// that does not exceed addr.
func (m *Manager) FindArea(addr uintptr) *Area {
	index := sort.Search(len(m.areas), func(i int) bool {
		return m.areas[i].Start > addr
	}) - 1

	if index < 0 || !m.areas[index].Contains(addr) {
		return nil
	}

	return &m.areas[index]
}

// MapPage resolves a fault at faultAddr by backing the page that contains it
// with a freshly allocated, zeroed frame mapped with the flags of the
// owning area. The mapping is installed into the active page directory
// table. Faults on pages that are already mapped succeed without allocating
// another frame.
//
// The frame is cleared through the temporary mapping before the final
// translation becomes visible, as the area flags may not permit writes.
func (m *Manager) MapPage(faultAddr uintptr) *kernel.Error {
	area := m.FindArea(faultAddr)
	if area == nil {
		return ErrNoAreaFound
	}

	page := mm.PageFromAddress(faultAddr)
	if _, err := translateFn(page.Address()); err == nil {
		return nil
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		return ErrOutOfMemory
	}

	tempPage, err := mapTemporaryFn(frame)
	if err != nil {
		return err
	}
	memsetFn(tempPage.Address(), 0, mm.PageSize)
	_ = unmapFn(tempPage)

	if err = mapFn(page, frame, area.Flags|vmm.FlagPresent); err != nil {
		return err
	}

	m.residentPages++

	return nil
}

// Len returns the number of areas.
func (m *Manager) Len() int {
	return len(m.areas)
}

// Visit invokes visitor for each area in ascending address order.
func (m *Manager) Visit(visitor func(Area)) {
	for _, area := range m.areas {
		visitor(area)
	}
}

// ResidentPages returns the number of pages that MapPage has populated.
func (m *Manager) ResidentPages() uint64 {
	return m.residentPages
}
