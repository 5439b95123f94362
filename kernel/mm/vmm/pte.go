package vmm

import (
	"lightos/kernel"
	"lightos/kernel/mm"
	"unsafe"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}

	// ptePtrFn converts the virtual address of a page table entry (as
	// derived through the recursive mapping) into a pointer. Tests
	// override it to redirect page table accesses to regular memory.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags.
type pageTableEntry uintptr

// pageTable overlays a full page table.
type pageTable [entriesPerTable]pageTableEntry

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}

// tablePtr returns the page table located at the supplied virtual address.
func tablePtr(tableAddr uintptr) *pageTable {
	return (*pageTable)(ptePtrFn(tableAddr))
}

// pteIndex returns the index of the entry that covers virtAddr in a page
// table at the given level.
func pteIndex(virtAddr uintptr, level uint8) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
}

// tableAddr returns the virtual address, as seen through the recursive
// mapping, of the page table at the given level that covers virtAddr.
func tableAddr(virtAddr uintptr, level uint8) uintptr {
	addr := pdtVirtualAddr
	for l := uint8(0); l < level; l++ {
		addr = (addr + pteIndex(virtAddr, l)<<mm.PointerShift) << pageLevelBits[l]
	}
	return addr
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address, invoking
// walkFn with the entry that covers virtAddr at each paging level.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	for level, table := uint8(0), pdtVirtualAddr; level < pageLevels; level++ {
		entryAddr := table + pteIndex(virtAddr, level)<<mm.PointerShift
		if !walkFn(level, (*pageTableEntry)(ptePtrFn(entryAddr))) {
			return
		}

		// Shifting the entry address left by the level's bit count adds
		// one more hop through the recursive slot and yields the address
		// of the table the entry points to.
		table = entryAddr << pageLevelBits[level]
	}
}

// pteForAddress returns the last-level page table entry for virtAddr or
// ErrInvalidMapping if any entry along the way is not present.
func pteForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		err   *kernel.Error
		entry *pageTableEntry
	)

	walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			entry = nil
			err = ErrInvalidMapping
			return false
		}

		entry = pte
		return true
	})

	return entry, err
}
