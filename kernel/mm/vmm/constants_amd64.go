package vmm

import "math"

const (
	// pageLevels indicates the number of page levels supported by the amd64 architecture.
	pageLevels = 4

	// entriesPerTable is the number of entries in a page table at any level.
	entriesPerTable = 512

	// ptePhysPageMask extracts the physical frame address from a page
	// table entry (bits 12-51).
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// recursiveEntryIndex is the top-level table slot that points back to
	// the table itself.
	recursiveEntryIndex = entriesPerTable - 1

	// kernelEntryIndex is the first top-level table slot that belongs to
	// the kernel half of the address space. Slots [kernelEntryIndex,
	// recursiveEntryIndex) are shared by every page directory table.
	kernelEntryIndex = entriesPerTable / 2

	// tempMappingAddr is a reserved virtual page address used for
	// temporary physical page mappings (e.g. when mapping inactive PDT
	// pages). For amd64 this address uses the following table indices:
	// 510, 511, 511, 511.
	tempMappingAddr = uintptr(0xffffff7ffffff000)
)

var (
	// pdtVirtualAddr is the virtual address of the active top-level table
	// as seen through the recursive mapping: with every index set to
	// recursiveEntryIndex the MMU keeps following the last P4 entry and
	// lands on the P4 itself.
	pdtVirtualAddr = uintptr(math.MaxUint64 &^ ((1 << 12) - 1))

	// pageLevelBits defines the number of virtual address bits that
	// correspond to each page level.
	pageLevelBits = [pageLevels]uint8{9, 9, 9, 9}

	// pageLevelShifts defines the shift required to access each page table
	// component of a virtual address.
	pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

const (
	// FlagPresent is set when the page is available in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set when using 2Mb pages instead of 4K pages.
	FlagHugePage

	// FlagGlobal prevents the TLB from flushing the cached translation for
	// this page when the active page directory table changes.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute = 1 << 63
)
