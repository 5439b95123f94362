// Package multiboot extracts the boot memory map from the multiboot2
// information block that the boot loader hands to the kernel.
package multiboot

import "unsafe"

var (
	infoData uintptr
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
)

// tagHeader describes the header the precedes each tag.
type tagHeader struct {
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. Each tag starts at an 8-byte aligned address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	PhysAddress uint64
	Length      uint64
	Type        MemoryEntryType
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region
// reported by the boot loader. The visitor returns false to abort the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// VisitMemRegions will invoke the supplied visitor for each memory region that
// is defined by the multiboot info data that we received from the bootloader.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += unsafe.Sizeof(*ptrMapHeader)

	for ; curPtr < endPtr; curPtr += uintptr(ptrMapHeader.entrySize) {
		entry := (*MemoryMapEntry)(unsafe.Pointer(curPtr))

		// Mark unknown entry types as reserved
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}
	}
}

// findTagByType scans the multiboot info data looking for the start of of the
// specified type. It returns a pointer to the tag contents and the content
// length excluding the tag header, or (0, 0) if the tag is not present.
func findTagByType(tagType tagType) (uintptr, uint32) {
	if infoData == 0 {
		return 0, 0
	}

	hdrSize := unsafe.Sizeof(tagHeader{})
	curPtr := infoData + 8
	for {
		hdr := (*tagHeader)(unsafe.Pointer(curPtr))
		switch hdr.tagType {
		case tagMbSectionEnd:
			return 0, 0
		case tagType:
			return curPtr + hdrSize, hdr.size - uint32(hdrSize)
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += uintptr(hdr.size+7) &^ 7
	}
}
