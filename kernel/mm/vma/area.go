// Package vma tracks the virtual memory areas that make up the address space
// of a task and populates them on demand when a task touches them.
package vma

import "lightos/kernel/mm/vmm"

// Kind describes what an Area is used for.
type Kind uint8

// The supported area kinds.
const (
	KindCode Kind = iota
	KindData
	KindStack
	KindHeap
	KindMappedFile
)

// String implements fmt.Stringer for Kind.
func (k Kind) String() string {
	switch k {
	case KindCode:
		return "code"
	case KindData:
		return "data"
	case KindStack:
		return "stack"
	case KindHeap:
		return "heap"
	case KindMappedFile:
		return "mapped-file"
	default:
		return "unknown"
	}
}

// Area is a contiguous range of virtual addresses with uniform access flags.
type Area struct {
	// Start is the first virtual address covered by the area.
	Start uintptr

	// Size is the length of the area in bytes.
	Size uintptr

	// Flags are applied to every page that gets mapped into the area.
	Flags vmm.PageTableEntryFlag

	Kind Kind
}

// End returns the first address past the end of the area.
func (a Area) End() uintptr {
	return a.Start + a.Size
}

// Contains returns true if addr falls inside the area.
func (a Area) Contains(addr uintptr) bool {
	return addr >= a.Start && addr-a.Start < a.Size
}

// overlaps returns true if the two areas share at least one address.
func (a Area) overlaps(other Area) bool {
	return a.Start < other.End() && other.Start < a.End()
}
