// Package pmm implements the physical frame allocator.
package pmm

import (
	"lightos/kernel"
	"lightos/kernel/mm"
	"lightos/kernel/sync"
)

// MaxRegions is the maximum number of available memory regions that a
// BumpAllocator can track.
const MaxRegions = 32

var (
	// ErrNoFreeFrames is returned by AllocFrame once every frame in every
	// region has been handed out.
	ErrNoFreeFrames = &kernel.Error{Module: "pmm", Message: "no free frames"}

	errTooManyRegions = &kernel.Error{Module: "pmm", Message: "too many memory regions"}
	errRegionOverlap  = &kernel.Error{Module: "pmm", Message: "memory region overlaps an existing region"}
)

// Region describes a block of physical memory that is available for
// allocation.
type Region struct {
	Base   uintptr
	Length uintptr
}

// End returns the first address past the end of the region.
func (r Region) End() uintptr {
	return r.Base + r.Length
}

// frameAligned shrinks the region so that it starts and ends on a frame
// boundary.
func (r Region) frameAligned() Region {
	pageSizeMinus1 := mm.PageSize - 1
	start := (r.Base + pageSizeMinus1) &^ pageSizeMinus1
	end := r.End() &^ pageSizeMinus1
	if end <= start {
		return Region{Base: start}
	}
	return Region{Base: start, Length: end - start}
}

// BumpAllocator hands out physical frames from a fixed set of regions by
// advancing a cursor. Frames are returned in increasing address order and
// are never reclaimed, so once the cursor moves past the last region every
// subsequent allocation fails with ErrNoFreeFrames.
type BumpAllocator struct {
	mutex sync.IRQSafeSpinlock

	// regions are kept sorted by base address.
	regions     [MaxRegions]Region
	regionCount int

	// nextAddr is the lowest physical address that may be handed out by
	// the next allocation.
	nextAddr   uintptr
	allocCount uint64
}

// NewBumpAllocator returns an allocator that serves frames from the
// supplied regions.
func NewBumpAllocator(regions ...Region) (*BumpAllocator, *kernel.Error) {
	alloc := new(BumpAllocator)
	for _, r := range regions {
		if err := alloc.AddRegion(r); err != nil {
			return nil, err
		}
	}

	return alloc, nil
}

// AddRegion registers an available memory region with the allocator. The
// region is shrunk to whole frames; regions smaller than a single frame are
// silently ignored. Regions must not overlap any previously added region.
func (alloc *BumpAllocator) AddRegion(r Region) *kernel.Error {
	if r = r.frameAligned(); r.Length == 0 {
		return nil
	}

	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	if alloc.regionCount == MaxRegions {
		return errTooManyRegions
	}

	// find insertion point
	index := 0
	for ; index < alloc.regionCount && alloc.regions[index].Base < r.Base; index++ {
	}

	if (index > 0 && alloc.regions[index-1].End() > r.Base) ||
		(index < alloc.regionCount && r.End() > alloc.regions[index].Base) {
		return errRegionOverlap
	}

	copy(alloc.regions[index+1:alloc.regionCount+1], alloc.regions[index:alloc.regionCount])
	alloc.regions[index] = r
	alloc.regionCount++

	return nil
}

// AllocFrame reserves the next available frame. It returns ErrNoFreeFrames
// if all regions have been exhausted.
func (alloc *BumpAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	for index := 0; index < alloc.regionCount; index++ {
		region := alloc.regions[index]
		if alloc.nextAddr >= region.End() {
			continue
		}

		addr := region.Base
		if alloc.nextAddr > addr {
			addr = alloc.nextAddr
		}

		if region.End()-addr < mm.PageSize {
			continue
		}

		alloc.nextAddr = addr + mm.PageSize
		alloc.allocCount++
		return mm.FrameFromAddress(addr), nil
	}

	// Park the cursor past the last region so exhaustion is sticky.
	if alloc.regionCount != 0 {
		alloc.nextAddr = alloc.regions[alloc.regionCount-1].End()
	}

	return mm.InvalidFrame, ErrNoFreeFrames
}

// AllocatedFrames returns the number of frames handed out so far.
func (alloc *BumpAllocator) AllocatedFrames() uint64 {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	return alloc.allocCount
}

// FreeFrames returns the number of frames that can still be allocated.
func (alloc *BumpAllocator) FreeFrames() uint64 {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	var free uint64
	for index := 0; index < alloc.regionCount; index++ {
		region := alloc.regions[index]
		if alloc.nextAddr >= region.End() {
			continue
		}

		start := region.Base
		if alloc.nextAddr > start {
			start = alloc.nextAddr
		}
		free += uint64((region.End() - start) >> mm.PageShift)
	}

	return free
}

// Regions invokes visitor for each region tracked by the allocator in
// ascending address order.
func (alloc *BumpAllocator) Regions(visitor func(Region)) {
	alloc.mutex.Acquire()
	regions, count := alloc.regions, alloc.regionCount
	alloc.mutex.Release()

	for index := 0; index < count; index++ {
		visitor(regions[index])
	}
}
