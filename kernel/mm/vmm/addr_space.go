package vmm

import (
	"lightos/kernel"
	"lightos/kernel/mm"
	"lightos/kernel/sync"
)

var (
	// reserveLastUsed tracks the last reserved page address and is
	// decreased after each allocation request. Initially, it points to
	// tempMappingAddr which coincides with the end of the kernel address
	// space.
	reserveLastUsed = tempMappingAddr
	reserveLock     sync.IRQSafeSpinlock

	// kernelSpaceStart is the lowest address that ReserveRegion may hand
	// out; everything below it belongs to the per-task half of the
	// address space.
	kernelSpaceStart = uintptr(0xffff800000000000)

	// The following functions are overridden by tests.
	reserveRegionFn = ReserveRegion
	memsetFn        = kernel.Memset

	errReserveNoSpace = &kernel.Error{Module: "vmm", Message: "remaining virtual address space not large enough to satisfy reservation request"}
)

// ReserveRegion reserves a page-aligned contiguous virtual memory region
// with the requested size in the kernel address space and returns its virtual
// address. If size is not a multiple of mm.PageSize it will be automatically
// rounded up. Regions are carved downwards from the end of the kernel
// address space and are never released.
func ReserveRegion(size uintptr) (uintptr, *kernel.Error) {
	size = (size + (mm.PageSize - 1)) & ^(mm.PageSize - 1)

	reserveLock.Acquire()
	defer reserveLock.Release()

	if size > reserveLastUsed-kernelSpaceStart {
		return 0, errReserveNoSpace
	}

	reserveLastUsed -= size
	return reserveLastUsed, nil
}

// AllocRegion reserves a region of the kernel address space, backs it with
// freshly allocated and cleared physical frames and returns its start
// address. The page right below the returned address is reserved as well but
// left unmapped so that running off the start of the region faults.
func AllocRegion(size uintptr, flags PageTableEntryFlag) (uintptr, *kernel.Error) {
	pageCount := mm.Size(size).Pages()
	if pageCount == 0 {
		pageCount = 1
	}

	guardAddr, err := reserveRegionFn((pageCount + 1) << mm.PageShift)
	if err != nil {
		return 0, err
	}

	start := guardAddr + mm.PageSize
	for page := mm.PageFromAddress(start); pageCount > 0; page, pageCount = page+1, pageCount-1 {
		frame, err := mm.AllocFrame()
		if err != nil {
			return 0, err
		}

		if err = mapFn(page, frame, flags|FlagPresent); err != nil {
			return 0, err
		}

		memsetFn(page.Address(), 0, mm.PageSize)
	}

	return start, nil
}
