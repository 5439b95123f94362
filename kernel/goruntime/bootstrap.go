// Package goruntime contains code for bootstrapping Go runtime features such
// as the memory allocator. Tasks, queues and VMA tables are allocated on the
// Go heap, so Init must run before the scheduler is created.
//
// The functions tagged with go:redirect-from replace the OS-specific memory
// hooks of the runtime package. The redirection table is populated at build
// time by tools/redirects.
package goruntime

import (
	"lightos/kernel"
	"lightos/kernel/mm"
	"lightos/kernel/mm/vmm"
	"unsafe"
)

var (
	reserveRegionFn = vmm.ReserveRegion
	mapFn           = vmm.Map
	frameAllocFn    = mm.AllocFrame
	memsetFn        = kernel.Memset
	mallocInitFn    = mallocInit
	algInitFn       = algInit
	modulesInitFn   = modulesInit
	typeLinksInitFn = typeLinksInit
	itabsInitFn     = itabsInit

	// A seed for the pseudo-random number generator used by getRandomData
	prngSeed = 0xdeadc0de

	// clock is advanced by every nanotime call.
	clock int64

	errMapFailed = &kernel.Error{Module: "goruntime", Message: "unable to map region reserved by the Go allocator"}
)

// pageAlign rounds size up to a multiple of mm.PageSize.
func pageAlign(size uintptr) uintptr {
	return (size + mm.PageSize - 1) &^ (mm.PageSize - 1)
}

// backRegion maps each page of the page-aligned region at start to a new
// cleared frame.
//
//go:nosplit
func backRegion(start, size uintptr) *kernel.Error {
	mapFlags := vmm.FlagPresent | vmm.FlagNoExecute | vmm.FlagRW
	for page, pageCount := mm.PageFromAddress(start), size>>mm.PageShift; pageCount > 0; page, pageCount = page+1, pageCount-1 {
		frame, err := frameAllocFn()
		if err != nil {
			return err
		}

		if err = mapFn(page, frame, mapFlags); err != nil {
			return err
		}

		memsetFn(page.Address(), 0, mm.PageSize)
	}

	return nil
}

// sysReserveOS reserves address space without allocating any memory or
// establishing any page mappings.
//
//go:redirect-from runtime.sysReserveOS
//go:nosplit
func sysReserveOS(_ unsafe.Pointer, size uintptr) unsafe.Pointer {
	regionStartAddr, err := reserveRegionFn(pageAlign(size))
	if err != nil {
		return nil
	}

	return unsafe.Pointer(regionStartAddr)
}

// sysMapOS backs a region previously returned by sysReserveOS with physical
// memory. The runtime expects the memory to be zeroed.
//
//go:redirect-from runtime.sysMapOS
//go:nosplit
func sysMapOS(virtAddr unsafe.Pointer, size uintptr) {
	// The allocator only calls sysMapOS with an address inside a
	// reserved region.
	regionStartAddr := pageAlign(uintptr(virtAddr))
	if err := backRegion(regionStartAddr, pageAlign(size)); err != nil {
		panic(errMapFailed)
	}
}

// sysAllocOS reserves enough physical frames to satisfy the allocation
// request and establishes a contiguous virtual page mapping for them
// returning back the pointer to the virtual region start.
//
//go:redirect-from runtime.sysAllocOS
//go:nosplit
func sysAllocOS(size uintptr) unsafe.Pointer {
	regionSize := pageAlign(size)
	regionStartAddr, err := reserveRegionFn(regionSize)
	if err != nil {
		return nil
	}

	if err = backRegion(regionStartAddr, regionSize); err != nil {
		return nil
	}

	return unsafe.Pointer(regionStartAddr)
}

// sysUsedOS and sysUnusedOS are hints about memory that the allocator is
// about to use or has released. Frames are never returned so both are
// no-ops.
//
//go:redirect-from runtime.sysUsedOS
//go:nosplit
func sysUsedOS(_ unsafe.Pointer, _ uintptr) {}

//go:redirect-from runtime.sysUnusedOS
//go:nosplit
func sysUnusedOS(_ unsafe.Pointer, _ uintptr) {}

// nanotime1 returns a monotonically increasing clock value. The allocator
// only uses it to order events so a counter is sufficient.
//
//go:redirect-from runtime.nanotime1
//go:nosplit
func nanotime1() int64 {
	clock += 1000
	return clock
}

// getRandomData populates the given slice with random data. The runtime
// package reads a random stream from the OS but since this is not
// available, we use a prng instead.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

// Init enables support for various Go runtime features. After a call to init
// the following runtime features become available for use:
//   - heap memory allocation (new, make e.t.c)
//   - map primitives
//   - interfaces
func Init() *kernel.Error {
	mallocInitFn()
	algInitFn()       // setup hash implementation for map keys
	modulesInitFn()   // provides activeModules
	typeLinksInitFn() // uses maps, activeModules
	itabsInitFn()     // uses activeModules

	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var zeroPtr = unsafe.Pointer(uintptr(0))

	sysReserveOS(zeroPtr, 0)
	sysMapOS(zeroPtr, 0)
	sysAllocOS(0)
	sysUsedOS(zeroPtr, 0)
	sysUnusedOS(zeroPtr, 0)
	getRandomData(nil)
	clock = nanotime1() - 1000
}
