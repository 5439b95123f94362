package pmm

import (
	"lightos/kernel"
	"lightos/kernel/kfmt"
	"lightos/kernel/mm"
	"lightos/multiboot"
)

var (
	// bootAllocator is the frame allocator instance set up by Init.
	bootAllocator BumpAllocator

	// visitMemRegionsFn is overridden by tests.
	visitMemRegionsFn = multiboot.VisitMemRegions
)

// Init populates the frame allocator with the available memory regions
// reported by the boot loader, excluding the frames occupied by the loaded
// kernel image, and registers it as the system frame allocator.
func Init(kernelStart, kernelEnd uintptr) (*BumpAllocator, *kernel.Error) {
	pageSizeMinus1 := mm.PageSize - 1
	kernelStartAddr := kernelStart &^ pageSizeMinus1
	kernelEndAddr := (kernelEnd + pageSizeMinus1) &^ pageSizeMinus1

	bootAllocator = BumpAllocator{}

	var err *kernel.Error
	visitMemRegionsFn(func(entry *multiboot.MemoryMapEntry) bool {
		if entry.Type != multiboot.MemAvailable {
			return true
		}

		region := Region{Base: uintptr(entry.PhysAddress), Length: uintptr(entry.Length)}
		parts, count := excludeRange(region, kernelStartAddr, kernelEndAddr)
		for index := 0; index < count; index++ {
			if err = bootAllocator.AddRegion(parts[index]); err != nil {
				return false
			}
		}
		return true
	})

	if err != nil {
		return nil, err
	}

	printMemoryMap(&bootAllocator, kernelStart, kernelEnd)
	mm.SetFrameAllocator(bootAllocator.AllocFrame)

	return &bootAllocator, nil
}

// excludeRange returns the (up to two) parts of r that lie outside
// [start, end).
func excludeRange(r Region, start, end uintptr) (parts [2]Region, count int) {
	if end <= start || end <= r.Base || start >= r.End() {
		parts[0] = r
		return parts, 1
	}

	if start > r.Base {
		parts[count] = Region{Base: r.Base, Length: start - r.Base}
		count++
	}
	if end < r.End() {
		parts[count] = Region{Base: end, Length: r.End() - end}
		count++
	}
	return parts, count
}

// printMemoryMap prints the memory map reported by the boot loader followed
// by a summary of the memory available to the frame allocator.
func printMemoryMap(alloc *BumpAllocator, kernelStart, kernelEnd uintptr) {
	w := &kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: []byte("[pmm] ")}

	kfmt.Fprintf(w, "system memory map:\n")
	visitMemRegionsFn(func(entry *multiboot.MemoryMapEntry) bool {
		kfmt.Fprintf(w, "  [0x%10x - 0x%10x], size: %10d, type: %s\n",
			entry.PhysAddress, entry.PhysAddress+entry.Length, entry.Length, entry.Type.String())
		return true
	})

	kfmt.Fprintf(w, "kernel image: [0x%x - 0x%x]\n", kernelStart, kernelEnd)
	kfmt.Fprintf(w, "available memory: %dKb in %d frames\n",
		uint64(mm.Size(alloc.FreeFrames()<<mm.PageShift)/mm.Kb), alloc.FreeFrames())
}
