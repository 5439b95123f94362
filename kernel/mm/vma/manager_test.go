package vma

import (
	"fmt"
	"lightos/kernel"
	"lightos/kernel/mm"
	"lightos/kernel/mm/vmm"
	"testing"
)

func TestKindString(t *testing.T) {
	specs := []struct {
		kind Kind
		exp  string
	}{
		{KindCode, "code"},
		{KindData, "data"},
		{KindStack, "stack"},
		{KindHeap, "heap"},
		{KindMappedFile, "mapped-file"},
		{Kind(42), "unknown"},
	}

	for specIndex, spec := range specs {
		if got := spec.kind.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestAddArea(t *testing.T) {
	specs := []struct {
		area   Area
		expErr *kernel.Error
	}{
		{Area{Start: 0x2000, Size: 0x1000, Kind: KindData}, nil},
		{Area{Start: 0x8000, Size: 0x2000, Kind: KindHeap}, nil},
		{Area{Start: 0x400000, Size: 0x10000, Kind: KindCode}, nil},
		// adjacent areas do not overlap
		{Area{Start: 0x3000, Size: 0x1000, Kind: KindStack}, nil},
		{Area{Start: 0x1000, Size: 0x1000, Kind: KindMappedFile}, nil},
		// same start address
		{Area{Start: 0x2000, Size: 0x10, Kind: KindData}, ErrAreaAlreadyExists},
		// overlaps the tail of [0x3000, 0x4000)
		{Area{Start: 0x3800, Size: 0x1000, Kind: KindData}, ErrAreaOverlap},
		// overlaps the head of [0x8000, 0xa000)
		{Area{Start: 0x7000, Size: 0x1001, Kind: KindData}, ErrAreaOverlap},
		// swallows [0x8000, 0xa000)
		{Area{Start: 0x5000, Size: 0x10000, Kind: KindData}, ErrAreaOverlap},
		// fits in the gap
		{Area{Start: 0x4000, Size: 0x4000, Kind: KindData}, nil},
		{Area{Start: 0x9000, Size: 0, Kind: KindData}, ErrInvalidArea},
		{Area{Start: ^uintptr(0) - 0xfff, Size: 0x2000, Kind: KindData}, ErrInvalidArea},
	}

	var m Manager
	for specIndex, spec := range specs {
		if err := m.AddArea(spec.area); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}

	if exp := 6; m.Len() != exp {
		t.Fatalf("expected manager to hold %d areas; got %d", exp, m.Len())
	}

	var prev Area
	m.Visit(func(a Area) {
		if prev.Size != 0 && prev.End() > a.Start {
			t.Errorf("expected areas to be sorted and disjoint; [0x%x, 0x%x) precedes [0x%x, 0x%x)", prev.Start, prev.End(), a.Start, a.End())
		}
		prev = a
	})
}

func TestFindArea(t *testing.T) {
	var m Manager

	if m.FindArea(0x2000) != nil {
		t.Fatal("expected lookup in an empty manager to fail")
	}

	areas := []Area{
		{Start: 0x2000, Size: 0x1000, Kind: KindData},
		{Start: 0x5000, Size: 0x3000, Kind: KindHeap},
		{Start: 0x400000, Size: 0x1, Kind: KindCode},
	}
	for _, a := range areas {
		if err := m.AddArea(a); err != nil {
			t.Fatal(err)
		}
	}

	specs := []struct {
		addr    uintptr
		expArea int
	}{
		{0x0, -1},
		{0x1fff, -1},
		{0x2000, 0},
		{0x2500, 0},
		{0x2fff, 0},
		{0x3000, -1},
		{0x4fff, -1},
		{0x5000, 1},
		{0x7fff, 1},
		{0x8000, -1},
		{0x9000, -1},
		{0x400000, 2},
		{0x400001, -1},
		{^uintptr(0), -1},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			got := m.FindArea(spec.addr)
			switch {
			case spec.expArea < 0 && got != nil:
				t.Fatalf("expected no area for 0x%x; got [0x%x, 0x%x)", spec.addr, got.Start, got.End())
			case spec.expArea >= 0 && got == nil:
				t.Fatalf("expected area %d for 0x%x; got none", spec.expArea, spec.addr)
			case spec.expArea >= 0 && *got != areas[spec.expArea]:
				t.Fatalf("expected area %+v for 0x%x; got %+v", areas[spec.expArea], spec.addr, *got)
			}
		})
	}
}

func TestFindAreaContainment(t *testing.T) {
	var m Manager
	areas := []Area{
		{Start: 0x1000, Size: 0x1800},
		{Start: 0x3000, Size: 0x1000},
		{Start: 0x6000, Size: 0x800},
	}
	for _, a := range areas {
		if err := m.AddArea(a); err != nil {
			t.Fatal(err)
		}
	}

	for addr := uintptr(0); addr < 0x8000; addr += 0x80 {
		var exp *Area
		for index := range areas {
			if areas[index].Start <= addr && addr < areas[index].Start+areas[index].Size {
				exp = &areas[index]
			}
		}

		got := m.FindArea(addr)
		if (exp == nil) != (got == nil) || (exp != nil && *exp != *got) {
			t.Fatalf("containment mismatch for address 0x%x", addr)
		}
	}
}

// tempPageAddr mirrors the address used by vmm.MapTemporary.
const tempPageAddr = uintptr(0xffffff7ffffff000)

type mockPaging struct {
	mapped   map[mm.Page]mm.Frame
	flags    map[mm.Page]vmm.PageTableEntryFlag
	cleared  []uintptr
	events   []string
	mapErr   *kernel.Error
	tempErr  *kernel.Error
	frames   []mm.Frame
	allocErr *kernel.Error
}

// writable reports whether addr is backed by a present, writable mapping.
func (mp *mockPaging) writable(addr uintptr) bool {
	page := mm.PageFromAddress(addr)
	if _, ok := mp.mapped[page]; !ok {
		return false
	}
	return mp.flags[page]&(vmm.FlagPresent|vmm.FlagRW) == vmm.FlagPresent|vmm.FlagRW
}

func installMockPaging() *mockPaging {
	mp := &mockPaging{
		mapped: make(map[mm.Page]mm.Frame),
		flags:  make(map[mm.Page]vmm.PageTableEntryFlag),
	}

	mapFn = func(page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
		if mp.mapErr != nil {
			return mp.mapErr
		}
		mp.mapped[page] = frame
		mp.flags[page] = flags
		mp.events = append(mp.events, "map")
		return nil
	}
	mapTemporaryFn = func(frame mm.Frame) (mm.Page, *kernel.Error) {
		if mp.tempErr != nil {
			return 0, mp.tempErr
		}
		page := mm.PageFromAddress(tempPageAddr)
		mp.mapped[page] = frame
		mp.flags[page] = vmm.FlagPresent | vmm.FlagRW
		mp.events = append(mp.events, "map-temp")
		return page, nil
	}
	unmapFn = func(page mm.Page) *kernel.Error {
		delete(mp.mapped, page)
		delete(mp.flags, page)
		mp.events = append(mp.events, "unmap")
		return nil
	}
	translateFn = func(virtAddr uintptr) (uintptr, *kernel.Error) {
		frame, ok := mp.mapped[mm.PageFromAddress(virtAddr)]
		if !ok {
			return 0, vmm.ErrInvalidMapping
		}
		return frame.Address() + vmm.PageOffset(virtAddr), nil
	}
	memsetFn = func(addr uintptr, value byte, size uintptr) {
		if !mp.writable(addr) || !mp.writable(addr+size-1) {
			panic("memset through a page without a writable mapping")
		}
		mp.cleared = append(mp.cleared, addr)
		mp.events = append(mp.events, "memset")
	}
	nextFrame := mm.Frame(0x100)
	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) {
		if mp.allocErr != nil {
			return mm.InvalidFrame, mp.allocErr
		}
		mp.frames = append(mp.frames, nextFrame)
		nextFrame++
		return nextFrame - 1, nil
	})

	return mp
}

func restorePaging() {
	mapFn = vmm.Map
	mapTemporaryFn = vmm.MapTemporary
	unmapFn = vmm.Unmap
	translateFn = vmm.Translate
	memsetFn = kernel.Memset
	mm.SetFrameAllocator(nil)
}

func TestMapPageDemandPaging(t *testing.T) {
	mp := installMockPaging()
	defer restorePaging()

	var m Manager
	if err := m.AddArea(Area{Start: 0x2000, Size: 0x1000, Flags: vmm.FlagRW | vmm.FlagUserAccessible, Kind: KindData}); err != nil {
		t.Fatal(err)
	}

	if len(mp.mapped) != 0 || len(mp.frames) != 0 {
		t.Fatal("expected AddArea not to populate any pages")
	}

	if err := m.MapPage(0x2500); err != nil {
		t.Fatalf("expected fault at 0x2500 to be resolved; got %v", err)
	}

	if len(mp.frames) != 1 {
		t.Fatalf("expected exactly one frame to be allocated; got %d", len(mp.frames))
	}

	if len(mp.mapped) != 1 {
		t.Fatalf("expected exactly one mapping to be installed; got %d", len(mp.mapped))
	}

	page := mm.PageFromAddress(0x2000)
	if frame, ok := mp.mapped[page]; !ok || frame != mp.frames[0] {
		t.Fatalf("expected page 0x2000 to be mapped to frame %d", mp.frames[0])
	}

	if exp := vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible; mp.flags[page] != exp {
		t.Fatalf("expected mapping flags 0x%x; got 0x%x", exp, mp.flags[page])
	}

	if len(mp.cleared) != 1 || mp.cleared[0] != tempPageAddr {
		t.Fatalf("expected the new frame to be zeroed through the temporary mapping; got %v", mp.cleared)
	}

	if _, ok := mp.mapped[mm.PageFromAddress(tempPageAddr)]; ok {
		t.Fatal("expected the temporary mapping to be released")
	}

	if m.ResidentPages() != 1 {
		t.Fatalf("expected 1 resident page; got %d", m.ResidentPages())
	}

	t.Run("repeated fault", func(t *testing.T) {
		if err := m.MapPage(0x2500); err != nil {
			t.Fatalf("expected repeated fault to succeed; got %v", err)
		}

		if err := m.MapPage(0x2ff8); err != nil {
			t.Fatalf("expected fault on the same page to succeed; got %v", err)
		}

		if len(mp.frames) != 1 || m.ResidentPages() != 1 {
			t.Fatalf("expected no additional frames; got %d", len(mp.frames))
		}

		if m.FindArea(0x2500) == nil {
			t.Fatal("expected the area to be unaffected by repeated faults")
		}
	})

	t.Run("no area", func(t *testing.T) {
		if err := m.MapPage(0x9000); err != ErrNoAreaFound {
			t.Fatalf("expected ErrNoAreaFound; got %v", err)
		}

		if len(mp.frames) != 1 {
			t.Fatal("expected no frame to be allocated for an illegal access")
		}
	})
}

func TestMapPageReadOnlyArea(t *testing.T) {
	specs := []struct {
		kind  Kind
		flags vmm.PageTableEntryFlag
	}{
		{KindCode, vmm.FlagUserAccessible},
		{KindCode, 0},
		{KindMappedFile, vmm.FlagNoExecute},
	}

	for specIndex, spec := range specs {
		mp := installMockPaging()

		var m Manager
		if err := m.AddArea(Area{Start: 0x400000, Size: 0x2000, Flags: spec.flags, Kind: spec.kind}); err != nil {
			t.Fatalf("[spec %d] %v", specIndex, err)
		}

		if err := m.MapPage(0x401234); err != nil {
			t.Errorf("[spec %d] expected fault to be resolved; got %v", specIndex, err)
			restorePaging()
			continue
		}

		exp := []string{"map-temp", "memset", "unmap", "map"}
		if len(mp.events) != len(exp) {
			t.Errorf("[spec %d] expected events %v; got %v", specIndex, exp, mp.events)
		} else {
			for i := range exp {
				if mp.events[i] != exp[i] {
					t.Errorf("[spec %d] expected events %v; got %v", specIndex, exp, mp.events)
					break
				}
			}
		}

		page := mm.PageFromAddress(0x401000)
		if mp.mapped[page] != mp.frames[0] {
			t.Errorf("[spec %d] expected page to be backed by frame %d", specIndex, mp.frames[0])
		}

		if exp := spec.flags | vmm.FlagPresent; mp.flags[page] != exp {
			t.Errorf("[spec %d] expected final flags 0x%x; got 0x%x", specIndex, exp, mp.flags[page])
		}

		if mp.flags[page]&vmm.FlagRW != 0 {
			t.Errorf("[spec %d] expected the final mapping to stay read-only", specIndex)
		}

		restorePaging()
	}
}

func TestMapPageErrors(t *testing.T) {
	mp := installMockPaging()
	defer restorePaging()

	var m Manager
	if err := m.AddArea(Area{Start: 0x10000, Size: 0x4000, Flags: vmm.FlagRW, Kind: KindHeap}); err != nil {
		t.Fatal(err)
	}

	t.Run("out of memory", func(t *testing.T) {
		mp.allocErr = &kernel.Error{Module: "pmm", Message: "no free frames"}
		defer func() { mp.allocErr = nil }()

		if err := m.MapPage(0x10000); err != ErrOutOfMemory {
			t.Fatalf("expected ErrOutOfMemory; got %v", err)
		}

		if len(mp.mapped) != 0 {
			t.Fatal("expected no mapping to be installed")
		}
	})

	t.Run("map fails", func(t *testing.T) {
		mp.mapErr = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
		defer func() { mp.mapErr = nil }()

		if err := m.MapPage(0x11000); err != mp.mapErr {
			t.Fatalf("expected mapping error to be surfaced; got %v", err)
		}

		if _, ok := mp.mapped[mm.PageFromAddress(0x11000)]; ok || m.ResidentPages() != 0 {
			t.Fatal("expected a failed mapping not to populate the page")
		}
	})

	t.Run("temporary mapping fails", func(t *testing.T) {
		mp.tempErr = &kernel.Error{Module: "vmm", Message: "temporary mapping unavailable"}
		defer func() { mp.tempErr = nil }()

		if err := m.MapPage(0x12000); err != mp.tempErr {
			t.Fatalf("expected temporary mapping error to be surfaced; got %v", err)
		}

		if _, ok := mp.mapped[mm.PageFromAddress(0x12000)]; ok || m.ResidentPages() != 0 {
			t.Fatal("expected the page to stay unmapped")
		}
	})

	t.Run("each page is populated separately", func(t *testing.T) {
		for addr := uintptr(0x10000); addr < 0x14000; addr += mm.PageSize {
			if err := m.MapPage(addr + 0x10); err != nil {
				t.Fatal(err)
			}
		}

		if exp := 4; len(mp.mapped) != exp {
			t.Fatalf("expected %d mappings; got %d", exp, len(mp.mapped))
		}
	})
}
