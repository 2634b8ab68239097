// Package frametable tracks the physical frames that back user pages and
// evicts pages with a clock (second-chance) policy when the frame pool runs
// dry.
package frametable

import (
	"fmt"
	"log"
	"sync"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/sim/hooking"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// Hook positions of the frame table. The hook item is a vm.PageEvent. For
// HookPosEvict, the detail is the Frame after it is handed to its new page.
var (
	HookPosAcquire = &hooking.HookPos{Name: "FrameAcquire"}
	HookPosEvict   = &hooking.HookPos{Name: "FrameEvict"}
	HookPosRelease = &hooking.HookPos{Name: "FrameRelease"}
)

// An Owner is the address space a frame is assigned to. The frame table calls
// back into the owner of a victim frame while holding the frame-table lock;
// the owner must not call into the frame table from these methods.
type Owner interface {
	PID() vm.PID

	// Directory returns the page directory that maps the owner's pages.
	Directory() vm.PageDirectory

	// Pinned tells if the page must stay resident.
	Pinned(vAddr uint64) bool

	// BeginPageOut starts evicting a page. It fails if the page got pinned
	// in the meantime. On success the page is unmapped and no longer
	// resident, and writeback tells if its content must go to swap.
	BeginPageOut(vAddr uint64) (writeback bool, ok bool)

	// FinishPageOut records where the page went. The slot is
	// vm.NoSwapSlot if the page was dropped.
	FinishPageOut(vAddr uint64, slot vm.SwapSlot)

	// AbortPageOut makes the page resident again in its old frame.
	AbortPageOut(vAddr, pAddr uint64)
}

// A Swapper stores evicted pages.
type Swapper interface {
	WritePage(src []byte) (vm.SwapSlot, error)
}

// Frame describes a frame that backs a user page.
type Frame struct {
	VAddr uint64
	PAddr uint64
	Owner Owner
}

// Stats counts what the frame table did.
type Stats struct {
	Acquired   uint64 `json:"acquired"`
	Evicted    uint64 `json:"evicted"`
	WrittenOut uint64 `json:"written_out"`
	Released   uint64 `json:"released"`
}

type arenaSlot struct {
	Frame
	inUse bool
}

type frameKey struct {
	owner Owner
	vAddr uint64
}

// Table is the frame table. A single lock serializes allocation, victim
// selection, and the whole eviction, including the write to swap.
type Table struct {
	naming.NamedBase
	hooking.HookableBase

	allocator   vm.FrameAllocator
	swapper     Swapper
	revolutions int

	lock      sync.Mutex
	arena     []arenaSlot
	freeSlots []int
	index     map[frameKey]int
	clock     clock
	stats     Stats
}

// Acquire obtains a frame for the page at vAddr of owner, evicting another
// page if the pool is exhausted.
func (t *Table) Acquire(
	owner Owner,
	flags vm.AllocFlags,
	vAddr uint64,
) (uint64, error) {
	key := frameKey{owner: owner, vAddr: vm.PageRoundDown(vAddr)}

	t.lock.Lock()
	defer t.lock.Unlock()

	if _, found := t.index[key]; found {
		log.Panicf("%s: pid %d, page %#x already has a frame",
			t.Name(), owner.PID(), key.vAddr)
	}

	rawFlags := flags &^ vm.AllocAssert

	pAddr, ok := t.allocator.Allocate(rawFlags)
	if !ok {
		var err error

		pAddr, err = t.evictFor(key, rawFlags)
		if err != nil {
			if flags.Has(vm.AllocAssert) {
				log.Panic(err)
			}

			return 0, err
		}
	} else {
		t.insert(key, pAddr)
	}

	t.stats.Acquired++
	t.InvokeHook(hooking.HookCtx{
		Domain: t,
		Pos:    HookPosAcquire,
		Item:   pageEvent(owner, key.vAddr, pAddr, vm.NoSwapSlot),
	})

	return pAddr, nil
}

func (t *Table) insert(key frameKey, pAddr uint64) {
	f := arenaSlot{
		Frame: Frame{VAddr: key.vAddr, PAddr: pAddr, Owner: key.owner},
		inUse: true,
	}

	var index int
	if n := len(t.freeSlots); n > 0 {
		index = t.freeSlots[n-1]
		t.freeSlots = t.freeSlots[:n-1]
		t.arena[index] = f
	} else {
		index = len(t.arena)
		t.arena = append(t.arena, f)
	}

	t.index[key] = index
	t.clock.add(index)
}

// evictFor evicts a victim and hands its frame to key. The victim keeps its
// place on the clock.
func (t *Table) evictFor(key frameKey, flags vm.AllocFlags) (uint64, error) {
	index, writeback, found := t.findVictim()
	if !found {
		return 0, fmt.Errorf("%s: none of %d frames can be evicted: %w",
			t.Name(), t.clock.len(), vm.ErrOutOfFrames)
	}

	victim := t.arena[index].Frame

	slot := vm.NoSwapSlot
	if writeback {
		var err error

		slot, err = t.swapper.WritePage(t.allocator.Frame(victim.PAddr))
		if err != nil {
			victim.Owner.AbortPageOut(victim.VAddr, victim.PAddr)
			return 0, fmt.Errorf("%s: evicting pid %d, page %#x: %w",
				t.Name(), victim.Owner.PID(), victim.VAddr, err)
		}

		t.stats.WrittenOut++
	}

	victim.Owner.FinishPageOut(victim.VAddr, slot)
	delete(t.index, frameKey{owner: victim.Owner, vAddr: victim.VAddr})
	t.stats.Evicted++

	t.allocator.Free(victim.PAddr)

	pAddr, ok := t.allocator.Allocate(flags)
	if !ok {
		t.dropAt(index)
		return 0, fmt.Errorf("%s: frame %#x was taken after eviction: %w",
			t.Name(), victim.PAddr, vm.ErrOutOfFrames)
	}

	t.arena[index].Frame = Frame{VAddr: key.vAddr, PAddr: pAddr, Owner: key.owner}
	t.index[key] = index

	t.InvokeHook(hooking.HookCtx{
		Domain: t,
		Pos:    HookPosEvict,
		Item:   pageEvent(victim.Owner, victim.VAddr, victim.PAddr, slot),
		Detail: t.arena[index].Frame,
	})

	return pAddr, nil
}

// findVictim runs the clock for at most revolutions turns. Accessed frames
// lose their accessed bit and are skipped, pinned frames are skipped, and the
// first other frame whose owner agrees to page it out is the victim.
func (t *Table) findVictim() (index int, writeback bool, found bool) {
	maxSteps := t.revolutions * t.clock.len()

	index, found = t.clock.sweep(maxSteps, func(i int) bool {
		f := &t.arena[i]

		dir := f.Owner.Directory()
		if dir.IsAccessed(f.VAddr) {
			dir.SetAccessed(f.VAddr, false)
			return false
		}

		if f.Owner.Pinned(f.VAddr) {
			return false
		}

		var ok bool
		writeback, ok = f.Owner.BeginPageOut(f.VAddr)

		return ok
	})

	return index, writeback, found
}

// Release frees the frame that backs the page at vAddr of owner and clears
// the owner's mapping if it still points at the frame. It returns false if
// the page has no frame.
func (t *Table) Release(owner Owner, vAddr uint64) bool {
	key := frameKey{owner: owner, vAddr: vm.PageRoundDown(vAddr)}

	t.lock.Lock()
	defer t.lock.Unlock()

	index, found := t.index[key]
	if !found {
		return false
	}

	t.releaseAt(index)

	return true
}

// ReleaseOwner frees every frame of owner and returns how many there were.
func (t *Table) ReleaseOwner(owner Owner) int {
	t.lock.Lock()
	defer t.lock.Unlock()

	var indices []int
	for _, index := range t.clock.ring {
		if t.arena[index].Owner == owner {
			indices = append(indices, index)
		}
	}

	for _, index := range indices {
		t.releaseAt(index)
	}

	return len(indices)
}

func (t *Table) releaseAt(index int) {
	e := t.arena[index].Frame

	dir := e.Owner.Directory()
	if pte, mapped := dir.Lookup(e.VAddr); mapped && pte.PAddr == e.PAddr {
		dir.Clear(e.VAddr)
	}

	t.allocator.Free(e.PAddr)
	delete(t.index, frameKey{owner: e.Owner, vAddr: e.VAddr})
	t.dropAt(index)
	t.stats.Released++

	t.InvokeHook(hooking.HookCtx{
		Domain: t,
		Pos:    HookPosRelease,
		Item:   pageEvent(e.Owner, e.VAddr, e.PAddr, vm.NoSwapSlot),
	})
}

func (t *Table) dropAt(index int) {
	t.clock.remove(index)
	t.arena[index] = arenaSlot{}
	t.freeSlots = append(t.freeSlots, index)
}

func pageEvent(o Owner, vAddr, pAddr uint64, slot vm.SwapSlot) vm.PageEvent {
	return vm.PageEvent{PID: o.PID(), VAddr: vAddr, PAddr: pAddr, Slot: slot}
}

// Frames lists the frames in clock order.
func (t *Table) Frames() []Frame {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.frames()
}

// Inspect calls fn with the frames in clock order while the table is locked,
// so that no eviction is half done while fn looks at the owners. fn may lock
// owners but must not call into the table.
func (t *Table) Inspect(fn func(frames []Frame)) {
	t.lock.Lock()
	defer t.lock.Unlock()

	fn(t.frames())
}

func (t *Table) frames() []Frame {
	frames := make([]Frame, 0, t.clock.len())
	for _, index := range t.clock.ring {
		frames = append(frames, t.arena[index].Frame)
	}

	return frames
}

// Lookup returns the frame that backs a page.
func (t *Table) Lookup(owner Owner, vAddr uint64) (Frame, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	index, found := t.index[frameKey{owner: owner, vAddr: vm.PageRoundDown(vAddr)}]
	if !found {
		return Frame{}, false
	}

	return t.arena[index].Frame, true
}

// Len returns the number of frames in use.
func (t *Table) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.clock.len()
}

// Hand returns the clock position the next sweep starts at.
func (t *Table) Hand() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.clock.hand
}

// Stats returns the counters of the table.
func (t *Table) Stats() Stats {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.stats
}
