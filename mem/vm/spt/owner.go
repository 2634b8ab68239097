package spt

import (
	"log"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/sim/hooking"
)

// The methods below are called by the frame table while it holds its lock.

// Pinned tells if the page at vAddr may not be evicted.
func (t *Table) Pinned(vAddr uint64) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	e, found := t.find(vAddr)
	if !found {
		return false
	}

	return e.pinned()
}

// BeginPageOut unmaps a page that is about to be evicted. It refuses if the
// page got pinned since the frame table checked. The page must be written to
// swap if it was modified or if swap is the only place its content lives.
func (t *Table) BeginPageOut(vAddr uint64) (writeback bool, ok bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	e, found := t.find(vAddr)
	if !found || !e.resident || e.pinned() {
		return false, false
	}

	dirty := t.dir.IsDirty(vAddr)
	t.dir.Clear(vAddr)

	e.resident = false
	e.evicting = true

	return dirty || e.anonymous, true
}

// FinishPageOut records where an evicted page went.
func (t *Table) FinishPageOut(vAddr uint64, slot vm.SwapSlot) {
	t.lock.Lock()

	e := t.mustFind(vAddr)
	if !e.evicting {
		t.lock.Unlock()
		log.Panicf("%s: page %#x is not being evicted", t.Name(), vAddr)
	}

	pAddr := e.pAddr
	e.evicting = false
	e.pAddr = 0

	if slot.Valid() {
		e.slot = slot
		e.anonymous = true
	}

	t.evicted.Broadcast()
	t.lock.Unlock()

	t.InvokeHook(hooking.HookCtx{
		Domain: t,
		Pos:    HookPosPageOut,
		Item: vm.PageEvent{
			PID:   t.pid,
			VAddr: vAddr,
			PAddr: pAddr,
			Slot:  slot,
		},
	})
}

// AbortPageOut maps an evicted page back into its frame after the write to
// swap failed. The page is marked dirty so that its content is not dropped
// next time.
func (t *Table) AbortPageOut(vAddr, pAddr uint64) {
	t.lock.Lock()
	defer t.lock.Unlock()

	e := t.mustFind(vAddr)
	if !e.evicting {
		log.Panicf("%s: page %#x is not being evicted", t.Name(), vAddr)
	}

	if err := t.dir.Map(vAddr, pAddr, e.writable); err != nil {
		log.Panicf("%s: restoring page %#x: %v", t.Name(), vAddr, err)
	}

	t.dir.SetDirty(vAddr, true)

	e.evicting = false
	e.resident = true
	e.pAddr = pAddr
	t.evicted.Broadcast()
}
