// Package spt implements the supplemental page table of a process: how each
// virtual page is backed, whether it is resident, and how to bring it back.
package spt

import (
	"container/list"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/mem/vm/frametable"
	"github.com/sarchlab/vmpaging/sim/hooking"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// Errors of the supplemental page table.
var (
	ErrBadDescriptor  = errors.New("malformed page descriptor")
	ErrLoadInProgress = errors.New("page is already being loaded")
	ErrDestroyed      = errors.New("page table is destroyed")
	ErrDiscarded      = errors.New("page was discarded")
)

// Hook positions of the table. The item is a vm.PageEvent. For HookPosLoad,
// the detail is the Backing the page was filled from.
var (
	HookPosLoad        = &hooking.HookPos{Name: "PageLoad"}
	HookPosStackGrowth = &hooking.HookPos{Name: "StackGrowth"}
	HookPosPageOut     = &hooking.HookPos{Name: "PageOut"}
)

// FrameTable hands out frames to the table's pages.
type FrameTable interface {
	Acquire(owner frametable.Owner, flags vm.AllocFlags, vAddr uint64) (uint64, error)
	Release(owner frametable.Owner, vAddr uint64) bool
	ReleaseOwner(owner frametable.Owner) int
}

// SwapSpace restores pages that were written to swap.
type SwapSpace interface {
	ReadPage(slot vm.SwapSlot, dst []byte) error
	FreeSlot(slot vm.SwapSlot)
}

// Memory gives access to the bytes of a frame.
type Memory interface {
	Frame(pAddr uint64) []byte
}

// Table is the supplemental page table of one process. It implements
// frametable.Owner.
type Table struct {
	naming.NamedBase
	hooking.HookableBase

	pid        vm.PID
	dir        vm.PageDirectory
	memory     Memory
	frames     FrameTable
	swap       SwapSpace
	stackBase  uint64
	stackMax   uint64
	pushWindow uint64

	lock         sync.Mutex
	evicted      *sync.Cond
	entries      *list.List
	entriesTable map[uint64]*list.Element
	hasAnchor    bool
	dying        bool
}

// PID returns the process the table belongs to.
func (t *Table) PID() vm.PID {
	return t.pid
}

// Directory returns the page directory of the process.
func (t *Table) Directory() vm.PageDirectory {
	return t.dir
}

// CreateEntry registers a page that is loaded on first access. The first
// readBytes bytes come from file at offset and the remaining zeroBytes are
// zero. A page with readBytes == 0 is zero-filled without touching the file.
// The first stack page of a table is never evicted.
func (t *Table) CreateEntry(
	file vm.File,
	offset int64,
	vAddr uint64,
	readBytes, zeroBytes uint64,
	writable, isStack bool,
) error {
	_, err := t.createEntry(file, offset, vAddr, readBytes, zeroBytes,
		writable, isStack)

	return err
}

func (t *Table) createEntry(
	file vm.File,
	offset int64,
	vAddr uint64,
	readBytes, zeroBytes uint64,
	writable, isStack bool,
) (*Page, error) {
	if err := t.descriptorMustBeValid(
		file, offset, vAddr, readBytes, zeroBytes,
	); err != nil {
		return nil, err
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.dying {
		return nil, fmt.Errorf("%s: %w", t.Name(), ErrDestroyed)
	}

	if _, found := t.entriesTable[vAddr]; found {
		return nil, fmt.Errorf("%s: page %#x: %w",
			t.Name(), vAddr, vm.ErrDuplicatePage)
	}

	e := &Page{
		table:     t,
		vAddr:     vAddr,
		file:      file,
		offset:    offset,
		readBytes: readBytes,
		zeroBytes: zeroBytes,
		writable:  writable,
		isStack:   isStack,
		slot:      vm.NoSwapSlot,
	}

	if isStack && !t.hasAnchor {
		e.anchored = true
		t.hasAnchor = true
	}

	t.entriesTable[vAddr] = t.entries.PushBack(e)

	return e, nil
}

func (t *Table) descriptorMustBeValid(
	file vm.File,
	offset int64,
	vAddr uint64,
	readBytes, zeroBytes uint64,
) error {
	switch {
	case !vm.IsPageAligned(vAddr):
		return fmt.Errorf("%s: address %#x is not page aligned: %w",
			t.Name(), vAddr, ErrBadDescriptor)
	case readBytes > vm.PageSize || zeroBytes > vm.PageSize,
		readBytes+zeroBytes != vm.PageSize:
		return fmt.Errorf("%s: page %#x: %d+%d bytes do not fill a page: %w",
			t.Name(), vAddr, readBytes, zeroBytes, ErrBadDescriptor)
	case readBytes > 0 && file == nil:
		return fmt.Errorf("%s: page %#x reads %d bytes without a file: %w",
			t.Name(), vAddr, readBytes, ErrBadDescriptor)
	case offset < 0:
		return fmt.Errorf("%s: page %#x: negative offset %d: %w",
			t.Name(), vAddr, offset, ErrBadDescriptor)
	}

	return nil
}

// Find returns the entry of the page that contains vAddr.
func (t *Table) Find(vAddr uint64) (*Page, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.find(vAddr)
}

func (t *Table) find(vAddr uint64) (*Page, bool) {
	elem, found := t.entriesTable[vm.PageRoundDown(vAddr)]
	if !found {
		return nil, false
	}

	return elem.Value.(*Page), true
}

func (t *Table) mustFind(vAddr uint64) *Page {
	e, found := t.find(vAddr)
	if !found {
		log.Panicf("%s: page %#x does not exist", t.Name(), vAddr)
	}

	return e
}

// Discard forgets a page that has never been brought in. It returns false if
// the page does not exist or its content may already live in a frame or in
// swap.
func (t *Table) Discard(vAddr uint64) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	e, found := t.find(vAddr)
	if !found || e.resident || e.pinned() || e.evicting ||
		e.anonymous || e.slot.Valid() {
		return false
	}

	t.remove(e)

	return true
}

// remove drops a non-resident entry. The caller holds the lock.
func (t *Table) remove(e *Page) {
	if e.anchored {
		t.hasAnchor = false
	}

	e.discarded = true

	elem := t.entriesTable[e.vAddr]
	t.entries.Remove(elem)
	delete(t.entriesTable, e.vAddr)
}

// Pages returns snapshots of all pages in creation order.
func (t *Table) Pages() []PageInfo {
	t.lock.Lock()
	defer t.lock.Unlock()

	infos := make([]PageInfo, 0, t.entries.Len())
	for elem := t.entries.Front(); elem != nil; elem = elem.Next() {
		infos = append(infos, elem.Value.(*Page).info())
	}

	return infos
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.entries.Len()
}

// PinIfResident pins the page that contains vAddr if it is resident, so that
// it stays resident until Unpin.
func (t *Table) PinIfResident(vAddr uint64) (*Page, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	e, found := t.find(vAddr)
	if !found || !e.resident {
		return nil, false
	}

	e.pins++

	return e, true
}

// Pin keeps a page from being evicted until Unpin.
func (t *Table) Pin(e *Page) {
	t.lock.Lock()
	defer t.lock.Unlock()

	e.pins++
}

// Unpin releases a pin taken with Pin or PinIfResident.
func (t *Table) Unpin(e *Page) {
	t.lock.Lock()
	defer t.lock.Unlock()

	e.unpin()
}

// Destroy releases every frame and swap slot of the table and discards all
// entries. The table cannot be used afterwards.
func (t *Table) Destroy() {
	t.lock.Lock()
	t.dying = true
	t.lock.Unlock()

	t.frames.ReleaseOwner(t)

	t.lock.Lock()

	var slots []vm.SwapSlot

	for elem := t.entries.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*Page)
		if e.slot.Valid() {
			slots = append(slots, e.slot)
			e.slot = vm.NoSwapSlot
		}

		e.resident = false
		e.pAddr = 0
	}

	t.entries.Init()
	clear(t.entriesTable)
	t.hasAnchor = false
	t.lock.Unlock()

	for _, slot := range slots {
		t.swap.FreeSlot(slot)
	}
}
