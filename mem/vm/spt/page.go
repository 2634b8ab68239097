package spt

import (
	"log"

	"github.com/sarchlab/vmpaging/mem/vm"
)

// Backing names where the content of a page comes from when it is not
// resident.
type Backing string

// Backing sources.
const (
	BackingFile   Backing = "file"
	BackingZero   Backing = "zero"
	BackingSwap   Backing = "swap"
	BackingMemory Backing = "memory"
)

// Page describes one virtual page of a process. Pages are handles; their
// state is guarded by the lock of the table that owns them.
type Page struct {
	table *Table

	vAddr     uint64
	file      vm.File
	offset    int64
	readBytes uint64
	zeroBytes uint64
	writable  bool
	isStack   bool

	pAddr    uint64
	resident bool
	slot     vm.SwapSlot

	pins     int
	anchored bool

	// anonymous is set once the content of the page has gone through swap.
	// From then on only swap can restore it.
	anonymous bool
	loading   bool
	evicting  bool
	discarded bool
}

// PageInfo is a snapshot of an Page.
type PageInfo struct {
	VAddr     uint64      `json:"v_addr"`
	PAddr     uint64      `json:"p_addr"`
	Backing   Backing     `json:"backing"`
	Slot      vm.SwapSlot `json:"slot"`
	Writable  bool        `json:"writable"`
	Resident  bool        `json:"resident"`
	IsStack   bool        `json:"is_stack"`
	Pinned    bool        `json:"pinned"`
	Anonymous bool        `json:"anonymous"`
}

// VAddr returns the address of the page.
func (e *Page) VAddr() uint64 {
	return e.vAddr
}

// Writable tells if user code may write the page.
func (e *Page) Writable() bool {
	return e.writable
}

// IsStack tells if the page belongs to the stack.
func (e *Page) IsStack() bool {
	return e.isStack
}

// Resident tells if a frame currently backs the page.
func (e *Page) Resident() bool {
	e.table.lock.Lock()
	defer e.table.lock.Unlock()

	return e.resident
}

// PAddr returns the frame of a resident page.
func (e *Page) PAddr() (uint64, bool) {
	e.table.lock.Lock()
	defer e.table.lock.Unlock()

	return e.pAddr, e.resident
}

// Slot returns the swap slot that holds the page, or vm.NoSwapSlot.
func (e *Page) Slot() vm.SwapSlot {
	e.table.lock.Lock()
	defer e.table.lock.Unlock()

	return e.slot
}

// Pinned tells if the page may not be evicted.
func (e *Page) Pinned() bool {
	e.table.lock.Lock()
	defer e.table.lock.Unlock()

	return e.pinned()
}

// Info takes a snapshot of the page.
func (e *Page) Info() PageInfo {
	e.table.lock.Lock()
	defer e.table.lock.Unlock()

	return e.info()
}

func (e *Page) pinned() bool {
	return e.pins > 0 || e.anchored || e.loading
}

func (e *Page) backing() Backing {
	switch {
	case e.slot.Valid():
		return BackingSwap
	case e.anonymous:
		return BackingMemory
	case e.readBytes == 0:
		return BackingZero
	default:
		return BackingFile
	}
}

func (e *Page) info() PageInfo {
	return PageInfo{
		VAddr:     e.vAddr,
		PAddr:     e.pAddr,
		Backing:   e.backing(),
		Slot:      e.slot,
		Writable:  e.writable,
		Resident:  e.resident,
		IsStack:   e.isStack,
		Pinned:    e.pinned(),
		Anonymous: e.anonymous,
	}
}

func (e *Page) unpin() {
	if e.pins == 0 {
		log.Panicf("page %#x is not pinned", e.vAddr)
	}

	e.pins--
}
