// Package pagedir models the hardware page directory of a process: which
// virtual pages are mapped to which frames, with the writable, accessed, and
// dirty bits the MMU maintains.
package pagedir

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/sarchlab/vmpaging/mem/vm"
)

// MMU faults raised by Translate.
var (
	ErrNotPresent     = errors.New("page not present")
	ErrWriteProtected = errors.New("write to read-only page")
)

// Flag is a bit of a page table entry.
type Flag uint8

// Page table entry flags.
const (
	FlagPresent Flag = 1 << iota
	FlagWritable
	FlagAccessed
	FlagDirty
)

type pte struct {
	vAddr uint64
	pAddr uint64
	flags Flag
}

func (e *pte) hasFlags(flags Flag) bool {
	return e.flags&flags == flags
}

func (e *pte) setFlags(flags Flag, set bool) {
	if set {
		e.flags |= flags
	} else {
		e.flags &^= flags
	}
}

func (e *pte) snapshot() vm.PTE {
	return vm.PTE{
		PAddr:    e.pAddr,
		Writable: e.hasFlags(FlagWritable),
		Accessed: e.hasFlags(FlagAccessed),
		Dirty:    e.hasFlags(FlagDirty),
	}
}

// Mapping describes one installed mapping.
type Mapping struct {
	VAddr uint64 `json:"v_addr"`
	vm.PTE
}

// Directory is the page directory of one process. It implements
// vm.PageDirectory.
type Directory struct {
	sync.Mutex
	pid          vm.PID
	entries      *list.List
	entriesTable map[uint64]*list.Element
}

// New creates an empty page directory.
func New(pid vm.PID) *Directory {
	return &Directory{
		pid:          pid,
		entries:      list.New(),
		entriesTable: make(map[uint64]*list.Element),
	}
}

// PID returns the process that owns the directory.
func (d *Directory) PID() vm.PID {
	return d.pid
}

func (d *Directory) find(vAddr uint64) (*pte, bool) {
	elem, found := d.entriesTable[vm.PageRoundDown(vAddr)]
	if !found {
		return nil, false
	}

	return elem.Value.(*pte), true
}

// Lookup returns the mapping of a virtual page.
func (d *Directory) Lookup(vAddr uint64) (vm.PTE, bool) {
	d.Lock()
	defer d.Unlock()

	e, found := d.find(vAddr)
	if !found {
		return vm.PTE{}, false
	}

	return e.snapshot(), true
}

// Map installs a mapping from a virtual page to a frame.
func (d *Directory) Map(vAddr, pAddr uint64, writable bool) error {
	if !vm.IsPageAligned(pAddr) {
		return fmt.Errorf("frame address %#x is not page aligned", pAddr)
	}

	d.Lock()
	defer d.Unlock()

	vAddr = vm.PageRoundDown(vAddr)
	if _, found := d.entriesTable[vAddr]; found {
		return fmt.Errorf("pid %d, page %#x: %w", d.pid, vAddr, vm.ErrAlreadyMapped)
	}

	e := &pte{vAddr: vAddr, pAddr: pAddr, flags: FlagPresent}
	e.setFlags(FlagWritable, writable)

	d.entriesTable[vAddr] = d.entries.PushBack(e)

	return nil
}

// Clear removes the mapping of a virtual page.
func (d *Directory) Clear(vAddr uint64) {
	d.Lock()
	defer d.Unlock()

	vAddr = vm.PageRoundDown(vAddr)

	elem, found := d.entriesTable[vAddr]
	if !found {
		return
	}

	d.entries.Remove(elem)
	delete(d.entriesTable, vAddr)
}

// IsAccessed tells if the page was read or written since the bit was last
// reset.
func (d *Directory) IsAccessed(vAddr uint64) bool {
	return d.testFlag(vAddr, FlagAccessed)
}

// SetAccessed sets or resets the accessed bit.
func (d *Directory) SetAccessed(vAddr uint64, accessed bool) {
	d.setFlag(vAddr, FlagAccessed, accessed)
}

// IsDirty tells if the page was written since it was mapped.
func (d *Directory) IsDirty(vAddr uint64) bool {
	return d.testFlag(vAddr, FlagDirty)
}

// SetDirty sets or resets the dirty bit.
func (d *Directory) SetDirty(vAddr uint64, dirty bool) {
	d.setFlag(vAddr, FlagDirty, dirty)
}

func (d *Directory) testFlag(vAddr uint64, flag Flag) bool {
	d.Lock()
	defer d.Unlock()

	e, found := d.find(vAddr)

	return found && e.hasFlags(flag)
}

func (d *Directory) setFlag(vAddr uint64, flag Flag, set bool) {
	d.Lock()
	defer d.Unlock()

	e, found := d.find(vAddr)
	if !found {
		return
	}

	e.setFlags(flag, set)
}

// Translate performs what the MMU does on a user load or store: it returns
// the physical address of vAddr and updates the accessed and dirty bits.
func (d *Directory) Translate(vAddr uint64, write bool) (uint64, error) {
	d.Lock()
	defer d.Unlock()

	e, found := d.find(vAddr)
	if !found {
		return 0, ErrNotPresent
	}

	if write && !e.hasFlags(FlagWritable) {
		return 0, ErrWriteProtected
	}

	e.setFlags(FlagAccessed, true)
	if write {
		e.setFlags(FlagDirty, true)
	}

	return e.pAddr + vm.PageOffset(vAddr), nil
}

// Len returns the number of installed mappings.
func (d *Directory) Len() int {
	d.Lock()
	defer d.Unlock()

	return d.entries.Len()
}

// Mappings lists the installed mappings in installation order.
func (d *Directory) Mappings() []Mapping {
	d.Lock()
	defer d.Unlock()

	mappings := make([]Mapping, 0, d.entries.Len())
	for elem := d.entries.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*pte)
		mappings = append(mappings, Mapping{VAddr: e.vAddr, PTE: e.snapshot()})
	}

	return mappings
}
