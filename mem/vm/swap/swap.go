// Package swap manages page-sized slots on the swap block device.
//
// Slot i occupies the SectorsPerPage contiguous sectors starting at sector
// i*SectorsPerPage. There is no header and no checksum. Occupancy lives only
// in memory; nothing on the device survives a restart.
package swap

import (
	"fmt"
	"log"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/sim/hooking"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// Hook positions of the swap manager. The hook item is a vm.PageEvent whose
// Slot field is set.
var (
	HookPosSwapOut  = &hooking.HookPos{Name: "SwapOut"}
	HookPosSwapIn   = &hooking.HookPos{Name: "SwapIn"}
	HookPosSlotFree = &hooking.HookPos{Name: "SlotFree"}
)

// Manager allocates, reads, writes, and frees swap slots.
type Manager struct {
	naming.NamedBase
	hooking.HookableBase

	device   vm.BlockDevice
	numSlots uint64

	lock     sync.Mutex
	occupied *bitset.BitSet
}

// WritePage stores one page in a free slot and returns the slot.
func (m *Manager) WritePage(src []byte) (vm.SwapSlot, error) {
	pageMustBeWholePage(src)

	slot, err := m.reserve()
	if err != nil {
		return vm.NoSwapSlot, err
	}

	first := uint64(slot) * vm.SectorsPerPage
	for i := uint64(0); i < vm.SectorsPerPage; i++ {
		sector := src[i*vm.SectorSize : (i+1)*vm.SectorSize]

		err = m.device.WriteSector(first+i, sector)
		if err != nil {
			m.release(slot)
			return vm.NoSwapSlot, fmt.Errorf("%s: writing slot %d: %w",
				m.Name(), slot, err)
		}
	}

	m.InvokeHook(hooking.HookCtx{
		Domain: m,
		Pos:    HookPosSwapOut,
		Item:   vm.PageEvent{Slot: slot},
	})

	return slot, nil
}

// ReadPage copies the content of an occupied slot into dst. The slot stays
// occupied; the caller frees it once the page is safely loaded.
func (m *Manager) ReadPage(slot vm.SwapSlot, dst []byte) error {
	pageMustBeWholePage(dst)

	m.checkOccupied(slot)

	first := uint64(slot) * vm.SectorsPerPage
	for i := uint64(0); i < vm.SectorsPerPage; i++ {
		sector := dst[i*vm.SectorSize : (i+1)*vm.SectorSize]

		err := m.device.ReadSector(first+i, sector)
		if err != nil {
			return fmt.Errorf("%s: reading slot %d: %w", m.Name(), slot, err)
		}
	}

	m.InvokeHook(hooking.HookCtx{
		Domain: m,
		Pos:    HookPosSwapIn,
		Item:   vm.PageEvent{Slot: slot},
	})

	return nil
}

// FreeSlot makes an occupied slot available again.
func (m *Manager) FreeSlot(slot vm.SwapSlot) {
	m.freeOccupied(slot)

	m.InvokeHook(hooking.HookCtx{
		Domain: m,
		Pos:    HookPosSlotFree,
		Item:   vm.PageEvent{Slot: slot},
	})
}

func (m *Manager) reserve() (vm.SwapSlot, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	index, found := m.occupied.NextClear(0)
	if !found || uint64(index) >= m.numSlots {
		return vm.NoSwapSlot, fmt.Errorf("%s: all %d slots in use: %w",
			m.Name(), m.numSlots, vm.ErrOutOfSwap)
	}

	m.occupied.Set(index)

	return vm.SwapSlot(index), nil
}

func (m *Manager) release(slot vm.SwapSlot) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.occupied.Clear(uint(slot))
}

func (m *Manager) checkOccupied(slot vm.SwapSlot) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.slotMustBeOccupied(slot)
}

func (m *Manager) freeOccupied(slot vm.SwapSlot) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.slotMustBeOccupied(slot)
	m.occupied.Clear(uint(slot))
}

func (m *Manager) slotMustBeOccupied(slot vm.SwapSlot) {
	if !slot.Valid() || uint64(slot) >= m.numSlots {
		log.Panicf("%s: slot %d does not exist", m.Name(), slot)
	}

	if !m.occupied.Test(uint(slot)) {
		log.Panicf("%s: slot %d is free", m.Name(), slot)
	}
}

func pageMustBeWholePage(buf []byte) {
	if uint64(len(buf)) != vm.PageSize {
		log.Panicf("swap transfers whole pages, got %d bytes", len(buf))
	}
}

// NumSlots returns the number of page slots on the device.
func (m *Manager) NumSlots() uint64 {
	return m.numSlots
}

// NumUsed returns the number of occupied slots.
func (m *Manager) NumUsed() uint64 {
	m.lock.Lock()
	defer m.lock.Unlock()

	return uint64(m.occupied.Count())
}

// IsOccupied tells if a slot holds a page.
func (m *Manager) IsOccupied(slot vm.SwapSlot) bool {
	if !slot.Valid() || uint64(slot) >= m.numSlots {
		return false
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	return m.occupied.Test(uint(slot))
}

// Slots lists the occupied slots in increasing order.
func (m *Manager) Slots() []vm.SwapSlot {
	m.lock.Lock()
	defer m.lock.Unlock()

	slots := make([]vm.SwapSlot, 0, m.occupied.Count())
	for i, ok := m.occupied.NextSet(0); ok; i, ok = m.occupied.NextSet(i + 1) {
		slots = append(slots, vm.SwapSlot(i))
	}

	return slots
}

// Device returns the block device the slots live on.
func (m *Manager) Device() vm.BlockDevice {
	return m.device
}
