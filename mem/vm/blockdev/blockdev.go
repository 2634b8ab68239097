// Package blockdev provides sector-addressed block devices and a registry
// that binds devices to the roles the kernel uses them for.
package blockdev

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// Errors returned by the devices.
var (
	ErrSectorOutOfRange = errors.New("sector out of range")
	ErrBadBufferSize    = errors.New("buffer is not one sector long")
)

// Stats counts the sectors transferred by a device.
type Stats struct {
	Reads  uint64 `json:"reads"`
	Writes uint64 `json:"writes"`
}

type counters struct {
	reads  atomic.Uint64
	writes atomic.Uint64
}

func (c *counters) stats() Stats {
	return Stats{Reads: c.reads.Load(), Writes: c.writes.Load()}
}

func checkAccess(name string, numSectors, sector uint64, buf []byte) error {
	if sector >= numSectors {
		return fmt.Errorf("%s: sector %d of %d: %w",
			name, sector, numSectors, ErrSectorOutOfRange)
	}

	if len(buf) != vm.SectorSize {
		return fmt.Errorf("%s: %d bytes: %w", name, len(buf), ErrBadBufferSize)
	}

	return nil
}

// MemDevice is a block device held in memory.
type MemDevice struct {
	naming.NamedBase
	counters

	lock    sync.RWMutex
	sectors []byte
}

// NewMemDevice creates a zeroed in-memory device.
func NewMemDevice(name string, numSectors uint64) *MemDevice {
	return &MemDevice{
		NamedBase: naming.MakeNamedBase(name),
		sectors:   make([]byte, numSectors*vm.SectorSize),
	}
}

// NumSectors returns the size of the device in sectors.
func (d *MemDevice) NumSectors() uint64 {
	return uint64(len(d.sectors)) / vm.SectorSize
}

// ReadSector copies one sector into buf.
func (d *MemDevice) ReadSector(sector uint64, buf []byte) error {
	if err := checkAccess(d.Name(), d.NumSectors(), sector, buf); err != nil {
		return err
	}

	d.lock.RLock()
	defer d.lock.RUnlock()

	copy(buf, d.sectors[sector*vm.SectorSize:])
	d.reads.Add(1)

	return nil
}

// WriteSector copies buf into one sector.
func (d *MemDevice) WriteSector(sector uint64, buf []byte) error {
	if err := checkAccess(d.Name(), d.NumSectors(), sector, buf); err != nil {
		return err
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	copy(d.sectors[sector*vm.SectorSize:], buf)
	d.writes.Add(1)

	return nil
}

// Stats returns the number of sectors transferred so far.
func (d *MemDevice) Stats() Stats {
	return d.stats()
}
