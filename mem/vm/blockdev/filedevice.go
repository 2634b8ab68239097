package blockdev

import (
	"fmt"
	"os"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// FileDevice is a block device stored in a host file. Its content does not
// survive reopening: OpenFile truncates the file.
type FileDevice struct {
	naming.NamedBase
	counters

	file       *os.File
	numSectors uint64
}

// OpenFile creates (or truncates) the file at path and sizes it to hold
// numSectors sectors.
func OpenFile(name, path string, numSectors uint64) (*FileDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	err = file.Truncate(int64(numSectors * vm.SectorSize))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("sizing %s: %w", path, err)
	}

	d := &FileDevice{
		NamedBase:  naming.MakeNamedBase(name),
		file:       file,
		numSectors: numSectors,
	}

	return d, nil
}

// NumSectors returns the size of the device in sectors.
func (d *FileDevice) NumSectors() uint64 {
	return d.numSectors
}

// ReadSector copies one sector into buf.
func (d *FileDevice) ReadSector(sector uint64, buf []byte) error {
	if err := checkAccess(d.Name(), d.numSectors, sector, buf); err != nil {
		return err
	}

	_, err := d.file.ReadAt(buf, int64(sector*vm.SectorSize))
	if err != nil {
		return fmt.Errorf("%s: reading sector %d: %w", d.Name(), sector, err)
	}

	d.reads.Add(1)

	return nil
}

// WriteSector copies buf into one sector.
func (d *FileDevice) WriteSector(sector uint64, buf []byte) error {
	if err := checkAccess(d.Name(), d.numSectors, sector, buf); err != nil {
		return err
	}

	_, err := d.file.WriteAt(buf, int64(sector*vm.SectorSize))
	if err != nil {
		return fmt.Errorf("%s: writing sector %d: %w", d.Name(), sector, err)
	}

	d.writes.Add(1)

	return nil
}

// Stats returns the number of sectors transferred so far.
func (d *FileDevice) Stats() Stats {
	return d.stats()
}

// Close closes the host file.
func (d *FileDevice) Close() error {
	return d.file.Close()
}
