package vm

import "io"

// FrameAllocator is the raw physical-frame primitive. It hands out one frame
// at a time and gives access to the frame's bytes; it knows nothing about the
// pages stored in the frames.
type FrameAllocator interface {
	// Allocate obtains a free frame. The bool is false if the pool is
	// exhausted.
	Allocate(flags AllocFlags) (uint64, bool)

	// Free returns a frame to the pool.
	Free(pAddr uint64)

	// Frame returns the PageSize bytes of the frame at pAddr.
	Frame(pAddr uint64) []byte
}

// PTE is a snapshot of one page-directory mapping.
type PTE struct {
	PAddr    uint64
	Writable bool
	Accessed bool
	Dirty    bool
}

// PageDirectory is the hardware page-table primitive of one process. All
// addresses are rounded down to their page.
type PageDirectory interface {
	// Lookup returns the mapping of a virtual page, if there is one.
	Lookup(vAddr uint64) (PTE, bool)

	// Map installs a mapping. It fails with ErrAlreadyMapped if the page is
	// mapped already.
	Map(vAddr, pAddr uint64, writable bool) error

	// Clear removes the mapping of a virtual page. Clearing an unmapped page
	// does nothing.
	Clear(vAddr uint64)

	IsAccessed(vAddr uint64) bool
	SetAccessed(vAddr uint64, accessed bool)
	IsDirty(vAddr uint64) bool
	SetDirty(vAddr uint64, dirty bool)
}

// BlockDevice is the raw sector read/write primitive.
type BlockDevice interface {
	// Name returns the name of the device.
	Name() string

	// NumSectors returns the size of the device in sectors.
	NumSectors() uint64

	// ReadSector copies SectorSize bytes of the given sector into buf.
	ReadSector(sector uint64, buf []byte) error

	// WriteSector copies SectorSize bytes of buf into the given sector.
	WriteSector(sector uint64, buf []byte) error
}

// File is the backing file of a lazily loaded page. A read returns the number
// of bytes actually transferred.
type File interface {
	io.ReaderAt
}
