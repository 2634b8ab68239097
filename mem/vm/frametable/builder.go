package frametable

import (
	"log"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// A Builder can build frame tables.
type Builder struct {
	allocator   vm.FrameAllocator
	swapper     Swapper
	revolutions int
}

// MakeBuilder creates a new Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		revolutions: 2,
	}
}

// WithFrameAllocator sets the raw frame primitive the table draws from.
func (b Builder) WithFrameAllocator(a vm.FrameAllocator) Builder {
	b.allocator = a
	return b
}

// WithSwapper sets where evicted pages are written.
func (b Builder) WithSwapper(s Swapper) Builder {
	b.swapper = s
	return b
}

// WithScanRevolutions sets how many turns the clock may make looking for a
// victim before the table reports that no frame can be evicted.
func (b Builder) WithScanRevolutions(n int) Builder {
	b.revolutions = n
	return b
}

// Build creates a new Table.
func (b Builder) Build(name string) *Table {
	if b.allocator == nil {
		log.Panic("frame table needs a frame allocator")
	}

	if b.swapper == nil {
		log.Panic("frame table needs a swapper")
	}

	if b.revolutions < 1 {
		log.Panicf("scan revolutions must be positive, got %d", b.revolutions)
	}

	t := &Table{
		NamedBase:   naming.MakeNamedBase(name),
		allocator:   b.allocator,
		swapper:     b.swapper,
		revolutions: b.revolutions,
		index:       make(map[frameKey]int),
	}

	return t
}
