package physmem

import (
	"log"

	"github.com/bits-and-blooms/bitset"
	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// A Builder can build frame pools.
type Builder struct {
	numFrames uint64
	base      uint64
}

// MakeBuilder creates a new Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		numFrames: 64,
		base:      0x100000,
	}
}

// WithNumFrames sets the number of frames in the pool.
func (b Builder) WithNumFrames(n uint64) Builder {
	b.numFrames = n
	return b
}

// WithBaseAddress sets the physical address of the first frame.
func (b Builder) WithBaseAddress(base uint64) Builder {
	b.base = base
	return b
}

// Build creates a new Pool.
func (b Builder) Build(name string) *Pool {
	b.parametersMustBeValid()

	p := &Pool{
		NamedBase: naming.MakeNamedBase(name),
		base:      b.base,
		numFrames: b.numFrames,
		storage:   make([]byte, b.numFrames*vm.PageSize),
		allocated: bitset.New(uint(b.numFrames)),
	}

	return p
}

func (b Builder) parametersMustBeValid() {
	if b.numFrames == 0 {
		log.Panic("a frame pool needs at least one frame")
	}

	if !vm.IsPageAligned(b.base) {
		log.Panicf("base address %#x is not page aligned", b.base)
	}
}
