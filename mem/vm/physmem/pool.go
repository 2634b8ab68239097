// Package physmem provides a fixed pool of physical page frames.
package physmem

import (
	"log"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// Pool is a contiguous range of physical memory carved into page frames.
type Pool struct {
	naming.NamedBase

	lock      sync.Mutex
	base      uint64
	numFrames uint64
	storage   []byte
	allocated *bitset.BitSet
}

// Allocate obtains the lowest free frame.
func (p *Pool) Allocate(flags vm.AllocFlags) (uint64, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	index, found := p.allocated.NextClear(0)
	if !found || uint64(index) >= p.numFrames {
		if flags.Has(vm.AllocAssert) {
			log.Panicf("%s: out of frames", p.Name())
		}

		return 0, false
	}

	p.allocated.Set(index)

	pAddr := p.base + uint64(index)*vm.PageSize
	if flags.Has(vm.AllocZero) {
		clear(p.frame(pAddr))
	}

	return pAddr, true
}

// Free returns a frame to the pool.
func (p *Pool) Free(pAddr uint64) {
	p.lock.Lock()
	defer p.lock.Unlock()

	index := p.indexMustBeValid(pAddr)
	if !p.allocated.Test(index) {
		log.Panicf("%s: freeing free frame %#x", p.Name(), pAddr)
	}

	p.allocated.Clear(index)
}

// Frame returns the bytes of a frame.
func (p *Pool) Frame(pAddr uint64) []byte {
	p.indexMustBeValid(pAddr)
	return p.frame(pAddr)
}

func (p *Pool) frame(pAddr uint64) []byte {
	offset := pAddr - p.base
	return p.storage[offset : offset+vm.PageSize : offset+vm.PageSize]
}

func (p *Pool) indexMustBeValid(pAddr uint64) uint {
	if pAddr < p.base || !vm.IsPageAligned(pAddr) {
		log.Panicf("%s: %#x is not a frame address", p.Name(), pAddr)
	}

	index := (pAddr - p.base) / vm.PageSize
	if index >= p.numFrames {
		log.Panicf("%s: %#x is outside the pool", p.Name(), pAddr)
	}

	return uint(index)
}

// NumFrames returns the capacity of the pool.
func (p *Pool) NumFrames() uint64 {
	return p.numFrames
}

// NumFree returns the number of frames that can still be allocated.
func (p *Pool) NumFree() uint64 {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.numFrames - uint64(p.allocated.Count())
}

// Base returns the physical address of the first frame.
func (p *Pool) Base() uint64 {
	return p.base
}
