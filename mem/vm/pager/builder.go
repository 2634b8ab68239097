package pager

import (
	"log"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/mem/vm/blockdev"
	"github.com/sarchlab/vmpaging/mem/vm/frametable"
	"github.com/sarchlab/vmpaging/mem/vm/physmem"
	"github.com/sarchlab/vmpaging/mem/vm/swap"
	"github.com/sarchlab/vmpaging/sim/hooking"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// A Builder can build systems.
type Builder struct {
	numFrames       uint64
	frameBase       uint64
	swapDevice      vm.BlockDevice
	devices         *blockdev.Registry
	numSwapSlots    uint64
	stackMax        uint64
	scanRevolutions int
	hooks           []hooking.Hook
}

// MakeBuilder creates a new Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		numFrames:       64,
		frameBase:       0x100000,
		numSwapSlots:    256,
		stackMax:        vm.StackMax,
		scanRevolutions: 2,
	}
}

// WithNumFrames sets the number of physical frames available to user pages.
func (b Builder) WithNumFrames(n uint64) Builder {
	b.numFrames = n
	return b
}

// WithFrameBase sets the physical address of the first user frame.
func (b Builder) WithFrameBase(addr uint64) Builder {
	b.frameBase = addr
	return b
}

// WithSwapDevice sets the block device used for swap.
func (b Builder) WithSwapDevice(dev vm.BlockDevice) Builder {
	b.swapDevice = dev
	return b
}

// WithBlockDevices makes the system take its swap device from the registry.
func (b Builder) WithBlockDevices(reg *blockdev.Registry) Builder {
	b.devices = reg
	return b
}

// WithNumSwapSlots sets the size of the in-memory swap device created when no
// device is given.
func (b Builder) WithNumSwapSlots(n uint64) Builder {
	b.numSwapSlots = n
	return b
}

// WithStackMax sets how far the stack of each process may grow.
func (b Builder) WithStackMax(size uint64) Builder {
	b.stackMax = size
	return b
}

// WithScanRevolutions sets how many turns the eviction clock may make.
func (b Builder) WithScanRevolutions(n int) Builder {
	b.scanRevolutions = n
	return b
}

// WithHook attaches a hook to the frame table, the swap manager, and the page
// table of every process.
func (b Builder) WithHook(h hooking.Hook) Builder {
	b.hooks = append(b.hooks[:len(b.hooks):len(b.hooks)], h)
	return b
}

// Build creates a new System.
func (b Builder) Build(name string) *System {
	if b.numFrames == 0 {
		log.Panic("a system needs at least one frame")
	}

	s := &System{
		NamedBase: naming.MakeNamedBase(name),
		stackBase: vm.PhysBase,
		stackMax:  b.stackMax,
		hooks:     b.hooks,
		processes: make(map[vm.PID]*Process),
	}

	s.memory = physmem.MakeBuilder().
		WithNumFrames(b.numFrames).
		WithBaseAddress(b.frameBase).
		Build(naming.Child(name, "Memory"))

	s.swap = b.buildSwap(name)

	s.frames = frametable.MakeBuilder().
		WithFrameAllocator(s.memory).
		WithSwapper(s.swap).
		WithScanRevolutions(b.scanRevolutions).
		Build(naming.Child(name, "FrameTable"))

	for _, h := range b.hooks {
		s.frames.AcceptHook(h)
		s.swap.AcceptHook(h)
	}

	return s
}

func (b Builder) buildSwap(name string) *swap.Manager {
	builder := swap.MakeBuilder()

	switch {
	case b.swapDevice != nil:
		builder = builder.WithDevice(b.swapDevice)
	case b.devices != nil:
		builder = builder.WithRegistry(b.devices)
	default:
		dev := blockdev.NewMemDevice(
			naming.Child(name, "SwapDisk"),
			b.numSwapSlots*vm.SectorsPerPage)
		builder = builder.WithDevice(dev)
	}

	return builder.Build(naming.Child(name, "Swap"))
}
