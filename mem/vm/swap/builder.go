package swap

import (
	"log"

	"github.com/bits-and-blooms/bitset"
	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/mem/vm/blockdev"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// A Builder can build swap managers.
type Builder struct {
	device   vm.BlockDevice
	registry *blockdev.Registry
}

// MakeBuilder creates a new Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithDevice sets the block device that holds the slots.
func (b Builder) WithDevice(dev vm.BlockDevice) Builder {
	b.device = dev
	return b
}

// WithRegistry makes the manager bind to the device registered for
// blockdev.RoleSwap. A device set with WithDevice takes precedence.
func (b Builder) WithRegistry(reg *blockdev.Registry) Builder {
	b.registry = reg
	return b
}

// Build creates a Manager with every slot free.
func (b Builder) Build(name string) *Manager {
	dev := b.bindDevice()

	numSlots := dev.NumSectors() / vm.SectorsPerPage
	if numSlots > uint64(^uint32(0)>>1) {
		log.Panicf("swap device %s is too large", dev.Name())
	}

	m := &Manager{
		NamedBase: naming.MakeNamedBase(name),
		device:    dev,
		numSlots:  numSlots,
		occupied:  bitset.New(uint(numSlots)),
	}

	return m
}

func (b Builder) bindDevice() vm.BlockDevice {
	if b.device != nil {
		return b.device
	}

	if b.registry == nil {
		log.Panic("swap manager needs a device or a device registry")
	}

	dev, found := b.registry.ByRole(blockdev.RoleSwap)
	if !found {
		log.Panic("no block device has the swap role")
	}

	return dev
}
