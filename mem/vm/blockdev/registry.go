package blockdev

import (
	"fmt"
	"sync"

	"github.com/sarchlab/vmpaging/mem/vm"
)

// Role is what the kernel uses a block device for.
type Role int

// Block device roles.
const (
	RoleKernel Role = iota
	RoleFilesys
	RoleScratch
	RoleSwap
)

func (r Role) String() string {
	switch r {
	case RoleKernel:
		return "kernel"
	case RoleFilesys:
		return "filesys"
	case RoleScratch:
		return "scratch"
	case RoleSwap:
		return "swap"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Registry binds at most one device to each role.
type Registry struct {
	lock    sync.Mutex
	devices map[Role]vm.BlockDevice
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[Role]vm.BlockDevice)}
}

// Register binds a device to a role. A role can only be bound once.
func (r *Registry) Register(role Role, dev vm.BlockDevice) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if existing, found := r.devices[role]; found {
		return fmt.Errorf("role %s is already bound to %s", role, existing.Name())
	}

	r.devices[role] = dev

	return nil
}

// ByRole returns the device bound to a role.
func (r *Registry) ByRole(role Role) (vm.BlockDevice, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	dev, found := r.devices[role]

	return dev, found
}
