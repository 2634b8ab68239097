// Package vm provides the shared vocabulary of the demand-paged virtual memory
// layer: page geometry, process IDs, swap slot indices, the primitives the
// core consumes, and the error taxonomy reported to the page-fault handler.
package vm

// PID stands for Process ID.
type PID uint32

// Page and sector geometry.
const (
	Log2PageSize   = 12
	PageSize       = uint64(1) << Log2PageSize
	SectorSize     = 512
	SectorsPerPage = PageSize / SectorSize
)

// User address-space layout. User virtual addresses lie below PhysBase, and
// the stack grows down from PhysBase.
const (
	PhysBase   = uint64(0xC0000000)
	StackMax   = uint64(8 << 20)
	PushWindow = uint64(32)
)

// PageRoundDown returns the address of the page that contains addr.
func PageRoundDown(addr uint64) uint64 {
	return (addr >> Log2PageSize) << Log2PageSize
}

// PageOffset returns the offset of addr within its page.
func PageOffset(addr uint64) uint64 {
	return addr & (PageSize - 1)
}

// IsPageAligned tells if addr is the first byte of a page.
func IsPageAligned(addr uint64) bool {
	return PageOffset(addr) == 0
}

// IsUserAddr tells if addr belongs to user space.
func IsUserAddr(addr uint64) bool {
	return addr < PhysBase
}

// AllocFlags are hints passed to the frame allocation primitive.
type AllocFlags uint8

// Allocation flags.
const (
	// AllocUser requests a frame from the user pool.
	AllocUser AllocFlags = 1 << iota
	// AllocZero zero-fills the frame before it is returned.
	AllocZero
	// AllocAssert turns an allocation failure into a panic.
	AllocAssert
)

// Has tells if all the bits in want are set.
func (f AllocFlags) Has(want AllocFlags) bool {
	return f&want == want
}

// SwapSlot is the index of a page-sized slot on the swap device.
type SwapSlot int32

// NoSwapSlot marks a page that does not hold a swap slot.
const NoSwapSlot SwapSlot = -1

// Valid tells if the slot refers to a swap slot at all.
func (s SwapSlot) Valid() bool {
	return s >= 0
}

// PageEvent is the item carried by the hooks of the paging components.
type PageEvent struct {
	PID   PID
	VAddr uint64
	PAddr uint64
	Slot  SwapSlot
}
