package spt

import (
	"container/list"
	"log"
	"sync"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// A Builder can build supplemental page tables.
type Builder struct {
	pid        vm.PID
	dir        vm.PageDirectory
	memory     Memory
	frames     FrameTable
	swap       SwapSpace
	stackBase  uint64
	stackMax   uint64
	pushWindow uint64
}

// MakeBuilder creates a new Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		stackBase:  vm.PhysBase,
		stackMax:   vm.StackMax,
		pushWindow: vm.PushWindow,
	}
}

// WithPID sets the process the table belongs to.
func (b Builder) WithPID(pid vm.PID) Builder {
	b.pid = pid
	return b
}

// WithDirectory sets the page directory of the process.
func (b Builder) WithDirectory(dir vm.PageDirectory) Builder {
	b.dir = dir
	return b
}

// WithMemory sets where frame contents are accessed.
func (b Builder) WithMemory(m Memory) Builder {
	b.memory = m
	return b
}

// WithFrameTable sets the frame table pages are loaded into.
func (b Builder) WithFrameTable(f FrameTable) Builder {
	b.frames = f
	return b
}

// WithSwap sets the swap space evicted pages are restored from.
func (b Builder) WithSwap(s SwapSpace) Builder {
	b.swap = s
	return b
}

// WithStackBase sets the address the stack grows down from.
func (b Builder) WithStackBase(addr uint64) Builder {
	b.stackBase = addr
	return b
}

// WithStackMax sets how far the stack may grow.
func (b Builder) WithStackMax(size uint64) Builder {
	b.stackMax = size
	return b
}

// WithPushWindow sets how far below the stack pointer a fault still counts
// as stack growth.
func (b Builder) WithPushWindow(size uint64) Builder {
	b.pushWindow = size
	return b
}

// Build creates a new Table.
func (b Builder) Build(name string) *Table {
	b.parametersMustBeValid()

	t := &Table{
		NamedBase:    naming.MakeNamedBase(name),
		pid:          b.pid,
		dir:          b.dir,
		memory:       b.memory,
		frames:       b.frames,
		swap:         b.swap,
		stackBase:    b.stackBase,
		stackMax:     b.stackMax,
		pushWindow:   b.pushWindow,
		entries:      list.New(),
		entriesTable: make(map[uint64]*list.Element),
	}
	t.evicted = sync.NewCond(&t.lock)

	return t
}

func (b Builder) parametersMustBeValid() {
	switch {
	case b.dir == nil:
		log.Panic("page table needs a page directory")
	case b.memory == nil:
		log.Panic("page table needs memory")
	case b.frames == nil:
		log.Panic("page table needs a frame table")
	case b.swap == nil:
		log.Panic("page table needs swap space")
	case !vm.IsPageAligned(b.stackBase) || !vm.IsPageAligned(b.stackMax):
		log.Panicf("stack base %#x and size %#x must be page aligned",
			b.stackBase, b.stackMax)
	case b.stackMax == 0 || b.stackMax > b.stackBase:
		log.Panicf("stack size %#x does not fit below %#x",
			b.stackMax, b.stackBase)
	}
}
