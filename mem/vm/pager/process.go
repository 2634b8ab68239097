package pager

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/mem/vm/pagedir"
	"github.com/sarchlab/vmpaging/mem/vm/spt"
)

// maxAccessAttempts bounds how often a single user access faults on the same
// page before giving up. A page can be evicted again between the fault and
// the access when memory is oversubscribed.
const maxAccessAttempts = 16

// Fault describes a page fault as the trap handler sees it.
type Fault struct {
	Addr uint64

	// StackPointer is the user stack pointer at the time of the fault. It is
	// only meaningful for faults raised in user mode.
	StackPointer uint64

	Write      bool
	NotPresent bool
	User       bool
}

// Process is one user address space.
type Process struct {
	system *System
	pid    vm.PID
	dir    *pagedir.Directory
	table  *spt.Table

	lock sync.Mutex
	esp  uint64
}

// PID returns the process ID.
func (p *Process) PID() vm.PID {
	return p.pid
}

// Table returns the supplemental page table of the process.
func (p *Process) Table() *spt.Table {
	return p.table
}

// Directory returns the page directory of the process.
func (p *Process) Directory() *pagedir.Directory {
	return p.dir
}

// StackPointer returns the saved user stack pointer.
func (p *Process) StackPointer() uint64 {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.esp
}

// SetStackPointer saves the user stack pointer. Faults raised in kernel mode
// on behalf of the process use the saved value.
func (p *Process) SetStackPointer(esp uint64) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.esp = esp
}

// MapSegment registers a segment of an executable for lazy loading. The
// first readBytes bytes come from file starting at offset, and the following
// zeroBytes bytes are zero. vAddr and offset must be page aligned and the
// segment must cover whole pages. If a page cannot be registered, the pages
// registered before it are discarded.
func (p *Process) MapSegment(
	file vm.File,
	offset int64,
	vAddr uint64,
	readBytes, zeroBytes uint64,
	writable bool,
) error {
	if err := p.segmentMustBeValid(offset, vAddr, readBytes, zeroBytes); err != nil {
		return err
	}

	var mapped []uint64

	for readBytes > 0 || zeroBytes > 0 {
		pageRead := min(readBytes, vm.PageSize)
		pageZero := vm.PageSize - pageRead

		err := p.table.CreateEntry(file, offset, vAddr,
			pageRead, pageZero, writable, false)
		if err != nil {
			for _, page := range mapped {
				p.table.Discard(page)
			}

			return err
		}

		mapped = append(mapped, vAddr)
		readBytes -= pageRead
		zeroBytes -= pageZero
		offset += int64(pageRead)
		vAddr += vm.PageSize
	}

	return nil
}

func (p *Process) segmentMustBeValid(
	offset int64,
	vAddr uint64,
	readBytes, zeroBytes uint64,
) error {
	switch {
	case offset < 0 || !vm.IsPageAligned(uint64(offset)):
		return fmt.Errorf("pid %d: segment at %#x: bad offset %d: %w",
			p.pid, vAddr, offset, spt.ErrBadDescriptor)
	case zeroBytes > math.MaxUint64-readBytes:
		return fmt.Errorf("pid %d: segment at %#x: %d+%d bytes overflow: %w",
			p.pid, vAddr, readBytes, zeroBytes, spt.ErrBadDescriptor)
	}

	size := readBytes + zeroBytes

	switch {
	case size%vm.PageSize != 0:
		return fmt.Errorf("pid %d: segment at %#x: %d bytes is not whole pages: %w",
			p.pid, vAddr, size, spt.ErrBadDescriptor)
	case size > math.MaxUint64-vAddr:
		return fmt.Errorf("pid %d: segment at %#x: %d bytes wrap around: %w",
			p.pid, vAddr, size, spt.ErrBadDescriptor)
	case readBytes > uint64(math.MaxInt64-offset):
		return fmt.Errorf("pid %d: segment at %#x: file range overflows: %w",
			p.pid, vAddr, spt.ErrBadDescriptor)
	}

	return nil
}

// SetupStack creates the first stack page right below the stack base, loads
// it, and points the stack pointer at the stack base. The page is never
// evicted.
func (p *Process) SetupStack() error {
	page := p.system.stackBase - vm.PageSize

	err := p.table.CreateEntry(nil, 0, page, 0, vm.PageSize, true, true)
	if err != nil {
		return err
	}

	e, _ := p.table.Find(page)
	if err := p.table.Load(e); err != nil {
		return vm.NewFaultError(p.pid, page, err)
	}

	p.SetStackPointer(p.system.stackBase)

	return nil
}

// HandleFault resolves a page fault. A fault that cannot be resolved is
// returned as a *vm.FaultError; what happens to the process is up to the
// caller.
func (p *Process) HandleFault(f Fault) error {
	if err := p.resolve(f); err != nil {
		return vm.NewFaultError(p.pid, f.Addr, err)
	}

	return nil
}

func (p *Process) resolve(f Fault) error {
	switch {
	case !f.NotPresent:
		return fmt.Errorf("write to read-only page %#x: %w",
			vm.PageRoundDown(f.Addr), vm.ErrInvalidAccess)
	case !vm.IsUserAddr(f.Addr):
		return fmt.Errorf("kernel address %#x: %w", f.Addr, vm.ErrInvalidAccess)
	}

	if e, found := p.table.Find(f.Addr); found {
		if f.Write && !e.Writable() {
			return fmt.Errorf("write to read-only page %#x: %w",
				e.VAddr(), vm.ErrInvalidAccess)
		}

		return p.table.Load(e)
	}

	esp := f.StackPointer
	if !f.User {
		esp = p.StackPointer()
	}

	return p.table.HandleStackGrowth(esp, f.Addr)
}

// Read copies user memory starting at vAddr into buf, faulting pages in as
// needed.
func (p *Process) Read(vAddr uint64, buf []byte) error {
	return p.access(vAddr, buf, false)
}

// Write copies data into user memory starting at vAddr, faulting pages in as
// needed.
func (p *Process) Write(vAddr uint64, data []byte) error {
	return p.access(vAddr, data, true)
}

func (p *Process) access(vAddr uint64, buf []byte, write bool) error {
	for len(buf) > 0 {
		n := min(uint64(len(buf)), vm.PageSize-vm.PageOffset(vAddr))

		if err := p.accessPage(vAddr, buf[:n], write); err != nil {
			return err
		}

		vAddr += n
		buf = buf[n:]
	}

	return nil
}

// accessPage pins the page while copying so that it cannot be evicted
// halfway through.
func (p *Process) accessPage(vAddr uint64, chunk []byte, write bool) error {
	for attempt := 0; attempt < maxAccessAttempts; attempt++ {
		if e, resident := p.table.PinIfResident(vAddr); resident {
			pAddr, err := p.dir.Translate(vAddr, write)
			if err == nil {
				p.copy(pAddr, chunk, write)
				p.table.Unpin(e)

				return nil
			}

			p.table.Unpin(e)

			if errors.Is(err, pagedir.ErrWriteProtected) {
				return p.HandleFault(Fault{
					Addr:         vAddr,
					StackPointer: p.StackPointer(),
					Write:        write,
					User:         true,
				})
			}
		}

		err := p.HandleFault(Fault{
			Addr:         vAddr,
			StackPointer: p.StackPointer(),
			Write:        write,
			NotPresent:   true,
			User:         true,
		})
		if err != nil {
			return err
		}
	}

	return vm.NewFaultError(p.pid, vAddr,
		fmt.Errorf("page %#x evicted %d times in a row: %w",
			vm.PageRoundDown(vAddr), maxAccessAttempts, vm.ErrOutOfFrames))
}

func (p *Process) copy(pAddr uint64, chunk []byte, write bool) {
	frame := p.system.memory.Frame(vm.PageRoundDown(pAddr))
	offset := vm.PageOffset(pAddr)

	if write {
		copy(frame[offset:], chunk)
	} else {
		copy(chunk, frame[offset:])
	}
}
