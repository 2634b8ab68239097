// Package pager drives the paging core the way a kernel does. It owns the
// frame pool, the frame table, and the swap manager of one machine, creates
// processes with their page tables, resolves page faults, and tears processes
// down when they exit.
package pager

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/mem/vm/frametable"
	"github.com/sarchlab/vmpaging/mem/vm/pagedir"
	"github.com/sarchlab/vmpaging/mem/vm/physmem"
	"github.com/sarchlab/vmpaging/mem/vm/spt"
	"github.com/sarchlab/vmpaging/mem/vm/swap"
	"github.com/sarchlab/vmpaging/sim/hooking"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// ErrDuplicateProcess is returned when a PID is reused while the process is
// still alive.
var ErrDuplicateProcess = errors.New("process already exists")

// ErrInvariant is wrapped by every violation CheckInvariants reports.
var ErrInvariant = errors.New("paging invariant violated")

// System is one machine: a frame pool shared by all processes, the frame
// table that manages it, and the swap space behind it.
type System struct {
	naming.NamedBase

	memory    *physmem.Pool
	frames    *frametable.Table
	swap      *swap.Manager
	stackBase uint64
	stackMax  uint64
	hooks     []hooking.Hook

	lock      sync.Mutex
	processes map[vm.PID]*Process
}

// Memory returns the frame pool.
func (s *System) Memory() *physmem.Pool {
	return s.memory
}

// FrameTable returns the frame table.
func (s *System) FrameTable() *frametable.Table {
	return s.frames
}

// Swap returns the swap manager.
func (s *System) Swap() *swap.Manager {
	return s.swap
}

// NewProcess creates a process with an empty address space.
func (s *System) NewProcess(pid vm.PID) (*Process, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, found := s.processes[pid]; found {
		return nil, fmt.Errorf("%s: pid %d: %w", s.Name(), pid, ErrDuplicateProcess)
	}

	dir := pagedir.New(pid)
	table := spt.MakeBuilder().
		WithPID(pid).
		WithDirectory(dir).
		WithMemory(s.memory).
		WithFrameTable(s.frames).
		WithSwap(s.swap).
		WithStackBase(s.stackBase).
		WithStackMax(s.stackMax).
		Build(naming.Child(s.Name(), fmt.Sprintf("Process[%d]", pid)))

	for _, h := range s.hooks {
		table.AcceptHook(h)
	}

	p := &Process{
		system: s,
		pid:    pid,
		dir:    dir,
		table:  table,
		esp:    s.stackBase,
	}
	s.processes[pid] = p

	return p, nil
}

// Process returns a live process.
func (s *System) Process(pid vm.PID) (*Process, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	p, found := s.processes[pid]

	return p, found
}

// Processes lists the live processes ordered by PID.
func (s *System) Processes() []*Process {
	s.lock.Lock()
	defer s.lock.Unlock()

	list := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		list = append(list, p)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].pid < list[j].pid })

	return list
}

// Exit tears a process down. Its frames and swap slots are released and its
// PID can be reused.
func (s *System) Exit(p *Process) {
	s.lock.Lock()
	if s.processes[p.pid] != p {
		s.lock.Unlock()
		return
	}

	delete(s.processes, p.pid)
	s.lock.Unlock()

	p.table.Destroy()
}

// CheckInvariants verifies that no frame backs two pages, no swap slot holds
// two pages, no page is both resident and swapped, and that the frame table,
// the frame pool, and the swap space agree with the page tables. It runs
// while the frame table is locked, so evictions never show up half done.
// Loads and exits still in flight can make the counts disagree for a moment;
// the result is exact only while no fault is being handled.
func (s *System) CheckInvariants() error {
	var errs []error

	s.frames.Inspect(func(frames []frametable.Frame) {
		errs = s.checkInvariants(s.Processes(), frames)
	})

	return errors.Join(errs...)
}

type pageKey struct {
	owner frametable.Owner
	vAddr uint64
}

//nolint:gocognit,funlen
func (s *System) checkInvariants(
	procs []*Process,
	frames []frametable.Frame,
) []error {
	var errs []error

	violation := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s: %w",
			s.Name(), fmt.Sprintf(format, args...), ErrInvariant))
	}

	framed := make(map[pageKey]uint64, len(frames))
	for _, f := range frames {
		framed[pageKey{owner: f.Owner, vAddr: f.VAddr}] = f.PAddr
	}

	frameUsers := make(map[uint64]vm.PID)
	slotUsers := make(map[vm.SwapSlot]vm.PID)
	numResident := 0

	for _, p := range procs {
		for _, e := range p.table.Pages() {
			if e.Resident && e.Slot.Valid() {
				violation("pid %d, page %#x is resident and in slot %d",
					p.pid, e.VAddr, e.Slot)
			}

			if e.Resident {
				numResident++

				if other, taken := frameUsers[e.PAddr]; taken {
					violation("frame %#x backs pages of pid %d and pid %d",
						e.PAddr, other, p.pid)
				}

				frameUsers[e.PAddr] = p.pid

				key := pageKey{owner: p.table, vAddr: e.VAddr}
				if pAddr, found := framed[key]; !found || pAddr != e.PAddr {
					violation("pid %d, page %#x is resident in %#x "+
						"but the frame table does not say so",
						p.pid, e.VAddr, e.PAddr)
				}
			}

			if e.Slot.Valid() {
				if other, taken := slotUsers[e.Slot]; taken {
					violation("slot %d holds pages of pid %d and pid %d",
						e.Slot, other, p.pid)
				}

				if !s.swap.IsOccupied(e.Slot) {
					violation("pid %d, page %#x refers to free slot %d",
						p.pid, e.VAddr, e.Slot)
				}

				slotUsers[e.Slot] = p.pid
			}
		}
	}

	if n := len(frames); n != numResident {
		violation("frame table holds %d frames but %d pages are resident",
			n, numResident)
	}

	if used := s.memory.NumFrames() - s.memory.NumFree(); used != uint64(len(frames)) {
		violation("%d frames are allocated but the frame table holds %d",
			used, len(frames))
	}

	if used := s.swap.NumUsed(); used != uint64(len(slotUsers)) {
		violation("%d slots are occupied but pages refer to %d",
			used, len(slotUsers))
	}

	return errs
}
