// Package workload runs deterministic synthetic programs on a pager.System
// and checks every byte they read against a shadow copy of what they wrote.
package workload

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/mem/vm/pager"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// ErrMismatch is reported when memory does not hold what was written to it.
var ErrMismatch = errors.New("memory content mismatch")

// Address-space layout of the synthetic programs.
const (
	TextBase = uint64(0x8048000)
	maxChunk = 512
)

// Summary describes a run.
type Summary struct {
	Processes   int    `json:"processes"`
	Reads       int    `json:"reads"`
	Writes      int    `json:"writes"`
	StackPushes int    `json:"stack_pushes"`
	BytesMoved  uint64 `json:"bytes_moved"`
	Evictions   uint64 `json:"evictions"`
	SwapWrites  uint64 `json:"swap_writes"`
	Mismatches  int    `json:"mismatches"`
}

type program struct {
	proc  *pager.Process
	text  []byte
	data  []byte
	stack []byte
}

func (p *program) dataBase() uint64 {
	return TextBase + uint64(len(p.text))
}

// Progress is told about every finished access.
type Progress interface {
	IncrementFinished(amount uint64)
}

// Workload is a set of synthetic programs sharing one system.
type Workload struct {
	naming.NamedBase

	system       *pager.System
	rng          *rand.Rand
	firstPID     vm.PID
	numProcesses int
	textPages    int
	dataPages    int
	numOps       int
	writeRatio   float64
	stackDepth   int
	exitAtEnd    bool
	progress     Progress

	programs []*program
	summary  Summary
}

// Run creates the programs, performs the random accesses, verifies every
// page, and checks the system invariants.
func (w *Workload) Run() (Summary, error) {
	if err := w.start(); err != nil {
		return w.summary, err
	}

	for i := 0; i < w.numOps; i++ {
		p := w.programs[w.rng.Intn(len(w.programs))]

		var err error
		if w.rng.Float64() < w.writeRatio {
			err = w.write(p)
		} else {
			err = w.read(p)
		}

		if err != nil {
			return w.summary, err
		}

		if w.progress != nil {
			w.progress.IncrementFinished(1)
		}
	}

	for _, p := range w.programs {
		if err := w.push(p); err != nil {
			return w.summary, err
		}
	}

	if err := w.Verify(); err != nil {
		return w.summary, err
	}

	if err := w.system.CheckInvariants(); err != nil {
		return w.summary, err
	}

	w.collectStats()

	if w.exitAtEnd {
		for _, p := range w.programs {
			w.system.Exit(p.proc)
		}
	}

	return w.summary, nil
}

func (w *Workload) start() error {
	for i := 0; i < w.numProcesses; i++ {
		pid := w.firstPID + vm.PID(i)

		proc, err := w.system.NewProcess(pid)
		if err != nil {
			return err
		}

		p := &program{
			proc: proc,
			text: make([]byte, w.textPages*int(vm.PageSize)),
			data: make([]byte, w.dataPages*int(vm.PageSize)),
		}
		w.rng.Read(p.text)

		err = proc.MapSegment(bytes.NewReader(p.text), 0, TextBase,
			uint64(len(p.text)), 0, false)
		if err != nil {
			return err
		}

		err = proc.MapSegment(nil, 0, p.dataBase(),
			0, uint64(len(p.data)), true)
		if err != nil {
			return err
		}

		if err := proc.SetupStack(); err != nil {
			return err
		}

		w.programs = append(w.programs, p)
	}

	w.summary.Processes = len(w.programs)

	return nil
}

func (w *Workload) randomRange(size int) (int, int) {
	n := 1 + w.rng.Intn(maxChunk)
	offset := w.rng.Intn(size - n + 1)

	return offset, n
}

func (w *Workload) write(p *program) error {
	offset, n := w.randomRange(len(p.data))
	chunk := p.data[offset : offset+n]
	w.rng.Read(chunk)

	w.summary.Writes++
	w.summary.BytesMoved += uint64(n)

	return p.proc.Write(p.dataBase()+uint64(offset), chunk)
}

func (w *Workload) read(p *program) error {
	vAddr, want := w.pickReadRange(p)
	got := make([]byte, len(want))

	w.summary.Reads++
	w.summary.BytesMoved += uint64(len(got))

	if err := p.proc.Read(vAddr, got); err != nil {
		return err
	}

	return w.compare(p, vAddr, got, want)
}

func (w *Workload) pickReadRange(p *program) (uint64, []byte) {
	if len(p.text) > 0 && w.rng.Intn(4) == 0 {
		offset, n := w.randomRange(len(p.text))
		return TextBase + uint64(offset), p.text[offset : offset+n]
	}

	offset, n := w.randomRange(len(p.data))

	return p.dataBase() + uint64(offset), p.data[offset : offset+n]
}

// push grows the stack one word at a time, the way call instructions do.
func (w *Workload) push(p *program) error {
	for i := 0; i < w.stackDepth; i++ {
		word := make([]byte, 4)
		w.rng.Read(word)

		esp := p.proc.StackPointer() - uint64(len(word))
		p.proc.SetStackPointer(esp)

		if err := p.proc.Write(esp, word); err != nil {
			return err
		}

		p.stack = append(word, p.stack...)
		w.summary.StackPushes++
	}

	return nil
}

// Verify reads the whole address space of every program back and compares
// it with the shadow copy.
func (w *Workload) Verify() error {
	for _, p := range w.programs {
		regions := []struct {
			base uint64
			want []byte
		}{
			{TextBase, p.text},
			{p.dataBase(), p.data},
			{p.proc.StackPointer(), p.stack},
		}

		for _, r := range regions {
			got := make([]byte, len(r.want))
			if err := p.proc.Read(r.base, got); err != nil {
				return err
			}

			if err := w.compare(p, r.base, got, r.want); err != nil {
				return err
			}
		}
	}

	return nil
}

func (w *Workload) compare(p *program, vAddr uint64, got, want []byte) error {
	if bytes.Equal(got, want) {
		return nil
	}

	w.summary.Mismatches++

	for i := range got {
		if got[i] != want[i] {
			return fmt.Errorf("%s: pid %d, address %#x: read %#02x, want %#02x: %w",
				w.Name(), p.proc.PID(), vAddr+uint64(i), got[i], want[i],
				ErrMismatch)
		}
	}

	return nil
}

func (w *Workload) collectStats() {
	stats := w.system.FrameTable().Stats()
	w.summary.Evictions = stats.Evicted
	w.summary.SwapWrites = stats.WrittenOut
}

// Summary returns what the workload has done so far.
func (w *Workload) Summary() Summary {
	return w.summary
}
