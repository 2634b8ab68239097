package workload

import (
	"log"
	"math/rand"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/mem/vm/pager"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// A Builder can build workloads.
type Builder struct {
	system       *pager.System
	seed         int64
	firstPID     vm.PID
	numProcesses int
	textPages    int
	dataPages    int
	numOps       int
	writeRatio   float64
	stackDepth   int
	exitAtEnd    bool
	progress     Progress
}

// MakeBuilder creates a new Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		seed:         1,
		firstPID:     1,
		numProcesses: 2,
		textPages:    2,
		dataPages:    16,
		numOps:       1000,
		writeRatio:   0.5,
		stackDepth:   1100,
		exitAtEnd:    true,
	}
}

// WithSystem sets the system the programs run on.
func (b Builder) WithSystem(s *pager.System) Builder {
	b.system = s
	return b
}

// WithSeed sets the seed of the random generator.
func (b Builder) WithSeed(seed int64) Builder {
	b.seed = seed
	return b
}

// WithFirstPID sets the PID of the first program.
func (b Builder) WithFirstPID(pid vm.PID) Builder {
	b.firstPID = pid
	return b
}

// WithNumProcesses sets how many programs run.
func (b Builder) WithNumProcesses(n int) Builder {
	b.numProcesses = n
	return b
}

// WithTextPages sets the size of the read-only segment of each program.
func (b Builder) WithTextPages(n int) Builder {
	b.textPages = n
	return b
}

// WithDataPages sets the size of the writable segment of each program.
func (b Builder) WithDataPages(n int) Builder {
	b.dataPages = n
	return b
}

// WithNumOps sets the number of random reads and writes.
func (b Builder) WithNumOps(n int) Builder {
	b.numOps = n
	return b
}

// WithWriteRatio sets the share of writes among the random accesses.
func (b Builder) WithWriteRatio(r float64) Builder {
	b.writeRatio = r
	return b
}

// WithStackDepth sets how many words each program pushes on its stack.
func (b Builder) WithStackDepth(n int) Builder {
	b.stackDepth = n
	return b
}

// WithExitAtEnd sets whether the programs exit after a successful run.
func (b Builder) WithExitAtEnd(exit bool) Builder {
	b.exitAtEnd = exit
	return b
}

// WithProgress sets where finished accesses are reported.
func (b Builder) WithProgress(p Progress) Builder {
	b.progress = p
	return b
}

// Build creates a new Workload.
func (b Builder) Build(name string) *Workload {
	if b.system == nil {
		log.Panic("workload needs a system")
	}

	if b.numProcesses < 1 || b.dataPages < 1 || b.textPages < 0 {
		log.Panicf("workload needs at least one process with data, "+
			"got %d processes with %d data pages",
			b.numProcesses, b.dataPages)
	}

	w := &Workload{
		NamedBase:    naming.MakeNamedBase(name),
		system:       b.system,
		rng:          rand.New(rand.NewSource(b.seed)),
		firstPID:     b.firstPID,
		numProcesses: b.numProcesses,
		textPages:    b.textPages,
		dataPages:    b.dataPages,
		numOps:       b.numOps,
		writeRatio:   b.writeRatio,
		stackDepth:   b.stackDepth,
		exitAtEnd:    b.exitAtEnd,
		progress:     b.progress,
	}

	return w
}
