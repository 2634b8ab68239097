package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/mem/vm/blockdev"
	"github.com/sarchlab/vmpaging/mem/vm/pager"
	"github.com/sarchlab/vmpaging/mem/vm/workload"
	"github.com/sarchlab/vmpaging/tracing"
)

var seedFlag = flag.Int64("seed", 0, "Random Seed")
var numOpsFlag = flag.Int("num-ops", 10000, "Number of random accesses")
var numFramesFlag = flag.Uint64("num-frames", 8, "Number of physical frames")
var numSwapSlotsFlag = flag.Uint64("num-swap-slots", 256, "Number of swap slots")
var numProcessesFlag = flag.Int("num-processes", 3, "Number of processes")
var dataPagesFlag = flag.Int("data-pages", 24, "Data pages per process")

var traceFileFlag = flag.String("trace", "", "Trace file")
var swapFileFlag = flag.Bool("swap-file", false, "Back swap with a file")

func setupSystem() (*pager.System, *tracing.EventCounter, func()) {
	counter := tracing.NewEventCounter()
	cleanup := func() {}

	builder := pager.MakeBuilder().
		WithNumFrames(*numFramesFlag).
		WithNumSwapSlots(*numSwapSlotsFlag).
		WithHook(tracing.NewTraceHook(counter))

	if *traceFileFlag != "" {
		traceFile, err := os.Create(*traceFileFlag)
		if err != nil {
			panic(err)
		}

		logger := log.New(traceFile, "", 0)
		builder = builder.WithHook(
			tracing.NewTraceHook(tracing.NewEventLogger(logger)))
		cleanup = func() { traceFile.Close() }
	}

	if *swapFileFlag {
		dir, err := os.MkdirTemp("", "vmpaging_swap_")
		if err != nil {
			panic(err)
		}

		dev, err := blockdev.OpenFile("SwapFile", filepath.Join(dir, "swap"),
			*numSwapSlotsFlag*vm.SectorsPerPage)
		if err != nil {
			panic(err)
		}

		devices := blockdev.NewRegistry()
		if err := devices.Register(blockdev.RoleSwap, dev); err != nil {
			panic(err)
		}

		builder = builder.WithBlockDevices(devices)

		traceCleanup := cleanup
		cleanup = func() {
			traceCleanup()
			dev.Close()
			os.RemoveAll(dir)
		}
	}

	return builder.Build("VM"), counter, cleanup
}

func main() {
	flag.Parse()

	seed := *seedFlag
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	fmt.Fprintf(os.Stderr, "Seed %d\n", seed)

	system, counter, cleanup := setupSystem()
	defer cleanup()

	w := workload.MakeBuilder().
		WithSystem(system).
		WithSeed(seed).
		WithNumProcesses(*numProcessesFlag).
		WithDataPages(*dataPagesFlag).
		WithNumOps(*numOpsFlag).
		Build("Workload")

	summary, err := w.Run()
	if err != nil {
		panic(err)
	}

	if summary.Mismatches > 0 {
		panic(fmt.Sprintf("%d mismatches", summary.Mismatches))
	}

	if len(system.Processes()) > 0 {
		panic("processes left after exit")
	}

	if system.Memory().NumFree() != system.Memory().NumFrames() {
		panic("frames leaked")
	}

	if system.Swap().NumUsed() > 0 {
		panic("swap slots leaked")
	}

	if counter.Count("FrameEvict") != summary.Evictions {
		panic(fmt.Sprintf("%d eviction events, %d evictions",
			counter.Count("FrameEvict"), summary.Evictions))
	}

	fmt.Fprintf(os.Stderr, "%d evictions, %d swap writes\n",
		summary.Evictions, summary.SwapWrites)
}
