package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/pkg/browser"
	"github.com/sarchlab/vmpaging/datarecording"
	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/mem/vm/blockdev"
	"github.com/sarchlab/vmpaging/mem/vm/pager"
	"github.com/sarchlab/vmpaging/mem/vm/workload"
	"github.com/sarchlab/vmpaging/monitoring"
	"github.com/sarchlab/vmpaging/sim/id"
	"github.com/sarchlab/vmpaging/tracing"
	"github.com/spf13/cobra"
)

type runConfig struct {
	numFrames    uint64
	numSwapSlots uint64
	swapFile     string
	numProcesses int
	textPages    int
	dataPages    int
	numOps       int
	writeRatio   float64
	stackDepth   int
	seed         int64

	record    bool
	recordTo  string
	logEvents bool
	monitor   bool
	port      int
	open      bool
	hold      bool
}

type runResult struct {
	Summary    workload.Summary  `json:"summary"`
	Events     map[string]uint64 `json:"events"`
	RecordedTo string            `json:"recorded_to,omitempty"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a synthetic workload and print its summary.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := readRunConfig(cmd)
		if err != nil {
			return err
		}

		return runWorkload(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.Uint64("num-frames", 16, "Number of physical frames")
	f.Uint64("num-swap-slots", 1024, "Number of swap slots")
	f.String("swap-file", "", "Back swap with this file instead of memory")
	f.Int("num-processes", 2, "Number of processes")
	f.Int("text-pages", 2, "Read-only pages per process")
	f.Int("data-pages", 32, "Writable pages per process")
	f.Int("num-ops", 10000, "Number of random reads and writes")
	f.Float64("write-ratio", 0.5, "Share of writes among the accesses")
	f.Int("stack-depth", 1100, "Words pushed on each stack")
	f.Int64("seed", 1, "Random seed")
	f.Bool("record", false, "Record every paging event into SQLite")
	f.String("record-to", "", "Database name, without the .sqlite3 suffix")
	f.Bool("log-events", false, "Print every paging event to stderr")
	f.Bool("monitor", false, "Serve the state of the system over HTTP")
	f.Int("port", 0, "Port of the monitoring server")
	f.Bool("open", false, "Open the monitoring page in a browser")
	f.Bool("hold", false,
		"Keep the processes and the server alive until interrupted")
}

func readRunConfig(cmd *cobra.Command) (runConfig, error) {
	f := cmd.Flags()
	cfg := runConfig{}

	var errs []error

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error

	cfg.numFrames, err = f.GetUint64("num-frames")
	collect(err)
	cfg.numSwapSlots, err = f.GetUint64("num-swap-slots")
	collect(err)
	cfg.swapFile, err = f.GetString("swap-file")
	collect(err)
	cfg.numProcesses, err = f.GetInt("num-processes")
	collect(err)
	cfg.textPages, err = f.GetInt("text-pages")
	collect(err)
	cfg.dataPages, err = f.GetInt("data-pages")
	collect(err)
	cfg.numOps, err = f.GetInt("num-ops")
	collect(err)
	cfg.writeRatio, err = f.GetFloat64("write-ratio")
	collect(err)
	cfg.stackDepth, err = f.GetInt("stack-depth")
	collect(err)
	cfg.seed, err = f.GetInt64("seed")
	collect(err)
	cfg.record, err = f.GetBool("record")
	collect(err)
	cfg.recordTo, err = f.GetString("record-to")
	collect(err)
	cfg.logEvents, err = f.GetBool("log-events")
	collect(err)
	cfg.monitor, err = f.GetBool("monitor")
	collect(err)
	cfg.port, err = f.GetInt("port")
	collect(err)
	cfg.open, err = f.GetBool("open")
	collect(err)
	cfg.hold, err = f.GetBool("hold")
	collect(err)

	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}

	if cfg.recordTo != "" {
		cfg.record = true
	}

	if cfg.record && cfg.recordTo == "" {
		cfg.recordTo = "vmsim_" + id.NewUniqueIDGenerator().Generate()
	}

	if cfg.numFrames == 0 || cfg.numSwapSlots == 0 {
		return cfg, errors.New("need at least one frame and one swap slot")
	}

	return cfg, nil
}

// runWorkload builds a system from cfg, runs a workload on it, and writes the
// summary to out as JSON.
//
//nolint:funlen
func runWorkload(cfg runConfig, out, errOut io.Writer) error {
	counter := tracing.NewEventCounter()

	builder := pager.MakeBuilder().
		WithNumFrames(cfg.numFrames).
		WithNumSwapSlots(cfg.numSwapSlots).
		WithHook(tracing.NewTraceHook(counter))

	var (
		recorder datarecording.DataRecorder
		dbTracer *tracing.DBTracer
		result   runResult
	)

	if cfg.record {
		recorder = datarecording.New(cfg.recordTo)
		defer recorder.Close()

		dbTracer = tracing.NewDBTracer(recorder)
		builder = builder.WithHook(tracing.NewTraceHook(dbTracer))
	}

	if cfg.logEvents {
		logger := log.New(errOut, "", 0)
		builder = builder.WithHook(
			tracing.NewTraceHook(tracing.NewEventLogger(logger)))
	}

	if cfg.swapFile != "" {
		devices, closeDevice, err := openSwapFile(cfg)
		if err != nil {
			return err
		}
		defer closeDevice()

		builder = builder.WithBlockDevices(devices)
	}

	system := builder.Build("VM")

	wb := workload.MakeBuilder().
		WithSystem(system).
		WithSeed(cfg.seed).
		WithNumProcesses(cfg.numProcesses).
		WithTextPages(cfg.textPages).
		WithDataPages(cfg.dataPages).
		WithNumOps(cfg.numOps).
		WithWriteRatio(cfg.writeRatio).
		WithStackDepth(cfg.stackDepth).
		WithExitAtEnd(!cfg.hold)

	var monitor *monitoring.Monitor

	if cfg.monitor {
		monitor = monitoring.NewMonitor().WithPortNumber(cfg.port)
		monitor.RegisterSystem(system)
		monitor.RegisterEventCounter(counter)

		url := monitor.StartServer()
		if cfg.open {
			if err := browser.OpenURL(url); err != nil {
				fmt.Fprintf(errOut, "Cannot open browser: %s\n", err)
			}
		}

		bar := monitor.CreateProgressBar("Accesses", uint64(cfg.numOps))
		defer monitor.CompleteProgressBar(bar)

		wb = wb.WithProgress(bar)
	}

	summary, err := wb.Build("Workload").Run()
	if err != nil {
		return err
	}

	result.Summary = summary
	result.Events = counter.Counts()

	if dbTracer != nil {
		dbTracer.Flush()
		result.RecordedTo = cfg.recordTo + ".sqlite3"
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(result); err != nil {
		return err
	}

	if cfg.hold {
		waitForInterrupt(errOut)
	}

	return nil
}

func openSwapFile(cfg runConfig) (*blockdev.Registry, func(), error) {
	path, err := filepath.Abs(cfg.swapFile)
	if err != nil {
		return nil, nil, err
	}

	dev, err := blockdev.OpenFile("SwapFile", path,
		cfg.numSwapSlots*vm.SectorsPerPage)
	if err != nil {
		return nil, nil, err
	}

	devices := blockdev.NewRegistry()
	if err := devices.Register(blockdev.RoleSwap, dev); err != nil {
		dev.Close()
		return nil, nil, err
	}

	return devices, func() { dev.Close() }, nil
}

func waitForInterrupt(errOut io.Writer) {
	fmt.Fprintln(errOut, "Holding the system, press Ctrl-C to exit")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
}
