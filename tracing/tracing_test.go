package tracing

import (
	"bytes"
	"context"
	"log"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vmpaging/datarecording"
	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/mem/vm/pager"
	"github.com/sarchlab/vmpaging/sim/hooking"
	"github.com/sarchlab/vmpaging/sim/naming"
)

const dataBase = uint64(0x10000000)

type sliceTracer struct {
	events []Event
}

func (t *sliceTracer) Trace(e Event) {
	t.events = append(t.events, e)
}

type hookableDomain struct {
	naming.NamedBase
	hooking.HookableBase
}

// runPaging runs a process with one anchored stack page and three zero pages
// through two frames. Every data page is written once, then the first is
// read back from swap.
func runPaging(hook hooking.Hook) {
	system := pager.MakeBuilder().
		WithNumFrames(2).
		WithNumSwapSlots(16).
		WithHook(hook).
		Build("VM")

	p, err := system.NewProcess(1)
	Expect(err).NotTo(HaveOccurred())
	Expect(p.SetupStack()).To(Succeed())
	Expect(p.MapSegment(nil, 0, dataBase, 0, 3*vm.PageSize, true)).
		To(Succeed())

	for i := uint64(0); i < 3; i++ {
		Expect(p.Write(dataBase+i*vm.PageSize, []byte{byte(i + 1)})).
			To(Succeed())
	}

	buf := make([]byte, 1)
	Expect(p.Read(dataBase, buf)).To(Succeed())
	Expect(buf[0]).To(Equal(byte(1)))
}

var _ = Describe("Trace hook", func() {
	It("should ignore hook calls without a page event", func() {
		tracer := &sliceTracer{}
		domain := &hookableDomain{NamedBase: naming.MakeNamedBase("D")}
		domain.AcceptHook(NewTraceHook(tracer))

		domain.InvokeHook(hooking.HookCtx{
			Domain: domain,
			Pos:    &hooking.HookPos{Name: "Other"},
			Item:   "not an event",
		})

		Expect(tracer.events).To(BeEmpty())
	})

	It("should flatten a page event", func() {
		tracer := &sliceTracer{}
		domain := &hookableDomain{NamedBase: naming.MakeNamedBase("D")}
		CollectTrace(domain, tracer)

		domain.InvokeHook(hooking.HookCtx{
			Domain: domain,
			Pos:    &hooking.HookPos{Name: "SwapOut"},
			Item:   vm.PageEvent{PID: 3, VAddr: 0x2000, PAddr: 0x5000, Slot: 4},
			Detail: uint64(0x10),
		})

		Expect(tracer.events).To(HaveLen(1))

		e := tracer.events[0]
		Expect(e.ID).NotTo(BeEmpty())
		Expect(e.Component).To(Equal("D"))
		Expect(e.What).To(Equal("SwapOut"))
		Expect(e.PID).To(Equal(vm.PID(3)))
		Expect(e.VAddr).To(Equal(uint64(0x2000)))
		Expect(e.PAddr).To(Equal(uint64(0x5000)))
		Expect(e.Slot).To(Equal(vm.SwapSlot(4)))
		Expect(e.Detail).To(Equal("0x10"))
	})

	It("should not attach the same tracer twice", func() {
		tracer := &sliceTracer{}
		domain := &hookableDomain{NamedBase: naming.MakeNamedBase("D")}
		CollectTrace(domain, tracer)

		Expect(func() { CollectTrace(domain, tracer) }).To(Panic())
	})
})

var _ = Describe("EventCounter", func() {
	It("should count the events of a paging run", func() {
		counter := NewEventCounter()

		runPaging(NewTraceHook(counter))

		Expect(counter.Count("FrameAcquire")).To(Equal(uint64(5)))
		Expect(counter.Count("FrameEvict")).To(Equal(uint64(3)))
		Expect(counter.Count("PageLoad")).To(Equal(uint64(5)))
		Expect(counter.Count("PageOut")).To(Equal(uint64(3)))
		Expect(counter.Count("SwapOut")).To(Equal(uint64(3)))
		Expect(counter.Count("SwapIn")).To(Equal(uint64(1)))
		Expect(counter.Count("SlotFree")).To(Equal(uint64(1)))
		Expect(counter.Count("StackGrowth")).To(BeZero())

		Expect(counter.Components()).To(Equal([]string{
			"VM.FrameTable", "VM.Process[1]", "VM.Swap",
		}))
		Expect(counter.ComponentCounts("VM.Swap")).To(Equal(map[string]uint64{
			"SwapOut": 3, "SwapIn": 1, "SlotFree": 1,
		}))
		Expect(counter.Counts()).To(HaveKeyWithValue("FrameEvict", uint64(3)))
	})
})

var _ = Describe("EventLogger", func() {
	It("should print one line per event", func() {
		buf := new(bytes.Buffer)
		logger := NewEventLogger(log.New(buf, "", 0))

		logger.Trace(Event{
			ID: "1", Component: "VM.Swap", What: "SwapIn", PID: 2,
			VAddr: 0x1000, PAddr: 0x2000, Slot: 5,
		})
		logger.Trace(Event{
			ID: "2", Component: "VM.FrameTable", What: "FrameEvict",
			Slot: vm.NoSwapSlot, Detail: "to pid 1, page 0x3000",
		})

		Expect(buf.String()).To(Equal(
			"1, VM.Swap, SwapIn, pid 2, page 0x1000, frame 0x2000, slot 5\n" +
				"2, VM.FrameTable, FrameEvict, pid 0, page 0x0, frame 0x0, " +
				"slot -1, to pid 1, page 0x3000\n"))
	})

	It("should name the new owner of an evicted frame", func() {
		buf := new(bytes.Buffer)

		runPaging(NewTraceHook(NewEventLogger(log.New(buf, "", 0))))

		Expect(buf.String()).To(ContainSubstring("FrameEvict"))
		Expect(buf.String()).To(ContainSubstring(", to pid 1, page 0x10001000"))
	})
})

var _ = Describe("DBTracer", func() {
	It("should store every event", func() {
		path := filepath.Join(GinkgoT().TempDir(), "trace")
		recorder := datarecording.New(path)
		tracer := NewDBTracer(recorder)

		runPaging(NewTraceHook(tracer))
		tracer.Flush()
		Expect(recorder.Close()).To(Succeed())

		reader, err := datarecording.NewReader(path + ".sqlite3")
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		reader.MapTable(EventTable, EventRow{})

		_, total, err := reader.Query(context.Background(), EventTable,
			datarecording.QueryParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(tracer.Count()))

		counts, err := reader.CountBy(context.Background(), EventTable, "What")
		Expect(err).NotTo(HaveOccurred())
		Expect(counts).To(HaveKeyWithValue("SwapOut", 3))
		Expect(counts).To(HaveKeyWithValue("SwapIn", 1))

		results, _, err := reader.Query(context.Background(), EventTable,
			datarecording.QueryParams{
				Where: "What = ?",
				Args:  []any{"SwapIn"},
			})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))

		row := results[0].(*EventRow)
		Expect(row.Component).To(Equal("VM.Swap"))
		Expect(row.Slot).To(BeNumerically(">=", 0))
	})
})
