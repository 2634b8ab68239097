// Package monitoring serves the state of a paging system over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/mem/vm/frametable"
	"github.com/sarchlab/vmpaging/mem/vm/pager"
	"github.com/sarchlab/vmpaging/mem/vm/spt"
	"github.com/sarchlab/vmpaging/sim/id"
	"github.com/sarchlab/vmpaging/sim/naming"
	"github.com/sarchlab/vmpaging/tracing"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor turns a paging system into a server that reports its frames, swap
// slots, and processes.
type Monitor struct {
	system     *pager.System
	counter    *tracing.EventCounter
	components []naming.Named
	portNumber int
	ids        id.IDGenerator

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		ids: id.NewIDGenerator(),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterSystem registers the system and its shared components.
func (m *Monitor) RegisterSystem(s *pager.System) {
	m.system = s

	m.RegisterComponent(s)
	m.RegisterComponent(s.Memory())
	m.RegisterComponent(s.FrameTable())
	m.RegisterComponent(s.Swap())
}

// RegisterComponent registers a component whose fields can be inspected.
func (m *Monitor) RegisterComponent(c naming.Named) {
	m.components = append(m.components, c)
}

// RegisterEventCounter sets the counter reported by /api/counters.
func (m *Monitor) RegisterEventCounter(c *tracing.EventCounter) {
	m.counter = c
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.ids.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler that serves the monitoring API.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/memory", m.listMemory)
	r.HandleFunc("/api/frames", m.listFrames)
	r.HandleFunc("/api/swap", m.listSwap)
	r.HandleFunc("/api/processes", m.listProcesses)
	r.HandleFunc("/api/process/{pid}", m.listProcessPages)
	r.HandleFunc("/api/invariants", m.checkInvariants)
	r.HandleFunc("/api/counters", m.listCounters)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring paging with %s\n", url)

	r := m.Router()

	go func() {
		err := http.Serve(listener, r)
		dieOnErr(err)
	}()

	return url
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(m.components))
	for _, c := range m.allComponents() {
		names = append(names, c.Name())
	}

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	component := m.findComponentOr404(w, name)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	dieOnErr(err)

	err = serializer.Serialize(w)
	dieOnErr(err)
}

// allComponents includes the page tables of the live processes.
func (m *Monitor) allComponents() []naming.Named {
	components := append([]naming.Named(nil), m.components...)

	if m.system != nil {
		for _, p := range m.system.Processes() {
			components = append(components, p.Table())
		}
	}

	return components
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) naming.Named {
	for _, c := range m.allComponents() {
		if c.Name() == name {
			return c
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Component not found"))
	dieOnErr(err)

	return nil
}

func (m *Monitor) systemOr404(w http.ResponseWriter) *pager.System {
	if m.system == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("No system registered"))
		dieOnErr(err)
	}

	return m.system
}

type memoryRsp struct {
	Base      uint64 `json:"base"`
	NumFrames uint64 `json:"num_frames"`
	NumFree   uint64 `json:"num_free"`
}

func (m *Monitor) listMemory(w http.ResponseWriter, _ *http.Request) {
	s := m.systemOr404(w)
	if s == nil {
		return
	}

	pool := s.Memory()

	writeJSON(w, memoryRsp{
		Base:      pool.Base(),
		NumFrames: pool.NumFrames(),
		NumFree:   pool.NumFree(),
	})
}

type frameRsp struct {
	PID   vm.PID `json:"pid"`
	VAddr uint64 `json:"v_addr"`
	PAddr uint64 `json:"p_addr"`
}

type framesRsp struct {
	Hand   int              `json:"hand"`
	Stats  frametable.Stats `json:"stats"`
	Frames []frameRsp       `json:"frames"`
}

func (m *Monitor) listFrames(w http.ResponseWriter, _ *http.Request) {
	s := m.systemOr404(w)
	if s == nil {
		return
	}

	table := s.FrameTable()
	rsp := framesRsp{
		Hand:   table.Hand(),
		Stats:  table.Stats(),
		Frames: []frameRsp{},
	}

	for _, e := range table.Frames() {
		rsp.Frames = append(rsp.Frames, frameRsp{
			PID:   e.Owner.PID(),
			VAddr: e.VAddr,
			PAddr: e.PAddr,
		})
	}

	writeJSON(w, rsp)
}

type swapRsp struct {
	NumSlots uint64        `json:"num_slots"`
	NumUsed  uint64        `json:"num_used"`
	Occupied []vm.SwapSlot `json:"occupied"`
}

func (m *Monitor) listSwap(w http.ResponseWriter, _ *http.Request) {
	s := m.systemOr404(w)
	if s == nil {
		return
	}

	swap := s.Swap()
	rsp := swapRsp{
		NumSlots: swap.NumSlots(),
		NumUsed:  swap.NumUsed(),
		Occupied: append([]vm.SwapSlot{}, swap.Slots()...),
	}

	writeJSON(w, rsp)
}

type processRsp struct {
	PID          vm.PID `json:"pid"`
	StackPointer uint64 `json:"stack_pointer"`
	NumPages     int    `json:"num_pages"`
	NumResident  int    `json:"num_resident"`
}

func (m *Monitor) listProcesses(w http.ResponseWriter, _ *http.Request) {
	s := m.systemOr404(w)
	if s == nil {
		return
	}

	rsp := []processRsp{}

	for _, p := range s.Processes() {
		entries := p.Table().Pages()

		resident := 0

		for _, e := range entries {
			if e.Resident {
				resident++
			}
		}

		rsp = append(rsp, processRsp{
			PID:          p.PID(),
			StackPointer: p.StackPointer(),
			NumPages:     len(entries),
			NumResident:  resident,
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) listProcessPages(w http.ResponseWriter, r *http.Request) {
	s := m.systemOr404(w)
	if s == nil {
		return
	}

	pid, err := strconv.ParseUint(mux.Vars(r)["pid"], 10, 32)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	p, found := s.Process(vm.PID(pid))
	if !found {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Process %d not found", pid)

		return
	}

	entries := p.Table().Pages()
	if entries == nil {
		entries = []spt.PageInfo{}
	}

	writeJSON(w, entries)
}

type invariantsRsp struct {
	OK         bool     `json:"ok"`
	Violations []string `json:"violations"`
}

// checkInvariants is best effort on a running system: a load or an exit in
// flight can show up as a count mismatch.
func (m *Monitor) checkInvariants(w http.ResponseWriter, _ *http.Request) {
	s := m.systemOr404(w)
	if s == nil {
		return
	}

	rsp := invariantsRsp{OK: true, Violations: []string{}}

	if err := s.CheckInvariants(); err != nil {
		rsp.OK = false
		rsp.Violations = strings.Split(err.Error(), "\n")
	}

	writeJSON(w, rsp)
}

func (m *Monitor) listCounters(w http.ResponseWriter, _ *http.Request) {
	if m.counter == nil {
		writeJSON(w, map[string]uint64{})
		return
	}

	writeJSON(w, m.counter.Counts())
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	writeJSON(w, rsp)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
