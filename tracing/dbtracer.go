package tracing

import (
	"sync"

	"github.com/sarchlab/vmpaging/datarecording"
)

// EventTable is the table DBTracer writes to.
const EventTable = "paging_event"

// EventRow is the row stored for each event.
type EventRow struct {
	ID        string
	Component string
	What      string
	PID       uint32
	VAddr     uint64
	PAddr     uint64
	Slot      int32
	Detail    string
}

// DBTracer is a tracer that stores events into a database.
type DBTracer struct {
	mu      sync.Mutex
	backend datarecording.DataRecorder
	count   int
}

// NewDBTracer creates a DBTracer and the table it writes to.
func NewDBTracer(backend datarecording.DataRecorder) *DBTracer {
	backend.CreateTable(EventTable, EventRow{})

	return &DBTracer{backend: backend}
}

// Trace stores one event.
func (t *DBTracer) Trace(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.backend.InsertData(EventTable, EventRow{
		ID:        e.ID,
		Component: e.Component,
		What:      e.What,
		PID:       uint32(e.PID),
		VAddr:     e.VAddr,
		PAddr:     e.PAddr,
		Slot:      int32(e.Slot),
		Detail:    e.Detail,
	})
	t.count++
}

// Count returns the number of events stored.
func (t *DBTracer) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.count
}

// Flush writes buffered events to the database.
func (t *DBTracer) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.backend.Flush()
}
