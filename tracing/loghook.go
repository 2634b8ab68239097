package tracing

import (
	"log"
)

// LogTracerBase provides the common logic for tracers that write to a logger.
type LogTracerBase struct {
	*log.Logger
}

// EventLogger prints one line per paging event.
type EventLogger struct {
	LogTracerBase
}

// NewEventLogger returns a new EventLogger which will write in to the logger
func NewEventLogger(logger *log.Logger) *EventLogger {
	h := new(EventLogger)
	h.Logger = logger

	return h
}

// Trace writes the event into the logger.
func (h *EventLogger) Trace(e Event) {
	if e.Detail != "" {
		h.Logger.Printf("%s, %s, %s, pid %d, page %#x, frame %#x, slot %d, %s",
			e.ID, e.Component, e.What, e.PID, e.VAddr, e.PAddr, e.Slot, e.Detail)
		return
	}

	h.Logger.Printf("%s, %s, %s, pid %d, page %#x, frame %#x, slot %d",
		e.ID, e.Component, e.What, e.PID, e.VAddr, e.PAddr, e.Slot)
}
