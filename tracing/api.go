// Package tracing turns the hook calls of the paging components into page
// events and hands them to tracers that count, log, or record them.
package tracing

import (
	"fmt"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/mem/vm/frametable"
	"github.com/sarchlab/vmpaging/sim/hooking"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// NamedHookable represent something both have a name and can be hooked
type NamedHookable interface {
	naming.Named
	hooking.Hookable
}

// Event is one paging event, flattened from a hook call.
type Event struct {
	ID        string      `json:"id"`
	Component string      `json:"component"`
	What      string      `json:"what"`
	PID       vm.PID      `json:"pid"`
	VAddr     uint64      `json:"v_addr"`
	PAddr     uint64      `json:"p_addr"`
	Slot      vm.SwapSlot `json:"slot"`
	Detail    string      `json:"detail"`
}

// A Tracer consumes paging events. Tracers may be called from several
// goroutines and while the frame table lock is held; they must not call back
// into the paging components.
type Tracer interface {
	Trace(e Event)
}

func detailString(detail any) string {
	switch d := detail.(type) {
	case nil:
		return ""
	case frametable.Frame:
		return fmt.Sprintf("to pid %d, page %#x", d.Owner.PID(), d.VAddr)
	case fmt.Stringer:
		return d.String()
	case uint64:
		return fmt.Sprintf("%#x", d)
	case naming.Named:
		return d.Name()
	default:
		return fmt.Sprintf("%v", d)
	}
}
