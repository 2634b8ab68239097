package tracing

import (
	"fmt"
	"reflect"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/sim/hooking"
	"github.com/sarchlab/vmpaging/sim/id"
	"github.com/sarchlab/vmpaging/sim/naming"
)

// CollectTrace let the tracer to collect trace from a domain
func CollectTrace(domain NamedHookable, tracer Tracer) {
	hooks := domain.Hooks()
	for _, hook := range hooks {
		hook, ok := hook.(*traceHook)
		if ok && hook.t == tracer {
			panic(fmt.Sprintf(
				"domain %s already has tracer %s",
				domain.Name(), reflect.TypeOf(tracer)))
		}
	}

	domain.AcceptHook(NewTraceHook(tracer))
}

// NewTraceHook creates a hook that feeds tracer. One hook can be attached to
// several components.
func NewTraceHook(tracer Tracer) hooking.Hook {
	return &traceHook{t: tracer, ids: id.NewIDGenerator()}
}

// A traceHook is a hook that traces page events
type traceHook struct {
	t   Tracer
	ids id.IDGenerator
}

// Func converts the hook call into an Event. Calls that do not carry a
// vm.PageEvent are ignored.
func (h *traceHook) Func(ctx hooking.HookCtx) {
	item, ok := ctx.Item.(vm.PageEvent)
	if !ok {
		return
	}

	e := Event{
		ID:     h.ids.Generate(),
		What:   ctx.Pos.Name,
		PID:    item.PID,
		VAddr:  item.VAddr,
		PAddr:  item.PAddr,
		Slot:   item.Slot,
		Detail: detailString(ctx.Detail),
	}

	if named, ok := ctx.Domain.(naming.Named); ok {
		e.Component = named.Name()
	}

	h.t.Trace(e)
}
