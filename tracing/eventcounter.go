package tracing

import (
	"sort"
	"sync"
)

// EventCounter counts events by kind and by component.
type EventCounter struct {
	lock        sync.Mutex
	byWhat      map[string]uint64
	byComponent map[string]map[string]uint64
}

// NewEventCounter creates an EventCounter with all counts at zero.
func NewEventCounter() *EventCounter {
	return &EventCounter{
		byWhat:      make(map[string]uint64),
		byComponent: make(map[string]map[string]uint64),
	}
}

// Trace counts one event.
func (c *EventCounter) Trace(e Event) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.byWhat[e.What]++

	counts, found := c.byComponent[e.Component]
	if !found {
		counts = make(map[string]uint64)
		c.byComponent[e.Component] = counts
	}

	counts[e.What]++
}

// Count returns how many events of a kind were seen.
func (c *EventCounter) Count(what string) uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.byWhat[what]
}

// Counts returns a copy of the counts by kind.
func (c *EventCounter) Counts() map[string]uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	counts := make(map[string]uint64, len(c.byWhat))
	for what, n := range c.byWhat {
		counts[what] = n
	}

	return counts
}

// ComponentCounts returns a copy of the counts of one component.
func (c *EventCounter) ComponentCounts(component string) map[string]uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	counts := make(map[string]uint64)
	for what, n := range c.byComponent[component] {
		counts[what] = n
	}

	return counts
}

// Components lists the components that reported events, sorted.
func (c *EventCounter) Components() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	names := make([]string, 0, len(c.byComponent))
	for name := range c.byComponent {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
