// Package naming gives components a stable, human-readable name.
package naming

import (
	"log"
	"strings"
)

// Named describes an object that has a name.
type Named interface {
	// Name returns the name of the object.
	Name() string
}

// NamedBase is a base implementation of Named.
type NamedBase struct {
	name string
}

// Name returns the name of the object.
func (b *NamedBase) Name() string {
	return b.name
}

// MakeNamedBase creates a new NamedBase. Names are dot-separated paths such as
// "VM.FrameTable" and may not be empty or contain whitespace.
func MakeNamedBase(name string) NamedBase {
	NameMustBeValid(name)
	return NamedBase{name: name}
}

// NameMustBeValid panics if the name cannot be used for a component.
func NameMustBeValid(name string) {
	if name == "" {
		log.Panic("name must not be empty")
	}

	if strings.ContainsAny(name, " \t\n") {
		log.Panicf("name %q must not contain whitespace", name)
	}

	for _, token := range strings.Split(name, ".") {
		if token == "" {
			log.Panicf("name %q has an empty segment", name)
		}
	}
}

// Child returns the name of a sub-component of parent.
func Child(parent, child string) string {
	return parent + "." + child
}
