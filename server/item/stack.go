// Package item holds the item stacks sent to viewers. Item definitions live
// outside the engine: a Stack only carries opaque ids.
package item

import (
	"fmt"
	"maps"
)

// Stack is a stack of items in an inventory slot.
type Stack struct {
	// ID is the opaque item id. Zero is the empty item.
	ID    int32
	Count uint8
	// Components holds extra item data such as a custom name. It is never
	// mutated after the stack was created.
	Components map[string]string
}

// NewStack returns a Stack of count items with the id passed.
func NewStack(id int32, count uint8) Stack {
	return Stack{ID: id, Count: count}
}

// WithComponent returns a copy of the stack with component key set to val.
func (s Stack) WithComponent(key, val string) Stack {
	components := maps.Clone(s.Components)
	if components == nil {
		components = make(map[string]string, 1)
	}
	components[key] = val
	s.Components = components
	return s
}

// Empty checks if the stack holds no items.
func (s Stack) Empty() bool {
	return s.ID == 0 || s.Count == 0
}

// Equal checks if two stacks hold the same items. All empty stacks are
// equal.
func (s Stack) Equal(o Stack) bool {
	if s.Empty() || o.Empty() {
		return s.Empty() == o.Empty()
	}
	return s.ID == o.ID && s.Count == o.Count && maps.Equal(s.Components, o.Components)
}

// String ...
func (s Stack) String() string {
	if s.Empty() {
		return "Stack<empty>"
	}
	return fmt.Sprintf("Stack<%d x%d>", s.ID, s.Count)
}
