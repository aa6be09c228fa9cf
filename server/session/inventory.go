package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dm-vev/chunkstream/server/item"
)

// InventorySize is the amount of inventory slots a viewer has.
const InventorySize = 46

// ErrInvalidSlot is returned for inventory slots outside [0, InventorySize).
var ErrInvalidSlot = errors.New("session: invalid inventory slot")

// SetInventorySlot sets the stack in an inventory slot of the viewer. The
// slot is only sent if the stack differs from the one the viewer holds.
func (s *Session) SetInventorySlot(slot int, stack item.Stack) error {
	if slot < 0 || slot >= InventorySize {
		return fmt.Errorf("set slot %d: %w", slot, ErrInvalidSlot)
	}
	s.inventoryMu.Lock()
	defer s.inventoryMu.Unlock()
	if s.inventory[slot].Equal(stack) {
		return nil
	}
	if err := s.enqueue(dispatch{name: "SendInventorySlot", call: func(ctx context.Context) error {
		return s.sink.SendInventorySlot(ctx, s.handle, slot, stack)
	}}); err != nil {
		return err
	}
	s.inventory[slot] = stack
	return nil
}

// InventorySlot returns the stack the viewer holds in a slot.
func (s *Session) InventorySlot(slot int) (item.Stack, error) {
	if slot < 0 || slot >= InventorySize {
		return item.Stack{}, fmt.Errorf("get slot %d: %w", slot, ErrInvalidSlot)
	}
	s.inventoryMu.Lock()
	defer s.inventoryMu.Unlock()
	return s.inventory[slot], nil
}
