// Package entity holds the authoritative state of every entity. It is the
// source that viewer sessions diff against to decide what to send.
package entity

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	// ErrInvalidID is returned for entity ids of zero or less.
	ErrInvalidID = errors.New("entity: invalid id")
	// ErrInvalidPosition is returned for positions that are not finite or
	// exceed MaxCoordinate.
	ErrInvalidPosition = errors.New("entity: invalid position")
	// ErrUnknownEntity is returned for ids not present in the Registry.
	ErrUnknownEntity = errors.New("entity: unknown entity")
	// ErrEntityExists is returned by Add for an id that is already used.
	ErrEntityExists = errors.New("entity: entity already exists")
)

// RemoveListener is notified of entities being removed from a Registry. It
// is called synchronously after the entity was marked removed and before it
// is freed, so that no listener keeps referencing it afterwards.
type RemoveListener interface {
	HandleEntityRemove(id int32)
}

// Registry holds the State of every entity. All methods are safe for
// concurrent use. Invalid input is rejected before anything is changed.
type Registry struct {
	nextID atomic.Int32

	mu       sync.RWMutex
	entities map[int32]State
	// removing holds entities that were removed but whose listeners are still
	// being notified. Their ids cannot be reused until they are freed.
	removing  map[int32]struct{}
	revision  uint64
	listeners []RemoveListener
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[int32]State),
		removing: make(map[int32]struct{}),
	}
}

// AddRemoveListener registers l to be notified of removed entities.
func (r *Registry) AddRemoveListener(l RemoveListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Spawn adds a new entity with a newly allocated id and returns that id.
func (r *Registry) Spawn(pos mgl64.Vec3, rot Rotation, onGround bool) (int32, error) {
	if !ValidPosition(pos) {
		return 0, fmt.Errorf("spawn entity at %v: %w", pos, ErrInvalidPosition)
	}
	for {
		id := r.nextID.Add(1)
		if err := r.Add(id, pos, rot, onGround); !errors.Is(err, ErrEntityExists) {
			return id, err
		}
		// The id was taken through Add: try the next one.
	}
}

// Add adds an entity with an id chosen by the caller, typically the entity
// of a connected player.
func (r *Registry) Add(id int32, pos mgl64.Vec3, rot Rotation, onGround bool) error {
	if id <= 0 {
		return fmt.Errorf("add entity %d: %w", id, ErrInvalidID)
	}
	if !ValidPosition(pos) {
		return fmt.Errorf("add entity %d at %v: %w", id, pos, ErrInvalidPosition)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[id]; ok {
		return fmt.Errorf("add entity %d: %w", id, ErrEntityExists)
	}
	if _, ok := r.removing[id]; ok {
		return fmt.Errorf("add entity %d: %w", id, ErrEntityExists)
	}
	r.revision++
	r.entities[id] = State{ID: id, Position: pos, Rotation: rot, OnGround: onGround, Revision: r.revision}
	return nil
}

// UpdatePosition sets the position, rotation and on-ground flag of an
// entity. The revision only changes if one of them differs from the stored
// state.
func (r *Registry) UpdatePosition(id int32, pos mgl64.Vec3, rot Rotation, onGround bool) error {
	if id <= 0 {
		return fmt.Errorf("update entity %d: %w", id, ErrInvalidID)
	}
	if !ValidPosition(pos) {
		return fmt.Errorf("update entity %d to %v: %w", id, pos, ErrInvalidPosition)
	}
	return r.mutate(id, func(s *State) bool {
		if s.Position == pos && s.Rotation == rot && s.OnGround == onGround {
			return false
		}
		s.Position, s.Rotation, s.OnGround = pos, rot, onGround
		return true
	})
}

// SetVelocity sets the velocity of an entity.
func (r *Registry) SetVelocity(id int32, vel mgl64.Vec3) error {
	if !ValidPosition(vel) {
		return fmt.Errorf("set velocity of entity %d to %v: %w", id, vel, ErrInvalidPosition)
	}
	return r.mutate(id, func(s *State) bool {
		if s.HasVelocity && s.Velocity == vel {
			return false
		}
		s.Velocity, s.HasVelocity = vel, true
		return true
	})
}

// Teleport moves an entity to pos and forces every viewer to resynchronise
// it with an absolute position, even if the distance moved is small.
func (r *Registry) Teleport(id int32, pos mgl64.Vec3, rot Rotation) error {
	if !ValidPosition(pos) {
		return fmt.Errorf("teleport entity %d to %v: %w", id, pos, ErrInvalidPosition)
	}
	return r.mutate(id, func(s *State) bool {
		s.Position, s.Rotation = pos, rot
		s.TeleportSeq++
		return true
	})
}

// mutate applies f to a copy of the entity's state and stores the copy if f
// reports a change.
func (r *Registry) mutate(id int32, f func(s *State) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entities[id]
	if !ok {
		return fmt.Errorf("entity %d: %w", id, ErrUnknownEntity)
	}
	if !f(&s) {
		return nil
	}
	r.revision++
	s.Revision = r.revision
	r.entities[id] = s
	return nil
}

// Remove removes an entity. The entity disappears from snapshots first, then
// every RemoveListener is notified, and only then is the id freed.
func (r *Registry) Remove(id int32) error {
	r.mu.Lock()
	if _, ok := r.entities[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("remove entity %d: %w", id, ErrUnknownEntity)
	}
	delete(r.entities, id)
	r.removing[id] = struct{}{}
	r.revision++
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	for _, l := range listeners {
		l.HandleEntityRemove(id)
	}

	r.mu.Lock()
	delete(r.removing, id)
	r.mu.Unlock()
	return nil
}

// Get returns the state of an entity.
func (r *Registry) Get(id int32) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.entities[id]
	return s, ok
}

// Len returns the amount of entities in the Registry.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Snapshot returns an immutable copy of the state of every entity.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Snapshot{revision: r.revision, entities: maps.Clone(r.entities)}
}

// Snapshot is a consistent view of a Registry at one point in time. It is
// never modified after creation and may be shared between goroutines.
type Snapshot struct {
	revision uint64
	entities map[int32]State
}

// Revision returns the revision of the Registry the snapshot was taken at.
func (s *Snapshot) Revision() uint64 {
	return s.revision
}

// Get returns the state of an entity in the snapshot.
func (s *Snapshot) Get(id int32) (State, bool) {
	st, ok := s.entities[id]
	return st, ok
}

// Len returns the amount of entities in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.entities)
}

// IDs returns the ids of all entities in the snapshot in ascending order.
func (s *Snapshot) IDs() []int32 {
	return slices.Sorted(maps.Keys(s.entities))
}

// States returns a copy of the mapping from entity id to state.
func (s *Snapshot) States() map[int32]State {
	return maps.Clone(s.entities)
}
