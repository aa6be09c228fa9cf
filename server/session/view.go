package session

import (
	"context"
	"slices"

	"github.com/dm-vev/chunkstream/server/entity"
	"github.com/go-gl/mathgl/mgl64"
)

// syncEntities computes the updates that bring the viewer in line with the
// snapshot passed and queues them as one batch. ids holds the ids of the
// snapshot in ascending order.
//
// Removals are sent first, so that an id that was freed and reused within
// one tick is removed before the new entity is introduced.
func (s *Session) syncEntities(snap *entity.Snapshot, ids []int32) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	removed := s.pendingRemoves
	s.pendingRemoves = nil
	for el := s.known.Front(); el != nil; el = el.Next() {
		st, ok := snap.Get(el.Key)
		if !ok || !s.visible(st.Position) {
			removed = append(removed, el.Key)
		}
	}
	for _, id := range removed {
		s.known.Delete(id)
	}

	var batch []dispatch
	if len(removed) > 0 {
		batch = append(batch, s.removeEntities(slices.Clone(removed)))
	}
	for _, id := range ids {
		if id == s.selfID {
			continue
		}
		st, _ := snap.Get(id)
		if !s.visible(st.Position) {
			continue
		}
		v, ok := s.known.Get(id)
		if !ok {
			v = &EntityView{}
			s.known.Set(id, v)
			batch = append(batch, s.teleportEntity(v, st))
			continue
		}
		if v.Revision == st.Revision {
			continue
		}
		if d, ok := s.updateEntity(v, st); ok {
			batch = append(batch, d)
		}
	}
	s.mu.Unlock()
	return s.enqueue(batch...)
}

// visible checks if an entity at pos is within the horizontal entity range
// of the viewer.
func (s *Session) visible(pos mgl64.Vec3) bool {
	dx, dz := pos[0]-s.pos[0], pos[2]-s.pos[2]
	return dx*dx+dz*dz <= s.rng*s.rng
}

// updateEntity updates the view of a known entity to st. It returns false if
// nothing has to be sent, for example when only the velocity changed.
func (s *Session) updateEntity(v *EntityView, st entity.State) (dispatch, bool) {
	if st.TeleportSeq != v.teleportSeq {
		return s.teleportEntity(v, st), true
	}
	diff := toFixed(st.Position).sub(v.base)
	if !diff.fits() {
		return s.teleportEntity(v, st), true
	}
	delta := assertDelta(diff)
	rotated := st.Rotation != v.Rotation
	v.Revision = st.Revision
	if delta.Zero() && !rotated && st.OnGround == v.OnGround {
		return dispatch{}, false
	}
	v.base = v.base.add(delta)
	v.Position = mgl64.Vec3{float64(v.base[0]) / DeltaScale, float64(v.base[1]) / DeltaScale, float64(v.base[2]) / DeltaScale}
	v.Rotation, v.OnGround = st.Rotation, st.OnGround

	id, onGround, rot := st.ID, st.OnGround, st.Rotation
	if rotated {
		return dispatch{name: "ViewMoveEntityAndRotate", call: func(ctx context.Context) error {
			return s.sink.ViewMoveEntityAndRotate(ctx, s.handle, id, delta, rot, onGround)
		}}, true
	}
	return dispatch{name: "ViewMoveEntity", call: func(ctx context.Context) error {
		return s.sink.ViewMoveEntity(ctx, s.handle, id, delta, onGround)
	}}, true
}

// teleportEntity resets the view of an entity to the exact state st under a
// new correlation id.
func (s *Session) teleportEntity(v *EntityView, st entity.State) dispatch {
	s.correlation++
	*v = EntityView{
		Position:    st.Position,
		Rotation:    st.Rotation,
		OnGround:    st.OnGround,
		Revision:    st.Revision,
		TeleportID:  s.correlation,
		base:        toFixed(st.Position),
		teleportSeq: st.TeleportSeq,
	}
	id, pos, rot, onGround := st.ID, st.Position, st.Rotation, st.OnGround
	return dispatch{name: "ViewTeleportEntity", call: func(ctx context.Context) error {
		return s.sink.ViewTeleportEntity(ctx, s.handle, id, pos, rot, onGround)
	}}
}

func (s *Session) removeEntities(ids []int32) dispatch {
	return dispatch{name: "ViewRemoveEntities", call: func(ctx context.Context) error {
		return s.sink.ViewRemoveEntities(ctx, s.handle, ids)
	}}
}

// forget drops an entity that was removed from the registry from the view.
// The viewer is told at the next tick.
func (s *Session) forget(id int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.known.Get(id); ok {
		s.known.Delete(id)
		s.pendingRemoves = append(s.pendingRemoves, id)
	}
}
