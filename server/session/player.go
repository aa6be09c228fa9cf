package session

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dm-vev/chunkstream/server/entity"
	"github.com/dm-vev/chunkstream/server/world"
	"github.com/go-gl/mathgl/mgl64"
)

// InvalidMovementReason is the disconnect reason for clients that send a
// position that is not a number.
const InvalidMovementReason = "multiplayer.disconnect.invalid_player_movement"

// ErrInvalidMovement is returned by HandleMove for positions or rotations
// that are not finite.
var ErrInvalidMovement = errors.New("session: invalid player movement")

// TeleportRequest is a teleport of the viewer that was not yet acknowledged
// by the client.
type TeleportRequest struct {
	// ID is the id returned by Sink.SendPlayerPosition. It is only valid once
	// Sent is true.
	ID       int32
	Sent     bool
	Position mgl64.Vec3
	Rotation mgl64.Vec2
}

type teleportResult struct {
	id  int32
	err error
}

// Teleport moves the viewer to pos with the yaw and pitch in rot. It blocks
// until the teleport was sent and returns its id. Client movement is ignored
// until the teleport is acknowledged through AcknowledgeTeleport.
func (s *Session) Teleport(ctx context.Context, pos mgl64.Vec3, rot mgl64.Vec2) (int32, error) {
	res, err := s.requestTeleport(pos, rot)
	if err != nil {
		return 0, err
	}
	select {
	case r := <-res:
		return r.id, r.err
	case <-s.done:
		return 0, ErrSessionClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// requestTeleport records a new pending teleport, superseding any previous
// one, and queues it.
func (s *Session) requestTeleport(pos mgl64.Vec3, rot mgl64.Vec2) (<-chan teleportResult, error) {
	if !entity.ValidPosition(pos) {
		return nil, fmt.Errorf("teleport to %v: %w", pos, entity.ErrInvalidPosition)
	}
	s.teleportMu.Lock()
	defer s.teleportMu.Unlock()

	req := &TeleportRequest{Position: pos, Rotation: rot}
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.pending, s.early = req, nil
	s.mu.Unlock()

	res := make(chan teleportResult, 1)
	err := s.enqueue(dispatch{name: "SendPlayerPosition", call: func(ctx context.Context) error {
		id, err := s.sink.SendPlayerPosition(ctx, s.handle, pos, rot)
		if err == nil {
			confirmed := false
			s.mu.Lock()
			if s.pending == req {
				req.ID, req.Sent = id, true
				confirmed = s.early != nil && *s.early == id && s.confirm(req)
			}
			s.mu.Unlock()
			if confirmed {
				// The writer must not block on its own outbox.
				go s.moved(req.Position, req.Rotation, false)
			}
		}
		res <- teleportResult{id: id, err: err}
		return err
	}})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// PendingTeleport returns the teleport the viewer has not yet acknowledged.
func (s *Session) PendingTeleport() (TeleportRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return TeleportRequest{}, false
	}
	return *s.pending, true
}

// AcknowledgeTeleport handles the client acknowledging the teleport with the
// id passed. Acknowledgements of any teleport but the latest are ignored and
// false is returned. Acknowledging the latest teleport makes its position the
// authoritative position of the viewer. An acknowledgement that arrives
// before the teleport finished sending is remembered and applied once it has.
func (s *Session) AcknowledgeTeleport(id int32) bool {
	s.mu.Lock()
	req := s.pending
	if req != nil && !req.Sent {
		s.early = &id
	}
	if req == nil || !req.Sent || req.ID != id {
		s.mu.Unlock()
		return false
	}
	s.confirm(req)
	s.mu.Unlock()

	s.moved(req.Position, req.Rotation, false)
	return true
}

// confirm makes req the authoritative position. s.mu must be held.
func (s *Session) confirm(req *TeleportRequest) bool {
	s.pending, s.early = nil, nil
	s.pos, s.rot = req.Position, req.Rotation
	return true
}

// HandleMove handles a movement reported by the client. Movement is ignored
// while a teleport is pending. A position that is not finite disconnects the
// viewer, a move that is too far is corrected with a teleport back and a
// viewer falling into the void is teleported up.
func (s *Session) HandleMove(pos mgl64.Vec3, rot mgl64.Vec2, onGround bool) error {
	if !finite(pos[0], pos[1], pos[2], rot[0], rot[1]) {
		_ = s.Close(InvalidMovementReason)
		return fmt.Errorf("move to %v: %w", pos, ErrInvalidMovement)
	}
	conf := s.sync.conf

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.pending != nil {
		s.mu.Unlock()
		return nil
	}
	prev, prevRot := s.pos, s.rot
	switch {
	case pos.Sub(prev).Len() > conf.MaxMoveDistance || !entity.ValidPosition(pos):
		s.mu.Unlock()
		s.log.Debug("correct player movement", "from", prev, "to", pos)
		_, err := s.requestTeleport(prev, prevRot)
		return err
	case pos[1] < conf.VoidY:
		s.mu.Unlock()
		_, err := s.requestTeleport(mgl64.Vec3{pos[0], conf.RespawnY, pos[2]}, rot)
		return err
	}
	s.pos, s.rot, s.onGround = pos, rot, onGround
	s.mu.Unlock()

	s.moved(pos, rot, onGround)
	return nil
}

// moved updates the entity of the viewer and its chunk loader to a new
// authoritative position.
func (s *Session) moved(pos mgl64.Vec3, rot mgl64.Vec2, onGround bool) {
	if err := s.sync.registry.UpdatePosition(s.selfID, pos, entity.RotationFromDegrees(rot[0], rot[1]), onGround); err != nil {
		s.log.Debug("update player entity: " + err.Error())
	}
	if s.loader != nil {
		s.loader.Move(world.ChunkPosFromVec3(pos))
	}
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
