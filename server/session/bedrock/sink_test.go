package bedrock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dm-vev/chunkstream/server/entity"
	"github.com/dm-vev/chunkstream/server/item"
	"github.com/dm-vev/chunkstream/server/session"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

type fakeConn struct {
	packets []packet.Packet
}

func (c *fakeConn) WritePacket(pk packet.Packet) error {
	c.packets = append(c.packets, pk)
	return nil
}

func newTestSink() (*Sink, *fakeConn) {
	s := NewSink(slog.New(slog.NewTextHandler(io.Discard, nil)))
	conn := &fakeConn{}
	s.Add(1, conn, 99)
	return s, conn
}

func TestSinkTranslatesMoves(t *testing.T) {
	s, conn := newTestSink()
	ctx := context.Background()

	if err := s.ViewTeleportEntity(ctx, 1, 5, mgl64.Vec3{10, 64, 10}, entity.Rotation{}, true); err != nil {
		t.Fatalf("teleport: %v", err)
	}
	delta := session.Delta{session.DeltaScale, 0, -session.DeltaScale / 2}
	if err := s.ViewMoveEntity(ctx, 1, 5, delta, false); err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(conn.packets) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(conn.packets))
	}
	abs, ok := conn.packets[0].(*packet.MoveActorAbsolute)
	if !ok || abs.Flags&packet.MoveFlagTeleport == 0 || abs.Flags&packet.MoveFlagOnGround == 0 {
		t.Fatalf("expected teleporting MoveActorAbsolute on ground, got %#v", conn.packets[0])
	}
	pk, ok := conn.packets[1].(*packet.MoveActorDelta)
	if !ok {
		t.Fatalf("expected MoveActorDelta, got %T", conn.packets[1])
	}
	if pk.EntityRuntimeID != 5 || pk.Position != (mgl32.Vec3{11, 64, 9.5}) {
		t.Fatalf("expected entity 5 at (11, 64, 9.5), got %d at %v", pk.EntityRuntimeID, pk.Position)
	}
	if pk.Flags&packet.MoveActorDeltaFlagHasY != 0 || pk.Flags&packet.MoveActorDeltaFlagHasX == 0 || pk.Flags&packet.MoveActorDeltaFlagHasZ == 0 {
		t.Fatalf("expected only X and Z flags, got %b", pk.Flags)
	}
}

func TestSinkRejectsMoveOfUnknownEntity(t *testing.T) {
	s, _ := newTestSink()
	if err := s.ViewMoveEntity(context.Background(), 1, 5, session.Delta{}, false); !errors.Is(err, errUnknownEntity) {
		t.Fatalf("expected errUnknownEntity, got %v", err)
	}
	if err := s.SendDisconnect(context.Background(), 2, "bye"); !errors.Is(err, errUnknownHandle) {
		t.Fatalf("expected errUnknownHandle, got %v", err)
	}
}

func TestSinkPlayerAndInventory(t *testing.T) {
	s, conn := newTestSink()
	ctx := context.Background()

	first, _ := s.SendPlayerPosition(ctx, 1, mgl64.Vec3{0, 100, 0}, mgl64.Vec2{90, 0})
	second, _ := s.SendPlayerPosition(ctx, 1, mgl64.Vec3{0, 100, 0}, mgl64.Vec2{90, 0})
	if second != first+1 {
		t.Fatalf("expected increasing teleport ids, got %d and %d", first, second)
	}
	mp := conn.packets[0].(*packet.MovePlayer)
	if mp.EntityRuntimeID != 99 || mp.Mode != packet.MoveModeTeleport || mp.Yaw != 90 {
		t.Fatalf("unexpected MovePlayer %#v", mp)
	}

	_ = s.SendInventorySlot(ctx, 1, 3, item.NewStack(7, 12))
	slot := conn.packets[2].(*packet.InventorySlot)
	if slot.Slot != 3 || slot.NewItem.Stack.NetworkID != 7 || slot.NewItem.Stack.Count != 12 {
		t.Fatalf("unexpected InventorySlot %#v", slot)
	}

	_ = s.ViewRemoveEntities(ctx, 1, []int32{4, 6})
	if rm := conn.packets[4].(*packet.RemoveActor); rm.EntityUniqueID != 6 {
		t.Fatalf("expected removal of entity 6, got %d", rm.EntityUniqueID)
	}
}

func TestSinkRespectsCancelledContext(t *testing.T) {
	s, conn := newTestSink()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.SendDisconnect(ctx, 1, "bye"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(conn.packets) != 0 {
		t.Fatal("expected no packets to be written")
	}
}

func TestHandledTeleportsAreFIFO(t *testing.T) {
	s, _ := newTestSink()
	ctx := context.Background()
	a, _ := s.SendPlayerPosition(ctx, 1, mgl64.Vec3{}, mgl64.Vec2{})
	b, _ := s.SendPlayerPosition(ctx, 1, mgl64.Vec3{}, mgl64.Vec2{})

	for _, want := range []int32{a, b} {
		if got, ok := s.HandledTeleport(1); !ok || got != want {
			t.Fatalf("expected handled teleport %d, got %d (%v)", want, got, ok)
		}
	}
	if _, ok := s.HandledTeleport(1); ok {
		t.Fatal("expected no outstanding teleports")
	}
}

func TestListenerAppliesClientMovement(t *testing.T) {
	sy := session.Config{Log: slog.New(slog.NewTextHandler(io.Discard, nil))}.New()
	defer sy.Close()
	sink, _ := newTestSink()
	l := &Listener{sync: sy, sink: sink}

	s, err := sy.Connect(1, sink, session.Options{Position: mgl64.Vec3{0, 64, 0}})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, ok := s.PendingTeleport(); !ok {
		t.Fatal("expected spawn teleport to be pending")
	}

	_ = l.handlePacket(s, 1, &packet.MovePlayer{Position: mgl32.Vec3{0, 64 + eyeHeight, 0}})
	if _, ok := s.PendingTeleport(); ok {
		t.Fatal("expected moving to the spawn position to acknowledge the teleport")
	}
	_ = l.handlePacket(s, 1, &packet.MovePlayer{Position: mgl32.Vec3{2, 64 + eyeHeight, 0}, OnGround: true})
	if pos := s.Position(); !pos.ApproxEqualThreshold(mgl64.Vec3{2, 64, 0}, 1e-4) {
		t.Fatalf("expected player at (2, 64, 0), got %v", pos)
	}
}
