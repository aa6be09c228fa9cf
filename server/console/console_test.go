package console

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"testing"

	"github.com/dm-vev/chunkstream/server"
	"github.com/dm-vev/chunkstream/server/session"
	"github.com/dm-vev/chunkstream/server/world"
	"github.com/go-gl/mathgl/mgl64"
)

func newTestConsole(t *testing.T) (*Console, *server.Server, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(buf, nil))
	srv := server.Config{Log: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))}.New()
	t.Cleanup(func() { _ = srv.Close() })
	return New(srv, log, func() {}), srv, buf
}

func TestSummonAndRemove(t *testing.T) {
	c, srv, _ := newTestConsole(t)
	if err := c.Exec("/summon 1 64 1 0.5 0 0"); err != nil {
		t.Fatalf("summon: %v", err)
	}
	ids := srv.Registry().Snapshot().IDs()
	if len(ids) != 1 {
		t.Fatalf("expected one entity, got %d", len(ids))
	}
	state, _ := srv.Registry().Get(ids[0])
	if state.Position != (mgl64.Vec3{1, 64, 1}) || !state.HasVelocity || state.Velocity != (mgl64.Vec3{0.5, 0, 0}) {
		t.Fatalf("unexpected entity state %+v", state)
	}
	if err := c.Exec("remove " + strconv.Itoa(int(ids[0]))); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if srv.Registry().Len() != 0 {
		t.Fatal("expected entity to be removed")
	}
}

func TestExecReportsErrors(t *testing.T) {
	c, _, _ := newTestConsole(t)
	if err := c.Exec("fly"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if err := c.Exec("summon 1 2"); err == nil || !strings.HasPrefix(err.Error(), "usage: summon") {
		t.Fatalf("expected usage of summon, got %v", err)
	}
	if err := c.Exec("tp nobody 0 64 0"); err == nil {
		t.Fatal("expected teleport of unknown viewer to fail")
	}
	if err := c.Exec("setblock 0 1000 0 1"); !errors.Is(err, world.ErrBlockOutOfRange) {
		t.Fatalf("expected ErrBlockOutOfRange, got %v", err)
	}
}

func TestSetBlock(t *testing.T) {
	c, srv, _ := newTestConsole(t)
	if err := c.Exec("setblock 17 70 -3 42"); err != nil {
		t.Fatalf("setblock: %v", err)
	}
	ch, ok := srv.Store().Chunk(world.ChunkPos{1, -1})
	if !ok {
		t.Fatal("expected chunk to be loaded")
	}
	if id := ch.Block(1, 70, 13); id != 42 {
		t.Fatalf("expected block 42, got %d", id)
	}
}

func TestTeleportAndKick(t *testing.T) {
	c, srv, _ := newTestConsole(t)
	s, err := srv.Synchronizer().Connect(1, &session.NopSink{}, session.Options{Name: "Steve", Position: mgl64.Vec3{0, 64, 0}})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Exec("tp steve 10 80 10"); err != nil {
		t.Fatalf("tp: %v", err)
	}
	req, ok := s.PendingTeleport()
	if !ok || req.Position != (mgl64.Vec3{10, 80, 10}) {
		t.Fatalf("expected pending teleport to (10, 80, 10), got %+v", req)
	}
	if err := c.Exec("kick Steve griefing"); err != nil {
		t.Fatalf("kick: %v", err)
	}
	if !s.Closed() || srv.PlayerCount() != 0 {
		t.Fatal("expected viewer to be kicked")
	}
}

func TestRunExecutesLines(t *testing.T) {
	c, _, buf := newTestConsole(t)
	stopped := false
	c.stopFunc = func() { stopped = true }
	c.WithReader(strings.NewReader("status\n\nlist\nstop\n"))
	c.Run(context.Background())

	if !stopped {
		t.Fatal("expected stop command to stop the server")
	}
	out := buf.String()
	for _, want := range []string{"Server status.", "0 viewer(s) online", "Stopping server..."} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got %q", want, out)
		}
	}
}
