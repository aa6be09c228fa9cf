package server

import (
	"context"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	tpsSampleSize       = 20
	tpsWarningThreshold = 19.0
	// chunkLoadInterval is the amount of ticks between two chunk loading
	// passes over all viewers.
	chunkLoadInterval = 8
)

// tickLoop ticks the Server TickRate times every second until ctx is
// cancelled or the Server is closed, measuring the TPS it manages to reach.
func (srv *Server) tickLoop(ctx context.Context) {
	tc := time.NewTicker(time.Second / time.Duration(srv.conf.TickRate))
	defer tc.Stop()
	lastTick := time.Now()
	var (
		durationSum time.Duration
		ticksCount  int
		warned      bool
	)
	for {
		select {
		case <-tc.C:
			tickStart := time.Now()
			duration := tickStart.Sub(lastTick)
			lastTick = tickStart
			if duration > 0 {
				durationSum += duration
				ticksCount++
				if ticksCount >= tpsSampleSize {
					avg := durationSum / time.Duration(ticksCount)
					tps := 1.0 / avg.Seconds()
					srv.tps.Store(math.Float64bits(tps))
					if threshold := tpsWarningThreshold * float64(srv.conf.TickRate) / 20; tps < threshold {
						if !warned {
							srv.conf.Log.Warn("TPS dropped below threshold.", "tps", tps)
							warned = true
						}
					} else {
						warned = false
					}
					durationSum, ticksCount = 0, 0
				}
			}
			srv.doTick(ctx)
		case <-ctx.Done():
			return
		case <-srv.closing:
			return
		}
	}
}

// doTick moves entities that have a velocity and sends every viewer the
// changes to the entities it sees. Every chunkLoadInterval ticks, a chunk
// loading pass is started unless the previous one is still running.
func (srv *Server) doTick(ctx context.Context) {
	tick := srv.tick.Add(1)
	srv.tickEntities()
	if err := srv.sync.Tick(ctx); err != nil && ctx.Err() == nil {
		srv.conf.Log.Error("synchronise entities: "+err.Error(), "tick", tick)
	}
	if tick%chunkLoadInterval == 0 && srv.loading.CompareAndSwap(false, true) {
		srv.running.Add(1)
		go srv.loadChunks(ctx)
	}
}

// tickEntities advances every entity that has a velocity by that velocity.
// Velocities are expressed in blocks per tick.
func (srv *Server) tickEntities() {
	reg := srv.Registry()
	snap := reg.Snapshot()
	for _, id := range snap.IDs() {
		state, _ := snap.Get(id)
		if !state.HasVelocity || state.Velocity == (mgl64.Vec3{}) {
			continue
		}
		if err := reg.UpdatePosition(id, state.Position.Add(state.Velocity), state.Rotation, state.OnGround); err != nil {
			// The entity was removed after the snapshot or left the valid
			// range of positions.
			srv.conf.Log.Debug("tick entity: "+err.Error(), "entity", id)
		}
	}
}

// loadChunks loads up to ChunksPerLoad chunks for every viewer.
func (srv *Server) loadChunks(ctx context.Context) {
	defer srv.running.Done()
	defer srv.loading.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-srv.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	if _, err := srv.sync.LoadChunks(ctx, srv.conf.ChunksPerLoad); err != nil && ctx.Err() == nil {
		srv.conf.Log.Error("load chunks: " + err.Error())
	}
}
