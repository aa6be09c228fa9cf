package server

import (
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dm-vev/chunkstream/server/entity"
	"github.com/dm-vev/chunkstream/server/session"
	"github.com/dm-vev/chunkstream/server/world"
)

// Server implements a chunk streaming server. It owns the chunk store, the
// entity registry and the synchronizer that keeps the viewers connected
// through its listeners up to date.
type Server struct {
	conf Config

	store   *world.Store
	sync    *session.Synchronizer
	metrics *world.Metrics

	started   atomic.Pointer[time.Time]
	tps       atomic.Uint64
	tick      atomic.Int64
	loading   atomic.Bool
	listening atomic.Bool

	listenMu  sync.Mutex
	listeners []Listener

	once    sync.Once
	closing chan struct{}
	running sync.WaitGroup
}

// Listen starts the listeners created from Config.Listeners. Each of them
// serves viewers in the background until the Server is closed. Listen may
// only be called once.
func (srv *Server) Listen() error {
	if !srv.listening.CompareAndSwap(false, true) {
		return errors.New("server: Listen called twice")
	}
	var errs []error
	for _, lf := range srv.conf.Listeners {
		l, err := lf(srv.conf, srv.sync)
		if err != nil {
			srv.conf.Log.Error("create listener: " + err.Error())
			errs = append(errs, err)
			continue
		}
		if l == nil {
			srv.conf.Log.Error("create listener: returned nil listener")
			continue
		}
		srv.listenMu.Lock()
		srv.listeners = append(srv.listeners, l)
		srv.listenMu.Unlock()

		srv.running.Add(1)
		go srv.serve(l)
	}
	return errors.Join(errs...)
}

// serve runs l until it is closed.
func (srv *Server) serve(l Listener) {
	defer srv.running.Done()
	if err := l.Serve(); err != nil {
		select {
		case <-srv.closing:
		default:
			srv.conf.Log.Error("serve listener: "+err.Error(), "addr", l.Addr())
		}
	}
}

// Run ticks the Server until ctx is cancelled or the Server is closed.
// Every tick synchronises entity views, and chunks are loaded for viewers
// every 8 ticks.
func (srv *Server) Run(ctx context.Context) error {
	now := time.Now()
	if !srv.started.CompareAndSwap(nil, &now) {
		return errors.New("server: Run called twice")
	}
	select {
	case <-srv.closing:
		return errors.New("server: Run called after Close")
	default:
	}
	srv.running.Add(1)
	defer srv.running.Done()

	srv.conf.Log.Info("Server running.", "name", srv.conf.Name, "tick_rate", srv.conf.TickRate)
	srv.tickLoop(ctx)
	return nil
}

// Close closes the Server. Listeners stop accepting viewers, every viewer is
// disconnected and modified chunks are saved to the world provider.
func (srv *Server) Close() error {
	var err error
	srv.once.Do(func() {
		close(srv.closing)

		srv.listenMu.Lock()
		for _, l := range srv.listeners {
			if cerr := l.Close(); cerr != nil {
				srv.conf.Log.Error("close listener: " + cerr.Error())
			}
		}
		srv.listenMu.Unlock()
		srv.running.Wait()

		srv.conf.Log.Debug("Disconnecting sessions...")
		err = srv.sync.Close()

		srv.conf.Log.Debug("Closing chunk store...")
		err = errors.Join(err, srv.store.Close())
	})
	return err
}

// Name returns the name of the Server.
func (srv *Server) Name() string {
	return srv.conf.Name
}

// Store returns the chunk store of the Server.
func (srv *Server) Store() *world.Store {
	return srv.store
}

// Synchronizer returns the synchronizer the sessions of the Server are
// connected to.
func (srv *Server) Synchronizer() *session.Synchronizer {
	return srv.sync
}

// Registry returns the entity registry of the Server.
func (srv *Server) Registry() *entity.Registry {
	return srv.sync.Registry()
}

// Metrics returns the chunk store counters of the Server.
func (srv *Server) Metrics() world.MetricsSnapshot {
	return srv.metrics.Snapshot()
}

// PlayerCount returns the current player count of the server. It is
// equivalent to calling len(srv.Sessions()).
func (srv *Server) PlayerCount() int {
	return srv.sync.Len()
}

// MaxPlayerCount returns the maximum amount of players that are reported to
// clients. If no maximum is set, the current count plus one is returned.
func (srv *Server) MaxPlayerCount() int {
	if srv.conf.MaxPlayers == 0 {
		return srv.PlayerCount() + 1
	}
	return srv.conf.MaxPlayers
}

// Sessions returns the sessions of all connected viewers sorted by name.
func (srv *Server) Sessions() []*session.Session {
	sessions := srv.sync.Sessions()
	slices.SortFunc(sessions, func(a, b *session.Session) int {
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})
	return sessions
}

// TPS returns the ticks per second measured over the last 20 ticks. It is 0
// until the Server has ticked 20 times.
func (srv *Server) TPS() float64 {
	return math.Float64frombits(srv.tps.Load())
}

// CurrentTick returns the amount of ticks the Server performed.
func (srv *Server) CurrentTick() int64 {
	return srv.tick.Load()
}

// Uptime returns the time since Run was called.
func (srv *Server) Uptime() time.Duration {
	started := srv.started.Load()
	if started == nil {
		return 0
	}
	return time.Since(*started)
}
