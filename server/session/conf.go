package session

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/dm-vev/chunkstream/server/entity"
	"github.com/dm-vev/chunkstream/server/world"
	"github.com/google/uuid"
)

// Config holds the settings of a Synchronizer. The zero value is usable:
// every unset field is replaced by its default in New.
type Config struct {
	// Log is the Logger used by the Synchronizer and its sessions. If nil,
	// slog.Default() is used.
	Log *slog.Logger
	// Registry is the Registry entity views are computed from. A new one is
	// created if nil.
	Registry *entity.Registry
	// Store is the Store chunks are loaded from for the sessions. If nil,
	// sessions do not load chunks.
	Store *world.Store
	// ChunkRadius is the default chunk radius of a session. Radii requested
	// through Options are capped at MaxChunkRadius.
	ChunkRadius, MaxChunkRadius int
	// ChunkLoadRate is the maximum amount of chunks a single session loads
	// per second. Zero or less does not limit loading.
	ChunkLoadRate float64
	// EntityRange is the default horizontal distance in blocks within which
	// entities are visible to a session.
	EntityRange float64
	// DispatchTimeout bounds every Sink call and the time a full outbox may
	// block a tick.
	DispatchTimeout time.Duration
	// MaxDispatchFailures is the amount of consecutive failed Sink calls
	// after which a session is closed.
	MaxDispatchFailures int
	// OutboxSize is the amount of update batches a session may have queued
	// before dispatching blocks.
	OutboxSize int
	// Parallelism is the maximum amount of sessions updated concurrently
	// during a tick.
	Parallelism int
	// MaxMoveDistance is the largest distance a client may move its player
	// in one movement without being corrected.
	MaxMoveDistance float64
	// VoidY is the height below which a player is teleported back up to
	// RespawnY.
	VoidY, RespawnY float64
}

// New creates a Synchronizer using the settings of the Config and registers
// it as remove listener of the Registry.
func (conf Config) New() *Synchronizer {
	conf = conf.withDefaults()
	sy := &Synchronizer{
		conf:     conf,
		log:      conf.Log,
		registry: conf.Registry,
		sessions: make(map[uuid.UUID]*Session),
	}
	conf.Registry.AddRemoveListener(sy)
	return sy
}

func (conf Config) withDefaults() Config {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Registry == nil {
		conf.Registry = entity.NewRegistry()
	}
	if conf.ChunkRadius <= 0 {
		conf.ChunkRadius = 8
	}
	if conf.MaxChunkRadius < conf.ChunkRadius {
		conf.MaxChunkRadius = max(conf.ChunkRadius, 32)
	}
	if conf.EntityRange <= 0 {
		conf.EntityRange = 64
	}
	if conf.DispatchTimeout <= 0 {
		conf.DispatchTimeout = time.Second * 5
	}
	if conf.MaxDispatchFailures <= 0 {
		conf.MaxDispatchFailures = 3
	}
	if conf.OutboxSize <= 0 {
		conf.OutboxSize = 64
	}
	if conf.Parallelism <= 0 {
		conf.Parallelism = runtime.NumCPU()
	}
	if conf.MaxMoveDistance <= 0 {
		conf.MaxMoveDistance = 100
	}
	if conf.VoidY == 0 {
		conf.VoidY = -100
	}
	if conf.RespawnY == 0 {
		conf.RespawnY = 100
	}
	return conf
}
