package server

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/dm-vev/chunkstream/server/session"
	"github.com/dm-vev/chunkstream/server/session/bedrock"
	"github.com/dm-vev/chunkstream/server/world"
	"github.com/dm-vev/chunkstream/server/world/generator"
	"github.com/dm-vev/chunkstream/server/world/mcdb"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/sandertv/gophertunnel/minecraft"
)

// Listener is a source of viewers that connect to the Server. Serve blocks
// until the Listener is closed.
type Listener interface {
	Serve() error
	Close() error
	Addr() net.Addr
}

// Config contains options for starting a chunk streaming server.
type Config struct {
	// Log is the Logger to use for logging information. If nil, Log is set to
	// slog.Default().
	Log *slog.Logger
	// Listeners is a list of functions to create a Listener using a Config
	// and the Synchronizer of the Server, one for each Listener to be added
	// to the Server. If left empty, no viewers will be able to connect.
	Listeners []func(conf Config, sy *session.Synchronizer) (Listener, error)
	// Name is the name of the server. It is shown in the server list and
	// reported to query clients.
	Name string
	// WorldName is the name of the world shown to clients while joining.
	WorldName string
	// MaxPlayers is the player capacity reported to clients. If 0, the
	// amount of online viewers plus one is reported.
	MaxPlayers int
	// Spawn is the position viewers spawn at.
	Spawn mgl64.Vec3
	// WorldProvider is the world.Provider used for storing and loading chunks.
	// If left as nil, chunks are always newly generated.
	WorldProvider world.Provider
	// ReadOnlyWorld specifies if modified chunks should never be saved to the
	// WorldProvider.
	ReadOnlyWorld bool
	// Generator is the world.Generator used for chunks the WorldProvider does
	// not have. If nil, generator.Stub is used.
	Generator world.Generator
	// Seed is passed to the Generator.
	Seed int64
	// GeneratorWorkers and GeneratorQueueSize size the generator pool of the
	// chunk store. Values of 0 or lower are derived from the CPU count.
	GeneratorWorkers, GeneratorQueueSize int
	// EvictionGrace is the time a chunk without viewers stays cached.
	EvictionGrace time.Duration
	// ChunkRadius is the default chunk radius of a viewer and MaxChunkRadius
	// the largest radius a viewer may request.
	ChunkRadius, MaxChunkRadius int
	// ChunkLoadRate is the amount of chunks per second a single viewer loads.
	ChunkLoadRate float64
	// ChunksPerLoad is the amount of chunks every viewer loads at most each
	// time chunks are loaded, which happens every 8 ticks.
	ChunksPerLoad int
	// EntityRange is the horizontal distance in blocks within which entities
	// are visible to a viewer.
	EntityRange float64
	// DispatchTimeout bounds every call made to a view sink.
	DispatchTimeout time.Duration
	// MaxDispatchFailures is the amount of consecutive failed sink calls
	// after which a viewer is disconnected.
	MaxDispatchFailures int
	// TickRate is the amount of ticks per second. Defaults to 20.
	TickRate int
}

// New creates a Server using fields of conf. Its chunk store, entity registry
// and synchronizer are created immediately. Listeners are started by calling
// Server.Listen() and ticking starts with Server.Run().
func (conf Config) New() *Server {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if len(conf.Listeners) == 0 {
		conf.Log.Warn("config: no listeners set, no connections will be accepted")
	}
	if conf.Name == "" {
		conf.Name = "Chunkstream Server"
	}
	if conf.WorldName == "" {
		conf.WorldName = "world"
	}
	if conf.Generator == nil {
		conf.Generator = generator.Stub{}
	}
	if conf.MaxChunkRadius <= 0 {
		conf.MaxChunkRadius = 32
	}
	if conf.ChunkRadius <= 0 {
		conf.ChunkRadius = 8
	}
	conf.ChunkRadius = min(conf.ChunkRadius, conf.MaxChunkRadius)
	if conf.ChunksPerLoad <= 0 {
		conf.ChunksPerLoad = 4
	}
	if conf.TickRate <= 0 {
		conf.TickRate = 20
	}

	srv := &Server{
		conf:    conf,
		metrics: world.NewMetrics(),
		closing: make(chan struct{}),
	}
	srv.store = world.Config{
		Log:                conf.Log,
		Provider:           conf.WorldProvider,
		Generator:          conf.Generator,
		Seed:               conf.Seed,
		ReadOnly:           conf.ReadOnlyWorld,
		GeneratorWorkers:   conf.GeneratorWorkers,
		GeneratorQueueSize: conf.GeneratorQueueSize,
		EvictionGrace:      conf.EvictionGrace,
		Metrics:            srv.metrics,
	}.New()
	srv.sync = session.Config{
		Log:                 conf.Log,
		Store:               srv.store,
		ChunkRadius:         conf.ChunkRadius,
		MaxChunkRadius:      conf.MaxChunkRadius,
		ChunkLoadRate:       conf.ChunkLoadRate,
		EntityRange:         conf.EntityRange,
		DispatchTimeout:     conf.DispatchTimeout,
		MaxDispatchFailures: conf.MaxDispatchFailures,
	}.New()
	registerQueryServer(srv)
	return srv
}

// UserConfig is the user configuration for a chunkstream server. It holds
// settings that affect different aspects of the server, such as its name and
// the world generator. UserConfig may be serialised and can be converted to a
// Config by calling UserConfig.Config().
type UserConfig struct {
	// Network holds settings related to network aspects of the server.
	Network struct {
		// Address is the UDP address on which Bedrock clients may connect.
		// Leave empty to disable the Bedrock listener.
		Address string
		// ViewerAddress is the TCP address on which websocket map viewers may
		// connect. Leave empty to disable the viewer endpoint.
		ViewerAddress string
		// QueryAddress is the UDP address of a standalone query responder.
		// Queries are always answered on Address; this is only needed when
		// the Bedrock listener is disabled.
		QueryAddress string
	}
	Server struct {
		// Name is the name of the server as it shows up in the server list.
		Name string
		// LogLevel is the minimum level of messages logged: "debug", "info",
		// "warn" or "error".
		LogLevel string
		// TickRate is the amount of ticks per second.
		TickRate int
	}
	World struct {
		// Name is the name of the world shown to clients.
		Name string
		// SaveData controls whether chunks will be saved and loaded. If true,
		// the leveldb provider in Folder is used.
		SaveData bool
		// Folder is the folder that the data of the world resides in.
		Folder string
		// Generator is the terrain generator: "stub", "flat", "noise" or
		// "void".
		Generator string
		// Seed is passed to the generator.
		Seed int64
		// GeneratorWorkers is the number of background workers generating
		// chunks. Set to 0 to derive it from the CPU count.
		GeneratorWorkers int
		// GeneratorQueueSize determines how many chunk generation jobs can
		// wait for a worker. Set to 0 to use an automatically chosen size.
		GeneratorQueueSize int
		// EvictionGrace is the time a chunk without viewers stays cached,
		// for example "30s".
		EvictionGrace string
		// Spawn is the position viewers spawn at.
		Spawn struct {
			X, Y, Z float64
		}
	}
	Players struct {
		// MaxCount is the maximum amount of players reported to clients. If
		// set to 0, it grows every time a player joins.
		MaxCount int
		// ChunkRadius is the chunk radius of players that do not request one.
		ChunkRadius int
		// MaximumChunkRadius is the maximum chunk radius that players may
		// request.
		MaximumChunkRadius int
		// ChunkLoadRate is the amount of chunks per second a player loads.
		ChunkLoadRate float64
		// EntityRange is the horizontal distance in blocks within which a
		// player sees entities.
		EntityRange float64
	}
	Sessions struct {
		// DispatchTimeout bounds every update sent to a viewer, for example
		// "5s".
		DispatchTimeout string
		// MaxDispatchFailures is the amount of consecutive failed updates
		// after which a viewer is disconnected.
		MaxDispatchFailures int
	}
}

// Config converts a UserConfig to a Config, so that it may be used for creating
// a Server. An error is returned if creating the world provider failed or a
// setting could not be parsed.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	var err error
	conf := Config{
		Log:                 log,
		Name:                uc.Server.Name,
		WorldName:           uc.World.Name,
		MaxPlayers:          uc.Players.MaxCount,
		Spawn:               mgl64.Vec3{uc.World.Spawn.X, uc.World.Spawn.Y, uc.World.Spawn.Z},
		Seed:                uc.World.Seed,
		GeneratorWorkers:    uc.World.GeneratorWorkers,
		GeneratorQueueSize:  uc.World.GeneratorQueueSize,
		ChunkRadius:         uc.Players.ChunkRadius,
		MaxChunkRadius:      uc.Players.MaximumChunkRadius,
		ChunkLoadRate:       uc.Players.ChunkLoadRate,
		EntityRange:         uc.Players.EntityRange,
		MaxDispatchFailures: uc.Sessions.MaxDispatchFailures,
		TickRate:            uc.Server.TickRate,
	}
	if conf.EvictionGrace, err = parseDuration(uc.World.EvictionGrace); err != nil {
		return conf, fmt.Errorf("parse eviction grace: %w", err)
	}
	if conf.DispatchTimeout, err = parseDuration(uc.Sessions.DispatchTimeout); err != nil {
		return conf, fmt.Errorf("parse dispatch timeout: %w", err)
	}
	if conf.Generator, err = generator.ByName(uc.World.Generator); err != nil {
		return conf, fmt.Errorf("create generator: %w", err)
	}
	if uc.World.SaveData {
		conf.WorldProvider, err = mcdb.Config{Log: log}.Open(uc.World.Folder)
		if err != nil {
			return conf, fmt.Errorf("create world provider: %w", err)
		}
	}
	if uc.Network.Address != "" {
		conf.Listeners = append(conf.Listeners, uc.bedrockListener)
	}
	if uc.Network.ViewerAddress != "" {
		conf.Listeners = append(conf.Listeners, uc.viewerListener)
	}
	if uc.Network.QueryAddress != "" {
		conf.Listeners = append(conf.Listeners, uc.queryListener)
	}
	return conf, nil
}

// bedrockListener creates the Bedrock listener for the address in the
// UserConfig.
func (uc UserConfig) bedrockListener(conf Config, sy *session.Synchronizer) (Listener, error) {
	return bedrock.ListenerConfig{
		Log:            conf.Log,
		Address:        uc.Network.Address,
		WorldName:      conf.WorldName,
		Spawn:          conf.Spawn,
		StatusProvider: statusProvider{name: conf.Name, max: conf.MaxPlayers},
	}.Listen(sy)
}

// viewerListener creates the websocket viewer endpoint for the address in the
// UserConfig.
func (uc UserConfig) viewerListener(conf Config, sy *session.Synchronizer) (Listener, error) {
	return listenViewers(conf, sy, uc.Network.ViewerAddress)
}

// queryListener creates a standalone query responder.
func (uc UserConfig) queryListener(conf Config, _ *session.Synchronizer) (Listener, error) {
	return listenQuery(conf, uc.Network.QueryAddress)
}

// ParseLevel converts a level name from the UserConfig to a slog.Level.
// Unknown names result in slog.LevelInfo.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Network.Address = ":19132"
	c.Network.ViewerAddress = ":8080"
	c.Server.Name = "Chunkstream Server"
	c.Server.LogLevel = "info"
	c.Server.TickRate = 20
	c.World.Name = "world"
	c.World.SaveData = true
	c.World.Folder = "world"
	c.World.Generator = "noise"
	c.World.EvictionGrace = "30s"
	c.World.Spawn.Y = 100
	c.Players.ChunkRadius = 8
	c.Players.MaximumChunkRadius = 32
	c.Players.ChunkLoadRate = 64
	c.Players.EntityRange = 64
	c.Sessions.DispatchTimeout = "5s"
	c.Sessions.MaxDispatchFailures = 3
	return c
}

// statusProvider handles the way the server shows up in the server list.
type statusProvider struct {
	name string
	max  int
}

// ServerStatus returns the name of the server and the player count.
func (s statusProvider) ServerStatus(playerCount, maxPlayers int) minecraft.ServerStatus {
	if s.max > 0 {
		maxPlayers = s.max
	}
	return minecraft.ServerStatus{
		ServerName:  s.name,
		PlayerCount: playerCount,
		MaxPlayers:  maxPlayers,
	}
}
