package bedrock

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/dm-vev/chunkstream/server/session"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/sandertv/gophertunnel/minecraft"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// eyeHeight is the offset between the position a client reports and the
// position of its feet.
const eyeHeight = 1.62

// teleportTolerance is the distance within which a reported position counts
// as arriving at a teleport destination.
const teleportTolerance = 0.5

// playerIDBase is the first entity id handed out to players, keeping them
// apart from ids the Registry spawns.
const playerIDBase = 1 << 24

// ListenerConfig holds the settings of a Listener.
type ListenerConfig struct {
	// Log is the Logger used. If nil, slog.Default() is used.
	Log *slog.Logger
	// Address is the UDP address to listen on, for example ":19132".
	Address string
	// WorldName is shown to clients while joining.
	WorldName string
	// Spawn is the position players spawn at.
	Spawn mgl64.Vec3
	// ChunkRadius is the chunk radius of every session. Zero uses the
	// default of the Synchronizer.
	ChunkRadius int
	// StatusProvider provides the status shown in the server list. If nil,
	// the gophertunnel default is used.
	StatusProvider minecraft.ServerStatusProvider
}

// Listener accepts Bedrock clients and connects each of them as a session
// of a Synchronizer.
type Listener struct {
	conf ListenerConfig
	l    *minecraft.Listener
	sync *session.Synchronizer
	sink *Sink

	handles atomic.Uint64
}

// Listen starts listening for Bedrock clients on the address in the config.
// Connections are served once Serve is called.
func (conf ListenerConfig) Listen(sy *session.Synchronizer) (*Listener, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.WorldName == "" {
		conf.WorldName = "chunkstream"
	}
	l, err := minecraft.ListenConfig{StatusProvider: conf.StatusProvider}.Listen("raknet", conf.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %v: %w", conf.Address, err)
	}
	conf.Log.Info("Listener running.", "addr", l.Addr())
	return &Listener{conf: conf, l: l, sync: sy, sink: NewSink(conf.Log)}, nil
}

// Addr returns the address the Listener listens on.
func (l *Listener) Addr() net.Addr {
	return l.l.Addr()
}

// Serve accepts clients until the Listener is closed.
func (l *Listener) Serve() error {
	for {
		c, err := l.l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go l.handleConn(c.(*minecraft.Conn))
	}
}

// Close stops accepting clients.
func (l *Listener) Close() error {
	return l.l.Close()
}

// handleConn spawns a client and feeds the packets it sends to its session
// until either is closed.
func (l *Listener) handleConn(conn *minecraft.Conn) {
	log := l.conf.Log.With("addr", conn.RemoteAddr(), "name", conn.IdentityData().DisplayName)
	h := session.Handle(l.handles.Add(1))
	id := int32(playerIDBase + h)
	if _, ok := l.sync.Registry().Get(id); ok {
		_ = l.l.Disconnect(conn, "entity id in use")
		return
	}
	spawn := l.conf.Spawn.Add(mgl64.Vec3{0, eyeHeight, 0})
	if err := conn.StartGame(minecraft.GameData{
		WorldName:       l.conf.WorldName,
		EntityUniqueID:  int64(id),
		EntityRuntimeID: uint64(id),
		PlayerPosition:  vec64To32(spawn),
	}); err != nil {
		log.Debug("start game: " + err.Error())
		_ = conn.Close()
		return
	}

	l.sink.Add(h, conn, uint64(id))
	defer l.sink.Remove(h)
	s, err := l.sync.Connect(h, l.sink, session.Options{
		Name:        conn.IdentityData().DisplayName,
		EntityID:    id,
		Position:    l.conf.Spawn,
		ChunkRadius: l.conf.ChunkRadius,
	})
	if err != nil {
		log.Error("connect session: " + err.Error())
		_ = l.l.Disconnect(conn, "internal error")
		return
	}
	go func() {
		<-s.Done()
		_ = conn.Close()
	}()
	defer s.Close("")

	for {
		pk, err := conn.ReadPacket()
		if err != nil {
			return
		}
		if err := l.handlePacket(s, h, pk); err != nil {
			if !errors.Is(err, session.ErrSessionClosed) && !errors.Is(err, session.ErrInvalidMovement) {
				log.Debug("handle packet: " + err.Error())
			}
			if s.Closed() {
				return
			}
		}
	}
}

// handlePacket applies a movement packet of the client to its session.
// Other packets are ignored.
func (l *Listener) handlePacket(s *session.Session, h session.Handle, pk packet.Packet) error {
	switch pk := pk.(type) {
	case *packet.MovePlayer:
		pos := feet(pk.Position)
		// Clients without server authoritative movement confirm a teleport by
		// moving to its position.
		if req, ok := s.PendingTeleport(); ok && req.Sent && req.Position.Sub(pos).Len() < teleportTolerance {
			for {
				id, ok := l.sink.HandledTeleport(h)
				if !ok || id == req.ID {
					break
				}
			}
			s.AcknowledgeTeleport(req.ID)
		}
		return s.HandleMove(pos, mgl64.Vec2{float64(pk.Yaw), float64(pk.Pitch)}, pk.OnGround)
	case *packet.PlayerAuthInput:
		if pk.InputData.Load(packet.InputFlagHandledTeleport) {
			if id, ok := l.sink.HandledTeleport(h); ok {
				s.AcknowledgeTeleport(id)
			}
		}
		return s.HandleMove(feet(pk.Position), mgl64.Vec2{float64(pk.Yaw), float64(pk.Pitch)}, false)
	}
	return nil
}

// feet converts a position reported by a client to the position of its
// feet.
func feet(pos mgl32.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{float64(pos[0]), float64(pos[1]) - eyeHeight, float64(pos[2])}
}
