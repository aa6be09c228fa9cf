package wsview

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dm-vev/chunkstream/server/session"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
)

// Message is a message sent by a viewer.
type Message struct {
	// Type is "hello", "move" or "ack".
	Type string `json:"type"`
	// Name is the name of the viewer. Only used by hello.
	Name string `json:"name,omitempty"`
	// Pos is the spawn position for hello and the new position for move.
	Pos [3]float64 `json:"pos"`
	// Rot holds the yaw and pitch in degrees.
	Rot      [2]float64 `json:"rot"`
	OnGround bool       `json:"on_ground,omitempty"`
	// Radius is the chunk radius requested in hello.
	Radius int `json:"radius,omitempty"`
	// ID is the teleport id acknowledged by ack.
	ID int32 `json:"id,omitempty"`
}

// Server accepts websocket viewers and connects each as a session of a
// Synchronizer.
type Server struct {
	log      *slog.Logger
	sync     *session.Synchronizer
	sink     *Sink
	upgrader websocket.Upgrader
	handles  atomic.Uint64
}

// NewServer creates a Server that connects viewers to sy. If log is nil,
// slog.Default() is used.
func NewServer(sy *session.Synchronizer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:  log,
		sync: sy,
		sink: NewSink(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the http.HandlerFunc that upgrades requests to viewer
// connections.
func (srv *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := srv.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, ok := srv.handshake(conn)
		if !ok {
			return
		}
		h := session.Handle(srv.handles.Add(1))
		srv.sink.Add(h, conn)
		defer srv.sink.Remove(h)

		s, err := srv.sync.Connect(h, srv.sink, session.Options{
			Name:        hello.Name,
			Position:    mgl64.Vec3(hello.Pos),
			Rotation:    mgl64.Vec2(hello.Rot),
			ChunkRadius: hello.Radius,
		})
		if err != nil {
			srv.log.Debug("connect viewer: "+err.Error(), "name", hello.Name)
			closeWith(conn, websocket.ClosePolicyViolation, err.Error())
			return
		}
		defer s.Close("")
		go func() {
			<-s.Done()
			// Unblock the reader once the session is gone.
			_ = conn.SetReadDeadline(time.Now())
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg Message
			if err := json.Unmarshal(b, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "move":
				err = s.HandleMove(mgl64.Vec3(msg.Pos), mgl64.Vec2(msg.Rot), msg.OnGround)
			case "ack":
				s.AcknowledgeTeleport(msg.ID)
			}
			if errors.Is(err, session.ErrSessionClosed) || s.Closed() {
				return
			}
		}
	}
}

// handshake reads the hello message of a viewer.
func (srv *Server) handshake(conn *websocket.Conn) (Message, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		return Message{}, false
	}
	var hello Message
	if err := json.Unmarshal(b, &hello); err != nil || hello.Type != "hello" {
		closeWith(conn, websocket.ClosePolicyViolation, "expected hello")
		return Message{}, false
	}
	if hello.Name == "" {
		hello.Name = "viewer"
	}
	return hello, true
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}
