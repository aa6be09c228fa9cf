package query

import (
	"context"
	"log/slog"
	"net"

	"github.com/sandertv/go-raknet"
	"github.com/sandertv/gophertunnel/minecraft"
)

const (
	queryTypeHandshake   = 0x09
	queryTypeInformation = 0x00
)

var (
	querySplitNum  = [...]byte{'S', 'P', 'L', 'I', 'T', 'N', 'U', 'M', 0x00}
	queryPlayerKey = [...]byte{0x00, 0x01, 'p', 'l', 'a', 'y', 'e', 'r', '_', 0x00, 0x00}
	queryVersion   = [...]byte{0xfe, 0xfd}
)

// init replaces the "raknet" network of gophertunnel, so that listeners
// created with it answer queries on their own port.
func init() {
	minecraft.RegisterNetwork("raknet", func(l *slog.Logger) minecraft.Network {
		return rakNetNetwork{log: l}
	})
}

// rakNetNetwork is the RakNet network of gophertunnel with a query aware
// packet listener.
type rakNetNetwork struct {
	log *slog.Logger
}

// DialContext ...
func (r rakNetNetwork) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return raknet.Dialer{ErrorLog: r.log.With("net origin", "raknet")}.DialContext(ctx, address)
}

// PingContext ...
func (r rakNetNetwork) PingContext(ctx context.Context, address string) ([]byte, error) {
	return raknet.Dialer{ErrorLog: r.log.With("net origin", "raknet")}.PingContext(ctx, address)
}

// Listen ...
func (r rakNetNetwork) Listen(address string) (minecraft.NetworkListener, error) {
	log := r.log.With("net origin", "raknet")
	return raknet.ListenConfig{
		ErrorLog:               log,
		UpstreamPacketListener: packetListener{log: log},
	}.Listen(address)
}

// packetListener produces query aware UDP sockets for the RakNet listener.
type packetListener struct {
	log *slog.Logger
}

// ListenPacket ...
func (l packetListener) ListenPacket(network, address string) (net.PacketConn, error) {
	conn, err := net.ListenPacket(network, address)
	if err != nil {
		return nil, err
	}
	return newPacketConn(conn, l.log), nil
}
