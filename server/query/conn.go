package query

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	// tokenLifetime is the time a challenge token handed out by a handshake
	// stays valid.
	tokenLifetime = 30 * time.Second
	// maxTokens is the amount of outstanding tokens after which expired ones
	// are pruned.
	maxTokens = 1024
)

// Logger provides the logging capabilities used by the query implementation.
type Logger interface {
	Debug(msg string, args ...any)
}

// packetConn intercepts query requests and responds directly while handing
// all other datagrams to the reader of the wrapped PacketConn.
type packetConn struct {
	net.PacketConn

	log  Logger
	host string
	port int

	mu     sync.Mutex
	tokens map[string]token
}

type token struct {
	value  int32
	expiry time.Time
}

// newPacketConn wraps conn, reading the host and port reported to clients
// from its local address.
func newPacketConn(conn net.PacketConn, log Logger) *packetConn {
	host, port := "0.0.0.0", 0
	if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		port = local.Port
		if local.IP != nil && !local.IP.IsUnspecified() {
			host = local.IP.String()
		}
	}
	return &packetConn{PacketConn: conn, log: log, host: host, port: port}
}

// ReadFrom reads the next datagram that is not a query request.
func (c *packetConn) ReadFrom(p []byte) (int, net.Addr, error) {
	for {
		n, addr, err := c.PacketConn.ReadFrom(p)
		if err != nil || n == 0 {
			return n, addr, err
		}
		if c.handleQuery(p[:n], addr) {
			continue
		}
		return n, addr, nil
	}
}

// handleQuery answers b if it is a query request and reports if it was.
func (c *packetConn) handleQuery(b []byte, addr net.Addr) bool {
	if len(b) < 7 || b[0] != queryVersion[0] || b[1] != queryVersion[1] {
		return false
	}
	sequence := int32(binary.BigEndian.Uint32(b[3:7]))
	switch b[2] {
	case queryTypeHandshake:
		c.writeHandshake(addr, sequence, c.newToken(addr.String()))
	case queryTypeInformation:
		value, ok := parseTokenValue(b[7:])
		if !ok || !c.validateToken(addr.String(), value) {
			c.log.Debug("query with invalid token", "raddr", addr.String())
			return true
		}
		c.writeInfo(addr, sequence)
	default:
		return false
	}
	return true
}

// newToken issues a challenge token for addr. The query protocol requires it
// to prevent spoofed requests from amplifying traffic.
func (c *packetConn) newToken(addr string) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.tokens == nil {
		c.tokens = make(map[string]token)
	} else if len(c.tokens) >= maxTokens {
		for k, t := range c.tokens {
			if now.After(t.expiry) {
				delete(c.tokens, k)
			}
		}
	}
	value := rand.Int32()
	c.tokens[addr] = token{value: value, expiry: now.Add(tokenLifetime)}
	return value
}

// validateToken checks if value is the unexpired token issued to addr. An
// invalid attempt forgets the token.
func (c *packetConn) validateToken(addr string, value int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tokens[addr]
	if !ok || time.Now().After(t.expiry) || t.value != value {
		delete(c.tokens, addr)
		return false
	}
	return true
}

func (c *packetConn) writeHandshake(addr net.Addr, sequence, value int32) {
	buf := bytes.NewBuffer(make([]byte, 0, 1+4+12))
	buf.WriteByte(queryTypeHandshake)
	_ = binary.Write(buf, binary.BigEndian, sequence)

	s := strconv.FormatInt(int64(value), 10)
	buf.WriteString(s)
	buf.Write(make([]byte, 12-len(s)))
	if _, err := c.PacketConn.WriteTo(buf.Bytes(), addr); err != nil {
		c.log.Debug("write query handshake: "+err.Error(), "raddr", addr.String())
	}
}

// writeInfo writes the full status response to addr.
func (c *packetConn) writeInfo(addr net.Addr, sequence int32) {
	data := collectData(c.host, c.port)

	buf := bytes.NewBuffer(make([]byte, 0, 256))
	buf.WriteByte(queryTypeInformation)
	_ = binary.Write(buf, binary.BigEndian, sequence)
	buf.Write(querySplitNum[:])
	buf.WriteByte(0x80)
	buf.WriteByte(0x00)

	for _, kv := range data.keyValues() {
		buf.WriteString(kv.key)
		buf.WriteByte(0x00)
		buf.WriteString(kv.value)
		buf.WriteByte(0x00)
	}
	buf.WriteByte(0x00)
	buf.Write(queryPlayerKey[:])
	for _, name := range data.PlayerNames {
		buf.WriteString(name)
		buf.WriteByte(0x00)
	}
	buf.WriteByte(0x00)

	if _, err := c.PacketConn.WriteTo(buf.Bytes(), addr); err != nil {
		c.log.Debug("write query info: "+err.Error(), "raddr", addr.String())
	}
}

// parseTokenValue reads the challenge token of an information request. Most
// clients send it as a big endian integer, some as ASCII digits.
func parseTokenValue(payload []byte) (int32, bool) {
	trimmed := payload
	if i := bytes.Index(trimmed, []byte{0xff, 0xff, 0xff, 0x01}); i >= 0 {
		trimmed = trimmed[:i]
	}
	trimmed = bytes.TrimRight(trimmed, "\x00")
	if len(trimmed) > 0 {
		if value, err := strconv.ParseInt(string(trimmed), 10, 32); err == nil {
			return int32(value), true
		}
	}
	if len(payload) >= 4 {
		return int32(binary.BigEndian.Uint32(payload[:4])), true
	}
	return 0, false
}

// Responder answers queries on a UDP socket of its own.
type Responder struct {
	pc *packetConn
}

// Listen opens a Responder on the UDP address passed.
func Listen(addr string, log Logger) (*Responder, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %v: %w", addr, err)
	}
	return &Responder{pc: newPacketConn(conn, log)}, nil
}

// Serve answers queries until the Responder is closed. Datagrams that are
// not queries are dropped.
func (r *Responder) Serve() error {
	buf := make([]byte, 1500)
	for {
		if _, _, err := r.pc.ReadFrom(buf); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// Close closes the socket of the Responder.
func (r *Responder) Close() error {
	return r.pc.Close()
}

// Addr returns the address the Responder listens on.
func (r *Responder) Addr() net.Addr {
	return r.pc.LocalAddr()
}
