package query

import (
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/sandertv/gophertunnel/minecraft/protocol"
)

// Data summarises the information returned by the query responder. The
// server package fills it without knowing the key/value pairs that are sent
// over the wire.
type Data struct {
	// HostName is the public server name.
	HostName string
	// MOTD is the optional secondary server name shown in some clients.
	MOTD string
	// WorldName is the name of the world streamed to viewers.
	WorldName string
	// Engine identifies the software that powers the server. When empty,
	// the label derived from the build information is used.
	Engine string
	// Version is the protocol version string advertised to clients.
	Version string
	// PlayerCount is the amount of connected viewers.
	PlayerCount int
	// MaxPlayers is the reported capacity.
	MaxPlayers int
	// HostIP and HostPort are the address the responder is bound to.
	HostIP   string
	HostPort int
	// PlayerNames lists the names of connected viewers.
	PlayerNames []string
	// GameType defaults to "SMP" and GameID to "MINECRAFT" when empty.
	GameType string
	GameID   string
	// Chunks is the amount of chunks cached by the chunk store.
	Chunks int
	// Entities is the amount of entities in the entity registry.
	Entities int
	// TPS is the measured ticks per second.
	TPS float64
}

type keyValue struct {
	key   string
	value string
}

// snapshot caches the last Data produced by the provider, so that queries
// keep being answered with the latest known state after the provider is
// unregistered.
type snapshot struct {
	p atomic.Pointer[Data]
}

var last snapshot

func (s *snapshot) store(d Data) {
	d = d.clone()
	s.p.Store(&d)
}

func (s *snapshot) load() (Data, bool) {
	if d := s.p.Load(); d != nil {
		return d.clone(), true
	}
	return Data{HostName: "chunkstream"}, false
}

func (s *snapshot) reset() { s.p.Store(nil) }

// collectData returns the state to answer a query from host:port with.
func collectData(host string, port int) Data {
	if host == "" {
		host = "0.0.0.0"
	}
	var data Data
	if provider := loadProvider(); provider != nil {
		data = provider(host, port)
		last.store(data)
	} else {
		data, _ = last.load()
		data.HostIP, data.HostPort = host, port
	}
	data.fill()
	return data
}

// fill sets the fields a response cannot go without.
func (d *Data) fill() {
	defaults := [...]struct {
		field *string
		value string
	}{
		{&d.HostIP, "0.0.0.0"},
		{&d.Engine, engineLabel},
		{&d.Version, protocol.CurrentVersion},
		{&d.GameType, "SMP"},
		{&d.GameID, "MINECRAFT"},
	}
	for _, def := range defaults {
		if *def.field == "" {
			*def.field = def.value
		}
	}
	d.HostPort = int(uint16(d.HostPort))
}

func (d Data) clone() Data {
	d.PlayerNames = slices.Clone(d.PlayerNames)
	return d
}

// keyValues converts Data into the ordered key/value pairs of the full
// status response.
func (d Data) keyValues() []keyValue {
	values := make([]keyValue, 0, 16)
	add := func(key, value string) { values = append(values, keyValue{key, value}) }

	add("hostname", d.HostName)
	add("gametype", d.GameType)
	add("game_id", d.GameID)
	add("version", d.Version)
	add("server_engine", d.Engine)
	if d.WorldName != "" {
		add("map", d.WorldName)
	}
	add("numplayers", strconv.Itoa(d.PlayerCount))
	add("maxplayers", strconv.Itoa(d.MaxPlayers))
	add("hostport", strconv.Itoa(d.HostPort))
	add("hostip", d.HostIP)
	add("chunks", strconv.Itoa(d.Chunks))
	add("entities", strconv.Itoa(d.Entities))
	add("tps", strconv.FormatFloat(d.TPS, 'f', 2, 64))
	if d.MOTD != "" {
		add("motd", d.MOTD)
	}
	if len(d.PlayerNames) > 0 {
		add("players", strings.Join(d.PlayerNames, ", "))
	}
	return values
}
