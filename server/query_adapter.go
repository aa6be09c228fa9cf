package server

import (
	"github.com/dm-vev/chunkstream/server/query"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
)

// registerQueryServer exposes the Server instance to the query responder.
func registerQueryServer(srv *Server) {
	query.RegisterProvider(func(host string, port int) query.Data {
		return srv.buildQueryData(host, port)
	})
}

// buildQueryData assembles the Data structure consumed by the query package.
// It collects the dynamic server state while keeping the query implementation
// agnostic of the Server internals.
func (srv *Server) buildQueryData(host string, port int) query.Data {
	sessions := srv.Sessions()
	names := make([]string, 0, len(sessions))
	for _, s := range sessions {
		names = append(names, s.Name())
	}
	return query.Data{
		HostName:    srv.conf.Name,
		WorldName:   srv.conf.WorldName,
		PlayerCount: len(sessions),
		MaxPlayers:  srv.MaxPlayerCount(),
		HostIP:      host,
		HostPort:    port,
		PlayerNames: names,
		Version:     protocol.CurrentVersion,
		Chunks:      srv.store.Len(),
		Entities:    srv.Registry().Len(),
		TPS:         srv.TPS(),
	}
}
