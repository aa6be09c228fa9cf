package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dm-vev/chunkstream/server/query"
	"github.com/dm-vev/chunkstream/server/session"
	"github.com/dm-vev/chunkstream/server/session/wsview"
)

// viewerListener serves websocket map viewers over HTTP.
type viewerListener struct {
	l   net.Listener
	srv *http.Server
}

// listenViewers listens for websocket viewers on addr. Viewers connect to the
// path /view; /healthz reports if the server is up.
func listenViewers(conf Config, sy *session.Synchronizer, addr string) (*viewerListener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %v: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/view", wsview.NewServer(sy, conf.Log).Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	conf.Log.Info("Viewer endpoint running.", "addr", l.Addr())
	return &viewerListener{
		l: l,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Serve ...
func (v *viewerListener) Serve() error {
	if err := v.srv.Serve(v.l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close ...
func (v *viewerListener) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown and close
	// with their sessions.
	return v.srv.Shutdown(ctx)
}

// Addr ...
func (v *viewerListener) Addr() net.Addr {
	return v.l.Addr()
}

// listenQuery starts a query responder that is not shared with a Bedrock
// listener.
func listenQuery(conf Config, addr string) (*query.Responder, error) {
	r, err := query.Listen(addr, conf.Log)
	if err != nil {
		return nil, err
	}
	conf.Log.Info("Query responder running.", "addr", r.Addr())
	return r, nil
}
