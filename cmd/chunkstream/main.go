package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dm-vev/chunkstream/server"
	"github.com/dm-vev/chunkstream/server/console"
	"github.com/getsentry/sentry-go"
	"github.com/pelletier/go-toml"
)

func main() {
	uc, err := readConfig("config.toml")
	if err != nil {
		slog.Error("read config: " + err.Error())
		os.Exit(1)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: server.ParseLevel(uc.Server.LogLevel)}))
	slog.SetDefault(log)

	// Without a DSN the client is disabled and reporting is a no-op.
	if err := sentry.Init(sentry.ClientOptions{Dsn: os.Getenv("SENTRY_DSN"), Release: "chunkstream"}); err != nil {
		log.Warn("init sentry: " + err.Error())
	}
	defer sentry.Flush(2 * time.Second)

	conf, err := uc.Config(log)
	if err != nil {
		log.Error("create config: " + err.Error())
		os.Exit(1)
	}
	srv := conf.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Listen(); err != nil {
		log.Error("listen: " + err.Error())
	}
	go console.New(srv, log, stop).Run(ctx)

	_ = srv.Run(ctx)
	log.Info("Shutting down...")
	if err := srv.Close(); err != nil {
		log.Error("close server: " + err.Error())
		os.Exit(1)
	}
}

// readConfig reads the configuration from the file passed. If the file does
// not exist, it is created with the default values.
func readConfig(path string) (server.UserConfig, error) {
	c := server.DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data, err = toml.Marshal(c)
		if err != nil {
			return c, fmt.Errorf("encode default config: %v", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return c, fmt.Errorf("create default config: %v", err)
		}
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("read config: %v", err)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode config: %v", err)
	}
	return c, nil
}
