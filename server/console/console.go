// Package console implements an operator console that reads commands line by
// line and executes them on a server.Server.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dm-vev/chunkstream/server"
	"github.com/dm-vev/chunkstream/server/entity"
	"github.com/go-gl/mathgl/mgl64"
)

// ErrUnknownCommand is returned for lines that do not start with a known
// command.
var ErrUnknownCommand = errors.New("unknown command")

// errUsage is returned by a command that was passed invalid arguments.
var errUsage = errors.New("usage")

type command struct {
	usage string
	run   func(c *Console, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"status":   {"status", (*Console).status},
		"list":     {"list", (*Console).list},
		"gc":       {"gc", (*Console).gc},
		"tp":       {"tp <name> <x> <y> <z>", (*Console).teleport},
		"kick":     {"kick <name> [reason]", (*Console).kick},
		"setblock": {"setblock <x> <y> <z> <id>", (*Console).setBlock},
		"summon":   {"summon <x> <y> <z> [vx vy vz]", (*Console).summon},
		"remove":   {"remove <id>", (*Console).remove},
		"stop":     {"stop", (*Console).stop},
		"help":     {"help", (*Console).help},
	}
}

// Console provides a simple CLI that reads commands from an io.Reader
// (defaulting to os.Stdin) and executes them on the provided server.
type Console struct {
	srv    *server.Server
	log    *slog.Logger
	reader io.Reader
	// stopFunc is called by the stop command.
	stopFunc func()
}

// New returns a Console bound to the provided server. The console reads from
// os.Stdin and writes command output to the supplied logger. The stop
// function is called by the stop command.
func New(srv *server.Server, log *slog.Logger, stop func()) *Console {
	if log == nil {
		log = slog.Default()
	}
	if stop == nil {
		stop = func() { _ = srv.Close() }
	}
	return &Console{srv: srv, log: log, reader: os.Stdin, stopFunc: stop}
}

// WithReader sets a custom reader for the console input.
func (c *Console) WithReader(r io.Reader) *Console {
	if r != nil {
		c.reader = r
	}
	return c
}

// Run starts consuming commands from the console. It blocks until the context
// is cancelled or the underlying reader reaches EOF.
func (c *Console) Run(ctx context.Context) {
	scanner := bufio.NewScanner(c.reader)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				c.log.Error("console input error", "err", err)
			}
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := c.Exec(line); err != nil {
			c.log.Error(err.Error())
		}
	}
}

// Exec executes a single command line. A leading slash is optional.
func (c *Console) Exec(line string) error {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w %q, try help", ErrUnknownCommand, name)
	}
	if err := cmd.run(c, fields[1:]); err != nil {
		if errors.Is(err, errUsage) {
			return fmt.Errorf("usage: %v", cmd.usage)
		}
		return fmt.Errorf("%v: %w", name, err)
	}
	return nil
}

func (c *Console) status([]string) error {
	m := c.srv.Metrics()
	stats := c.srv.Synchronizer().Stats()
	c.log.Info("Server status.",
		"uptime", c.srv.Uptime().Round(time.Second),
		"tps", strconv.FormatFloat(c.srv.TPS(), 'f', 2, 64),
		"tick", c.srv.CurrentTick(),
		"sessions", stats.Sessions,
		"entities", c.srv.Registry().Len(),
		"chunks", c.srv.Store().Len(),
		"generated", m.Generated,
		"loaded", m.Loaded,
		"evicted", m.Evicted,
		"failures", m.Failures,
		"dispatched", stats.Dispatched,
		"dispatch_failures", stats.Failed,
	)
	return nil
}

func (c *Console) list([]string) error {
	sessions := c.srv.Sessions()
	names := make([]string, 0, len(sessions))
	for _, s := range sessions {
		names = append(names, s.Name())
	}
	c.log.Info(fmt.Sprintf("%d viewer(s) online: %v", len(names), strings.Join(names, ", ")))
	return nil
}

func (c *Console) gc([]string) error {
	evicted := c.srv.Store().CollectGarbage()
	runtime.GC()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	c.log.Info("Collected garbage.", "evicted_chunks", evicted, "heap_mb", mem.HeapAlloc>>20)
	return nil
}

func (c *Console) teleport(args []string) error {
	if len(args) != 4 {
		return errUsage
	}
	s, ok := c.srv.Synchronizer().SessionByName(args[0])
	if !ok {
		return fmt.Errorf("no viewer named %q", args[0])
	}
	pos, err := parseVec3(args[1:4])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.Teleport(ctx, pos, s.Rotation()); err != nil {
		return err
	}
	c.log.Info("Teleported viewer.", "name", s.Name(), "pos", pos)
	return nil
}

func (c *Console) kick(args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	s, ok := c.srv.Synchronizer().SessionByName(args[0])
	if !ok {
		return fmt.Errorf("no viewer named %q", args[0])
	}
	reason := "Kicked by an operator."
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}
	if err := s.Close(reason); err != nil {
		return err
	}
	c.log.Info("Kicked viewer.", "name", s.Name(), "reason", reason)
	return nil
}

func (c *Console) setBlock(args []string) error {
	if len(args) != 4 {
		return errUsage
	}
	coords := make([]int, 3)
	for i, a := range args[:3] {
		v, err := strconv.Atoi(a)
		if err != nil {
			return errUsage
		}
		coords[i] = v
	}
	id, err := strconv.ParseUint(args[3], 10, 32)
	if err != nil {
		return errUsage
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.srv.Store().SetBlock(ctx, coords[0], coords[1], coords[2], uint32(id)); err != nil {
		return err
	}
	c.log.Info("Set block.", "x", coords[0], "y", coords[1], "z", coords[2], "id", id)
	return nil
}

func (c *Console) summon(args []string) error {
	if len(args) != 3 && len(args) != 6 {
		return errUsage
	}
	pos, err := parseVec3(args[:3])
	if err != nil {
		return err
	}
	var vel mgl64.Vec3
	if len(args) == 6 {
		if vel, err = parseVec3(args[3:]); err != nil {
			return err
		}
	}
	reg := c.srv.Registry()
	id, err := reg.Spawn(pos, entity.Rotation{}, false)
	if err != nil {
		return err
	}
	if vel != (mgl64.Vec3{}) {
		if err := reg.SetVelocity(id, vel); err != nil {
			return err
		}
	}
	c.log.Info("Summoned entity.", "id", id, "pos", pos)
	return nil
}

func (c *Console) remove(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return errUsage
	}
	if err := c.srv.Registry().Remove(int32(id)); err != nil {
		return err
	}
	c.log.Info("Removed entity.", "id", id)
	return nil
}

func (c *Console) stop([]string) error {
	c.log.Info("Stopping server...")
	c.stopFunc()
	return nil
}

func (c *Console) help([]string) error {
	usages := make([]string, 0, len(commands))
	for _, cmd := range commands {
		usages = append(usages, cmd.usage)
	}
	slices.Sort(usages)
	c.log.Info("Commands: " + strings.Join(usages, "; "))
	return nil
}

func parseVec3(args []string) (mgl64.Vec3, error) {
	var v mgl64.Vec3
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return v, errUsage
		}
		v[i] = f
	}
	return v, nil
}
