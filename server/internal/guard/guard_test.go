package guard

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestRunReturnsError(t *testing.T) {
	want := errors.New("boom")
	if err := Run(nil, "task", func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := Run(log, "generate chunk", func() error { panic("bad generator") }, "X", 1)
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("expected ErrPanic, got %v", err)
	}
}
