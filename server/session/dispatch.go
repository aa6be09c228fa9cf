package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dm-vev/chunkstream/server/internal/guard"
)

var (
	// ErrSessionClosed is returned for operations on a Session that was
	// closed.
	ErrSessionClosed = errors.New("session: closed")
	// ErrDispatchFailed is wrapped by the DispatchError a Session is closed
	// with when its Sink keeps failing.
	ErrDispatchFailed = errors.New("session: dispatch failed")
	// ErrDispatchTimeout is returned when a Sink call did not return within
	// its deadline.
	ErrDispatchTimeout = errors.New("session: dispatch timed out")
	// ErrOutboxFull is returned when the updates of a session could not be
	// queued because its writer did not keep up.
	ErrOutboxFull = errors.New("session: outbox full")
)

// hangGrace is how long a Sink call may overrun its deadline before the
// Sink is considered stuck.
const hangGrace = time.Millisecond * 50

// DispatchError is the error a Session is closed with after its Sink failed.
type DispatchError struct {
	// Op is the name of the Sink call that failed last.
	Op string
	// Failures is the amount of consecutive failed calls.
	Failures int
	Err      error
}

// Error ...
func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %d consecutive failures: %v", e.Op, e.Failures, e.Err)
}

// Unwrap ...
func (e *DispatchError) Unwrap() []error {
	return []error{ErrDispatchFailed, e.Err}
}

// dispatch is a single Sink call queued in the outbox of a Session.
type dispatch struct {
	name string
	call func(ctx context.Context) error
	// barrier is closed by the writer when it reaches the dispatch. call is
	// nil for barriers.
	barrier chan struct{}
}

// enqueue queues a batch of dispatches. The batch is dispatched in order
// after every batch queued before it. If the outbox stays full for the
// dispatch timeout the session is closed.
func (s *Session) enqueue(batch ...dispatch) error {
	if len(batch) == 0 {
		return nil
	}
	if s.closed.Load() {
		return ErrSessionClosed
	}
	select {
	case s.outbox <- batch:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	t := time.NewTimer(s.sync.conf.DispatchTimeout)
	defer t.Stop()
	select {
	case s.outbox <- batch:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-t.C:
		err := &DispatchError{Op: batch[0].name, Failures: 1, Err: ErrOutboxFull}
		go s.teardown(err)
		return err
	}
}

// writeLoop dispatches queued batches until the session is closed or its
// Sink fails too often. It is the only goroutine calling the Sink while the
// session is open.
func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case <-s.done:
			return
		case batch := <-s.outbox:
			for _, d := range batch {
				if d.barrier != nil {
					close(d.barrier)
					continue
				}
				if s.closed.Load() || !s.run(d) {
					return
				}
			}
		}
	}
}

// run performs a single dispatch and keeps count of consecutive failures.
// It returns false if the session is being torn down.
func (s *Session) run(d dispatch) bool {
	hung, err := s.call(d)
	if err == nil {
		s.failures = 0
		s.sync.dispatched.Add(1)
		return true
	}
	s.failures++
	s.sync.failed.Add(1)
	s.log.Debug("dispatch "+d.name+": "+err.Error(), "failures", s.failures)

	if hung || s.failures >= s.sync.conf.MaxDispatchFailures {
		if hung {
			s.hung.Store(true)
		}
		go s.teardown(&DispatchError{Op: d.name, Failures: s.failures, Err: err})
		return false
	}
	return true
}

// call runs d with the dispatch timeout. If the call does not return in time
// it is abandoned and hung is true: no further calls may be made to the Sink
// of the session, as they could overtake it.
func (s *Session) call(d dispatch) (hung bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sync.conf.DispatchTimeout)
	defer cancel()

	res := make(chan error, 1)
	go func() {
		res <- guard.Run(s.log, "dispatch "+d.name, func() error { return d.call(ctx) }, "session", s.id.String())
	}()
	select {
	case err := <-res:
		return false, err
	case <-ctx.Done():
	}
	t := time.NewTimer(hangGrace)
	defer t.Stop()
	select {
	case err := <-res:
		return false, err
	case <-t.C:
		return true, ErrDispatchTimeout
	}
}

// Flush blocks until every update queued before the call was dispatched.
func (s *Session) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if err := s.enqueue(dispatch{name: "flush", barrier: barrier}); err != nil {
		return err
	}
	select {
	case <-barrier:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardown closes the session after a dispatch failure. No disconnect is
// sent: the Sink is not expected to deliver it.
func (s *Session) teardown(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.log.Warn("close session: " + err.Error())
	s.sync.disconnect(s, "")
}
