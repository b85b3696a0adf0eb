package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "postbot/pkg/logx"
)

// Supervisor manages goroutines tied to a shared context.
//   - Named goroutines (for logging/debug)
//   - Panic recovery
//   - Optional restart with exponential backoff
//   - Graceful stop with timeout-aware waiting
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log logx.Logger
	wg  sync.WaitGroup

	doneOnce sync.Once
	doneCh   chan struct{}
}

func New(parent context.Context, log logx.Logger) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel, log: log, doneCh: make(chan struct{})}
}

func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Cancel() { s.cancel() }

// Go runs fn once under the supervisor context. Panics are recovered and
// logged; a returned error is logged unless the context is already done.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOne(name, fn)
	}()
}

// GoRestart runs fn in a restart loop with exponential backoff until the
// supervisor context is cancelled. A clean return also restarts (long-lived
// loops are not expected to exit on their own).
func (s *Supervisor) GoRestart(name string, base, max time.Duration, fn func(ctx context.Context) error) {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max < base {
		max = base
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := base
		for {
			start := time.Now()
			s.runOne(name, fn)
			if s.ctx.Err() != nil {
				return
			}

			// Reset backoff after a healthy stretch of runtime.
			if time.Since(start) > time.Minute {
				backoff = base
			}
			s.log.Warn("goroutine exited; restarting",
				logx.String("name", name), logx.Duration("backoff", backoff))

			t := time.NewTimer(backoff)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff *= 2
			if backoff > max {
				backoff = max
			}
		}
	}()
}

func (s *Supervisor) runOne(name string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panic",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
		s.log.Warn("goroutine error", logx.String("name", name), logx.Err(err))
	}
}

// Wait blocks until all goroutines finished or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor wait: %w", ctx.Err())
	}
}
