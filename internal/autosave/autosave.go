// Package autosave runs a background loop that saves a target on a fixed
// interval until it is stopped.
package autosave

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

const DefaultInterval = 30 * time.Second

var (
	ErrAlreadyStarted = errors.New("autosave: saver already started")
	ErrStopTimeout    = errors.New("autosave: timed out waiting for saver to stop")
)

// Target is anything that can write itself to durable storage.
type Target interface {
	Save() error
}

type State int32

const (
	Created State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Saver calls Target.Save every interval on its own goroutine. A Saver
// runs at most once: after Stop a new one has to be created.
type Saver struct {
	target   Target
	interval time.Duration
	logger   *log.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	// stopped is raised before the loop is woken, and the loop checks it
	// after every wake-up before it saves.
	stopped atomic.Bool
}

type Option func(*Saver)

func WithLogger(l *log.Logger) Option {
	return func(s *Saver) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a saver in the Created state. A non-positive interval falls
// back to DefaultInterval.
func New(target Target, interval time.Duration, opts ...Option) *Saver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Saver{
		target:   target,
		interval: interval,
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Saver) Interval() time.Duration { return s.interval }

func (s *Saver) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the save loop. Cancelling ctx ends the loop as well, but
// only Stop waits for it.
func (s *Saver) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Created {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = Running

	go s.run(runCtx)
	return nil
}

func (s *Saver) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.state = Stopped
		s.mu.Unlock()
		close(s.done)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("autosave started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("autosave stopping")
			return
		case <-ticker.C:
		}
		if s.stopped.Load() || ctx.Err() != nil {
			s.logger.Info("autosave stopping")
			return
		}
		s.logger.Debug("autosaving tasks")
		if err := s.target.Save(); err != nil {
			s.logger.Warn("autosave failed, retrying next interval", "err", err)
		}
	}
}

// Stop signals the loop and waits up to timeout for it to exit; a
// non-positive timeout waits indefinitely. Once Stop returns nil the loop
// will not call Save again. Calling Stop more than once is safe.
func (s *Saver) Stop(timeout time.Duration) error {
	s.mu.Lock()
	switch s.state {
	case Created:
		s.stopped.Store(true)
		s.state = Stopped
		s.mu.Unlock()
		return nil
	case Running:
		s.stopped.Store(true)
		s.state = Stopping
		s.cancel()
	}
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-done:
		return nil
	case <-expired:
		s.logger.Warn("autosave did not stop in time", "timeout", timeout)
		return ErrStopTimeout
	}
}
