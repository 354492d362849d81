package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"

	"todo/internal/task"
)

var ErrLocked = errors.New("data file is in use by another process")

// Store is the in-memory task list plus its backing file. All methods are
// safe for concurrent use. Mutations take the write lock; listing and the
// snapshot step of Save take the read lock.
type Store struct {
	path    string
	format  Format
	snap    snapshotter
	logger  *log.Logger
	locking bool
	flk     *flock.Flock

	mu    sync.RWMutex
	tasks []task.Task

	// saveMu orders snapshot+write so an older snapshot never lands on
	// disk after a newer one.
	saveMu sync.Mutex

	lmu       sync.RWMutex
	listeners []subscription
}

type Option func(*Store)

func WithFormat(f Format) Option {
	return func(s *Store) { s.format = f }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLock guards the data file with an advisory lock on "<path>.lock" so
// two processes never share one file. Enabled by default.
func WithLock(enabled bool) Option {
	return func(s *Store) { s.locking = enabled }
}

// Open builds a store bound to path and loads whatever snapshot is there.
// A missing or unreadable snapshot leaves the store empty; only setup
// failures (bad format, directory, lock) are returned.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("data path is empty")
	}
	if strings.HasPrefix(path, "file:") {
		return nil, fmt.Errorf("data path %q: use a plain file path, not a URI", path)
	}
	s := &Store{
		path:    path,
		format:  FormatSQLite,
		logger:  log.New(io.Discard),
		locking: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	snap, err := newSnapshotter(s.format)
	if err != nil {
		return nil, err
	}
	s.snap = snap

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, err
	}
	if s.locking {
		s.flk = flock.New(path + ".lock")
		locked, err := s.flk.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", s.flk.Path(), err)
		}
		if !locked {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
	}

	s.load()
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Format() Format { return s.format }

// Close releases the file lock. It does not save.
func (s *Store) Close() error {
	if s.flk == nil {
		return nil
	}
	return s.flk.Unlock()
}

func (s *Store) load() {
	tasks, err := s.snap.read(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info("no saved tasks found, starting with an empty list", "path", s.path)
		return
	case err != nil:
		s.logger.Warn("could not load saved tasks, starting with an empty list", "path", s.path, "err", err)
		return
	}
	s.tasks = tasks
	s.logger.Info("loaded tasks", "path", s.path, "count", len(tasks))
}

func (s *Store) Add(t task.Task) {
	s.mu.Lock()
	s.tasks = append(s.tasks, t.Clone())
	idx := len(s.tasks) - 1
	s.mu.Unlock()

	s.emit(Event{Kind: EventAdd, Index: idx, Task: t.Clone()})
}

func (s *Store) Remove(index int) bool {
	s.mu.Lock()
	if index < 0 || index >= len(s.tasks) {
		s.mu.Unlock()
		return false
	}
	removed := s.tasks[index]
	s.tasks = slices.Delete(s.tasks, index, index+1)
	s.mu.Unlock()

	s.emit(Event{Kind: EventRemove, Index: index, Task: removed})
	return true
}

func (s *Store) SetCompleted(index int, completed bool) bool {
	s.mu.Lock()
	if index < 0 || index >= len(s.tasks) {
		s.mu.Unlock()
		return false
	}
	s.tasks[index].SetCompleted(completed)
	t := s.tasks[index].Clone()
	s.mu.Unlock()

	s.emit(Event{Kind: EventComplete, Index: index, Task: t})
	return true
}

// Toggle flips the completion flag of the task at index and reports the
// new value. The read and the write happen under one lock.
func (s *Store) Toggle(index int) (completed, ok bool) {
	s.mu.Lock()
	if index < 0 || index >= len(s.tasks) {
		s.mu.Unlock()
		return false, false
	}
	s.tasks[index].SetCompleted(!s.tasks[index].Completed)
	t := s.tasks[index].Clone()
	s.mu.Unlock()

	s.emit(Event{Kind: EventComplete, Index: index, Task: t})
	return t.Completed, true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *Store) ListAll() []task.Task {
	return s.list(func(task.Task) bool { return true })
}

func (s *Store) ListIncomplete() []task.Task {
	return s.list(func(t task.Task) bool { return !t.Completed })
}

func (s *Store) ListCompleted() []task.Task {
	return s.list(func(t task.Task) bool { return t.Completed })
}

func (s *Store) list(keep func(task.Task) bool) []task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Save writes the whole list to the backing file through a temp file and
// rename, so a crash mid-write leaves the previous snapshot intact. A
// failed save is logged and returned; memory is never touched.
func (s *Store) Save() error {
	s.saveMu.Lock()
	snapshot := s.ListAll()
	err := s.snap.write(s.path, snapshot)
	s.saveMu.Unlock()

	if err != nil {
		s.logger.Error("saving tasks failed", "path", s.path, "err", err)
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	s.logger.Debug("tasks saved", "path", s.path, "count", len(snapshot))
	s.emit(Event{Kind: EventSave, Index: -1, Count: len(snapshot)})
	return nil
}
