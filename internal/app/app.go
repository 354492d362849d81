// Package app wires the task store to the background saver and exposes
// the operations the shells call.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"todo/internal/autosave"
	"todo/internal/config"
	"todo/internal/storage"
	"todo/internal/task"
)

type Filter int

const (
	FilterAll Filter = iota
	FilterIncomplete
	FilterCompleted
)

func (f Filter) String() string {
	switch f {
	case FilterIncomplete:
		return "incomplete"
	case FilterCompleted:
		return "completed"
	default:
		return "all"
	}
}

// Next cycles all -> incomplete -> completed -> all.
func (f Filter) Next() Filter {
	return (f + 1) % 3
}

func ParseFilter(v string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "all":
		return FilterAll, nil
	case "incomplete", "pending", "open":
		return FilterIncomplete, nil
	case "completed", "done":
		return FilterCompleted, nil
	}
	return FilterAll, fmt.Errorf("unknown filter %q", v)
}

// App owns the store and the saver for one session.
type App struct {
	store           *storage.Store
	saver           *autosave.Saver
	logger          *log.Logger
	shutdownTimeout time.Duration

	once        sync.Once
	shutdownErr error
}

type Options struct {
	DataPath         string
	Format           storage.Format
	AutosaveInterval time.Duration
	ShutdownTimeout  time.Duration
	Logger           *log.Logger
	// DisableLock skips the advisory lock on the data file.
	DisableLock bool
}

// FromConfig maps a loaded config onto Options.
func FromConfig(cfg config.Config, logger *log.Logger) (Options, error) {
	format, err := storage.ParseFormat(cfg.DataFormat)
	if err != nil {
		return Options{}, err
	}
	return Options{
		DataPath:         cfg.DataPath,
		Format:           format,
		AutosaveInterval: cfg.Autosave(),
		ShutdownTimeout:  cfg.Shutdown(),
		Logger:           logger,
	}, nil
}

// New loads the store from disk and starts the periodic saver.
func New(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if opts.Format == "" {
		opts.Format = storage.FormatSQLite
	}

	store, err := storage.Open(opts.DataPath,
		storage.WithFormat(opts.Format),
		storage.WithLogger(logger.WithPrefix("store")),
		storage.WithLock(!opts.DisableLock),
	)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	store.Subscribe(func(ev storage.Event) {
		logger.Debug("task changed", "event", ev.Kind, "index", ev.Index, "title", ev.Task.Title)
	}, storage.EventAdd, storage.EventRemove, storage.EventComplete)

	a := &App{
		store:           store,
		saver:           autosave.New(store, opts.AutosaveInterval, autosave.WithLogger(logger.WithPrefix("autosave"))),
		logger:          logger,
		shutdownTimeout: opts.ShutdownTimeout,
	}
	if a.shutdownTimeout <= 0 {
		a.shutdownTimeout = 5 * time.Second
	}
	if err := a.saver.Start(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) Store() *storage.Store { return a.store }

func (a *App) Add(title, description string, priority task.Priority) task.Task {
	t := task.New(title, description, priority)
	a.store.Add(t)
	return t
}

func (a *App) Remove(index int) bool {
	return a.store.Remove(index)
}

func (a *App) SetCompleted(index int, completed bool) bool {
	return a.store.SetCompleted(index, completed)
}

func (a *App) Toggle(index int) (completed, ok bool) {
	return a.store.Toggle(index)
}

func (a *App) ListAll() []task.Task        { return a.store.ListAll() }
func (a *App) ListIncomplete() []task.Task { return a.store.ListIncomplete() }
func (a *App) ListCompleted() []task.Task  { return a.store.ListCompleted() }

func (a *App) List(f Filter) []task.Task {
	switch f {
	case FilterIncomplete:
		return a.store.ListIncomplete()
	case FilterCompleted:
		return a.store.ListCompleted()
	default:
		return a.store.ListAll()
	}
}

func (a *App) Count() int { return a.store.Len() }

// Save writes a snapshot now, outside the autosave cadence.
func (a *App) Save() error { return a.store.Save() }

// Shutdown stops the saver, waits up to the shutdown timeout for it, then
// writes one final snapshot and releases the data file. Only the first
// call to Shutdown or Close does any work; later calls return the same
// result.
func (a *App) Shutdown() error {
	return a.finish(true)
}

// Close is Shutdown without the final save, for sessions that only read.
func (a *App) Close() error {
	return a.finish(false)
}

func (a *App) finish(save bool) error {
	a.once.Do(func() {
		var errs []error
		if err := a.saver.Stop(a.shutdownTimeout); err != nil {
			a.logger.Warn("autosave did not stop cleanly", "err", err)
			errs = append(errs, err)
		}
		if save {
			if err := a.store.Save(); err != nil {
				errs = append(errs, fmt.Errorf("final save: %w", err))
			} else {
				a.logger.Info("tasks saved on exit", "path", a.store.Path(), "count", a.store.Len())
			}
		}
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
		a.shutdownErr = errors.Join(errs...)
	})
	return a.shutdownErr
}
