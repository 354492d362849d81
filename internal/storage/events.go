package storage

import (
	"slices"

	"todo/internal/task"
)

type EventKind int

const (
	EventAdd EventKind = iota + 1
	EventRemove
	EventComplete
	EventSave
)

func (k EventKind) String() string {
	switch k {
	case EventAdd:
		return "add"
	case EventRemove:
		return "remove"
	case EventComplete:
		return "complete"
	case EventSave:
		return "save"
	default:
		return "unknown"
	}
}

// Event describes a change that already happened. Index is the position
// the task had at the time (-1 for saves); Count is the number of tasks
// written by a save.
type Event struct {
	Kind  EventKind
	Index int
	Task  task.Task
	Count int
}

// Listener runs on the goroutine that made the change, after the store
// locks are released. Save events fire from whichever goroutine saved.
type Listener func(Event)

type subscription struct {
	kinds []EventKind
	fn    Listener
}

// Subscribe registers fn for the given kinds, or for every kind when none
// are given.
func (s *Store) Subscribe(fn Listener, kinds ...EventKind) {
	if fn == nil {
		return
	}
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, subscription{kinds: kinds, fn: fn})
}

func (s *Store) emit(ev Event) {
	s.lmu.RLock()
	subs := slices.Clone(s.listeners)
	s.lmu.RUnlock()

	for _, sub := range subs {
		if len(sub.kinds) == 0 || slices.Contains(sub.kinds, ev.Kind) {
			sub.fn(ev)
		}
	}
}
