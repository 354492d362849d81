package task

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Priority int

const (
	Low Priority = iota
	Medium
	High
)

var ErrInvalidPriority = errors.New("invalid priority")

func (p Priority) String() string {
	switch p {
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

func (p Priority) Valid() bool {
	return p >= Low && p <= High
}

func ParsePriority(v string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "LOW":
		return Low, nil
	case "MEDIUM":
		return Medium, nil
	case "HIGH":
		return High, nil
	}
	return Medium, fmt.Errorf("%w: %q", ErrInvalidPriority, v)
}

// PriorityOrDefault is the shell policy for free-form input: anything
// unrecognised becomes Medium and ok reports false.
func PriorityOrDefault(v string) (p Priority, ok bool) {
	p, err := ParsePriority(v)
	if err != nil {
		return Medium, false
	}
	return p, true
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, int(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Task is a single entry of the list. CompletedAt is non-nil exactly when
// Completed is true.
type Task struct {
	ID          string
	Title       string
	Description string
	Completed   bool
	Priority    Priority
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// New builds an open task. Text that is not valid UTF-8 has the bad bytes
// replaced with U+FFFD, and an out-of-range priority becomes Medium, so
// every task New returns can be stored and read back unchanged.
func New(title, description string, priority Priority) Task {
	if !priority.Valid() {
		priority = Medium
	}
	return Task{
		ID:          uuid.NewString(),
		Title:       strings.ToValidUTF8(title, "\uFFFD"),
		Description: strings.ToValidUTF8(description, "\uFFFD"),
		Priority:    priority,
		CreatedAt:   now(),
	}
}

// SetCompleted stamps CompletedAt on the false->true transition and clears
// it on true->false. Repeating the current value changes nothing.
func (t *Task) SetCompleted(completed bool) {
	if t.Completed == completed {
		return
	}
	t.Completed = completed
	if completed {
		ts := now()
		t.CompletedAt = &ts
		return
	}
	t.CompletedAt = nil
}

func (t Task) Clone() Task {
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		t.CompletedAt = &ts
	}
	return t
}

const displayLayout = "2006-01-02 15:04"

func (t Task) String() string {
	mark := "✗"
	completed := ""
	if t.Completed {
		mark = "✓"
		if t.CompletedAt != nil {
			completed = " (Completed on: " + t.CompletedAt.Format(displayLayout) + ")"
		}
	}
	return fmt.Sprintf("[%s] %s - %s [Priority: %s] Created: %s%s",
		mark, t.Title, t.Description, t.Priority, t.CreatedAt.Format(displayLayout), completed)
}

// now is swapped in tests that need distinct timestamps.
var now = func() time.Time {
	return time.Now().UTC()
}
