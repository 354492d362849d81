package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"todo/internal/task"
)

// Format selects how the snapshot is laid out on disk.
type Format string

const (
	FormatSQLite Format = "sqlite"
	FormatJSON   Format = "json"
	FormatTOML   Format = "toml"
	FormatYAML   Format = "yaml"
)

var (
	ErrUnknownFormat = errors.New("unknown data format")
	// ErrUnstorableTask is returned by Save when a task could not be read
	// back from the snapshot it would be written to.
	ErrUnstorableTask = errors.New("task cannot be stored")
)

func Formats() []Format {
	return []Format{FormatSQLite, FormatJSON, FormatTOML, FormatYAML}
}

func ParseFormat(v string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(v)))
	switch f {
	case FormatSQLite, FormatJSON, FormatTOML, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "sqlite3", "db":
		return FormatSQLite, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, v)
}

// snapshotter reads and writes a whole task list. read returns an error
// wrapping os.ErrNotExist when there is nothing on disk yet.
type snapshotter interface {
	read(path string) ([]task.Task, error)
	write(path string, tasks []task.Task) error
}

func newSnapshotter(f Format) (snapshotter, error) {
	switch f {
	case FormatSQLite:
		return sqliteSnapshot{}, nil
	case FormatJSON:
		return fileSnapshot{
			marshal:   func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") },
			unmarshal: json.Unmarshal,
		}, nil
	case FormatTOML:
		return fileSnapshot{marshal: toml.Marshal, unmarshal: toml.Unmarshal}, nil
	case FormatYAML:
		return fileSnapshot{marshal: yaml.Marshal, unmarshal: yaml.Unmarshal}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}

const snapshotVersion = 1

type document struct {
	Version int      `json:"version" toml:"version" yaml:"version"`
	Tasks   []record `json:"tasks" toml:"tasks" yaml:"tasks"`
}

// record is the on-disk shape of a task. Timestamps are RFC3339 strings so
// every format keeps nanoseconds and the UTC offset.
type record struct {
	ID          string `json:"id" toml:"id" yaml:"id"`
	Title       string `json:"title" toml:"title" yaml:"title"`
	Description string `json:"description" toml:"description" yaml:"description"`
	Completed   bool   `json:"completed" toml:"completed" yaml:"completed"`
	Priority    string `json:"priority" toml:"priority" yaml:"priority"`
	CreatedAt   string `json:"created_at" toml:"created_at" yaml:"created_at"`
	CompletedAt string `json:"completed_at,omitempty" toml:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// toRecord rejects anything fromRecord would refuse on the next load, so a
// save never replaces a good snapshot with one that reads back empty.
func toRecord(t task.Task) (record, error) {
	priority, err := t.Priority.MarshalText()
	if err != nil {
		return record{}, fmt.Errorf("%w: task %q: %w", ErrUnstorableTask, t.ID, err)
	}
	for field, v := range map[string]string{"id": t.ID, "title": t.Title, "description": t.Description} {
		if !utf8.ValidString(v) {
			return record{}, fmt.Errorf("%w: task %q: %s is not valid UTF-8", ErrUnstorableTask, t.ID, field)
		}
	}
	if t.Completed != (t.CompletedAt != nil) {
		return record{}, fmt.Errorf("%w: task %q: completed=%t disagrees with completed_at", ErrUnstorableTask, t.ID, t.Completed)
	}
	r := record{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		Priority:    string(priority),
		CreatedAt:   t.CreatedAt.Format(time.RFC3339Nano),
	}
	if t.CompletedAt != nil {
		r.CompletedAt = t.CompletedAt.Format(time.RFC3339Nano)
	}
	return r, nil
}

func toRecords(tasks []task.Task) ([]record, error) {
	rs := make([]record, 0, len(tasks))
	for i, t := range tasks {
		r, err := toRecord(t)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		rs = append(rs, r)
	}
	return rs, nil
}

func fromRecord(r record) (task.Task, error) {
	priority, err := task.ParsePriority(r.Priority)
	if err != nil {
		return task.Task{}, err
	}
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return task.Task{}, fmt.Errorf("created_at: %w", err)
	}
	t := task.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Completed:   r.Completed,
		Priority:    priority,
		CreatedAt:   created,
	}
	if r.CompletedAt != "" {
		done, err := time.Parse(time.RFC3339Nano, r.CompletedAt)
		if err != nil {
			return task.Task{}, fmt.Errorf("completed_at: %w", err)
		}
		t.CompletedAt = &done
	}
	if t.Completed != (t.CompletedAt != nil) {
		return task.Task{}, fmt.Errorf("task %q: completed=%t disagrees with completed_at", r.ID, r.Completed)
	}
	return t, nil
}

func fromRecords(rs []record) ([]task.Task, error) {
	tasks := make([]task.Task, 0, len(rs))
	for i, r := range rs {
		t, err := fromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// fileSnapshot covers the text formats: one document marshalled in full.
type fileSnapshot struct {
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

func (f fileSnapshot) read(path string) ([]task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var doc document
	if err := f.unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if doc.Version > snapshotVersion {
		return nil, fmt.Errorf("%s: snapshot version %d is newer than supported %d", path, doc.Version, snapshotVersion)
	}
	return fromRecords(doc.Tasks)
}

func (f fileSnapshot) write(path string, tasks []task.Task) error {
	rs, err := toRecords(tasks)
	if err != nil {
		return err
	}
	data, err := f.marshal(document{Version: snapshotVersion, Tasks: rs})
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return writeFileAtomic(path, data, 0o644)
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
