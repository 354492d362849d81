package storage_test

import (
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todo/internal/storage"
	"todo/internal/task"
)

func openStore(t *testing.T, path string, opts ...storage.Option) *storage.Store {
	t.Helper()
	s, err := storage.Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestStore(t *testing.T, f storage.Format) *storage.Store {
	t.Helper()
	return openStore(t, filepath.Join(t.TempDir(), "tasks."+string(f)), storage.WithFormat(f))
}

func titles(tasks []task.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, tk := range tasks {
		out = append(out, tk.Title)
	}
	return out
}

func requireSameTasks(t *testing.T, want, got []task.Task) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		w, g := want[i], got[i]
		assert.Equal(t, w.ID, g.ID, "task %d id", i)
		assert.Equal(t, w.Title, g.Title, "task %d title", i)
		assert.Equal(t, w.Description, g.Description, "task %d description", i)
		assert.Equal(t, w.Completed, g.Completed, "task %d completed", i)
		assert.Equal(t, w.Priority, g.Priority, "task %d priority", i)
		assert.True(t, w.CreatedAt.Equal(g.CreatedAt), "task %d created_at: want %v got %v", i, w.CreatedAt, g.CreatedAt)
		if w.CompletedAt == nil {
			assert.Nil(t, g.CompletedAt, "task %d completed_at", i)
			continue
		}
		require.NotNil(t, g.CompletedAt, "task %d completed_at", i)
		assert.True(t, w.CompletedAt.Equal(*g.CompletedAt), "task %d completed_at: want %v got %v", i, *w.CompletedAt, *g.CompletedAt)
	}
}

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	for _, f := range storage.Formats() {
		t.Run(string(f), func(t *testing.T) {
			s := newTestStore(t, f)
			assert.Equal(t, 0, s.Len())
			assert.Empty(t, s.ListAll())
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	_, err := storage.Open("")
	require.Error(t, err)

	_, err = storage.Open(filepath.Join(t.TempDir(), "x"), storage.WithFormat("csv"))
	require.ErrorIs(t, err, storage.ErrUnknownFormat)

	_, err = storage.Open("file:" + filepath.Join(t.TempDir(), "tasks.db"))
	require.ErrorContains(t, err, "not a URI")
}

func TestStore_AddRemoveCount(t *testing.T) {
	s := newTestStore(t, storage.FormatJSON)
	rng := rand.New(rand.NewSource(1))

	want := 0
	for i := 0; i < 500; i++ {
		if rng.Intn(3) == 0 {
			if s.Remove(rng.Intn(want + 2)) {
				want--
			}
			continue
		}
		s.Add(task.New("t", "", task.Low))
		want++
	}
	assert.Equal(t, want, s.Len())
	assert.Len(t, s.ListAll(), want)
}

func TestStore_RemoveOutOfRange(t *testing.T) {
	s := newTestStore(t, storage.FormatJSON)
	s.Add(task.New("a", "", task.Low))
	s.Add(task.New("b", "", task.Low))

	for _, idx := range []int{-1, 2, 100} {
		assert.False(t, s.Remove(idx), "index %d", idx)
		assert.False(t, s.SetCompleted(idx, true), "index %d", idx)
		_, ok := s.Toggle(idx)
		assert.False(t, ok, "index %d", idx)
	}
	assert.Equal(t, []string{"a", "b"}, titles(s.ListAll()))
}

func TestStore_RemoveShiftsIndices(t *testing.T) {
	s := newTestStore(t, storage.FormatJSON)
	for _, title := range []string{"a", "b", "c", "d"} {
		s.Add(task.New(title, "", task.Medium))
	}

	require.True(t, s.Remove(1))
	assert.Equal(t, []string{"a", "c", "d"}, titles(s.ListAll()))
	require.True(t, s.Remove(2))
	assert.Equal(t, []string{"a", "c"}, titles(s.ListAll()))
	require.True(t, s.Remove(0))
	assert.Equal(t, []string{"c"}, titles(s.ListAll()))
}

func TestStore_SetCompleted(t *testing.T) {
	s := newTestStore(t, storage.FormatJSON)
	s.Add(task.New("Buy milk", "2%", task.Medium))

	require.True(t, s.SetCompleted(0, true))
	first := s.ListAll()[0]
	require.True(t, first.Completed)
	require.NotNil(t, first.CompletedAt)
	assert.False(t, first.CompletedAt.Before(first.CreatedAt))

	time.Sleep(2 * time.Millisecond)
	require.True(t, s.SetCompleted(0, true))
	second := s.ListAll()[0]
	require.NotNil(t, second.CompletedAt)
	assert.True(t, first.CompletedAt.Equal(*second.CompletedAt), "second completion must keep the timestamp")

	require.True(t, s.SetCompleted(0, false))
	cleared := s.ListAll()[0]
	assert.False(t, cleared.Completed)
	assert.Nil(t, cleared.CompletedAt)
}

func TestStore_Toggle(t *testing.T) {
	s := newTestStore(t, storage.FormatJSON)
	s.Add(task.New("a", "", task.Low))

	done, ok := s.Toggle(0)
	require.True(t, ok)
	assert.True(t, done)
	assert.Len(t, s.ListCompleted(), 1)

	done, ok = s.Toggle(0)
	require.True(t, ok)
	assert.False(t, done)
	assert.Len(t, s.ListIncomplete(), 1)
	assert.Nil(t, s.ListAll()[0].CompletedAt)
}

func TestStore_ListFilters(t *testing.T) {
	s := newTestStore(t, storage.FormatJSON)
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		s.Add(task.New(title, "", task.Medium))
	}
	s.SetCompleted(1, true)
	s.SetCompleted(3, true)

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, titles(s.ListAll()))
	assert.Equal(t, []string{"a", "c", "e"}, titles(s.ListIncomplete()))
	assert.Equal(t, []string{"b", "d"}, titles(s.ListCompleted()))
}

func TestStore_ListIsSnapshot(t *testing.T) {
	s := newTestStore(t, storage.FormatJSON)
	s.Add(task.New("a", "", task.Low))
	s.Add(task.New("b", "", task.Low))

	snap := s.ListAll()
	s.Add(task.New("c", "", task.Low))
	s.Remove(0)
	s.SetCompleted(0, true)

	assert.Equal(t, []string{"a", "b"}, titles(snap))
	assert.False(t, snap[1].Completed)
	assert.Nil(t, snap[1].CompletedAt)

	// editing the copy leaves the store alone
	snap[0].Title = "changed"
	assert.Equal(t, []string{"b", "c"}, titles(s.ListAll()))
}

func TestStore_RoundTrip(t *testing.T) {
	for _, f := range storage.Formats() {
		t.Run(string(f), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tasks."+string(f))
			s, err := storage.Open(path, storage.WithFormat(f))
			require.NoError(t, err)

			s.Add(task.New("Buy milk", "2%", task.Medium))
			s.Add(task.New("Write report", "quarterly, with \"quotes\"\nand a newline", task.High))
			s.Add(task.New("", "", task.Low))
			s.Add(task.New("Call mom", "", task.Low))
			require.True(t, s.SetCompleted(1, true))
			require.True(t, s.SetCompleted(3, true))

			want := s.ListAll()
			require.NoError(t, s.Save())
			require.NoError(t, s.Close())

			reloaded := openStore(t, path, storage.WithFormat(f))
			requireSameTasks(t, want, reloaded.ListAll())
		})
	}
}

func TestStore_SaveOverwritesWholeFile(t *testing.T) {
	for _, f := range storage.Formats() {
		t.Run(string(f), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tasks."+string(f))
			s, err := storage.Open(path, storage.WithFormat(f))
			require.NoError(t, err)
			for i := 0; i < 5; i++ {
				s.Add(task.New("t", "", task.Low))
			}
			require.NoError(t, s.Save())
			for s.Remove(0) {
			}
			s.Add(task.New("only", "", task.High))
			require.NoError(t, s.Save())
			require.NoError(t, s.Close())

			reloaded := openStore(t, path, storage.WithFormat(f))
			assert.Equal(t, []string{"only"}, titles(reloaded.ListAll()))

			entries, err := os.ReadDir(filepath.Dir(path))
			require.NoError(t, err)
			for _, e := range entries {
				assert.NotContains(t, e.Name(), ".tmp", "temp files must not be left behind")
			}
		})
	}
}

func TestStore_NonUTF8TextRoundTrips(t *testing.T) {
	for _, f := range storage.Formats() {
		t.Run(string(f), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tasks."+string(f))
			s, err := storage.Open(path, storage.WithFormat(f))
			require.NoError(t, err)

			s.Add(task.New("caf\xe9", "d\xff", task.High))
			want := s.ListAll()
			require.NoError(t, s.Save())
			require.NoError(t, s.Close())

			reloaded := openStore(t, path, storage.WithFormat(f))
			requireSameTasks(t, want, reloaded.ListAll())
			assert.Equal(t, "caf\uFFFD", reloaded.ListAll()[0].Title)
		})
	}
}

func TestStore_SaveRefusesUnreadableTasks(t *testing.T) {
	open := task.New("open", "", task.Low)
	done := task.New("done", "", task.Low)
	done.Completed = true

	bad := map[string]task.Task{
		"invalid utf8 title":       {ID: "a", Title: "caf\xe9", Priority: task.Low},
		"invalid utf8 description": {ID: "b", Title: "ok", Description: "\xff", Priority: task.Low},
		"priority out of range":    {ID: "c", Title: "ok", Priority: task.Priority(7)},
		"completed without time":   done,
	}
	for _, f := range storage.Formats() {
		for name, tk := range bad {
			t.Run(string(f)+"/"+name, func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "tasks."+string(f))
				s, err := storage.Open(path, storage.WithFormat(f))
				require.NoError(t, err)
				s.Add(open)
				require.NoError(t, s.Save())
				before, err := os.ReadFile(path)
				require.NoError(t, err)

				s.Add(tk)
				require.ErrorIs(t, s.Save(), storage.ErrUnstorableTask)
				assert.Equal(t, 2, s.Len())

				after, err := os.ReadFile(path)
				require.NoError(t, err)
				assert.Equal(t, before, after, "the previous snapshot must stay in place")
				require.NoError(t, s.Close())

				reloaded := openStore(t, path, storage.WithFormat(f))
				assert.Equal(t, []string{"open"}, titles(reloaded.ListAll()))
			})
		}
	}
}

func TestOpen_CorruptFileIsEmptyAndUntouched(t *testing.T) {
	for _, f := range storage.Formats() {
		t.Run(string(f), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tasks."+string(f))
			garbage := []byte("\x00\x01not a snapshot{{{[[")
			require.NoError(t, os.WriteFile(path, garbage, 0o644))

			s := openStore(t, path, storage.WithFormat(f))
			assert.Equal(t, 0, s.Len())

			got, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, garbage, got)
		})
	}
}

func TestOpen_InconsistentRecordIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	doc := `{"version":1,"tasks":[{"id":"x","title":"a","description":"","completed":true,"priority":"LOW","created_at":"2024-01-01T00:00:00Z"}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s := openStore(t, path, storage.WithFormat(storage.FormatJSON))
	assert.Equal(t, 0, s.Len())
}

func TestStore_SaveFailureKeepsMemory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	path := filepath.Join(dir, "tasks.json")
	s := openStore(t, path, storage.WithFormat(storage.FormatJSON), storage.WithLock(false))
	s.Add(task.New("a", "", task.Low))

	require.NoError(t, os.RemoveAll(dir))
	err := s.Save()
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, titles(s.ListAll()))

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, s.Save())
}

func TestOpen_LockedByAnotherStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	first, err := storage.Open(path)
	require.NoError(t, err)

	_, err = storage.Open(path)
	require.ErrorIs(t, err, storage.ErrLocked)

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())
	second := openStore(t, path)
	assert.Equal(t, storage.FormatSQLite, second.Format())
}

func TestStore_Events(t *testing.T) {
	s := newTestStore(t, storage.FormatJSON)

	var all []storage.Event
	var completes int
	s.Subscribe(func(ev storage.Event) { all = append(all, ev) })
	s.Subscribe(func(storage.Event) { completes++ }, storage.EventComplete)
	s.Subscribe(nil)

	s.Add(task.New("a", "", task.Low))
	s.Add(task.New("b", "", task.Low))
	s.SetCompleted(1, true)
	s.Toggle(0)
	s.Remove(0)
	s.Remove(7)
	require.NoError(t, s.Save())

	kinds := make([]storage.EventKind, 0, len(all))
	for _, ev := range all {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []storage.EventKind{
		storage.EventAdd, storage.EventAdd, storage.EventComplete, storage.EventComplete, storage.EventRemove, storage.EventSave,
	}, kinds)
	assert.Equal(t, 2, completes)
	assert.Equal(t, 1, all[1].Index)
	assert.Equal(t, "b", all[2].Task.Title)
	assert.True(t, all[2].Task.Completed)
	assert.Equal(t, "a", all[4].Task.Title)
	assert.Equal(t, 1, all[5].Count)
	assert.Equal(t, "save", storage.EventSave.String())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	for _, f := range []storage.Format{storage.FormatSQLite, storage.FormatJSON} {
		t.Run(string(f), func(t *testing.T) {
			s := newTestStore(t, f)
			const writers, perWriter = 4, 50

			var wg sync.WaitGroup
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perWriter; i++ {
						s.Add(task.New("t", "", task.Medium))
						s.Toggle(i)
					}
				}()
			}
			stop := make(chan struct{})
			var readers sync.WaitGroup
			readers.Add(2)
			go func() {
				defer readers.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					for _, tk := range s.ListAll() {
						assert.Equal(t, tk.Completed, tk.CompletedAt != nil)
					}
				}
			}()
			go func() {
				defer readers.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					assert.NoError(t, s.Save())
				}
			}()

			wg.Wait()
			close(stop)
			readers.Wait()

			require.NoError(t, s.Save())
			assert.Equal(t, writers*perWriter, s.Len())
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]storage.Format{
		"sqlite": storage.FormatSQLite,
		"DB":     storage.FormatSQLite,
		"json":   storage.FormatJSON,
		"Toml":   storage.FormatTOML,
		"yml":    storage.FormatYAML,
		"yaml":   storage.FormatYAML,
	}
	for in, want := range tests {
		got, err := storage.ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := storage.ParseFormat("xml")
	require.ErrorIs(t, err, storage.ErrUnknownFormat)
}
