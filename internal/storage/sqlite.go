package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"todo/internal/task"
)

// sqliteSnapshot stores the list as a small SQLite database. Each save
// builds a fresh database in a temp file and renames it over the old one,
// so the file on disk is always a complete snapshot.
type sqliteSnapshot struct{}

const snapshotDDL = `
CREATE TABLE tasks (
	position INTEGER PRIMARY KEY,
	id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	completed INTEGER NOT NULL DEFAULT 0,
	priority TEXT NOT NULL,
	created_at TEXT NOT NULL,
	completed_at TEXT DEFAULT NULL
);`

func (sqliteSnapshot) read(path string) ([]task.Task, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, "ro"))
	if err != nil {
		return nil, err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	rows, err := db.Query(`SELECT id, title, description, completed, priority, created_at, completed_at FROM tasks ORDER BY position;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rs []record
	for rows.Next() {
		var r record
		var doneInt int
		var completedStr sql.NullString
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &doneInt, &r.Priority, &r.CreatedAt, &completedStr); err != nil {
			return nil, err
		}
		r.Completed = doneInt == 1
		if completedStr.Valid {
			r.CompletedAt = completedStr.String
		}
		rs = append(rs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return fromRecords(rs)
}

func (sqliteSnapshot) write(path string, tasks []task.Task) (err error) {
	rs, err := toRecords(tasks)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if err = buildSnapshotDB(tmpPath, rs); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func buildSnapshotDB(path string, rs []record) error {
	db, err := sql.Open("sqlite", sqliteDSN(path, "rwc"))
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(snapshotDDL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO tasks (position, id, title, description, completed, priority, created_at, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, r := range rs {
		done := 0
		if r.Completed {
			done = 1
		}
		completedAt := sql.NullString{}
		if r.CompletedAt != "" {
			completedAt = sql.NullString{String: r.CompletedAt, Valid: true}
		}
		if _, err := stmt.Exec(i, r.ID, r.Title, r.Description, done, r.Priority, r.CreatedAt, completedAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert task %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return db.Close()
}

func sqliteDSN(path, mode string) string {
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", mode)
	q.Set("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}
