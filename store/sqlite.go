package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stevemurr/cosmoscope/errs"
)

// SqliteSessions stores snapshots in a single SQLite database.
//
// Tables:
//
//	sessions(name, data, modified_at)  PRIMARY KEY (name)
type SqliteSessions struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

func NewSqliteSessions(dbPath string) (*SqliteSessions, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errs.IO(err, "create %s", filepath.Dir(dbPath))
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errs.IO(err, "open %s", dbPath)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errs.IO(err, "open %s", dbPath)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		modified_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, errs.IO(err, "open %s", dbPath)
	}
	return &SqliteSessions{db: db, path: dbPath}, nil
}

func (s *SqliteSessions) Close() error {
	return s.db.Close()
}

func (s *SqliteSessions) Driver() string { return DriverSqlite }

func (s *SqliteSessions) Location(name string) string {
	f, err := fileName(name)
	if err != nil {
		f = name
	}
	return s.path + "#" + f
}

func (s *SqliteSessions) Write(ctx context.Context, name string, data []byte) error {
	f, err := fileName(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (name, data, modified_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data, modified_at = excluded.modified_at`,
		f, data, time.Now().UTC().UnixNano(),
	)
	return errs.IO(err, "write %s", f)
}

func (s *SqliteSessions) Read(ctx context.Context, name string) ([]byte, error) {
	f, err := fileName(name)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var data []byte
	err = s.db.QueryRowContext(ctx, "SELECT data FROM sessions WHERE name = ?", f).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("no stored session %s", f)
	}
	if err != nil {
		return nil, errs.IO(err, "read %s", f)
	}
	return data, nil
}

func (s *SqliteSessions) Latest(ctx context.Context) (SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		info SessionInfo
		nano int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT name, length(data), modified_at FROM sessions ORDER BY modified_at DESC, name DESC LIMIT 1",
	).Scan(&info.Name, &info.Size, &nano)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionInfo{}, errs.NotFound("no stored sessions")
	}
	if err != nil {
		return SessionInfo{}, errs.IO(err, "query latest session")
	}
	info.ModifiedAt = time.Unix(0, nano).UTC()
	return info, nil
}

func (s *SqliteSessions) List(ctx context.Context) ([]SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, "SELECT name, length(data), modified_at FROM sessions ORDER BY name")
	if err != nil {
		return nil, errs.IO(err, "list sessions")
	}
	defer rows.Close()
	var infos []SessionInfo
	for rows.Next() {
		var (
			info SessionInfo
			nano int64
		)
		if err := rows.Scan(&info.Name, &info.Size, &nano); err != nil {
			return nil, errs.IO(err, "list sessions")
		}
		info.ModifiedAt = time.Unix(0, nano).UTC()
		infos = append(infos, info)
	}
	return infos, errs.IO(rows.Err(), "list sessions")
}

func (s *SqliteSessions) Delete(ctx context.Context, name string) (bool, error) {
	f, err := fileName(name)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE name = ?", f)
	if err != nil {
		return false, errs.IO(err, "delete %s", f)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
