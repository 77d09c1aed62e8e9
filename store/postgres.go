package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stevemurr/cosmoscope/errs"
)

const defaultDSN = "postgres://localhost/cosmoscope?sslmode=disable"

// PostgresSessions stores snapshots in a Postgres table.
//
//	sessions(name TEXT PRIMARY KEY, data BYTEA, modified_at TIMESTAMPTZ)
type PostgresSessions struct {
	db *pgxpool.Pool
}

// NewPostgresSessions connects to dsn (defaultDSN when empty) and ensures the
// table exists.
func NewPostgresSessions(ctx context.Context, dsn string) (*PostgresSessions, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.IO(err, "open postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.IO(err, "ping postgres")
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS sessions (
		name TEXT PRIMARY KEY,
		data BYTEA NOT NULL,
		modified_at TIMESTAMPTZ NOT NULL
	)`); err != nil {
		pool.Close()
		return nil, errs.IO(err, "create sessions table")
	}
	return &PostgresSessions{db: pool}, nil
}

func (s *PostgresSessions) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresSessions) Driver() string { return DriverPostgres }

func (s *PostgresSessions) Location(name string) string {
	f, err := fileName(name)
	if err != nil {
		f = name
	}
	return "postgres:sessions/" + f
}

func (s *PostgresSessions) Write(ctx context.Context, name string, data []byte) error {
	f, err := fileName(name)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO sessions (name, data, modified_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET data = excluded.data, modified_at = excluded.modified_at`,
		f, data, time.Now().UTC())
	return errs.IO(err, "write %s", f)
}

func (s *PostgresSessions) Read(ctx context.Context, name string) ([]byte, error) {
	f, err := fileName(name)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.db.QueryRow(ctx, "SELECT data FROM sessions WHERE name = $1", f).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("no stored session %s", f)
	}
	if err != nil {
		return nil, errs.IO(err, "read %s", f)
	}
	return data, nil
}

func (s *PostgresSessions) Latest(ctx context.Context) (SessionInfo, error) {
	var info SessionInfo
	err := s.db.QueryRow(ctx,
		"SELECT name, octet_length(data), modified_at FROM sessions ORDER BY modified_at DESC, name DESC LIMIT 1",
	).Scan(&info.Name, &info.Size, &info.ModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionInfo{}, errs.NotFound("no stored sessions")
	}
	if err != nil {
		return SessionInfo{}, errs.IO(err, "query latest session")
	}
	return info, nil
}

func (s *PostgresSessions) List(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.Query(ctx, "SELECT name, octet_length(data), modified_at FROM sessions ORDER BY name")
	if err != nil {
		return nil, errs.IO(err, "list sessions")
	}
	defer rows.Close()
	var infos []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.Name, &info.Size, &info.ModifiedAt); err != nil {
			return nil, errs.IO(err, "list sessions")
		}
		infos = append(infos, info)
	}
	return infos, errs.IO(rows.Err(), "list sessions")
}

func (s *PostgresSessions) Delete(ctx context.Context, name string) (bool, error) {
	f, err := fileName(name)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, "DELETE FROM sessions WHERE name = $1", f)
	if err != nil {
		return false, errs.IO(err, "delete %s", f)
	}
	return tag.RowsAffected() > 0, nil
}
