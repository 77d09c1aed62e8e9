package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stevemurr/cosmoscope/errs"
)

// Extension is appended to every snapshot name.
const Extension = ".csm"

// Backend drivers.
const (
	DriverFS       = "fs"
	DriverMemory   = "memory"
	DriverSqlite   = "sqlite"
	DriverS3       = "s3"
	DriverPostgres = "postgres"
)

// SessionInfo describes a stored snapshot.
type SessionInfo struct {
	Name       string
	Size       int64
	ModifiedAt time.Time
}

// Sessions persists snapshot bytes under a name. Names are given without the
// extension; backends add it.
type Sessions interface {
	// Write stores data under name atomically, replacing any previous snapshot.
	Write(ctx context.Context, name string, data []byte) error

	// Read returns the snapshot stored under name, or a NotFound error.
	Read(ctx context.Context, name string) ([]byte, error)

	// Latest returns the most recently modified snapshot, or a NotFound error
	// when there are none.
	Latest(ctx context.Context) (SessionInfo, error)

	// List returns every snapshot ordered by name.
	List(ctx context.Context) ([]SessionInfo, error)

	// Delete removes a snapshot. Returns true if it existed.
	Delete(ctx context.Context, name string) (bool, error)

	// Location is a human readable address of the named snapshot.
	Location(name string) string

	Driver() string
}

// Options selects and configures a Sessions backend.
type Options struct {
	Driver string
	Dir    string // fs: snapshot directory; sqlite: database directory

	// s3
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool

	// postgres
	DSN string
}

// DefaultDir is where snapshots go when no directory is configured.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".cosmoscope", "sessions")
}

// NewSessions creates a Sessions backend based on opts.Driver.
//
// Supported drivers:
//
//	"fs"       - one file per snapshot in opts.Dir (default)
//	"sqlite"   - SQLite database at opts.Dir/sessions.db
//	"memory"   - in-memory, for tests
//	"s3"       - objects under opts.Prefix in opts.Bucket
//	"postgres" - table in the database at opts.DSN
func NewSessions(ctx context.Context, opts Options) (Sessions, error) {
	dir := opts.Dir
	if dir == "" {
		dir = DefaultDir()
	}
	switch opts.Driver {
	case DriverFS, "":
		return NewFileSessions(dir), nil
	case DriverSqlite:
		return NewSqliteSessions(filepath.Join(dir, "sessions.db"))
	case DriverMemory:
		return NewMemorySessions(), nil
	case DriverS3:
		return NewS3Sessions(ctx, S3Config{
			Bucket:    opts.Bucket,
			Prefix:    opts.Prefix,
			Region:    opts.Region,
			Endpoint:  opts.Endpoint,
			PathStyle: opts.PathStyle,
		})
	case DriverPostgres:
		return NewPostgresSessions(ctx, opts.DSN)
	}
	return nil, errs.Invalid("unknown session driver %q (supported: fs, sqlite, memory, s3, postgres)", opts.Driver)
}

// fileName validates a snapshot name and returns it with the extension.
func fileName(name string) (string, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), Extension)
	if name == "" {
		return "", errs.Invalid("empty session name")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", errs.Invalid("invalid session name %q", name)
	}
	return name + Extension, nil
}

// latest picks the newest entry, breaking ties by name.
func latest(infos []SessionInfo) (SessionInfo, error) {
	if len(infos) == 0 {
		return SessionInfo{}, errs.NotFound("no stored sessions")
	}
	best := infos[0]
	for _, in := range infos[1:] {
		if in.ModifiedAt.After(best.ModifiedAt) || (in.ModifiedAt.Equal(best.ModifiedAt) && in.Name > best.Name) {
			best = in
		}
	}
	return best, nil
}

func sortInfos(infos []SessionInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
}
