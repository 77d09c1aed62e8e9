package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stevemurr/cosmoscope/errs"
)

// FileSessions stores each snapshot as a separate file.
//
// Layout:
//
//	dir/
//	  01HQ3Z....csm   # default name: the session ID
//	  night1.csm      # explicitly named snapshot
//
// The directory is only created by Write.
type FileSessions struct {
	mu  sync.RWMutex
	dir string
}

func NewFileSessions(dir string) *FileSessions {
	return &FileSessions{dir: dir}
}

func (s *FileSessions) Driver() string { return DriverFS }

// Dir is the snapshot directory.
func (s *FileSessions) Dir() string { return s.dir }

func (s *FileSessions) Location(name string) string {
	f, err := fileName(name)
	if err != nil {
		return filepath.Join(s.dir, name)
	}
	return filepath.Join(s.dir, f)
}

// Write streams data to a temporary file in the same directory and renames it
// into place, so readers never observe a partial snapshot.
func (s *FileSessions) Write(_ context.Context, name string, data []byte) error {
	f, err := fileName(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errs.IO(err, "create %s", s.dir)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return errs.IO(err, "write %s", f)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errs.IO(err, "write %s", f)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errs.IO(err, "sync %s", f)
	}
	if err := tmp.Close(); err != nil {
		return errs.IO(err, "close %s", f)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, f)); err != nil {
		return errs.IO(err, "rename %s", f)
	}
	return nil
}

func (s *FileSessions) Read(_ context.Context, name string) ([]byte, error) {
	f, err := fileName(name)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(filepath.Join(s.dir, f))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.NotFound("no stored session %s", filepath.Join(s.dir, f))
		}
		return nil, errs.IO(err, "read %s", f)
	}
	return data, nil
}

func (s *FileSessions) Latest(ctx context.Context) (SessionInfo, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return SessionInfo{}, err
	}
	return latest(infos)
}

// List returns the snapshots in the directory. A missing directory holds no
// snapshots.
func (s *FileSessions) List(_ context.Context) ([]SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errs.IO(err, "list %s", s.dir)
	}
	var infos []SessionInfo
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, SessionInfo{Name: e.Name(), Size: fi.Size(), ModifiedAt: fi.ModTime()})
	}
	sortInfos(infos)
	return infos, nil
}

func (s *FileSessions) Delete(_ context.Context, name string) (bool, error) {
	f, err := fileName(name)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(filepath.Join(s.dir, f)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, errs.IO(err, "delete %s", f)
	}
	return true, nil
}
