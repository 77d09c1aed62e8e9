package store

import (
	"context"
	"sync"
	"time"

	"github.com/stevemurr/cosmoscope/errs"
)

// MemorySessions keeps snapshots in memory. Data is lost on restart.
// Safe for concurrent use.
type MemorySessions struct {
	mu    sync.RWMutex
	items map[string]memorySession
	seq   int64
}

type memorySession struct {
	data     []byte
	modified time.Time
	seq      int64
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{items: make(map[string]memorySession)}
}

func (m *MemorySessions) Driver() string { return DriverMemory }

func (m *MemorySessions) Location(name string) string {
	f, err := fileName(name)
	if err != nil {
		return "memory:" + name
	}
	return "memory:" + f
}

func (m *MemorySessions) Write(_ context.Context, name string, data []byte) error {
	f, err := fileName(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.items[f] = memorySession{data: append([]byte{}, data...), modified: time.Now().UTC(), seq: m.seq}
	return nil
}

func (m *MemorySessions) Read(_ context.Context, name string) ([]byte, error) {
	f, err := fileName(name)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[f]
	if !ok {
		return nil, errs.NotFound("no stored session %s", f)
	}
	return append([]byte{}, item.data...), nil
}

// Latest orders by write sequence, which the wall clock may not resolve.
func (m *MemorySessions) Latest(_ context.Context) (SessionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best SessionInfo
		seq  int64
	)
	for f, item := range m.items {
		if item.seq > seq {
			seq = item.seq
			best = SessionInfo{Name: f, Size: int64(len(item.data)), ModifiedAt: item.modified}
		}
	}
	if seq == 0 {
		return SessionInfo{}, errs.NotFound("no stored sessions")
	}
	return best, nil
}

func (m *MemorySessions) List(_ context.Context) ([]SessionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]SessionInfo, 0, len(m.items))
	for f, item := range m.items {
		infos = append(infos, SessionInfo{Name: f, Size: int64(len(item.data)), ModifiedAt: item.modified})
	}
	sortInfos(infos)
	return infos, nil
}

func (m *MemorySessions) Delete(_ context.Context, name string) (bool, error) {
	f, err := fileName(name)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[f]; !ok {
		return false, nil
	}
	delete(m.items, f)
	return true, nil
}
