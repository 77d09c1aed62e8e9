// Package store holds the session's datasets and persists them as snapshots.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/stevemurr/cosmoscope/codec"
	"github.com/stevemurr/cosmoscope/dataset"
	"github.com/stevemurr/cosmoscope/errs"
)

// Store is the keyed registry of datasets for one session. Callers always get
// copies; the stored values are never handed out. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	datasets  map[string]*dataset.Dataset
	sessionID string
	sessions  Sessions
}

// New returns an empty Store that persists snapshots through sessions.
func New(sessions Sessions) *Store {
	return &Store{
		datasets:  make(map[string]*dataset.Dataset),
		sessionID: ulid.Make().String(),
		sessions:  sessions,
	}
}

// SessionID is the default snapshot name, fixed for the Store's lifetime.
func (s *Store) SessionID() string { return s.sessionID }

// Sessions returns the snapshot backend.
func (s *Store) Sessions() Sessions { return s.sessions }

// Register inserts a copy of d under its identifier. Without overwrite an
// existing entry is a conflict and the Store is left unchanged.
func (s *Store) Register(d *dataset.Dataset, overwrite bool) error {
	if d == nil {
		return errs.Invalid("nil dataset")
	}
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.datasets[d.ID]; exists && !overwrite {
		return errs.Conflict("dataset %s is already registered", d.ID)
	}
	s.datasets[d.ID] = d.Clone()
	glog.Infof("store: added data with identifier %s", d.ID)
	return nil
}

// Create builds a dataset from src with a fresh identifier and registers it.
func (s *Store) Create(src dataset.Dataset) (*dataset.Dataset, error) {
	d, err := dataset.New(src)
	if err != nil {
		return nil, err
	}
	if err := s.Register(d, false); err != nil {
		return nil, err
	}
	return d, nil
}

// Get returns a copy of the dataset stored under id.
func (s *Store) Get(id string) (*dataset.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.datasets[id]
	if !ok {
		return nil, errs.NotFound("no dataset with identifier %s", id)
	}
	return d.Clone(), nil
}

// Update installs the result of applying patch under the same identifier and
// returns the previous values of exactly the fields that changed.
func (s *Store) Update(id string, patch dataset.Patch) (dataset.Patch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.datasets[id]
	if !ok {
		return nil, errs.NotFound("no dataset with identifier %s", id)
	}
	updated, err := old.Apply(patch)
	if err != nil {
		return nil, err
	}
	s.datasets[id] = updated
	back := dataset.Diff(old, updated)
	glog.Infof("store: updated %v of data with identifier %s", back.Keys(), id)
	return back, nil
}

// Unregister removes the dataset stored under id.
func (s *Store) Unregister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[id]; !ok {
		return errs.NotFound("no dataset with identifier %s", id)
	}
	delete(s.datasets, id)
	glog.Infof("store: removed data with identifier %s", id)
	return nil
}

// List returns copies of every dataset, ordered by identifier.
func (s *Store) List() []*dataset.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// Len is the number of registered datasets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.datasets)
}

func (s *Store) snapshot() []*dataset.Dataset {
	out := make([]*dataset.Dataset, 0, len(s.datasets))
	for _, d := range s.datasets {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Save writes the full mapping as a snapshot named name, or the session ID
// when name is empty, and returns where it was written.
func (s *Store) Save(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = s.sessionID
	}
	s.mu.RLock()
	sess := &codec.Session{
		Version:  codec.SessionVersion,
		ID:       s.sessionID,
		SavedAt:  time.Now().UTC(),
		Datasets: s.snapshot(),
	}
	s.mu.RUnlock()

	data, err := codec.MarshalSession(sess)
	if err != nil {
		return "", err
	}
	if err := s.sessions.Write(ctx, name, data); err != nil {
		return "", err
	}
	loc := s.sessions.Location(name)
	glog.Infof("store: saved %d datasets to %s", len(sess.Datasets), loc)
	return loc, nil
}

// Open replaces the whole mapping with the snapshot named name. An empty name
// selects the most recently modified snapshot. The snapshot is fully decoded
// before anything is replaced.
func (s *Store) Open(ctx context.Context, name string) error {
	if name == "" {
		info, err := s.sessions.Latest(ctx)
		if err != nil {
			if errs.KindOf(err) == errs.KindNotFound {
				return errs.NotFound("no session name provided and no stored sessions to load")
			}
			return err
		}
		name = info.Name
	}
	data, err := s.sessions.Read(ctx, name)
	if err != nil {
		return err
	}
	sess, err := codec.UnmarshalSession(data)
	if err != nil {
		return err
	}

	next := make(map[string]*dataset.Dataset, len(sess.Datasets))
	for _, d := range sess.Datasets {
		next[d.ID] = d
	}
	s.mu.Lock()
	s.datasets = next
	s.mu.Unlock()
	glog.Infof("store: opened %s with %d datasets", s.sessions.Location(name), len(next))
	return nil
}
