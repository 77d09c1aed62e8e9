package codec

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/stevemurr/cosmoscope/dataset"
	"github.com/stevemurr/cosmoscope/errs"
)

// SessionVersion is the snapshot envelope version written by this package.
const SessionVersion = 1

// Session is the envelope persisted by a session snapshot.
type Session struct {
	Version  int
	ID       string
	SavedAt  time.Time
	Datasets []*dataset.Dataset
}

func encodeSession(s *Session) (map[string]any, error) {
	if s == nil {
		return nil, errs.Serialization("nil session")
	}
	items := make([]any, 0, len(s.Datasets))
	for _, d := range s.Datasets {
		enc, err := EncodeDataset(d)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", d.ID, err)
		}
		items = append(items, enc)
	}
	version := s.Version
	if version == 0 {
		version = SessionVersion
	}
	return map[string]any{
		TypeKey:      TagSession,
		"version":    float64(version),
		"session_id": s.ID,
		"saved_at":   s.SavedAt.UTC().Format(time.RFC3339Nano),
		"datasets":   items,
	}, nil
}

func decodeSession(n map[string]any) (*Session, error) {
	version, ok := n["version"].(float64)
	if !ok {
		return nil, errs.Serialization("session: missing version")
	}
	if int(version) < 1 || int(version) > SessionVersion {
		return nil, errs.Serialization("session: unsupported version %v", version)
	}
	id, err := stringField(n, "session_id", false)
	if err != nil {
		return nil, err
	}
	s := &Session{Version: int(version), ID: id}
	if raw, err := stringField(n, "saved_at", false); err != nil {
		return nil, err
	} else if raw != "" {
		if s.SavedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, errs.Serialization("session: saved_at: %v", err)
		}
	}
	items, ok := n["datasets"].([]any)
	if !ok {
		return nil, errs.Serialization("session: expected a datasets array, got %T", n["datasets"])
	}
	seen := make(map[string]bool, len(items))
	for i, raw := range items {
		d, err := DecodeDataset(raw)
		if err != nil {
			return nil, fmt.Errorf("session dataset %d: %w", i, err)
		}
		if err := d.Validate(); err != nil {
			return nil, errs.Serialization("session dataset %d: %v", i, err)
		}
		if seen[d.ID] {
			return nil, errs.Serialization("session: duplicate dataset %q", d.ID)
		}
		seen[d.ID] = true
		s.Datasets = append(s.Datasets, d)
	}
	return s, nil
}

// Marshal encodes a tagged tree as a binary protobuf Value.
func Marshal(tree any) ([]byte, error) {
	v, err := structpb.NewValue(tree)
	if err != nil {
		return nil, errs.Serialization("snapshot: %v", err)
	}
	b, err := proto.Marshal(v)
	if err != nil {
		return nil, errs.Serialization("snapshot: %v", err)
	}
	return b, nil
}

// Unmarshal reverses Marshal, yielding the tagged tree.
func Unmarshal(data []byte) (any, error) {
	var v structpb.Value
	if err := proto.Unmarshal(data, &v); err != nil {
		return nil, errs.Serialization("snapshot: %v", err)
	}
	return v.AsInterface(), nil
}

// MarshalSession encodes a full session snapshot.
func MarshalSession(s *Session) ([]byte, error) {
	tree, err := encodeSession(s)
	if err != nil {
		return nil, err
	}
	return Marshal(tree)
}

// UnmarshalSession decodes a snapshot written by MarshalSession. The result is
// complete or an error is returned.
func UnmarshalSession(data []byte) (*Session, error) {
	tree, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	v, err := Decode(tree)
	if err != nil {
		return nil, err
	}
	s, ok := v.(*Session)
	if !ok {
		return nil, errs.Serialization("snapshot holds a %T, not a session", v)
	}
	return s, nil
}
