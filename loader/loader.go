// Package loader maps format labels to dataset readers and writers.
package loader

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/stevemurr/cosmoscope/dataset"
	"github.com/stevemurr/cosmoscope/errs"
)

// sniffSize is how much of a file identifiers get to look at.
const sniffSize = 512

// ReadFunc reads the file at path into a dataset without an identifier.
type ReadFunc func(path string) (dataset.Dataset, error)

// IdentifyFunc reports whether a file looks like the reader's format, given
// its path and first bytes.
type IdentifyFunc func(path string, head []byte) bool

// WriteFunc writes d to path.
type WriteFunc func(d *dataset.Dataset, path string) error

type reader struct {
	read     ReadFunc
	identify IdentifyFunc
}

// Registry holds the readers and writers by label. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	readers map[string]reader
	writers map[string]WriteFunc
}

func NewRegistry() *Registry {
	return &Registry{readers: make(map[string]reader), writers: make(map[string]WriteFunc)}
}

// Default returns a registry with the built-in formats.
func Default() *Registry {
	r := NewRegistry()
	_ = r.RegisterReader(FormatJSON, readJSON, identifyJSON)
	_ = r.RegisterWriter(FormatJSON, writeJSON)
	_ = r.RegisterReader(FormatASCII, readASCII, identifyASCII)
	_ = r.RegisterWriter(FormatASCII, writeASCII)
	return r
}

// RegisterReader adds a reader under label. identify may be nil, in which
// case the format is never picked by sniffing.
func (r *Registry) RegisterReader(label string, read ReadFunc, identify IdentifyFunc) error {
	if label == "" || read == nil {
		return errs.Invalid("reader needs a label and a read function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.readers[label]; exists {
		return errs.Conflict("reader %q is already registered", label)
	}
	r.readers[label] = reader{read: read, identify: identify}
	return nil
}

// RegisterWriter adds a writer under label.
func (r *Registry) RegisterWriter(label string, write WriteFunc) error {
	if label == "" || write == nil {
		return errs.Invalid("writer needs a label and a write function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.writers[label]; exists {
		return errs.Conflict("writer %q is already registered", label)
	}
	r.writers[label] = write
	return nil
}

// Formats returns the reader labels in order.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.readers)
}

// WriteFormats returns the writer labels in order.
func (r *Registry) WriteFormats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.writers)
}

// Read loads path with the reader registered as format. An empty format
// picks the single reader whose identifier accepts the file.
func (r *Registry) Read(path, format string) (dataset.Dataset, error) {
	if format == "" {
		var err error
		if format, err = r.Identify(path); err != nil {
			return dataset.Dataset{}, err
		}
	}
	r.mu.RLock()
	rd, ok := r.readers[format]
	r.mu.RUnlock()
	if !ok {
		return dataset.Dataset{}, errs.Invalid("unknown format %q", format)
	}
	return rd.read(path)
}

// Identify returns the label of the only reader that accepts path.
func (r *Registry) Identify(path string) (string, error) {
	head, err := sniff(path)
	if err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matches []string
	for label, rd := range r.readers {
		if rd.identify != nil && rd.identify(path, head) {
			matches = append(matches, label)
		}
	}
	sort.Strings(matches)
	switch len(matches) {
	case 0:
		return "", errs.Invalid("cannot identify the format of %s", path)
	case 1:
		return matches[0], nil
	}
	return "", errs.Invalid("format of %s is ambiguous: %s", path, strings.Join(matches, ", "))
}

// Write saves d to path with the writer registered as format.
func (r *Registry) Write(d *dataset.Dataset, path, format string) error {
	r.mu.RLock()
	w, ok := r.writers[format]
	r.mu.RUnlock()
	if !ok {
		return errs.Invalid("unknown format %q", format)
	}
	return w(d, path)
}

func sniff(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, openError(err, path)
	}
	defer f.Close()
	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, errs.IO(err, "read %s", path)
	}
	return buf[:n], nil
}

func openError(err error, path string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errs.NotFound("no file at %s", path)
	}
	return errs.IO(err, "open %s", path)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
