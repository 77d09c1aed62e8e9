package loader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stevemurr/cosmoscope/codec"
	"github.com/stevemurr/cosmoscope/dataset"
	"github.com/stevemurr/cosmoscope/errs"
)

// Built-in format labels.
const (
	FormatJSON  = "cosmoscope-json"
	FormatASCII = "ascii"
)

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func identifyJSON(path string, head []byte) bool {
	trimmed := bytes.TrimSpace(head)
	return bytes.HasPrefix(trimmed, []byte("{")) && bytes.Contains(head, []byte(codec.TypeKey))
}

// readJSON reads a dataset encoded with the codec. The stored identifier is
// dropped; the store assigns a new one.
func readJSON(path string) (dataset.Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return dataset.Dataset{}, openError(err, path)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return dataset.Dataset{}, errs.Serialization("%s: %v", path, err)
	}
	d, err := codec.DecodeDataset(tree)
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("%s: %w", path, err)
	}
	if d.Name == "" {
		d.Name = baseName(path)
	}
	d.ID = ""
	return *d, nil
}

func writeJSON(d *dataset.Dataset, path string) error {
	tree, err := codec.EncodeDataset(d)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return errs.Serialization("%s: %v", path, err)
	}
	return errs.IO(os.WriteFile(path, b, 0o644), "write %s", path)
}

// identifyASCII accepts files whose first data line is one or two numbers.
func identifyASCII(path string, head []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".dat", ".ascii", "":
	default:
		return false
	}
	sc := bufio.NewScanner(bytes.NewReader(head))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Fields(line)
		if len(cols) < 1 || len(cols) > 2 {
			return false
		}
		for _, c := range cols {
			if _, err := dataset.ToFloat(c); err != nil {
				return false
			}
		}
		return true
	}
	return false
}

// readASCII reads whitespace separated columns: value and, optionally, its
// standard deviation. Lines starting with '#' are comments; a first line of
// the form "# name [unit]", as writeASCII produces, also sets the unit.
func readASCII(path string) (dataset.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataset.Dataset{}, openError(err, path)
	}
	defer f.Close()

	var (
		values, sigma []float64
		unit          dataset.Unit
		width         int
		lineNo        int
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if lineNo == 1 && strings.HasPrefix(line, "#") {
			unit = headerUnit(line)
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Fields(line)
		if width == 0 {
			width = len(cols)
		}
		if len(cols) != width || width > 2 {
			return dataset.Dataset{}, errs.Serialization("%s:%d: expected %d columns, got %d", path, lineNo, width, len(cols))
		}
		for i, c := range cols {
			v, err := dataset.ToFloat(c)
			if err != nil {
				return dataset.Dataset{}, errs.Serialization("%s:%d: %v", path, lineNo, err)
			}
			if i == 0 {
				values = append(values, v)
			} else {
				sigma = append(sigma, v)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return dataset.Dataset{}, errs.IO(err, "read %s", path)
	}

	d := dataset.Dataset{
		Name:   baseName(path),
		Values: values,
		Unit:   unit,
		Meta:   map[string]any{"source": path},
	}
	if d.Values == nil {
		d.Values = []float64{}
	}
	if width == 2 {
		d.Uncertainty = &dataset.Uncertainty{Kind: dataset.StdDev, Values: sigma}
	}
	return d, nil
}

// headerUnit returns the bracketed unit ending a header line, if any.
func headerUnit(line string) dataset.Unit {
	if !strings.HasSuffix(line, "]") {
		return ""
	}
	open := strings.LastIndex(line, "[")
	if open < 0 {
		return ""
	}
	return dataset.Unit(strings.TrimSpace(line[open+1 : len(line)-1]))
}

func writeASCII(d *dataset.Dataset, path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s", d.Name)
	if d.Unit != "" {
		fmt.Fprintf(&b, " [%s]", d.Unit)
	}
	b.WriteByte('\n')
	for i, v := range d.Values {
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		if d.Uncertainty != nil {
			b.WriteByte(' ')
			b.WriteString(strconv.FormatFloat(d.Uncertainty.Values[i], 'g', -1, 64))
		}
		b.WriteByte('\n')
	}
	return errs.IO(os.WriteFile(path, []byte(b.String()), 0o644), "write %s", path)
}
