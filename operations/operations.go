// Package operations defines the built-in reversible operations on the store.
package operations

import (
	"context"
	"math"

	"github.com/golang/glog"

	"github.com/stevemurr/cosmoscope/codec"
	"github.com/stevemurr/cosmoscope/dataset"
	"github.com/stevemurr/cosmoscope/errs"
	"github.com/stevemurr/cosmoscope/history"
	"github.com/stevemurr/cosmoscope/loader"
	"github.com/stevemurr/cosmoscope/schema"
	"github.com/stevemurr/cosmoscope/store"
)

// Operation names.
const (
	LoadData   = "load_data"
	CreateData = "create_data"
	UpdateData = "update_data"
	SmoothData = "smooth_data"
	RemoveData = "remove_data"
)

// Deps are the collaborators the operations act on.
type Deps struct {
	Store   *store.Store
	Loaders *loader.Registry
}

// Register adds the built-in operations to reg.
func Register(reg *history.Registry, deps Deps) error {
	for _, op := range []*history.Operation{
		{Name: LoadData, Label: "Load Data from Path", Forward: deps.loadData, Undo: deps.unloadData},
		{Name: CreateData, Label: "Create Data", Forward: deps.createData, Undo: deps.uncreateData},
		{Name: UpdateData, Label: "Update Data", Forward: deps.updateData, Undo: deps.restoreData},
		{Name: SmoothData, Label: "Apply Smooth", Forward: deps.smoothData, Undo: deps.restoreData},
		{Name: RemoveData, Label: "Remove Data", Forward: deps.removeData, Undo: deps.reinstateData},
	} {
		if err := reg.Register(op); err != nil {
			return err
		}
	}
	return nil
}

// loadData reads args[0] with format args[1] and registers the result. The
// dataset is kept in the context so a redo restores the same identifier.
func (d Deps) loadData(_ context.Context, args []any, opctx history.Context) (any, error) {
	if prev, ok := opctx["dataset"].(*dataset.Dataset); ok {
		if err := d.Store.Register(prev, false); err != nil {
			return nil, err
		}
		return prev.ID, nil
	}
	path, err := stringArg(args, 0, "path", true)
	if err != nil {
		return nil, err
	}
	format, err := stringArg(args, 1, "format", false)
	if err != nil {
		return nil, err
	}
	src, err := d.Loaders.Read(path, format)
	if err != nil {
		return nil, err
	}
	created, err := d.Store.Create(src)
	if err != nil {
		return nil, err
	}
	opctx["dataset"] = created
	glog.Infof("operations: loaded %s as %s", path, created.ID)
	return created.ID, nil
}

func (d Deps) unloadData(_ context.Context, opctx history.Context) error {
	prev, ok := opctx["dataset"].(*dataset.Dataset)
	if !ok {
		return errs.ErrInternal
	}
	return d.Store.Unregister(prev.ID)
}

// createData registers the dataset args[0], given natively or as a tagged
// tree, under its own identifier. With args[1] true an existing entry is
// replaced and kept for undo.
func (d Deps) createData(_ context.Context, args []any, opctx history.Context) (any, error) {
	created, ok := opctx["dataset"].(*dataset.Dataset)
	if !ok {
		var err error
		if created, err = datasetArg(args, 0); err != nil {
			return nil, err
		}
	}
	overwrite, err := boolArg(args, 1, "overwrite")
	if err != nil {
		return nil, err
	}
	if overwrite {
		if prev, err := d.Store.Get(created.ID); err == nil {
			opctx["replaced"] = prev
		} else {
			delete(opctx, "replaced")
		}
	}
	if err := d.Store.Register(created, overwrite); err != nil {
		return nil, err
	}
	opctx["dataset"] = created
	return created.ID, nil
}

func (d Deps) uncreateData(_ context.Context, opctx history.Context) error {
	created, ok := opctx["dataset"].(*dataset.Dataset)
	if !ok {
		return errs.ErrInternal
	}
	if prev, ok := opctx["replaced"].(*dataset.Dataset); ok {
		return d.Store.Register(prev, true)
	}
	return d.Store.Unregister(created.ID)
}

// updateData applies the patch args[1] to the dataset args[0] and keeps the
// previous values of the changed fields.
func (d Deps) updateData(_ context.Context, args []any, opctx history.Context) (any, error) {
	id, err := stringArg(args, 0, "identifier", true)
	if err != nil {
		return nil, err
	}
	patch, err := patchArg(args, 1)
	if err != nil {
		return nil, err
	}
	back, err := d.Store.Update(id, patch)
	if err != nil {
		return nil, err
	}
	opctx["identifier"] = id
	opctx["previous"] = back
	return back.Keys(), nil
}

// restoreData puts back the fields recorded by updateData or smoothData.
func (d Deps) restoreData(_ context.Context, opctx history.Context) error {
	id, _ := opctx["identifier"].(string)
	back, ok := opctx["previous"].(dataset.Patch)
	if id == "" || !ok {
		return errs.ErrInternal
	}
	_, err := d.Store.Update(id, back)
	return err
}

// smoothData replaces the values of args[0] with a boxcar average of width
// args[1].
func (d Deps) smoothData(_ context.Context, args []any, opctx history.Context) (any, error) {
	id, err := stringArg(args, 0, "identifier", true)
	if err != nil {
		return nil, err
	}
	width, err := intArg(args, 1, "width")
	if err != nil {
		return nil, err
	}
	if width < 1 || width%2 == 0 {
		return nil, errs.Invalid("width must be a positive odd integer, got %d", width)
	}
	cur, err := d.Store.Get(id)
	if err != nil {
		return nil, err
	}
	back, err := d.Store.Update(id, dataset.Patch{dataset.FieldValues: Boxcar(cur.Values, width)})
	if err != nil {
		return nil, err
	}
	opctx["identifier"] = id
	opctx["previous"] = back
	return id, nil
}

// removeData unregisters args[0], keeping the dataset for undo.
func (d Deps) removeData(_ context.Context, args []any, opctx history.Context) (any, error) {
	id, err := stringArg(args, 0, "identifier", true)
	if err != nil {
		return nil, err
	}
	cur, err := d.Store.Get(id)
	if err != nil {
		return nil, err
	}
	if err := d.Store.Unregister(id); err != nil {
		return nil, err
	}
	opctx["dataset"] = cur
	return id, nil
}

func (d Deps) reinstateData(_ context.Context, opctx history.Context) error {
	prev, ok := opctx["dataset"].(*dataset.Dataset)
	if !ok {
		return errs.ErrInternal
	}
	return d.Store.Register(prev, false)
}

// Boxcar returns the running mean of values over a centered window of the
// given width. The window is truncated at the edges and non-finite samples
// are skipped; a window with no finite samples yields NaN.
func Boxcar(values []float64, width int) []float64 {
	half := width / 2
	out := make([]float64, len(values))
	for i := range values {
		var (
			sum float64
			n   int
		)
		for j := max(0, i-half); j <= min(len(values)-1, i+half); j++ {
			if v := values[j]; !math.IsNaN(v) && !math.IsInf(v, 0) {
				sum += v
				n++
			}
		}
		if n == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}

func stringArg(args []any, i int, name string, required bool) (string, error) {
	if i >= len(args) || args[i] == nil {
		if required {
			return "", errs.Invalid("missing argument %s", name)
		}
		return "", nil
	}
	s, ok := args[i].(string)
	if !ok {
		return "", errs.Invalid("argument %s: expected a string, got %T", name, args[i])
	}
	if required && s == "" {
		return "", errs.Invalid("argument %s is empty", name)
	}
	return s, nil
}

func intArg(args []any, i int, name string) (int, error) {
	if i >= len(args) {
		return 0, errs.Invalid("missing argument %s", name)
	}
	switch n := args[i].(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, errs.Invalid("argument %s: expected an integer, got %v", name, n)
		}
		return int(n), nil
	}
	return 0, errs.Invalid("argument %s: expected an integer, got %T", name, args[i])
}

func boolArg(args []any, i int, name string) (bool, error) {
	if i >= len(args) || args[i] == nil {
		return false, nil
	}
	b, ok := args[i].(bool)
	if !ok {
		return false, errs.Invalid("argument %s: expected a bool, got %T", name, args[i])
	}
	return b, nil
}

func datasetArg(args []any, i int) (*dataset.Dataset, error) {
	if i >= len(args) || args[i] == nil {
		return nil, errs.Invalid("missing argument dataset")
	}
	switch v := args[i].(type) {
	case *dataset.Dataset:
		return v.Clone(), nil
	case map[string]any:
		return codec.DecodeDataset(v)
	}
	return nil, errs.Invalid("argument dataset: expected a tagged dataset, got %T", args[i])
}

// patchArg accepts a native patch or one decoded from JSON, which is checked
// against the patch schema first.
func patchArg(args []any, i int) (dataset.Patch, error) {
	if i >= len(args) {
		return nil, errs.Invalid("missing argument patch")
	}
	switch p := args[i].(type) {
	case dataset.Patch:
		return p, nil
	case map[string]any:
		if err := schema.ValidatePatch(p); err != nil {
			return nil, err
		}
		return dataset.Patch(p), nil
	}
	return nil, errs.Invalid("argument patch: expected an object, got %T", args[i])
}
