package handler

import (
	"context"
	"sort"
	"time"

	"github.com/golang/glog"

	"github.com/stevemurr/cosmoscope/codec"
	"github.com/stevemurr/cosmoscope/errs"
	"github.com/stevemurr/cosmoscope/history"
	"github.com/stevemurr/cosmoscope/operations"
)

// Event names published after a successful call.
const (
	EventDataLoaded    = "data_loaded"
	EventDataUpdated   = "data_updated"
	EventDataRemoved   = "data_removed"
	EventUndone        = "undone"
	EventRedone        = "redone"
	EventSessionSaved  = "session_saved"
	EventSessionOpened = "session_opened"
)

type method func(ctx context.Context, args []any) (any, error)

// table lists the callable methods. Names and argument order are the wire
// contract.
func (h *Handler) table() map[string]method {
	return map[string]method{
		"load_data":            h.loadData,
		"query_loader_formats": h.queryLoaderFormats,
		"query_data":           h.queryData,
		"query_data_attribute": h.queryDataAttribute,
		"create_data":          h.createData,
		"undo":                 h.undo,
		"redo":                 h.redo,
		"register":             h.register,
		"invoke":               h.invoke,
		"list_operations":      h.listOperations,
		"list_data":            h.listData,
		"history":              h.history,
		"unregister_data":      h.unregisterData,
		"write_data":           h.writeData,
		"save_session":         h.saveSession,
		"open_session":         h.openSession,
		"list_sessions":        h.listSessions,
	}
}

// Methods returns the names of the callable methods.
func (h *Handler) Methods() []string {
	names := make([]string, 0, len(h.methods))
	for name := range h.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Handler) publish(name string, payload any) {
	if h.Events == nil {
		return
	}
	h.Events.Publish(name, payload)
}

// run invokes a registered operation through the stack and announces what it
// changed.
func (h *Handler) run(ctx context.Context, name string, args []any) (any, error) {
	op, err := h.Operations.Lookup(name)
	if err != nil {
		return nil, err
	}
	result, err := h.Stack.Invoke(ctx, op, args...)
	if err != nil {
		return nil, err
	}
	h.announce(name, args, result)
	return result, nil
}

func (h *Handler) announce(name string, args []any, result any) {
	switch name {
	case operations.LoadData, operations.CreateData:
		h.publish(EventDataLoaded, map[string]any{"identifier": result})
	case operations.RemoveData:
		h.publish(EventDataRemoved, map[string]any{"identifier": result})
	case operations.UpdateData, operations.SmoothData:
		h.publish(EventDataUpdated, map[string]any{"identifier": args[0], "operation": name})
	default:
		h.publish(EventDataUpdated, map[string]any{"operation": name})
	}
}

func (h *Handler) loadData(ctx context.Context, args []any) (any, error) {
	if _, err := stringArg(args, 0, "path", true); err != nil {
		return nil, err
	}
	id, err := h.run(ctx, operations.LoadData, args)
	if err != nil {
		return nil, err
	}
	return map[string]any{"identifier": id}, nil
}

func (h *Handler) queryLoaderFormats(context.Context, []any) (any, error) {
	return h.Loaders.Formats(), nil
}

// queryData returns the tagged form of a dataset, optionally restricted to a
// list of top-level fields.
func (h *Handler) queryData(_ context.Context, args []any) (any, error) {
	id, err := stringArg(args, 0, "identifier", true)
	if err != nil {
		return nil, err
	}
	fields, err := fieldsArg(args, 1)
	if err != nil {
		return nil, err
	}
	d, err := h.Store.Get(id)
	if err != nil {
		return nil, err
	}
	return codec.EncodeFields(d, fields)
}

// queryDataAttribute returns the tagged form of one field of a dataset.
func (h *Handler) queryDataAttribute(_ context.Context, args []any) (any, error) {
	id, err := stringArg(args, 0, "identifier", true)
	if err != nil {
		return nil, err
	}
	field, err := stringArg(args, 1, "field", true)
	if err != nil {
		return nil, err
	}
	d, err := h.Store.Get(id)
	if err != nil {
		return nil, err
	}
	return codec.EncodeField(d, field)
}

// createData registers a dataset sent in tagged form. An optional second
// argument allows replacing an entry with the same identifier.
func (h *Handler) createData(ctx context.Context, args []any) (any, error) {
	if len(args) == 0 || args[0] == nil {
		return nil, errs.Invalid("missing argument dataset")
	}
	id, err := h.run(ctx, operations.CreateData, args)
	if err != nil {
		return nil, err
	}
	return map[string]any{"identifier": id}, nil
}

func (h *Handler) undo(ctx context.Context, _ []any) (any, error) {
	e, err := h.Stack.Undo(ctx)
	if err != nil {
		return nil, err
	}
	out := entrySummary(e)
	h.publish(EventUndone, out)
	return out, nil
}

func (h *Handler) redo(ctx context.Context, _ []any) (any, error) {
	e, err := h.Stack.Redo(ctx)
	if err != nil {
		return nil, err
	}
	out := entrySummary(e)
	h.publish(EventRedone, out)
	return out, nil
}

// register acknowledges a client; it has no lasting effect.
func (h *Handler) register(_ context.Context, args []any) (any, error) {
	if len(args) > 0 {
		glog.V(2).Infof("handler: register %v", args[0])
	}
	return map[string]any{"acknowledged": true}, nil
}

func (h *Handler) invoke(ctx context.Context, args []any) (any, error) {
	name, err := stringArg(args, 0, "operation", true)
	if err != nil {
		return nil, err
	}
	return h.run(ctx, name, args[1:])
}

func (h *Handler) listOperations(context.Context, []any) (any, error) {
	names := h.Operations.Names()
	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		op, err := h.Operations.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, map[string]any{
			"name":       op.Name,
			"label":      op.Label,
			"reversible": op.Undo != nil,
		})
	}
	return out, nil
}

func (h *Handler) listData(context.Context, []any) (any, error) {
	all := h.Store.List()
	out := make([]map[string]any, 0, len(all))
	for _, d := range all {
		out = append(out, map[string]any{
			"identifier": d.ID,
			"name":       d.Name,
			"unit":       string(d.Unit),
			"length":     len(d.Values),
		})
	}
	return out, nil
}

func (h *Handler) history(context.Context, []any) (any, error) {
	return map[string]any{
		"undo":     h.Stack.Entries(),
		"redoable": h.Stack.Redoable(),
	}, nil
}

func (h *Handler) unregisterData(ctx context.Context, args []any) (any, error) {
	id, err := stringArg(args, 0, "identifier", true)
	if err != nil {
		return nil, err
	}
	return h.run(ctx, operations.RemoveData, []any{id})
}

func (h *Handler) writeData(_ context.Context, args []any) (any, error) {
	id, err := stringArg(args, 0, "identifier", true)
	if err != nil {
		return nil, err
	}
	path, err := stringArg(args, 1, "path", true)
	if err != nil {
		return nil, err
	}
	format, err := stringArg(args, 2, "format", false)
	if err != nil {
		return nil, err
	}
	d, err := h.Store.Get(id)
	if err != nil {
		return nil, err
	}
	if err := h.Loaders.Write(d, path, format); err != nil {
		return nil, err
	}
	return path, nil
}

func (h *Handler) saveSession(ctx context.Context, args []any) (any, error) {
	name, err := stringArg(args, 0, "name", false)
	if err != nil {
		return nil, err
	}
	loc, err := h.Store.Save(ctx, name)
	if err != nil {
		return nil, err
	}
	h.publish(EventSessionSaved, map[string]any{"location": loc})
	return loc, nil
}

// openSession replaces the store contents. History recorded against the old
// contents no longer applies and is cleared.
func (h *Handler) openSession(ctx context.Context, args []any) (any, error) {
	name, err := stringArg(args, 0, "name", false)
	if err != nil {
		return nil, err
	}
	if err := h.Stack.Reset(func() error { return h.Store.Open(ctx, name) }); err != nil {
		return nil, err
	}
	out := map[string]any{"datasets": h.Store.Len()}
	h.publish(EventSessionOpened, out)
	return out, nil
}

func (h *Handler) listSessions(ctx context.Context, _ []any) (any, error) {
	infos, err := h.Store.Sessions().List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		out = append(out, map[string]any{
			"name":        info.Name,
			"size":        info.Size,
			"modified_at": info.ModifiedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return out, nil
}

func entrySummary(e history.Entry) map[string]any {
	return map[string]any{"operation": e.Op.Name, "label": e.Label()}
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

// fieldsArg accepts a list of field names or a single name.
func fieldsArg(args []any, i int) ([]string, error) {
	if i >= len(args) || args[i] == nil {
		return nil, nil
	}
	switch v := args[i].(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, len(v))
		for j, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, errs.Invalid("fields[%d]: expected a string, got %T", j, e)
			}
			out[j] = s
		}
		return out, nil
	}
	return nil, errs.Invalid("argument fields: expected a list of names, got %T", args[i])
}
