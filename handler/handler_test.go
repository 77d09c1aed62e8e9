package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/cosmoscope/codec"
	"github.com/stevemurr/cosmoscope/dataset"
	"github.com/stevemurr/cosmoscope/errs"
	"github.com/stevemurr/cosmoscope/events"
	"github.com/stevemurr/cosmoscope/handler"
	"github.com/stevemurr/cosmoscope/history"
	"github.com/stevemurr/cosmoscope/loader"
	"github.com/stevemurr/cosmoscope/operations"
	"github.com/stevemurr/cosmoscope/store"
)

type fixture struct {
	rpc    *httptest.Server
	events *httptest.Server
	pub    *events.Publisher
	ops    *history.Registry
	store  *store.Store
	dir    string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	s := store.New(store.NewMemorySessions())
	loaders := loader.Default()
	ops := history.NewRegistry()
	require.NoError(t, operations.Register(ops, operations.Deps{Store: s, Loaders: loaders}))
	pub := events.NewPublisher(events.DefaultSettings())

	h := handler.New(handler.Deps{
		Store:      s,
		Operations: ops,
		Stack:      history.NewStack(),
		Loaders:    loaders,
		Events:     pub,
	})
	f := &fixture{
		rpc:    httptest.NewServer(h),
		events: httptest.NewServer(pub),
		pub:    pub,
		ops:    ops,
		store:  s,
		dir:    t.TempDir(),
	}
	t.Cleanup(func() {
		pub.Close()
		f.events.Close()
		f.rpc.Close()
	})
	return f
}

// spectrum writes a three-point ascii spectrum and returns its path.
func (f *fixture) spectrum(t *testing.T) string {
	t.Helper()
	path := filepath.Join(f.dir, "spectrum.txt")
	require.NoError(t, os.WriteFile(path, []byte("# flux sigma\n1.0 0.1\n2.0 0.2\n3.0 0.3\n"), 0o644))
	return path
}

func (f *fixture) call(t *testing.T, method string, args ...any) (int, handler.Response) {
	t.Helper()
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(handler.Request{Method: method, Args: args})
	require.NoError(t, err)
	resp, err := http.Post(f.rpc.URL+handler.RPCPath, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out handler.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (f *fixture) mustCall(t *testing.T, method string, args ...any) any {
	t.Helper()
	status, resp := f.call(t, method, args...)
	require.Nil(t, resp.Error, "%s: %+v", method, resp.Error)
	require.Equal(t, http.StatusOK, status)
	return resp.Result
}

func (f *fixture) load(t *testing.T) string {
	t.Helper()
	res := f.mustCall(t, "load_data", f.spectrum(t), "")
	id, _ := res.(map[string]any)["identifier"].(string)
	require.NotEmpty(t, id)
	return id
}

func (f *fixture) subscribe(t *testing.T) *events.Subscriber {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := events.Dial(ctx, "ws"+strings.TrimPrefix(f.events.URL, "http")+events.Path)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	require.Eventually(t, func() bool { return f.pub.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)
	return sub
}

func next(t *testing.T, sub *events.Subscriber) events.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestRootAndHealth(t *testing.T) {
	f := setup(t)

	resp, err := http.Get(f.rpc.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])

	root, err := http.Get(f.rpc.URL + "/")
	require.NoError(t, err)
	defer root.Body.Close()
	require.NoError(t, json.NewDecoder(root.Body).Decode(&body))
	assert.Equal(t, "cosmoscope", body["service"])
	assert.Equal(t, f.store.SessionID(), body["session"])
}

func TestQueryLoaderFormats(t *testing.T) {
	f := setup(t)
	res := f.mustCall(t, "query_loader_formats")
	assert.ElementsMatch(t, []any{loader.FormatASCII, loader.FormatJSON}, res)
}

func TestLoadQueryUndoRedo(t *testing.T) {
	f := setup(t)
	id := f.load(t)

	full := f.mustCall(t, "query_data", id).(map[string]any)
	assert.Equal(t, "dataset", full["__type__"])
	assert.Equal(t, id, full["identifier"])
	values := full["values"].(map[string]any)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, values["data"])
	assert.NotNil(t, full["uncertainty"])

	projected := f.mustCall(t, "query_data", id, []any{"name"}).(map[string]any)
	assert.Equal(t, id, projected["identifier"])
	assert.Contains(t, projected, "name")
	assert.NotContains(t, projected, "values")

	undone := f.mustCall(t, "undo").(map[string]any)
	assert.Equal(t, "Load Data from Path", undone["label"])

	status, resp := f.call(t, "query_data", id)
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.KindNotFound, resp.Error.Kind)

	f.mustCall(t, "redo")
	again := f.mustCall(t, "query_data", id).(map[string]any)
	assert.Equal(t, id, again["identifier"])
}

func TestEmptyHistory(t *testing.T) {
	f := setup(t)
	for _, method := range []string{"undo", "redo"} {
		status, resp := f.call(t, method)
		assert.Equal(t, http.StatusConflict, status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, errs.KindEmptyHistory, resp.Error.Kind)
	}
}

func TestInvokeUpdatePublishesEvents(t *testing.T) {
	f := setup(t)
	sub := f.subscribe(t)

	id := f.load(t)
	f.mustCall(t, "invoke", operations.UpdateData, id, map[string]any{"name": "renamed"})

	loaded := next(t, sub)
	assert.Equal(t, handler.EventDataLoaded, loaded.Name)
	assert.Equal(t, id, loaded.Payload.(map[string]any)["identifier"])

	updated := next(t, sub)
	assert.Equal(t, handler.EventDataUpdated, updated.Name)
	assert.Greater(t, updated.Seq, loaded.Seq)

	got := f.mustCall(t, "query_data", id, "name").(map[string]any)
	assert.Equal(t, "renamed", got["name"])

	f.mustCall(t, "undo")
	assert.Equal(t, handler.EventUndone, next(t, sub).Name)
	got = f.mustCall(t, "query_data", id, "name").(map[string]any)
	assert.Equal(t, "spectrum", got["name"])
}

func TestInvokeRejectsBadPatch(t *testing.T) {
	f := setup(t)
	id := f.load(t)

	status, resp := f.call(t, "invoke", operations.UpdateData, id, map[string]any{"flux": []any{1.0}})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.KindInvalid, resp.Error.Kind)

	hist := f.mustCall(t, "history").(map[string]any)
	assert.Len(t, hist["undo"], 1)
}

func TestNoUndoRegistered(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.ops.Register(&history.Operation{
		Name:    "touch",
		Forward: func(context.Context, []any, history.Context) (any, error) { return "ok", nil },
	}))

	f.mustCall(t, "invoke", "touch")
	status, resp := f.call(t, "undo")
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.KindNoUndo, resp.Error.Kind)

	_, resp = f.call(t, "undo")
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.KindEmptyHistory, resp.Error.Kind)
}

func TestPanicIsRecovered(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.ops.Register(&history.Operation{
		Name:    "explode",
		Forward: func(context.Context, []any, history.Context) (any, error) { panic("boom") },
	}))

	status, resp := f.call(t, "invoke", "explode")
	assert.Equal(t, http.StatusInternalServerError, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.KindInternal, resp.Error.Kind)
	assert.Contains(t, resp.Error.Message, "boom")

	// The server and the stack stay usable.
	f.load(t)
}

func TestUnknownMethodAndMalformedBody(t *testing.T) {
	f := setup(t)

	status, resp := f.call(t, "fly")
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.KindNotFound, resp.Error.Kind)

	raw, err := http.Post(f.rpc.URL+handler.RPCPath, "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestRegisterAcknowledges(t *testing.T) {
	f := setup(t)
	res := f.mustCall(t, "register", "viewer-1").(map[string]any)
	assert.Equal(t, true, res["acknowledged"])
	assert.Empty(t, f.mustCall(t, "list_data"))
}

func TestUnregisterAndWriteData(t *testing.T) {
	f := setup(t)
	id := f.load(t)

	out := filepath.Join(f.dir, "copy.txt")
	assert.Equal(t, out, f.mustCall(t, "write_data", id, out, loader.FormatASCII))
	_, err := os.Stat(out)
	require.NoError(t, err)

	f.mustCall(t, "unregister_data", id)
	assert.Empty(t, f.mustCall(t, "list_data"))

	f.mustCall(t, "undo")
	list := f.mustCall(t, "list_data").([]any)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].(map[string]any)["identifier"])
}

func TestSaveAndOpenSession(t *testing.T) {
	f := setup(t)
	sub := f.subscribe(t)
	id := f.load(t)
	next(t, sub)

	loc := f.mustCall(t, "save_session", "s1")
	assert.Equal(t, "memory:s1.csm", loc)
	assert.Equal(t, handler.EventSessionSaved, next(t, sub).Name)

	f.mustCall(t, "unregister_data", id)
	next(t, sub)

	opened := f.mustCall(t, "open_session", "s1").(map[string]any)
	assert.Equal(t, 1.0, opened["datasets"])
	assert.Equal(t, handler.EventSessionOpened, next(t, sub).Name)

	hist := f.mustCall(t, "history").(map[string]any)
	assert.Empty(t, hist["undo"])
	f.mustCall(t, "query_data", id)
}

func TestOpenSessionWithoutSnapshots(t *testing.T) {
	f := setup(t)
	status, resp := f.call(t, "open_session")
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "no stored sessions")
}

func TestListOperations(t *testing.T) {
	f := setup(t)
	ops := f.mustCall(t, "list_operations").([]any)
	var names []any
	for _, op := range ops {
		names = append(names, op.(map[string]any)["name"])
	}
	assert.Equal(t, []any{operations.CreateData, operations.LoadData, operations.RemoveData, operations.SmoothData, operations.UpdateData}, names)
}

func TestMetrics(t *testing.T) {
	f := setup(t)
	f.mustCall(t, "query_loader_formats")

	resp, err := http.Get(f.rpc.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cosmoscope_rpc_calls_total{method="query_loader_formats",outcome="ok"} 1`)
	assert.Contains(t, string(body), "cosmoscope_datasets 0")
	assert.Contains(t, string(body), "cosmoscope_event_subscribers 0")
}

func TestUnknownMethodsShareOneSeries(t *testing.T) {
	f := setup(t)
	for i := 0; i < 5; i++ {
		status, _ := f.call(t, fmt.Sprintf("bogus-%d", i))
		require.Equal(t, http.StatusNotFound, status)
	}

	resp, err := http.Get(f.rpc.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cosmoscope_rpc_calls_total{method="unknown",outcome="NotFound"} 5`)
	assert.NotContains(t, string(body), "bogus-")
}

func TestCreateDataThenQuery(t *testing.T) {
	f := setup(t)
	sub := f.subscribe(t)
	tree, err := codec.EncodeDataset(&dataset.Dataset{
		ID:     "a1",
		Name:   "vega",
		Values: []float64{1, 2, 3},
		Unit:   "Jy",
		Meta:   map[string]any{"nexp": 3},
	})
	require.NoError(t, err)

	res := f.mustCall(t, "create_data", tree).(map[string]any)
	assert.Equal(t, "a1", res["identifier"])
	ev := next(t, sub)
	assert.Equal(t, handler.EventDataLoaded, ev.Name)

	got, err := codec.DecodeDataset(f.mustCall(t, "query_data", "a1"))
	require.NoError(t, err)
	assert.Equal(t, "vega", got.Name)
	assert.Equal(t, int64(3), got.Meta["nexp"])

	status, resp := f.call(t, "create_data", tree)
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.KindConflict, resp.Error.Kind)

	f.mustCall(t, "undo")
	assert.Empty(t, f.mustCall(t, "list_data"))
}

func TestCreateDataRejectsUntaggedInput(t *testing.T) {
	f := setup(t)
	status, resp := f.call(t, "create_data", map[string]any{"identifier": "a1"})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.KindSerialization, resp.Error.Kind)

	status, _ = f.call(t, "create_data")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestQueryDataAttribute(t *testing.T) {
	f := setup(t)
	id := f.load(t)

	assert.Equal(t, "spectrum", f.mustCall(t, "query_data_attribute", id, dataset.FieldName))
	assert.Equal(t, string(dataset.StdDev), f.mustCall(t, "query_data_attribute", id, dataset.FieldUncertaintyType))
	assert.Nil(t, f.mustCall(t, "query_data_attribute", id, dataset.FieldMask))

	values, err := codec.Decode(f.mustCall(t, "query_data_attribute", id, dataset.FieldValues))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, values)

	status, resp := f.call(t, "query_data_attribute", id, "colour")
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.KindInvalid, resp.Error.Kind)

	status, _ = f.call(t, "query_data_attribute", "missing", dataset.FieldName)
	assert.Equal(t, http.StatusNotFound, status)
}
