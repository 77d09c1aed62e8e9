// Package handler provides the HTTP transport for the cosmoscope RPC server.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stevemurr/cosmoscope/errs"
	"github.com/stevemurr/cosmoscope/events"
	"github.com/stevemurr/cosmoscope/history"
	"github.com/stevemurr/cosmoscope/loader"
	"github.com/stevemurr/cosmoscope/store"
)

// RPCPath is where calls are posted.
const RPCPath = "/rpc"

// Request is the body of a call.
type Request struct {
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// Response carries either a result or an error, never both.
type Response struct {
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is a typed failure as it travels over the wire.
type ErrorBody struct {
	Kind    errs.Kind `json:"kind"`
	Message string    `json:"message"`
}

// Deps are the shared handles a Handler serves. Events may be nil, in which
// case nothing is published.
type Deps struct {
	Store      *store.Store
	Operations *history.Registry
	Stack      *history.Stack
	Loaders    *loader.Registry
	Events     *events.Publisher
}

// Handler holds the server dependencies and registers routes.
type Handler struct {
	Deps
	mux     *http.ServeMux
	methods map[string]method
	tracer  trace.Tracer

	registry *prometheus.Registry
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New creates a Handler and wires up all routes.
func New(deps Deps) *Handler {
	h := &Handler{
		Deps:     deps,
		mux:      http.NewServeMux(),
		tracer:   otel.Tracer("github.com/stevemurr/cosmoscope/handler"),
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cosmoscope",
			Name:      "rpc_calls_total",
			Help:      "RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cosmoscope",
			Name:      "rpc_duration_seconds",
			Help:      "RPC dispatch latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	h.methods = h.table()
	h.registry.MustRegister(h.calls, h.latency, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "cosmoscope",
		Name:      "datasets",
		Help:      "Datasets held by the store.",
	}, func() float64 { return float64(h.Store.Len()) }))
	if h.Events != nil {
		h.registry.MustRegister(h.Events.Collectors()...)
	}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.mux.HandleFunc("GET /{$}", h.root)
	h.mux.HandleFunc("GET /health", h.health)
	h.mux.Handle("GET /metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	h.mux.HandleFunc("POST "+RPCPath, h.rpc)
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("handler: cannot encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	writeJSON(w, statusFor(kind), Response{Error: &ErrorBody{Kind: kind, Message: err.Error()}})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// statusFor maps an error kind to the HTTP status of its response.
func statusFor(k errs.Kind) int {
	switch k {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict, errs.KindEmptyHistory, errs.KindNoUndo:
		return http.StatusConflict
	case errs.KindInvalid, errs.KindSerialization:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":  "cosmoscope",
		"session":  h.Store.SessionID(),
		"datasets": h.Store.Len(),
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ---------- rpc ----------

// unknownMethod labels metrics for calls naming no registered method.
const unknownMethod = "unknown"

func (h *Handler) rpc(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := readJSON(r, &req); err != nil {
		writeError(w, errs.Invalid("malformed request: %v", err))
		return
	}
	if req.Method == "" {
		writeError(w, errs.Invalid("request names no method"))
		return
	}

	// Unknown names share one label so clients cannot grow the series set.
	label := req.Method
	if _, ok := h.methods[label]; !ok {
		label = unknownMethod
	}

	ctx, span := h.tracer.Start(r.Context(), "rpc."+label,
		trace.WithAttributes(
			attribute.String("rpc.method", req.Method),
			attribute.Int("rpc.args", len(req.Args)),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := h.dispatch(ctx, req)
	h.latency.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := errs.KindOf(err)
		h.calls.WithLabelValues(label, string(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		glog.V(2).Infof("handler: %s failed (%s): %v", req.Method, kind, err)
		writeError(w, err)
		return
	}
	h.calls.WithLabelValues(label, "ok").Inc()
	glog.V(2).Infof("handler: %s ok in %s", req.Method, time.Since(start))
	writeJSON(w, http.StatusOK, Response{Result: result})
}

// dispatch runs the named method. A panic inside it is reported as an
// Internal error so the server keeps serving.
func (h *Handler) dispatch(ctx context.Context, req Request) (result any, err error) {
	m, ok := h.methods[req.Method]
	if !ok {
		return nil, errs.NotFound("unknown method %q", req.Method)
	}
	defer func() {
		if p := recover(); p != nil {
			glog.Errorf("handler: panic in %s: %v\n%s", req.Method, p, debug.Stack())
			result, err = nil, fmt.Errorf("%s: %v: %w", req.Method, p, errs.ErrInternal)
		}
	}()
	return m(ctx, req.Args)
}
