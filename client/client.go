// Package client calls a cosmoscope RPC server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stevemurr/cosmoscope/codec"
	"github.com/stevemurr/cosmoscope/dataset"
	"github.com/stevemurr/cosmoscope/errs"
	"github.com/stevemurr/cosmoscope/handler"
)

// Error is a failure reported by the server. It matches the errs sentinel
// of its kind under errors.Is.
type Error struct {
	Kind    errs.Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return errs.Sentinel(e.Kind) == target
}

// Client is safe for concurrent use.
type Client struct {
	url  string
	http *http.Client
}

// BaseURL turns a server address (tcp://host:port, host:port or an http URL)
// into the base URL calls are posted under.
func BaseURL(addr string) string {
	addr = strings.TrimPrefix(addr, "tcp://")
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimSuffix(addr, "/")
}

// New returns a client for the server at addr.
func New(addr string) *Client {
	return &Client{
		url:  BaseURL(addr) + handler.RPCPath,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Call invokes method and returns its raw JSON result.
func (c *Client) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(handler.Request{Method: method, Args: args})
	if err != nil {
		return nil, errs.Serialization("encode %s request: %v", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.Invalid("build %s request: %v", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.IO(err, "call %s", method)
	}
	defer resp.Body.Close()

	var out struct {
		Result json.RawMessage    `json:"result"`
		Error  *handler.ErrorBody `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Serialization("%s: bad response (HTTP %d): %v", method, resp.StatusCode, err)
	}
	if out.Error != nil {
		return nil, &Error{Kind: out.Error.Kind, Message: out.Error.Message}
	}
	return out.Result, nil
}

// CallInto invokes method and decodes its result into v.
func (c *Client) CallInto(ctx context.Context, v any, method string, args ...any) error {
	raw, err := c.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	if v == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errs.Serialization("%s: decode result: %v", method, err)
	}
	return nil
}

// Step describes the operation an undo or redo acted on.
type Step struct {
	Operation string `json:"operation"`
	Label     string `json:"label"`
}

// Summary is one row of ListData.
type Summary struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Unit       string `json:"unit"`
	Length     int    `json:"length"`
}

// OperationInfo is one row of ListOperations.
type OperationInfo struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Reversible bool   `json:"reversible"`
}

// SessionInfo describes a stored snapshot.
type SessionInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// History is the undo list, oldest first, and the redo depth.
type History struct {
	Undo     []string `json:"undo"`
	Redoable int      `json:"redoable"`
}

func (c *Client) LoadData(ctx context.Context, path, format string) (string, error) {
	var out struct {
		Identifier string `json:"identifier"`
	}
	if err := c.CallInto(ctx, &out, "load_data", path, format); err != nil {
		return "", err
	}
	return out.Identifier, nil
}

func (c *Client) QueryLoaderFormats(ctx context.Context) ([]string, error) {
	var out []string
	err := c.CallInto(ctx, &out, "query_loader_formats")
	return out, err
}

// QueryData fetches a dataset, or only the named fields of it.
func (c *Client) QueryData(ctx context.Context, id string, fields ...string) (*dataset.Dataset, error) {
	args := []any{id}
	if len(fields) > 0 {
		args = append(args, fields)
	}
	var tree map[string]any
	if err := c.CallInto(ctx, &tree, "query_data", args...); err != nil {
		return nil, err
	}
	return codec.DecodeDataset(tree)
}

// CreateData registers d on the server under d's identifier. With overwrite
// an existing entry is replaced.
func (c *Client) CreateData(ctx context.Context, d *dataset.Dataset, overwrite bool) (string, error) {
	tree, err := codec.EncodeDataset(d)
	if err != nil {
		return "", err
	}
	var out struct {
		Identifier string `json:"identifier"`
	}
	if err := c.CallInto(ctx, &out, "create_data", tree, overwrite); err != nil {
		return "", err
	}
	return out.Identifier, nil
}

// QueryDataAttribute returns the tagged form of one field of a dataset.
func (c *Client) QueryDataAttribute(ctx context.Context, id, field string) (any, error) {
	var out any
	err := c.CallInto(ctx, &out, "query_data_attribute", id, field)
	return out, err
}

func (c *Client) Undo(ctx context.Context) (Step, error) {
	var out Step
	err := c.CallInto(ctx, &out, "undo")
	return out, err
}

func (c *Client) Redo(ctx context.Context) (Step, error) {
	var out Step
	err := c.CallInto(ctx, &out, "redo")
	return out, err
}

func (c *Client) Register(ctx context.Context, event string) error {
	return c.CallInto(ctx, nil, "register", event)
}

// Invoke runs a registered operation by name.
func (c *Client) Invoke(ctx context.Context, operation string, args ...any) (json.RawMessage, error) {
	return c.Call(ctx, "invoke", append([]any{operation}, args...)...)
}

func (c *Client) ListOperations(ctx context.Context) ([]OperationInfo, error) {
	var out []OperationInfo
	err := c.CallInto(ctx, &out, "list_operations")
	return out, err
}

func (c *Client) ListData(ctx context.Context) ([]Summary, error) {
	var out []Summary
	err := c.CallInto(ctx, &out, "list_data")
	return out, err
}

func (c *Client) History(ctx context.Context) (History, error) {
	var out History
	err := c.CallInto(ctx, &out, "history")
	return out, err
}

func (c *Client) UnregisterData(ctx context.Context, id string) error {
	return c.CallInto(ctx, nil, "unregister_data", id)
}

func (c *Client) WriteData(ctx context.Context, id, path, format string) error {
	return c.CallInto(ctx, nil, "write_data", id, path, format)
}

// SaveSession snapshots the server's datasets and returns where they went.
func (c *Client) SaveSession(ctx context.Context, name string) (string, error) {
	var loc string
	err := c.CallInto(ctx, &loc, "save_session", name)
	return loc, err
}

// OpenSession replaces the server's datasets with a snapshot and returns how
// many it holds. An empty name opens the latest snapshot.
func (c *Client) OpenSession(ctx context.Context, name string) (int, error) {
	var out struct {
		Datasets int `json:"datasets"`
	}
	err := c.CallInto(ctx, &out, "open_session", name)
	return out.Datasets, err
}

func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	err := c.CallInto(ctx, &out, "list_sessions")
	return out, err
}
