// Package client is the Go client of the attrstore HTTP surface.
//
// Every method returns *engine.Error on failure, with the code the server
// reported, so callers can use engine.IsNotFound and friends on either side
// of the wire.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/roach88/attrstore/internal/api"
	"github.com/roach88/attrstore/internal/engine"
	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/queryir"
)

// maxFrameBytes bounds one watch frame.
const maxFrameBytes = 32 << 20

// Client talks to one attrstore server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. It must not set a Timeout if
// watches are used; use contexts instead.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// New creates a client for the server at baseURL, e.g.
// "http://localhost:7070".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping checks the server is up and returns its head seq.
func (c *Client) Ping(ctx context.Context) (api.PingResponse, error) {
	var resp api.PingResponse
	err := c.do(ctx, http.MethodGet, api.PathPing, nil, &resp)
	return resp, err
}

// CreateAttributeType declares a new attribute type.
func (c *Client) CreateAttributeType(ctx context.Context, at ir.AttributeType) (*ir.Entity, error) {
	var resp api.EntityResponse
	err := c.do(ctx, http.MethodPost, api.PathAttributeTypes,
		api.CreateAttributeTypeRequest{Symbol: at.Symbol, ValueType: at.ValueKind}, &resp)
	return resp.Entity, err
}

// GetEntity reads the latest state of one entity.
func (c *Client) GetEntity(ctx context.Context, loc ir.EntityLocator) (*ir.Entity, error) {
	var resp api.EntityResponse
	err := c.do(ctx, http.MethodPost, api.PathGetEntity, api.GetEntityRequest{Locator: api.Locator{EntityLocator: loc}}, &resp)
	return resp.Entity, err
}

// QueryEntities returns every entity matching root.
func (c *Client) QueryEntities(ctx context.Context, root queryir.Node) (engine.EntitySet, error) {
	var resp api.QueryResponse
	if err := c.do(ctx, http.MethodPost, api.PathQueryEntities, api.QueryRequest{Query: queryir.Wire{Node: root}}, &resp); err != nil {
		return engine.EntitySet{}, err
	}
	return engine.EntitySet{Seq: resp.Seq, Entities: resp.Entities}, nil
}

// QueryEntityRows returns the projected rows of every entity matching eq.
func (c *Client) QueryEntityRows(ctx context.Context, eq engine.EntityQuery) (engine.RowSet, error) {
	syms := eq.AttributeTypes
	if syms == nil {
		syms = []ir.Symbol{}
	}
	var resp api.QueryRowsResponse
	req := api.QueryRequest{Query: queryir.Wire{Node: eq.Root}, AttributeTypes: syms}
	if err := c.do(ctx, http.MethodPost, api.PathQueryEntities, req, &resp); err != nil {
		return engine.RowSet{}, err
	}
	return engine.RowSet{Seq: resp.Seq, IDs: resp.IDs, Rows: resp.Rows}, nil
}

// UpdateEntity applies attribute updates and returns the new state.
func (c *Client) UpdateEntity(ctx context.Context, req engine.UpdateRequest) (*ir.Entity, error) {
	var resp api.EntityResponse
	err := c.do(ctx, http.MethodPost, api.PathUpdateEntity, api.UpdateEntityRequest{
		Locator:    api.Locator{EntityLocator: req.Locator},
		Attributes: req.Attributes,
	}, &resp)
	return resp.Entity, err
}

// DeleteEntity removes an entity and returns its last state.
func (c *Client) DeleteEntity(ctx context.Context, loc ir.EntityLocator) (*ir.Entity, error) {
	var resp api.EntityResponse
	err := c.do(ctx, http.MethodPost, api.PathDeleteEntity, api.DeleteEntityRequest{Locator: api.Locator{EntityLocator: loc}}, &resp)
	return resp.Entity, err
}

// WatchEntities opens an entity watch. The stream lives until ctx is
// canceled, Close is called, or the server ends it.
func (c *Client) WatchEntities(ctx context.Context, req engine.WatchRequest) (*Stream[ir.Event], error) {
	return openStream[ir.Event](ctx, c, api.PathWatchEntities, api.WatchRequest{
		Query:             queryir.Wire{Node: req.Root},
		SendInitialEvents: req.SendInitialEvents,
	})
}

// WatchEntityRows opens a row watch.
func (c *Client) WatchEntityRows(ctx context.Context, req engine.WatchRowsRequest) (*Stream[ir.RowEvent], error) {
	return openStream[ir.RowEvent](ctx, c, api.PathWatchEntityRows, api.WatchRowsRequest{
		Query:             queryir.Wire{Node: req.Root},
		AttributeTypes:    req.AttributeTypes,
		SendInitialEvents: req.SendInitialEvents,
	})
}

// Stream reads frames from an open watch.
//
// Thread-safety: Next has a single caller; Close may be called from any
// goroutine.
type Stream[E any] struct {
	id       string
	startSeq ir.Seq
	body     io.ReadCloser
	scanner  *bufio.Scanner
}

// ID returns the server-side subscription id.
func (s *Stream[E]) ID() string { return s.id }

// StartSeq returns S0 of the subscription.
func (s *Stream[E]) StartSeq() ir.Seq { return s.startSeq }

// Next blocks for the next event. It returns io.EOF when the server closed
// the stream cleanly and *engine.Error when the server ended it with an
// error.
func (s *Stream[E]) Next() (E, error) {
	var zero E
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return zero, &engine.Error{Code: engine.CodeUnavailable, Message: "watch stream broken", Err: err}
		}
		return zero, io.EOF
	}
	var f api.Frame[E]
	if err := json.Unmarshal(s.scanner.Bytes(), &f); err != nil {
		return zero, &engine.Error{Code: engine.CodeInternal, Message: "malformed watch frame", Err: err}
	}
	if f.Error != nil {
		return zero, f.Error.Err()
	}
	if f.Event == nil {
		return zero, &engine.Error{Code: engine.CodeInternal, Message: "empty watch frame"}
	}
	return *f.Event, nil
}

// Close ends the stream.
func (s *Stream[E]) Close() error {
	return s.body.Close()
}

func openStream[E any](ctx context.Context, c *Client, path string, body any) (*Stream[E], error) {
	resp, err := c.send(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	start, _ := strconv.ParseInt(resp.Header.Get(api.HeaderSubscriptionStart), 10, 64)
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrameBytes)
	return &Stream[E]{
		id:       resp.Header.Get(api.HeaderSubscriptionID),
		startSeq: ir.Seq(start),
		body:     resp.Body,
		scanner:  sc,
	}, nil
}

// do sends a unary request and decodes a 200 response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &engine.Error{Code: engine.CodeInternal, Message: "malformed response", Err: err}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &engine.Error{Code: engine.CodeInvalidArgument, Message: fmt.Sprintf("encode request: %v", err), Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &engine.Error{Code: engine.CodeInvalidArgument, Message: fmt.Sprintf("build request: %v", err), Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", api.ContentTypeJSON)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, &engine.Error{Code: engine.CodeUnavailable, Message: fmt.Sprintf("%s %s: %v", method, path, err), Err: err}
	}
	return resp, nil
}

// decodeError turns a non-200 response into an engine error.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if body, err := api.DecodeErrorBody(data); err == nil {
		return body.Err()
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = resp.Status
	}
	return &engine.Error{Code: api.CodeForStatus(resp.StatusCode), Message: msg}
}
