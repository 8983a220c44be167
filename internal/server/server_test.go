package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attrstore/internal/api"
	"github.com/roach88/attrstore/internal/engine"
	"github.com/roach88/attrstore/internal/ir"
)

func setupTest(t *testing.T, opts ...engine.StoreOption) (*httptest.Server, *engine.Store, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	opts = append([]engine.StoreOption{engine.WithMetrics(engine.NewMetrics(reg))}, opts...)
	store, err := engine.Open(context.Background(), opts...)
	require.NoError(t, err)

	ts := httptest.NewServer(New(store, WithRegistry(reg), WithCORSOrigins("https://app.example")))
	t.Cleanup(func() {
		store.Close()
		ts.Close()
	})
	return ts, store, reg
}

func post(t *testing.T, ts *httptest.Server, path, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(ts.URL+path, api.ContentTypeJSON, strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorCode(t *testing.T, data []byte) engine.ErrorCode {
	t.Helper()
	body, err := api.DecodeErrorBody(data)
	require.NoError(t, err, string(data))
	return body.Code
}

func createName(t *testing.T, ts *httptest.Server) {
	t.Helper()
	resp, data := post(t, ts, api.PathAttributeTypes, `{"symbol":"name","valueType":"text"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
}

func TestPing(t *testing.T) {
	ts, store, _ := setupTest(t)

	resp, err := http.Get(ts.URL + api.PathPing)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var ping api.PingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ping))
	assert.Equal(t, Version, ping.Version)
	assert.Equal(t, store.Head(), ping.Head)
}

func TestPing_StoreClosed(t *testing.T) {
	ts, store, _ := setupTest(t)
	require.NoError(t, store.Close())

	resp, err := http.Get(ts.URL + api.PathPing)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEntityLifecycle(t *testing.T) {
	ts, _, _ := setupTest(t)
	createName(t, ts)

	resp, data := post(t, ts, api.PathUpdateEntity, `{
		"locator": {"symbol": "alice"},
		"attributes": [
			{"attributeType": "@symbolName", "attributeValue": {"text": "alice"}},
			{"attributeType": "name", "attributeValue": {"text": "Alice"}}
		]
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var created api.EntityResponse
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, ir.Text("Alice"), created.Entity.Attributes["name"])

	resp, data = post(t, ts, api.PathGetEntity, `{"locator": {"symbol": "alice"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var got api.EntityResponse
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, created.Entity, got.Entity)

	resp, data = post(t, ts, api.PathQueryEntities, `{"query": {"hasAttributeTypes": {"attributeTypes": ["name"]}}, "attributeTypes": ["@id", "name"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var rows api.QueryRowsResponse
	require.NoError(t, json.Unmarshal(data, &rows))
	assert.Equal(t, []ir.EntityID{created.Entity.ID}, rows.IDs)
	assert.Equal(t, []ir.EntityRow{{ir.EntityRef(created.Entity.ID), ir.Text("Alice")}}, rows.Rows)

	resp, data = post(t, ts, api.PathDeleteEntity, `{"locator": {"symbol": "alice"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var deleted api.EntityResponse
	require.NoError(t, json.Unmarshal(data, &deleted))
	assert.Equal(t, created.Entity, deleted.Entity, "delete returns the last state")

	resp, data = post(t, ts, api.PathGetEntity, `{"locator": {"symbol": "alice"}}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, engine.CodeNotFound, errorCode(t, data))
}

func TestQueryEntities(t *testing.T) {
	ts, store, _ := setupTest(t)

	resp, data := post(t, ts, api.PathQueryEntities, `{"query": {"matchAll": {}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var set api.QueryResponse
	require.NoError(t, json.Unmarshal(data, &set))
	assert.Equal(t, store.Head(), set.Seq)
	assert.Len(t, set.Entities, ir.BootstrapEntityCount)
}

func TestErrorStatuses(t *testing.T) {
	ts, _, _ := setupTest(t, engine.WithMaxSubscriptions(1))
	createName(t, ts)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   engine.ErrorCode
	}{
		{"malformed json", api.PathGetEntity, `{`, http.StatusBadRequest, engine.CodeInvalidArgument},
		{"unknown field", api.PathGetEntity, `{"locator":{"entityId":1},"extra":1}`, http.StatusBadRequest, engine.CodeInvalidArgument},
		{"missing locator", api.PathGetEntity, `{}`, http.StatusBadRequest, engine.CodeInvalidArgument},
		{"unknown entity", api.PathGetEntity, `{"locator":{"entityId":999}}`, http.StatusNotFound, engine.CodeNotFound},
		{"duplicate type", api.PathAttributeTypes, `{"symbol":"name","valueType":"text"}`, http.StatusConflict, engine.CodeAlreadyExists},
		{"bad value kind", api.PathAttributeTypes, `{"symbol":"x","valueType":"float"}`, http.StatusBadRequest, engine.CodeInvalidArgument},
		{"kind mismatch", api.PathUpdateEntity,
			`{"locator":{"symbol":"bob"},"attributes":[{"attributeType":"@symbolName","attributeValue":{"text":"bob"}},{"attributeType":"name","attributeValue":{"entityRef":1}}]}`,
			http.StatusBadRequest, engine.CodeInvalidArgument},
		{"unregistered attribute", api.PathUpdateEntity,
			`{"locator":{"entityId":0},"attributes":[{"attributeType":"nope","attributeValue":{"text":"x"}}]}`,
			http.StatusNotFound, engine.CodeNotFound},
		{"delete bootstrap", api.PathDeleteEntity, `{"locator":{"entityId":1}}`, http.StatusPreconditionFailed, engine.CodeFailedPrecondition},
		{"unknown query type", api.PathQueryEntities, `{"query":{"hasAttributeTypes":{"attributeTypes":["ghost"]}}}`, http.StatusBadRequest, engine.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := post(t, ts, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(data))
			assert.Equal(t, tt.code, errorCode(t, data))
		})
	}
}

func TestRouting(t *testing.T) {
	ts, _, _ := setupTest(t)

	resp, err := http.Get(ts.URL + "/v1/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + api.PathGetEntity)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	ts, _, _ := setupTest(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+api.PathQueryEntities, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := setupTest(t)
	createName(t, ts)

	resp, err := http.Get(ts.URL + api.PathMetrics)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(data), `attrstore_commits_total{op="put"} 7`)
	assert.Contains(t, string(data), `attrstore_http_requests_total{code="200",route="/v1/attribute-types"} 1`)
}

// watchStream opens a watch and returns a frame reader over its body.
func watchStream(t *testing.T, ts *httptest.Server, path, body string) (*http.Response, *bufio.Scanner) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	return resp, bufio.NewScanner(resp.Body)
}

func nextFrame[E any](t *testing.T, sc *bufio.Scanner) api.Frame[E] {
	t.Helper()
	lines := make(chan []byte, 1)
	go func() {
		if sc.Scan() {
			lines <- append([]byte(nil), sc.Bytes()...)
		}
		close(lines)
	}()
	select {
	case line, ok := <-lines:
		require.True(t, ok, "stream ended: %v", sc.Err())
		var f api.Frame[E]
		require.NoError(t, json.Unmarshal(line, &f), string(line))
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
		return api.Frame[E]{}
	}
}

func TestWatchEntities_Stream(t *testing.T) {
	ts, store, _ := setupTest(t)
	createName(t, ts)
	head := store.Head()

	resp, sc := watchStream(t, ts, api.PathWatchEntities,
		`{"query":{"hasAttributeTypes":{"attributeTypes":["name"]}},"sendInitialEvents":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.ContentTypeNDJSON, resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(api.HeaderSubscriptionID))
	assert.Equal(t, "7", resp.Header.Get(api.HeaderSubscriptionStart))

	f := nextFrame[ir.Event](t, sc)
	require.NotNil(t, f.Event)
	assert.Equal(t, ir.Event{Type: ir.EventBookmark, Seq: head}, *f.Event, "no initial matches, only the bookmark")

	resp2, data := post(t, ts, api.PathUpdateEntity,
		`{"locator":{"symbol":"alice"},"attributes":[{"attributeType":"@symbolName","attributeValue":{"text":"alice"}},{"attributeType":"name","attributeValue":{"text":"Alice"}}]}`)
	require.Equal(t, http.StatusOK, resp2.StatusCode, string(data))

	f = nextFrame[ir.Event](t, sc)
	require.NotNil(t, f.Event)
	assert.Equal(t, ir.EventAdded, f.Event.Type)
	assert.Equal(t, head+1, f.Event.Seq)
	assert.Equal(t, ir.Text("Alice"), f.Event.Entity.Attributes["name"])
}

func TestWatchEntityRows_Stream(t *testing.T) {
	ts, _, _ := setupTest(t)
	createName(t, ts)

	resp, sc := watchStream(t, ts, api.PathWatchEntityRows,
		`{"query":{"matchAll":{}},"attributeTypes":["@id","name"],"sendInitialEvents":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, data := post(t, ts, api.PathUpdateEntity,
		`{"locator":{"entityId":6},"attributes":[{"attributeType":"name","attributeValue":{"text":"type of names"}}]}`)
	require.NotEmpty(t, data)

	for {
		f := nextFrame[ir.RowEvent](t, sc)
		require.NotNil(t, f.Event)
		if f.Event.IsBookmark() {
			continue
		}
		assert.Equal(t, ir.EventModified, f.Event.Type)
		assert.Equal(t, ir.EntityID(6), f.Event.EntityID)
		assert.Equal(t, ir.EntityRow{ir.EntityRef(6), ir.Text("type of names")}, f.Event.Row)
		return
	}
}

func TestWatch_Rejections(t *testing.T) {
	ts, _, _ := setupTest(t, engine.WithMaxSubscriptions(1))

	resp, _ := watchStream(t, ts, api.PathWatchEntities, `{"query":{"matchAll":{}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	r2, data := post(t, ts, api.PathWatchEntities, `{"query":{"matchAll":{}}}`)
	assert.Equal(t, http.StatusTooManyRequests, r2.StatusCode)
	assert.Equal(t, engine.CodeResourceExhausted, errorCode(t, data))

	// Validation runs before the subscription limit.
	r3, data := post(t, ts, api.PathWatchEntityRows, `{"query":{"hasAttributeTypes":{"attributeTypes":["ghost"]}},"attributeTypes":["name"]}`)
	assert.Equal(t, http.StatusBadRequest, r3.StatusCode, string(data))
	assert.Equal(t, engine.CodeInvalidArgument, errorCode(t, data))

	r4, data := post(t, ts, api.PathWatchEntityRows, `{"query":{"matchAll":{}},"attributeTypes":["a\\b"]}`)
	assert.Equal(t, http.StatusBadRequest, r4.StatusCode, string(data))
}

func TestWatch_StoreShutdownEndsStream(t *testing.T) {
	ts, store, _ := setupTest(t)

	resp, sc := watchStream(t, ts, api.PathWatchEntities, `{"query":{"matchAll":{}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f := nextFrame[ir.Event](t, sc)
	require.NotNil(t, f.Event)
	assert.True(t, f.Event.IsBookmark())

	require.NoError(t, store.Close())

	f = nextFrame[ir.Event](t, sc)
	require.NotNil(t, f.Error)
	assert.Equal(t, engine.CodeUnavailable, f.Error.Code)
}
