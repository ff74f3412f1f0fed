package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/fieldsync/internal/metrics"
	"github.com/agentworkforce/fieldsync/internal/mutationqueue"
	"github.com/agentworkforce/fieldsync/internal/offlinesync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const testToken = "local-ui-token"

type switchTransport struct {
	up atomic.Bool
}

func (t *switchTransport) Do(ctx context.Context, req offlinesync.Request) (offlinesync.Response, error) {
	if !t.up.Load() {
		return offlinesync.Response{}, errors.New("dial tcp: network is unreachable")
	}
	return offlinesync.Response{StatusCode: 200, Body: []byte(`{"ok":true}`)}, nil
}

type fixture struct {
	server    *httptest.Server
	engine    *offlinesync.Engine
	store     *mutationqueue.MemoryStore
	transport *switchTransport
}

func newFixture(t *testing.T, cfg ServerConfig) *fixture {
	t.Helper()
	store := mutationqueue.NewMemoryStore()
	transport := &switchTransport{}
	engine, err := offlinesync.New(offlinesync.Options{Store: store, Transport: transport})
	require.NoError(t, err)
	server := httptest.NewServer(NewServer(engine, cfg))
	t.Cleanup(func() {
		server.Close()
		_ = engine.Close()
	})
	return &fixture{server: server, engine: engine, store: store, transport: transport}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthIsOpen(t *testing.T) {
	f := newFixture(t, ServerConfig{Token: testToken})
	resp := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Correlation-Id"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newFixture(t, ServerConfig{Token: testToken})
	resp := f.do(t, http.MethodGet, "/v1/sync/status", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/sync/status", "wrong", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	require.Equal(t, "unauthorized", body["code"])

	resp = f.do(t, http.MethodGet, "/v1/sync/status", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIssueQueuesWhileOfflineAndListRedacts(t *testing.T) {
	f := newFixture(t, ServerConfig{Token: testToken})

	resp := f.do(t, http.MethodPost, "/v1/mutations", testToken, offlinesync.Request{
		URL:    "https://api.field.test/v1/orders",
		Method: "POST",
		Headers: []mutationqueue.Header{
			{Name: "Authorization", Value: "Bearer rep_token"},
			{Name: "Content-Type", Value: "application/json"},
		},
		Body: []byte(`{"qty":2}`),
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	result := decode[offlinesync.Result](t, resp)
	require.True(t, result.Queued)

	resp = f.do(t, http.MethodGet, "/v1/queue", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listing := decode[struct {
		Items []mutationqueue.QueuedMutation `json:"items"`
		Count int                            `json:"count"`
	}](t, resp)
	require.Equal(t, 1, listing.Count)
	require.Equal(t, mutationqueue.RedactedValue, listing.Items[0].HeaderValue("Authorization"))
	require.Equal(t, "application/json", listing.Items[0].HeaderValue("Content-Type"))
	require.Equal(t, `{"qty":2}`, string(listing.Items[0].Body))

	stored, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer rep_token", stored[0].HeaderValue("Authorization"))
}

func TestIssueOnlineFailureIsBadGateway(t *testing.T) {
	f := newFixture(t, ServerConfig{})
	f.engine.SetOnline(true)
	f.engine.Wait()

	resp := f.do(t, http.MethodPost, "/v1/mutations", "", offlinesync.Request{URL: "https://api.field.test/v1/orders", Method: "PUT"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	result := decode[offlinesync.Result](t, resp)
	require.False(t, result.Queued)
	require.Equal(t, offlinesync.RequestFailedMessage, result.Error)
}

func TestIssueValidatesBody(t *testing.T) {
	f := newFixture(t, ServerConfig{MaxBodyBytes: 64})
	resp := f.do(t, http.MethodPost, "/v1/mutations", "", map[string]string{"method": "POST"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/mutations", "", offlinesync.Request{
		URL:    "https://api.field.test/v1/orders",
		Method: "POST",
		Body:   []byte(strings.Repeat("x", 256)),
	})
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestIssueRateLimited(t *testing.T) {
	f := newFixture(t, ServerConfig{RateLimitMax: 1})
	req := offlinesync.Request{URL: "https://api.field.test/v1/orders", Method: "POST"}
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/mutations", "", req).StatusCode)
	require.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, "/v1/mutations", "", req).StatusCode)
}

func TestDispatchAndConnectivity(t *testing.T) {
	f := newFixture(t, ServerConfig{Token: testToken})
	_, err := f.store.Append(context.Background(), mutationqueue.QueuedMutation{URL: "https://api.field.test/v1/orders", Method: "POST"})
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/v1/sync/dispatch", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	require.Equal(t, string(offlinesync.DispatchOffline), body["outcome"])

	resp = f.do(t, http.MethodPut, "/v1/connectivity", testToken, map[string]any{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.transport.up.Store(true)
	resp = f.do(t, http.MethodPut, "/v1/connectivity", testToken, map[string]bool{"online": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f.engine.Wait()
	require.Equal(t, offlinesync.State{Online: true, Pending: 0}, f.engine.State())
}

func TestClearQueue(t *testing.T) {
	f := newFixture(t, ServerConfig{})
	for i := 0; i < 3; i++ {
		_, err := f.store.Append(context.Background(), mutationqueue.QueuedMutation{URL: "https://api.field.test/v1/x", Method: "DELETE"})
		require.NoError(t, err)
	}
	resp := f.do(t, http.MethodDelete, "/v1/queue", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[offlinesync.State](t, resp)
	require.Zero(t, state.Pending)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, ServerConfig{})
	resp := f.do(t, http.MethodGet, "/v1/nope", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New()
	require.NoError(t, m.Register(reg))
	m.ObserveEnqueue()

	f := newFixture(t, ServerConfig{Token: testToken, Gatherer: reg})
	resp := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "fieldsync_enqueued_total 1")
}

func TestStreamPushesStateChanges(t *testing.T) {
	f := newFixture(t, ServerConfig{Token: testToken})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/sync/stream?access_token=" + testToken
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var state offlinesync.State
	require.NoError(t, wsjson.Read(ctx, conn, &state))
	require.False(t, state.Online)

	f.engine.SetOnline(true)
	for !state.Online {
		require.NoError(t, wsjson.Read(ctx, conn, &state))
	}
	require.True(t, state.Online)
}

func TestStreamRejectsMissingToken(t *testing.T) {
	f := newFixture(t, ServerConfig{Token: testToken})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.server.URL, "http")+"/v1/sync/stream", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimiterWindow(t *testing.T) {
	limiter := &rateLimiter{window: time.Minute, max: 2, entries: map[string]rateEntry{}}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.True(t, limiter.allow("a", now))
	require.True(t, limiter.allow("a", now))
	require.False(t, limiter.allow("a", now))
	require.True(t, limiter.allow("b", now))
	require.True(t, limiter.allow("a", now.Add(2*time.Minute)))
}

func TestRateLimiterEvictsExpiredKeys(t *testing.T) {
	limiter := &rateLimiter{window: time.Minute, max: 1, entries: map[string]rateEntry{}}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		require.True(t, limiter.allow(fmt.Sprintf("client-%d", i), now))
	}
	require.Len(t, limiter.entries, 100)

	later := now.Add(2 * time.Minute)
	require.True(t, limiter.allow("client-new", later))
	require.Len(t, limiter.entries, 1)
	require.Contains(t, limiter.entries, "client-new")

	require.False(t, limiter.allow("client-new", later.Add(time.Second)))
}
