// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/toolcall"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeRunner replays a scripted turn through the observer.
type fakeRunner struct {
	mu       sync.Mutex
	requests []engine.Request
	run      func(ctx context.Context, obs engine.Observer) engine.Outcome
}

func (f *fakeRunner) Run(ctx context.Context, req engine.Request, obs engine.Observer) engine.Outcome {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	out := f.run(ctx, obs)
	obs.OnComplete(out)
	return out
}

func (f *fakeRunner) lastRequest() engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// toolTurn emits a full tool-using turn.
func toolTurn(ctx context.Context, obs engine.Observer) engine.Outcome {
	obs.OnState(engine.StateStreaming)
	obs.OnContent(engine.ContentUpdate{Visible: "", Suppressed: true})
	obs.OnState(engine.StateExecutingTool)
	obs.OnToolStart(toolcall.WebSearch{Query: "weather in Lisbon"})
	obs.OnToolResult(tools.Result{Kind: toolcall.KindWebSearch, Label: tools.SearchLabel("weather in Lisbon"), Success: true, Duration: 30 * time.Millisecond})
	obs.OnState(engine.StateStreaming)
	obs.OnContent(engine.ContentUpdate{Delta: "It is sunny.", Visible: "It is sunny."})
	return engine.Outcome{
		Kind:        engine.OutcomeFinalized,
		TurnID:      "turn-1",
		VisibleText: "It is sunny.",
		ToolUsed:    true,
		ToolLabel:   tools.SearchLabel("weather in Lisbon"),
		Rounds:      2,
		Tokens:      engine.TokenCount{Input: 90, Output: 14},
	}
}

type fakeModels struct {
	err    error
	models []ollama.ModelInfo
}

func (f fakeModels) CheckRunning(context.Context) error { return f.err }

func (f fakeModels) ListModels(context.Context) ([]ollama.ModelInfo, error) {
	return f.models, f.err
}

func quietLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	ts := httptest.NewServer(New(opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postTurn(t *testing.T, url, body string, header ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/api/turn", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readEvents(t *testing.T, r io.Reader) []Event {
	t.Helper()
	var events []Event
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev), "line %q", sc.Text())
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

const weatherBody = `{"model":"qwen3:8b","think":true,"messages":[{"role":"user","content":"What's the weather in Lisbon?"}]}`

// =============================================================================
// TURN STREAM
// =============================================================================

func TestHandleTurn_StreamsEvents(t *testing.T) {
	runner := &fakeRunner{run: toolTurn}
	ts := newTestServer(t, Options{Runner: runner})

	resp := postTurn(t, ts.URL, weatherBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp.Body)
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		EventState, EventContent, EventState, EventToolStart, EventToolResult,
		EventState, EventContent, EventDone,
	}, types)

	assert.True(t, events[1].Suppressed)
	assert.Equal(t, "executing_tool", events[2].State)
	assert.Equal(t, "web_search", events[3].Tool)
	assert.Equal(t, "weather in Lisbon", events[3].Query)
	require.NotNil(t, events[4].Success)
	assert.True(t, *events[4].Success)
	assert.Equal(t, int64(30), events[4].DurationMs)
	assert.Equal(t, "It is sunny.", events[6].Delta)

	done := events[len(events)-1].Outcome
	require.NotNil(t, done)
	assert.Equal(t, "finalized", done.Kind)
	assert.Equal(t, "It is sunny.", done.Text)
	assert.True(t, done.ToolUsed)
	assert.Equal(t, 2, done.Rounds)
	assert.Equal(t, engine.TokenCount{Input: 90, Output: 14}, done.Tokens)
	assert.Empty(t, done.ConversationID)

	req := runner.lastRequest()
	assert.Equal(t, "qwen3:8b", req.Model)
	assert.True(t, req.Think)
	assert.Equal(t, []ollama.Message{{Role: "user", Content: "What's the weather in Lisbon?"}}, req.Messages)
}

func TestHandleTurn_ThinkDefault(t *testing.T) {
	runner := &fakeRunner{run: toolTurn}
	ts := newTestServer(t, Options{Runner: runner, Think: true})

	resp := postTurn(t, ts.URL, `{"messages":[{"role":"user","content":"hi"}]}`)
	readEvents(t, resp.Body)
	assert.True(t, runner.lastRequest().Think)

	resp = postTurn(t, ts.URL, `{"think":false,"messages":[{"role":"user","content":"hi"}]}`)
	readEvents(t, resp.Body)
	assert.False(t, runner.lastRequest().Think)
}

func TestHandleTurn_FailureEvents(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, obs engine.Observer) engine.Outcome {
		obs.OnState(engine.StateFailed)
		obs.OnError("Could not connect to the model server. Is Ollama running?", errors.New("dial"))
		return engine.Outcome{Kind: engine.OutcomeFailed, Reason: "Could not connect to the model server. Is Ollama running?"}
	}}
	ts := newTestServer(t, Options{Runner: runner})

	events := readEvents(t, postTurn(t, ts.URL, weatherBody).Body)
	require.Len(t, events, 3)
	assert.Equal(t, EventError, events[1].Type)
	assert.Contains(t, events[1].Reason, "Is Ollama running?")
	assert.Equal(t, "failed", events[2].Outcome.Kind)
}

func TestHandleTurn_ClientDisconnectCancels(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	runner := &fakeRunner{run: func(ctx context.Context, obs engine.Observer) engine.Outcome {
		obs.OnState(engine.StateStreaming)
		close(started)
		<-ctx.Done()
		close(cancelled)
		return engine.Outcome{Kind: engine.OutcomeCancelled}
	}}
	ts := newTestServer(t, Options{Runner: runner})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/api/turn", strings.NewReader(weatherBody))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	<-started
	cancel()

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("turn was not cancelled after the client went away")
	}
}

func TestHandleTurn_Validation(t *testing.T) {
	ts := newTestServer(t, Options{Runner: &fakeRunner{run: toolTurn}})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{"messages":`, "invalid request format"},
		{"no messages", `{"messages":[]}`, "at least one message"},
		{"bad role", `{"messages":[{"role":"tool","content":"x"}]}`, "invalid role"},
		{"last not user", `{"messages":[{"role":"user","content":"a"},{"role":"assistant","content":"b"}]}`, "must have role user"},
		{"too long", `{"messages":[{"role":"user","content":"` + strings.Repeat("x", MaxMessageLength+1) + `"}]}`, "exceeds maximum length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postTurn(t, ts.URL, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			assert.Contains(t, string(body), tt.want)
		})
	}
}

func TestHandleTurn_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, Options{Runner: &fakeRunner{run: toolTurn}})
	resp, err := http.Get(ts.URL + "/api/turn")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func TestHandleTurn_PersistsConversation(t *testing.T) {
	store, err := storage.NewConversationStoreWithDir(t.TempDir())
	require.NoError(t, err)
	runner := &fakeRunner{run: toolTurn}
	ts := newTestServer(t, Options{Runner: runner, Store: store})

	events := readEvents(t, postTurn(t, ts.URL, weatherBody).Body)
	id := events[len(events)-1].Outcome.ConversationID
	require.NotEmpty(t, id)

	follow := `{"conversation_id":"` + id + `","messages":[{"role":"user","content":"And tomorrow?"}]}`
	events = readEvents(t, postTurn(t, ts.URL, follow).Body)
	assert.Equal(t, id, events[len(events)-1].Outcome.ConversationID)

	assert.Equal(t, []ollama.Message{
		{Role: "user", Content: "What's the weather in Lisbon?"},
		{Role: "assistant", Content: "It is sunny."},
		{Role: "user", Content: "And tomorrow?"},
	}, runner.lastRequest().Messages)

	conv, err := store.Load(id)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 4)
	assert.True(t, conv.Messages[3].ToolUsed)
	assert.Equal(t, "qwen3:8b", conv.Model)
}

func TestHandleTurn_UnknownConversation(t *testing.T) {
	store, err := storage.NewConversationStoreWithDir(t.TempDir())
	require.NoError(t, err)
	ts := newTestServer(t, Options{Runner: &fakeRunner{run: toolTurn}, Store: store})

	resp := postTurn(t, ts.URL, `{"conversation_id":"conv_nope","messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// HEALTH, MODELS, METRICS
// =============================================================================

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name   string
		models ModelServer
		status string
		ollama string
	}{
		{"not configured", nil, "ok", "not_configured"},
		{"running", fakeModels{}, "ok", "ok"},
		{"down", fakeModels{err: errors.New("connection refused")}, "degraded", "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, Options{Runner: &fakeRunner{run: toolTurn}, Models: tt.models})
			resp, err := http.Get(ts.URL + "/health")
			require.NoError(t, err)
			defer resp.Body.Close()

			var health HealthResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
			assert.Equal(t, tt.status, health.Status)
			assert.Equal(t, tt.ollama, health.OllamaStatus)
			assert.Equal(t, Version, health.Version)
		})
	}
}

func TestHandleModels(t *testing.T) {
	models := fakeModels{models: []ollama.ModelInfo{{Name: "qwen3:8b", Size: 5 << 30}}}
	ts := newTestServer(t, Options{Runner: &fakeRunner{run: toolTurn}, Models: models})

	resp, err := http.Get(ts.URL + "/api/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Models []ModelEntry `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Models, 1)
	assert.Equal(t, "qwen3:8b", body.Models[0].Name)

	down := newTestServer(t, Options{Runner: &fakeRunner{run: toolTurn}, Models: fakeModels{err: errors.New("down")}})
	resp2, err := http.Get(down.URL + "/api/models")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp2.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, Options{Runner: &fakeRunner{run: toolTurn}})

	// generate at least one labelled request
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	// the counter is bumped after the response is written
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK &&
			strings.Contains(string(body), `rigrun_chat_http_requests_total{code="200",route="GET /health"}`)
	}, 2*time.Second, 20*time.Millisecond)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, Options{Runner: &fakeRunner{run: toolTurn}, BearerToken: "s3cret"})

	// health stays open
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusUnauthorized, postTurn(t, ts.URL, weatherBody).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, postTurn(t, ts.URL, weatherBody, "Authorization", "Basic abc").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, postTurn(t, ts.URL, weatherBody, "Authorization", "Bearer wrong").StatusCode)
	assert.Equal(t, http.StatusOK, postTurn(t, ts.URL, weatherBody, "Authorization", "Bearer s3cret").StatusCode)
}

func TestValidateBearerToken(t *testing.T) {
	assert.True(t, ValidateBearerToken("abc", "abc"))
	assert.False(t, ValidateBearerToken("abc", "abd"))
	assert.False(t, ValidateBearerToken("", ""))
	assert.False(t, ValidateBearerToken("abc", ""))
}

func TestRateLimitMiddleware(t *testing.T) {
	ts := newTestServer(t, Options{Runner: &fakeRunner{run: toolTurn}, RatePerSecond: 0.001, Burst: 2})

	var codes []int
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	assert.Nil(t, NewRateLimiter(0, 5))
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Allow("10.0.0.1")
	rl.visitors["10.0.0.1"].lastSeen = time.Now().Add(-time.Hour)
	rl.lastSweep = time.Time{}

	rl.Allow("10.0.0.2")
	_, ok := rl.visitors["10.0.0.1"]
	assert.False(t, ok)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("a"), mw("b"), mw("c"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"direct", "203.0.113.5:1234", "", "", "203.0.113.5"},
		{"untrusted peer ignores xff", "203.0.113.5:1234", "1.2.3.4", "", "203.0.113.5"},
		{"trusted proxy xff", "127.0.0.1:1234", "198.51.100.7, 10.0.0.1", "", "198.51.100.7"},
		{"trusted proxy x-real-ip", "10.1.2.3:1234", "", "198.51.100.8", "198.51.100.8"},
		{"invalid xff falls back", "192.168.1.1:1234", "not-an-ip", "", "192.168.1.1"},
		{"no port", "203.0.113.9", "", "", "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(Options{Runner: &fakeRunner{run: toolTurn}, Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
