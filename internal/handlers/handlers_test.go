package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/sider-gateway/internal/backends"
	"github.com/mihaisavezi/sider-gateway/internal/config"
	"github.com/mihaisavezi/sider-gateway/internal/gateway"
	"github.com/mihaisavezi/sider-gateway/internal/middleware"
	"github.com/mihaisavezi/sider-gateway/internal/routing"
	"github.com/mihaisavezi/sider-gateway/internal/session"
	"github.com/mihaisavezi/sider-gateway/internal/stream"
	"github.com/mihaisavezi/sider-gateway/internal/types"
)

type fakeGateway struct {
	gotReq  *types.ChatRequest
	gotOpts gateway.Options
	handle  func(opts gateway.Options) (*gateway.Result, error)
}

func (f *fakeGateway) Handle(_ context.Context, req *types.ChatRequest, opts gateway.Options) (*gateway.Result, error) {
	f.gotReq = req
	f.gotOpts = opts
	return f.handle(opts)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig(t *testing.T, debug bool) *config.Manager {
	t.Helper()
	dir := t.TempDir()
	data := `{"routing": {"default_backend": "sider", "auto_fallback": true, "prefer_sider_for_chat": true, "debug_mode": ` +
		strconv.FormatBool(debug) + `}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultConfigFilename), []byte(data), 0600))

	mgr := config.NewManager(dir).WithEnv(func(string) (string, bool) { return "", false })
	_, err := mgr.Load()
	require.NoError(t, err)
	return mgr
}

func siderResult(text string) *gateway.Result {
	return &gateway.Result{
		Response: &types.ChatResponse{
			ID:         "msg_1",
			Type:       "message",
			Role:       "assistant",
			Model:      "claude-3.7-sonnet",
			Content:    []types.ContentOut{{Type: "text", Text: text}},
			StopReason: types.StringPtr("end_turn"),
			Usage:      types.Usage{InputTokens: 2, OutputTokens: 3},
		},
		Backend:  types.BackendSider,
		Decision: routing.Decision{Backend: types.BackendSider, Rule: "rule_5_simple_chat_prefer_sider"},
		SessionHeaders: http.Header{
			"X-Conversation-Id":      []string{"cid-1"},
			"X-Assistant-Message-Id": []string{"a1"},
		},
	}
}

const simpleBody = `{"model":"claude-3.7-sonnet","messages":[{"role":"user","content":"hi"}]}`

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMessages_JSONResponse(t *testing.T) {
	gw := &fakeGateway{handle: func(gateway.Options) (*gateway.Result, error) { return siderResult("Hello"), nil }}
	h := NewMessagesHandler(testConfig(t, true), gw, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/messages?cid=cid-q", strings.NewReader(simpleBody))
	req.Header.Set(HeaderParentMessageID, "parent-1")
	req = req.WithContext(middleware.WithAuth(req.Context(), middleware.AuthInfo{Token: "caller", Type: middleware.AuthTypeBearer}))

	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cid-1", rec.Header().Get("X-Conversation-ID"))
	assert.Equal(t, "sider", rec.Header().Get(HeaderBackendUsed))
	assert.Equal(t, "rule_5_simple_chat_prefer_sider", rec.Header().Get(HeaderRoutingRule))

	assert.Equal(t, "cid-q", gw.gotOpts.ConversationID)
	assert.Equal(t, "parent-1", gw.gotOpts.ParentMessageID)
	assert.Equal(t, "caller", gw.gotOpts.Token)
	assert.Nil(t, gw.gotOpts.Sink)

	var body types.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Hello", body.Content[0].Text)
}

func TestMessages_ConversationHeader(t *testing.T) {
	gw := &fakeGateway{handle: func(gateway.Options) (*gateway.Result, error) { return siderResult("x"), nil }}
	h := NewMessagesHandler(testConfig(t, false), gw, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(simpleBody))
	req.Header.Set("X-Conversation-ID", "cid-h")
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cid-h", gw.gotOpts.ConversationID)
	assert.Empty(t, rec.Header().Get(HeaderBackendUsed), "debug headers only in debug mode")
}

func TestMessages_ValidationError(t *testing.T) {
	gw := &fakeGateway{handle: func(gateway.Options) (*gateway.Result, error) {
		t.Fatal("gateway must not be called for invalid requests")
		return nil, nil
	}}
	h := NewMessagesHandler(testConfig(t, false), gw, testLogger())

	for _, body := range []string{
		`{"messages":[{"role":"user","content":"x"}]}`,
		`{"model":"m","messages":[]}`,
		`{"model":"m"`,
	} {
		rec := serve(h, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body)))

		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		var resp types.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "error", resp.Type)
		assert.Equal(t, ErrTypeInvalidRequest, resp.Error.Type)
	}
}

func TestMessages_UpstreamError(t *testing.T) {
	gw := &fakeGateway{handle: func(gateway.Options) (*gateway.Result, error) {
		return nil, errors.New("sider API error: 502 - bad gateway")
	}}
	h := NewMessagesHandler(testConfig(t, false), gw, testLogger())

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(simpleBody)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body types.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Error: sider API error: 502 - bad gateway", body.Content[0].Text)
	assert.Equal(t, "claude-3.7-sonnet", body.Model)
}

func TestMessages_SynthesizedStream(t *testing.T) {
	gw := &fakeGateway{handle: func(gateway.Options) (*gateway.Result, error) { return siderResult("one two"), nil }}
	h := NewMessagesHandler(testConfig(t, false), gw, testLogger()).WithPacer(stream.NoDelay{})

	body := `{"model":"claude-3.7-sonnet","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stream.ContentTypeEventStream, rec.Header().Get("Content-Type"))
	assert.Equal(t, "cid-1", rec.Header().Get("X-Conversation-ID"))
	assert.NotNil(t, gw.gotOpts.Sink)

	out := rec.Body.String()
	assert.Equal(t, 3, strings.Count(out, "event: content_block_delta\n"))
	assert.True(t, strings.HasSuffix(out, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"))
}

func TestMessages_RelayedStream(t *testing.T) {
	gw := &fakeGateway{handle: func(opts gateway.Options) (*gateway.Result, error) {
		require.NoError(t, opts.Sink(json.RawMessage(`{"type":"message_start"}`)))
		require.NoError(t, opts.Sink(json.RawMessage(`{"type":"message_stop"}`)))
		return &gateway.Result{Backend: types.BackendAnthropic, Streamed: true}, nil
	}}
	h := NewMessagesHandler(testConfig(t, false), gw, testLogger())

	body := `{"model":"claude-3.7-sonnet","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		"event: message_start\ndata: {\"type\":\"message_start\"}\n\n"+
			"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
		rec.Body.String())
}

func TestMessages_ErrorAfterRelayStarted(t *testing.T) {
	gw := &fakeGateway{handle: func(opts gateway.Options) (*gateway.Result, error) {
		require.NoError(t, opts.Sink(json.RawMessage(`{"type":"message_start"}`)))
		return nil, errors.New("boom")
	}}
	h := NewMessagesHandler(testConfig(t, false), gw, testLogger())

	body := `{"model":"m","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Error: boom")
}

func TestCountTokens(t *testing.T) {
	h := NewMessagesHandler(testConfig(t, false), &fakeGateway{}, testLogger())

	rec := serve(http.HandlerFunc(h.CountTokens),
		httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(`{"messages":[{"role":"user","content":"hello"}]}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"input_tokens":9}`, rec.Body.String())

	rec = serve(http.HandlerFunc(h.CountTokens),
		httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(`{}`)))
	assert.JSONEq(t, `{"input_tokens":1}`, rec.Body.String())

	rec = serve(http.HandlerFunc(h.CountTokens),
		httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(`nope`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func newAdmin(t *testing.T) (*AdminHandler, *session.BackendStore, *session.ConversationStore) {
	t.Helper()
	sessions := session.NewBackendStore()
	conversations := session.NewConversationStore()
	engine := routing.NewEngine(routing.Policy{
		SiderEnabled:       true,
		DefaultBackend:     types.BackendSider,
		PreferSiderForChat: true,
		AutoFallback:       true,
	}, nil, nil)
	registry := backends.NewRegistry()

	h := NewAdminHandler(testConfig(t, true), AdminDeps{
		Sessions:      sessions,
		Conversations: conversations,
		Engine:        engine,
		Registry:      registry,
	}, testLogger())
	return h, sessions, conversations
}

func TestAdmin_Cleanup(t *testing.T) {
	h, sessions, conversations := newAdmin(t)
	sessions.Save("cid-1", "u1", "a1", "m")
	conversations.GetOrCreate([]types.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}})

	rec := serve(http.HandlerFunc(h.CleanupSiderSessions),
		httptest.NewRequest(http.MethodPost, "/v1/messages/sider-sessions/cleanup", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cleanedSiderSessions":0`)
	assert.Equal(t, 1, sessions.Len())

	rec = serve(http.HandlerFunc(h.CleanupConversations),
		httptest.NewRequest(http.MethodPost, "/v1/messages/conversations/cleanup?max_age_hours=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(http.HandlerFunc(h.Conversations), httptest.NewRequest(http.MethodGet, "/v1/messages/conversations", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalConversations":1`)
}

func TestAdmin_BackendsStatus(t *testing.T) {
	h, _, _ := newAdmin(t)

	rec := serve(http.HandlerFunc(h.BackendsStatus), httptest.NewRequest(http.MethodGet, "/v1/messages/backends/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	routingInfo := body["routing"].(map[string]any)
	assert.Equal(t, "sider", routingInfo["defaultBackend"])
	assert.Equal(t, true, routingInfo["debugMode"])
	assert.NotContains(t, body, "modelMapping")
}

func TestAdmin_ClearAffinity(t *testing.T) {
	h, _, _ := newAdmin(t)
	h.engine.Record("cid-1", types.BackendSider)
	h.engine.Record("cid-2", types.BackendSider)

	rec := serve(http.HandlerFunc(h.ClearAffinity),
		httptest.NewRequest(http.MethodPost, "/v1/messages/backends/affinity/clear", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"clearedSessions":2`)
	assert.Equal(t, 0, h.engine.Stats().TotalSessions)
}

func TestAdmin_ClearModelCache(t *testing.T) {
	h, _, _ := newAdmin(t)

	rec := serve(http.HandlerFunc(h.ClearModelCache),
		httptest.NewRequest(http.MethodPost, "/v1/messages/backends/model-cache/clear", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"claude-sonnet-4-5-20250929"}]}`))
	}))
	defer srv.Close()

	h.mapper = backends.NewModelMapper(srv.URL, "key", srv.Client(), nil)
	h.mapper.Map(context.Background(), "claude-4.5-sonnet")
	require.True(t, h.mapper.Stats().Initialized)

	rec = serve(http.HandlerFunc(h.ClearModelCache),
		httptest.NewRequest(http.MethodPost, "/v1/messages/backends/model-cache/clear", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, h.mapper.Stats().Initialized)
	assert.Contains(t, rec.Body.String(), `"cachedMappings":0`)
}

func TestModels(t *testing.T) {
	h := NewModelsHandler(testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", h.List)
	mux.HandleFunc("GET /v1/models/{id}", h.Get)

	rec := serve(mux, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"object":"list"`)

	rec = serve(mux, httptest.NewRequest(http.MethodGet, "/v1/models/claude-3.7-sonnet", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"claude-3.7-sonnet"`)

	rec = serve(mux, httptest.NewRequest(http.MethodGet, "/v1/models/gpt-4", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "model_not_found", body.Error.Code)
	assert.Equal(t, "model", body.Error.Param)
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler("1.2.3", testLogger())

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, ServiceName, body["service"])
	assert.Equal(t, "1.2.3", body["version"])

	rec = serve(http.HandlerFunc(h.NotFound), httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrTypeNotFound)
}
