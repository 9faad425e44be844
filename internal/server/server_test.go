package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/sider-gateway/internal/config"
	"github.com/mihaisavezi/sider-gateway/internal/types"
)

const siderReply = "data: {\"code\":0,\"msg\":\"\",\"data\":{\"type\":\"message_start\",\"model\":\"claude-3.7-sonnet\",\"message_start\":{\"cid\":\"cid-1\",\"user_message_id\":\"u1\",\"assistant_message_id\":\"a1\"}}}\n\n" +
	"data: {\"code\":0,\"msg\":\"\",\"data\":{\"type\":\"text\",\"text\":\"Hello from\"}}\n\n" +
	"data: {\"code\":0,\"msg\":\"\",\"data\":{\"type\":\"text\",\"text\":\" Sider\"}}\n\n" +
	"data: [DONE]\n\n"

// upstreams fakes both backends and counts the calls each one receives.
type upstreams struct {
	mu             sync.Mutex
	siderCalls     int
	anthropicCalls int
	siderFails     bool
	lastSider      types.SiderRequest

	sider     *httptest.Server
	anthropic *httptest.Server
}

func newUpstreams(t *testing.T) *upstreams {
	t.Helper()
	u := &upstreams{}

	u.sider = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.siderCalls++
		fail := u.siderFails
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &u.lastSider)
		u.mu.Unlock()

		if fail {
			http.Error(w, `{"msg":"overloaded"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, siderReply)
	}))
	t.Cleanup(u.sider.Close)

	u.anthropic = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, `{"data":[{"id":"claude-3-7-sonnet-20250219"},{"id":"claude-sonnet-4-20250514"}]}`)
			return
		}

		u.mu.Lock()
		u.anthropicCalls++
		u.mu.Unlock()

		_, _ = io.WriteString(w, `{"id":"msg_a","type":"message","role":"assistant","model":"claude-3-7-sonnet-20250219",`+
			`"content":[{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}}],`+
			`"stop_reason":"tool_use","stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":8}}`)
	}))
	t.Cleanup(u.anthropic.Close)

	return u
}

func (u *upstreams) calls() (sider, anthropic int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.siderCalls, u.anthropicCalls
}

func newTestServer(t *testing.T, u *upstreams, extra map[string]any) *httptest.Server {
	t.Helper()

	cfg := map[string]any{
		"stream_delay_ms": 0,
		"sider": map[string]any{
			"api_url":          u.sider.URL,
			"conversation_url": u.sider.URL + "/history",
			"auth_token":       "sider-token",
		},
		"anthropic": map[string]any{
			"base_url": u.anthropic.URL,
			"api_key":  "sk-test",
		},
		"routing": map[string]any{
			"default_backend":       "sider",
			"auto_fallback":         true,
			"prefer_sider_for_chat": true,
			"debug_mode":            true,
		},
	}
	for k, v := range extra {
		cfg[k] = v
	}

	dir := t.TempDir()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultConfigFilename), data, 0600))

	mgr := config.NewManager(dir).WithEnv(func(string) (string, bool) { return "", false })
	_, err = mgr.Load()
	require.NoError(t, err)

	srv, err := New(mgr, "test", slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

var bearer = map[string]string{"Authorization": "Bearer dummy"}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestScenarioA_SimpleChat(t *testing.T) {
	u := newUpstreams(t)
	ts := newTestServer(t, u, nil)

	resp := post(t, ts.URL+"/v1/messages",
		`{"model":"claude-3.7-sonnet","messages":[{"role":"user","content":"hi"}],"max_tokens":50,"stream":false}`, bearer)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sider", resp.Header.Get("X-Backend-Used"))
	assert.Equal(t, "cid-1", resp.Header.Get("X-Conversation-ID"))
	assert.Equal(t, "a1", resp.Header.Get("X-Assistant-Message-ID"))

	var body types.ChatResponse
	decode(t, resp, &body)
	require.NotEmpty(t, body.Content)
	assert.Equal(t, "Hello from Sider", body.Content[0].Text)
	assert.GreaterOrEqual(t, body.Usage.OutputTokens, 1)
	assert.Equal(t, "claude-3.7-sonnet", body.Model)

	assert.Empty(t, u.lastSider.CID)
	assert.Empty(t, u.lastSider.ParentMessageID)
}

func TestScenarioB_MissingAuth(t *testing.T) {
	u := newUpstreams(t)
	ts := newTestServer(t, u, nil)

	resp := post(t, ts.URL+"/v1/messages",
		`{"model":"claude-3.7-sonnet","messages":[{"role":"user","content":"hi"}]}`, nil)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body types.ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "authentication_error", body.Error.Type)

	sider, anthropic := u.calls()
	assert.Zero(t, sider+anthropic)
}

func TestScenarioC_MissingModel(t *testing.T) {
	u := newUpstreams(t)
	ts := newTestServer(t, u, nil)

	resp := post(t, ts.URL+"/v1/messages", `{"messages":[{"role":"user","content":"x"}]}`, bearer)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body types.ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "invalid_request_error", body.Error.Type)

	sider, anthropic := u.calls()
	assert.Zero(t, sider+anthropic, "validation must fail before any backend call")
}

func TestScenarioD_ToolRouting(t *testing.T) {
	testCases := []struct {
		name        string
		tool        string
		wantBackend string
		wantRule    string
	}{
		{"code tool goes to anthropic", "Bash", "anthropic", "rule_2"},
		{"native tool goes to sider", "search", "sider", "rule_4"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			u := newUpstreams(t)
			ts := newTestServer(t, u, nil)

			body := fmt.Sprintf(`{"model":"claude-3.7-sonnet","max_tokens":100,`+
				`"messages":[{"role":"user","content":"do it"}],`+
				`"tools":[{"name":%q,"input_schema":{"type":"object"}}]}`, tc.tool)
			resp := post(t, ts.URL+"/v1/messages", body, bearer)

			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tc.wantBackend, resp.Header.Get("X-Backend-Used"))
			assert.True(t, strings.HasPrefix(resp.Header.Get("X-Routing-Rule"), tc.wantRule),
				"rule %s", resp.Header.Get("X-Routing-Rule"))

			sider, anthropic := u.calls()
			if tc.wantBackend == "anthropic" {
				assert.Equal(t, 1, anthropic)
				assert.Zero(t, sider)
			} else {
				assert.Equal(t, 1, sider)
				assert.Zero(t, anthropic)
			}
		})
	}
}

func TestScenarioE_CountTokens(t *testing.T) {
	u := newUpstreams(t)
	ts := newTestServer(t, u, nil)

	// [{"role":"user","content":""}] is 30 bytes.
	messages := fmt.Sprintf(`[{"role":"user","content":"%s"}]`, strings.Repeat("a", 370))
	require.Len(t, messages, 400)

	resp := post(t, ts.URL+"/v1/messages/count_tokens", `{"messages":`+messages+`}`, bearer)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body types.CountTokensResponse
	decode(t, resp, &body)
	assert.Equal(t, 100, body.InputTokens)
}

func TestFallbackToAnthropic(t *testing.T) {
	u := newUpstreams(t)
	u.siderFails = true
	ts := newTestServer(t, u, nil)

	resp := post(t, ts.URL+"/v1/messages",
		`{"model":"claude-3.7-sonnet","messages":[{"role":"user","content":"hi"}]}`, bearer)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "anthropic", resp.Header.Get("X-Backend-Used"))
	assert.Empty(t, resp.Header.Get("X-Conversation-ID"))

	sider, anthropic := u.calls()
	assert.Equal(t, 1, sider)
	assert.Equal(t, 1, anthropic)
}

func TestUpstreamFailureWithoutFallback(t *testing.T) {
	u := newUpstreams(t)
	u.siderFails = true
	ts := newTestServer(t, u, map[string]any{
		"routing": map[string]any{
			"default_backend":       "sider",
			"auto_fallback":         false,
			"prefer_sider_for_chat": true,
		},
	})

	resp := post(t, ts.URL+"/v1/messages",
		`{"model":"claude-3.7-sonnet","messages":[{"role":"user","content":"hi"}]}`, bearer)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var body types.ChatResponse
	decode(t, resp, &body)
	require.Len(t, body.Content, 1)
	assert.True(t, strings.HasPrefix(body.Content[0].Text, "Error: sider API error: 503"), body.Content[0].Text)
	assert.Equal(t, types.Usage{}, body.Usage)
}

func TestStreamingSiderResponse(t *testing.T) {
	u := newUpstreams(t)
	ts := newTestServer(t, u, nil)

	resp := post(t, ts.URL+"/v1/messages",
		`{"model":"claude-3.7-sonnet","messages":[{"role":"user","content":"hi"}],"stream":true}`, bearer)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.True(t, strings.HasPrefix(body, "event: message_start\n"))
	assert.Contains(t, body, `"text":"Hello"`)
	assert.Contains(t, body, `"text":" "`)
	assert.Contains(t, body, `"text":"Sider"`)
	assert.True(t, strings.HasSuffix(body, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"))
}

func TestSessionsAreTracked(t *testing.T) {
	u := newUpstreams(t)
	ts := newTestServer(t, u, nil)

	resp := post(t, ts.URL+"/v1/messages",
		`{"model":"claude-3.7-sonnet","messages":[{"role":"user","content":"hi"}]}`, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/messages/sider-sessions", nil)
	req.Header.Set("Authorization", "Bearer dummy")
	sessResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer sessResp.Body.Close()

	var sessions struct {
		Status        string `json:"status"`
		SiderSessions struct {
			TotalSessions int `json:"totalSessions"`
			Sessions      []struct {
				CID string `json:"cid"`
			} `json:"sessions"`
		} `json:"sider_sessions"`
	}
	decode(t, sessResp, &sessions)
	assert.Equal(t, "ok", sessions.Status)

	var cids []string
	for _, s := range sessions.SiderSessions.Sessions {
		cids = append(cids, s.CID)
	}
	assert.Contains(t, cids, "cid-1")

	// A zero age removes everything.
	cleanup := post(t, ts.URL+"/v1/messages/sider-sessions/cleanup?max_age_hours=0", "", bearer)
	require.Equal(t, http.StatusOK, cleanup.StatusCode)
	var cleaned struct {
		Cleaned int `json:"cleanedSiderSessions"`
	}
	decode(t, cleanup, &cleaned)
	assert.Equal(t, sessions.SiderSessions.TotalSessions, cleaned.Cleaned)
}

func TestBackendsStatus(t *testing.T) {
	u := newUpstreams(t)
	ts := newTestServer(t, u, nil)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/messages/backends/status?probe=true", nil)
	req.Header.Set("X-API-Key", "dummy")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Backends map[string]struct {
			Enabled   bool `json:"enabled"`
			Available bool `json:"available"`
		} `json:"backends"`
		Routing struct {
			DefaultBackend string `json:"defaultBackend"`
			AutoFallback   bool   `json:"autoFallback"`
		} `json:"routing"`
		Stats map[string]int `json:"stats"`
	}
	decode(t, resp, &body)

	assert.True(t, body.Backends["sider"].Enabled)
	assert.True(t, body.Backends["anthropic"].Available)
	assert.Equal(t, "sider", body.Routing.DefaultBackend)
	assert.True(t, body.Routing.AutoFallback)
	assert.Contains(t, body.Stats, "totalSessions")
}

func TestAdminClearRoutes(t *testing.T) {
	u := newUpstreams(t)
	ts := newTestServer(t, u, nil)

	resp := post(t, ts.URL+"/v1/messages",
		`{"model":"claude-3.7-sonnet","messages":[{"role":"user","content":"hi"}]}`, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	unauthorized := post(t, ts.URL+"/v1/messages/backends/affinity/clear", "", nil)
	assert.Equal(t, http.StatusUnauthorized, unauthorized.StatusCode)

	cleared := post(t, ts.URL+"/v1/messages/backends/affinity/clear", "", bearer)
	require.Equal(t, http.StatusOK, cleared.StatusCode)
	var affinity struct {
		Cleared int `json:"clearedSessions"`
	}
	decode(t, cleared, &affinity)
	assert.Equal(t, 1, affinity.Cleared)

	cache := post(t, ts.URL+"/v1/messages/backends/model-cache/clear", "", bearer)
	require.Equal(t, http.StatusOK, cache.StatusCode)
	var mapping struct {
		ModelMapping struct {
			Initialized bool `json:"initialized"`
		} `json:"modelMapping"`
	}
	decode(t, cache, &mapping)
	assert.False(t, mapping.ModelMapping.Initialized)
}

func TestPublicEndpoints(t *testing.T) {
	u := newUpstreams(t)
	ts := newTestServer(t, u, nil)

	testCases := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/v1/models", http.StatusOK},
		{http.MethodGet, "/v1/models/claude-4.5-sonnet", http.StatusOK},
		{http.MethodGet, "/v1/models/gpt-4", http.StatusNotFound},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodOptions, "/v1/messages", http.StatusNoContent},
		{http.MethodPost, "/api/claude_code/metrics", http.StatusOK},
	}

	for _, tc := range testCases {
		req, err := http.NewRequest(tc.method, ts.URL+tc.path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tc.status, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestNew_RequiresBackend(t *testing.T) {
	mgr := config.NewManager(t.TempDir()).WithEnv(func(string) (string, bool) { return "", false })
	_, err := mgr.Load()
	require.NoError(t, err)

	_, err = New(mgr, "test", slog.New(slog.DiscardHandler))
	assert.ErrorIs(t, err, config.ErrNoBackend)
}
