package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mihaisavezi/sider-gateway/internal/session"
	"github.com/mihaisavezi/sider-gateway/internal/stream"
	"github.com/mihaisavezi/sider-gateway/internal/types"
)

const (
	DefaultSiderURL             = "https://sider.ai/api/chat/v1/completions"
	DefaultSiderConversationURL = "https://sider.ai/api/chat/v1/conversation/messages"
)

// ErrNotEventStream is returned when Sider answers with anything but SSE.
var ErrNotEventStream = errors.New("expected SSE response from Sider API")

func setSiderHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Origin", "chrome-extension://dhoenijjpgpeimemopealfcbiecgceod")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36 Edg/139.0.0.0")
	req.Header.Set("X-Time-Zone", "Asia/Shanghai")
	req.Header.Set("X-App-Version", "5.13.0")
	req.Header.Set("X-App-Name", "ChitChat_Edge_Ext")
}

type SiderConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// SiderClient sends completions to Sider and folds the event stream into a
// SiderResult. Conversation ids seen in message_start are saved to sessions.
type SiderClient struct {
	url      string
	token    string
	client   *http.Client
	sessions *session.BackendStore
	logger   *slog.Logger
}

func NewSiderClient(cfg SiderConfig, sessions *session.BackendStore, logger *slog.Logger) *SiderClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	url := cfg.URL
	if url == "" {
		url = DefaultSiderURL
	}
	return &SiderClient{
		url:      url,
		token:    cfg.Token,
		client:   &http.Client{Timeout: cfg.Timeout},
		sessions: sessions,
		logger:   logger,
	}
}

func (c *SiderClient) Name() types.Backend {
	return types.BackendSider
}

func (c *SiderClient) Configured() bool {
	return c.token != ""
}

// Token picks the configured token, else the caller's.
func (c *SiderClient) Token(callerToken string) string {
	if c.token != "" {
		return c.token
	}
	return callerToken
}

// Chat posts req and collects the whole event stream.
func (c *SiderClient) Chat(ctx context.Context, req *types.SiderRequest, token string) (*types.SiderResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal sider request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create sider request: %w", err)
	}
	setSiderHeaders(httpReq, c.Token(token))

	c.logger.Debug("Sending Sider request",
		"model", req.Model,
		"cid", session.ShortID(req.CID),
		"parent", session.ShortID(req.ParentMessageID),
		"tools", req.Tools.Auto,
	)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := readBody(resp)
		c.logger.Error("Sider API error", "status", resp.StatusCode, "body", truncate(string(body), maxErrorBody))
		return nil, newUpstreamError(types.BackendSider, resp.StatusCode, body)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), stream.ContentTypeEventStream) {
		return nil, ErrNotEventStream
	}

	r, err := bodyReader(resp)
	if err != nil {
		return nil, err
	}
	return c.collect(r, req.CID)
}

func (c *SiderClient) collect(r io.Reader, requestCID string) (*types.SiderResult, error) {
	result := &types.SiderResult{}
	reader := stream.NewReader(r)

	for {
		data, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read sider stream: %w", err)
		}

		var env types.SiderEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("Skipping malformed Sider event", "error", err)
			continue
		}
		if env.Code != 0 {
			c.logger.Warn("Sider event reported an error", "code", env.Code, "msg", env.Msg)
			continue
		}
		if len(env.Data) == 0 {
			continue
		}

		ev, err := types.DecodeSiderEvent(env.Data)
		if err != nil {
			c.logger.Warn("Skipping undecodable Sider event", "error", err)
			continue
		}
		if ev != nil {
			c.apply(result, ev, requestCID)
		}
	}

	c.reportTools(result)
	return result, nil
}

func (c *SiderClient) apply(result *types.SiderResult, ev types.SiderEvent, requestCID string) {
	switch e := ev.(type) {
	case types.CreditInfoEvent:
		c.logger.Debug("Sider credit info", "model", e.Model)
	case types.MessageStartEvent:
		result.ConversationID = e.CID
		result.UserMessageID = e.UserMessageID
		result.AssistantMessageID = e.AssistantMessageID
		result.Model = e.Model
		if c.sessions == nil {
			return
		}
		if e.CID != "" {
			c.sessions.Save(e.CID, e.UserMessageID, e.AssistantMessageID, e.Model)
		}
		// Requests sent without a cid advance the continuous conversation.
		if requestCID == "" || session.IsPlaceholder(e.CID) {
			c.sessions.Save(session.PlaceholderID, e.UserMessageID, e.AssistantMessageID, e.Model)
		}
	case types.ReasoningEvent:
		if e.Text != "" {
			result.ReasoningParts = append(result.ReasoningParts, e.Text)
		}
	case types.TextEvent:
		if e.Text != "" {
			result.TextParts = append(result.TextParts, e.Text)
		}
	case types.ToolCallEvent:
		c.applyToolCall(result, e)
	default:
		c.logger.Debug("Ignoring Sider event", "type", ev.Kind())
	}
}

func (c *SiderClient) applyToolCall(result *types.SiderResult, e types.ToolCallEvent) {
	idx := -1
	for i := range result.ToolResults {
		if result.ToolResults[i].ID == e.ID {
			idx = i
			break
		}
	}

	switch e.Phase {
	case types.SiderToolCallStart:
		if idx < 0 {
			result.ToolResults = append(result.ToolResults, types.SiderToolResult{ID: e.ID, Name: e.Name})
			idx = len(result.ToolResults) - 1
		}
		result.ToolResults[idx].Status = types.ToolStatusStart
		c.logger.Debug("Sider tool started", "tool", e.Name, "id", e.ID)
	case types.SiderToolCallProgress:
		if idx < 0 {
			return
		}
		result.ToolResults[idx].Status = types.ToolStatusProcessing
		if e.Progress != "" {
			result.ToolResults[idx].Progress = e.Progress
		}
	case types.SiderToolCallResult:
		if idx < 0 {
			c.logger.Warn("Sider tool result without start", "tool", e.Name, "id", e.ID)
			result.ToolResults = append(result.ToolResults, types.SiderToolResult{ID: e.ID, Name: e.Name})
			idx = len(result.ToolResults) - 1
		}
		tool := &result.ToolResults[idx]
		tool.Status = types.ToolStatusFinish
		tool.Result = e.Result
		tool.Error = e.Error
	}
}

func (c *SiderClient) reportTools(result *types.SiderResult) {
	for _, tool := range result.ToolResults {
		switch {
		case tool.Status != types.ToolStatusFinish:
			c.logger.Warn("Sider tool did not finish", "tool", tool.Name, "status", tool.Status)
		case tool.Error != "":
			c.logger.Warn("Sider tool failed", "tool", tool.Name, "error", tool.Error)
		}
	}
}
