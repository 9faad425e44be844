package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mihaisavezi/sider-gateway/internal/session"
	"github.com/mihaisavezi/sider-gateway/internal/types"
)

const (
	DefaultHistoryLimit   = 50
	DefaultHistoryTimeout = 10 * time.Second
)

type HistoryConfig struct {
	URL     string
	Limit   int
	Timeout time.Duration
}

// SiderHistoryClient reads remote Sider conversations.
type SiderHistoryClient struct {
	url    string
	limit  int
	client *http.Client
	logger *slog.Logger
}

func NewSiderHistoryClient(cfg HistoryConfig, logger *slog.Logger) *SiderHistoryClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.URL == "" {
		cfg.URL = DefaultSiderConversationURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultHistoryLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHistoryTimeout
	}
	return &SiderHistoryClient{
		url:    cfg.URL,
		limit:  cfg.Limit,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// History fetches up to the configured number of messages of cid.
func (c *SiderHistoryClient) History(ctx context.Context, cid, token string) (*types.SiderHistoryResponse, error) {
	payload, err := json.Marshal(types.SiderHistoryRequest{CID: cid, Limit: c.limit})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create history request: %w", err)
	}
	setSiderHeaders(req, token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sider conversation request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read history response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newUpstreamError(types.BackendSider, resp.StatusCode, body)
	}

	var out types.SiderHistoryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode history response: %w", err)
	}
	if out.Code != 0 {
		msg := out.Msg
		if msg == "" {
			msg = "Unknown error"
		}
		return nil, fmt.Errorf("sider conversation API error: %s", msg)
	}

	c.logger.Debug("Conversation history fetched",
		"cid", session.ShortID(cid),
		"messages", len(out.Data.Messages),
		"has_more", out.Data.HasMore,
	)
	return &out, nil
}

// LatestMessageID returns the id of the newest message in cid, or "" when the
// conversation is empty.
func (c *SiderHistoryClient) LatestMessageID(ctx context.Context, cid, token string) (string, error) {
	history, err := c.History(ctx, cid, token)
	if err != nil {
		return "", err
	}
	messages := history.Data.Messages
	if len(messages) == 0 {
		return "", nil
	}
	return messages[len(messages)-1].ID, nil
}
