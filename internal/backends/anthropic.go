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

	"github.com/mihaisavezi/sider-gateway/internal/stream"
	"github.com/mihaisavezi/sider-gateway/internal/types"
)

const (
	DefaultAnthropicURL = "https://api.anthropic.com"
	AnthropicVersion    = "2023-06-01"
)

// Model names that third-party Anthropic-compatible endpoints do not know.
var defaultModelMap = map[string]string{
	"claude-4.5-sonnet":          "claude-sonnet-4-5-20250929",
	"claude-4-5-sonnet":          "claude-sonnet-4-5-20250929",
	"claude-sonnet-4.5":          "claude-sonnet-4-5-20250929",
	"claude-3.5-sonnet":          "claude-3-5-sonnet-20241022",
	"claude-3-5-sonnet-latest":   "claude-3-5-sonnet-20241022",
	"claude-3-5-sonnet-20241022": "claude-3-5-sonnet-20241022",
	"claude-3-opus-20240229":     "claude-3-opus-20240229",
	"claude-3-haiku-20240307":    "claude-3-haiku-20240307",
	"claude-haiku-4.5":           "claude-haiku-4-5-20251001",
	"claude-haiku-4-5":           "claude-haiku-4-5-20251001",
}

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// ModelMap entries override the built-in table for non-official endpoints.
	ModelMap map[string]string
}

// AnthropicClient calls an Anthropic Messages endpoint, official or
// compatible.
type AnthropicClient struct {
	baseURL  string
	apiKey   string
	official bool
	client   *http.Client

	// streamClient bounds only the wait for response headers; the body is
	// bounded by ctx.
	streamClient *http.Client
	modelMap     map[string]string
	mapper       *ModelMapper
	logger       *slog.Logger
}

func NewAnthropicClient(cfg AnthropicConfig, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultAnthropicURL
	}

	modelMap := make(map[string]string, len(defaultModelMap)+len(cfg.ModelMap))
	for k, v := range defaultModelMap {
		modelMap[k] = v
	}
	for k, v := range cfg.ModelMap {
		modelMap[k] = v
	}

	client := &http.Client{Timeout: cfg.Timeout}

	streamTransport := http.DefaultTransport.(*http.Transport).Clone()
	streamTransport.ResponseHeaderTimeout = cfg.Timeout

	return &AnthropicClient{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		official:     strings.Contains(baseURL, "anthropic.com"),
		client:       client,
		streamClient: &http.Client{Transport: streamTransport},
		modelMap:     modelMap,
		mapper:       NewModelMapper(baseURL, cfg.APIKey, client, logger),
		logger:       logger,
	}
}

func (c *AnthropicClient) Name() types.Backend {
	return types.BackendAnthropic
}

func (c *AnthropicClient) Configured() bool {
	return c.apiKey != ""
}

// Mapper exposes the dynamic model mapper.
func (c *AnthropicClient) Mapper() *ModelMapper {
	return c.mapper
}

// MapModel resolves the model name the endpoint expects. Official endpoints
// get the name unchanged.
func (c *AnthropicClient) MapModel(ctx context.Context, model string) string {
	if c.official {
		return model
	}
	if mapped, ok := c.modelMap[model]; ok {
		return mapped
	}
	return c.mapper.Map(ctx, model)
}

func (c *AnthropicClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", AnthropicVersion)
	if c.official {
		req.Header.Set("x-api-key", c.apiKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "Claude-Code/1.0.0")
	req.Header.Set("X-Client-Name", "claude-code")
	req.Header.Set("X-Client-Version", "1.0.0")
}

// Send forwards req without streaming and returns the complete message.
func (c *AnthropicClient) Send(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	outgoing := *req
	outgoing.Stream = false
	outgoing.Model = c.MapModel(ctx, req.Model)

	payload, err := json.Marshal(&outgoing)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	c.setHeaders(httpReq)

	c.logger.Debug("Sending Anthropic request",
		"model", outgoing.Model,
		"requested_model", req.Model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read anthropic response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Anthropic API error", "status", resp.StatusCode, "body", truncate(string(body), maxErrorBody))
		return nil, newUpstreamError(types.BackendAnthropic, resp.StatusCode, body)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, newUpstreamError(types.BackendAnthropic, resp.StatusCode, body)
	}
	var out types.ChatResponse
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, newUpstreamError(types.BackendAnthropic, resp.StatusCode, body)
	}

	c.logger.Debug("Anthropic response received",
		"id", out.ID,
		"output_tokens", out.Usage.OutputTokens,
	)
	return &out, nil
}

// StreamCallbacks receive the events of Stream. Any of them may be nil.
type StreamCallbacks struct {
	OnChunk func(chunk json.RawMessage)
	OnDone  func()
	OnError func(err error)
}

// Stream forwards req with stream enabled and calls cb.OnChunk for every
// data line until the upstream finishes. It returns once OnDone or OnError
// has been called.
func (c *AnthropicClient) Stream(ctx context.Context, req *types.ChatRequest, cb StreamCallbacks) {
	fail := func(err error) {
		if cb.OnError != nil {
			cb.OnError(err)
		}
	}

	outgoing := *req
	outgoing.Stream = true
	outgoing.Model = c.MapModel(ctx, req.Model)

	payload, err := json.Marshal(&outgoing)
	if err != nil {
		fail(fmt.Errorf("marshal anthropic request: %w", err))
		return
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		fail(fmt.Errorf("create anthropic request: %w", err))
		return
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", stream.ContentTypeEventStream)

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		fail(fmt.Errorf("anthropic request failed: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := readBody(resp)
		fail(newUpstreamError(types.BackendAnthropic, resp.StatusCode, body))
		return
	}

	r, err := bodyReader(resp)
	if err != nil {
		fail(err)
		return
	}
	reader := stream.NewReader(r)
	for {
		data, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fail(fmt.Errorf("read anthropic stream: %w", err))
			return
		}
		if !json.Valid(data) {
			c.logger.Warn("Skipping malformed Anthropic stream chunk")
			continue
		}
		if cb.OnChunk != nil {
			cb.OnChunk(data)
		}
	}

	if cb.OnDone != nil {
		cb.OnDone()
	}
}

// Health checks that the endpoint answers a model listing.
func (c *AnthropicClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("anthropic health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := readBody(resp)
		return newUpstreamError(types.BackendAnthropic, resp.StatusCode, body)
	}
	return nil
}
