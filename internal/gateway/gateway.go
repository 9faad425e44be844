// Package gateway runs one Messages request end to end: analyze, route,
// translate, call the backend, translate back, fall back once on failure.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mihaisavezi/sider-gateway/internal/analyzer"
	"github.com/mihaisavezi/sider-gateway/internal/backends"
	"github.com/mihaisavezi/sider-gateway/internal/metrics"
	"github.com/mihaisavezi/sider-gateway/internal/routing"
	"github.com/mihaisavezi/sider-gateway/internal/session"
	"github.com/mihaisavezi/sider-gateway/internal/translate"
	"github.com/mihaisavezi/sider-gateway/internal/types"
)

// ErrFallbackUnavailable is logged when the other backend is disabled.
var ErrFallbackUnavailable = errors.New("fallback backend not available")

type SiderBackend interface {
	Chat(ctx context.Context, req *types.SiderRequest, token string) (*types.SiderResult, error)
	Token(callerToken string) string
}

type AnthropicBackend interface {
	Send(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)
	Stream(ctx context.Context, req *types.ChatRequest, cb backends.StreamCallbacks)
}

// StreamSink writes one upstream stream event to the client.
type StreamSink func(chunk json.RawMessage) error

// Options carries the per-request values taken from the HTTP layer.
type Options struct {
	ConversationID  string
	ParentMessageID string

	// Token is the caller's credential, used for Sider when no token is
	// configured.
	Token string

	// Sink, when set, lets a streaming request be relayed from Anthropic
	// as it arrives instead of being buffered.
	Sink StreamSink
}

type Result struct {
	Response       *types.ChatResponse
	Backend        types.Backend
	Decision       routing.Decision
	ConversationID string
	// SessionHeaders is set only when Sider served the request.
	SessionHeaders http.Header

	// Streamed means the response was already written through the sink and
	// Response is nil.
	Streamed bool
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Analyzer      *analyzer.Analyzer
	Engine        *routing.Engine
	Translator    *translate.RequestTranslator
	Sider         SiderBackend
	Anthropic     AnthropicBackend
	Sessions      *session.BackendStore
	Conversations *session.ConversationStore
	Debug         bool

	// PassthroughStream relays Anthropic streams through Options.Sink.
	PassthroughStream bool
}

type Orchestrator struct {
	Deps
	logger *slog.Logger
}

func New(deps Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{Deps: deps, logger: logger}
}

// InferConversationID returns explicit when set. A multi-turn request that
// already contains an assistant turn but carries no id continues the
// placeholder conversation.
func InferConversationID(req *types.ChatRequest, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if len(req.Messages) > 1 && req.HasAssistantMessage() {
		return session.PlaceholderID
	}
	return ""
}

// Handle serves a validated request.
func (o *Orchestrator) Handle(ctx context.Context, req *types.ChatRequest, opts Options) (*Result, error) {
	cid := InferConversationID(req, opts.ConversationID)
	if cid != opts.ConversationID {
		o.logger.Info("Inferred continuous conversation from message history")
	}

	analysis := o.Analyzer.Analyze(req)
	decision, err := o.Engine.Decide(analysis, cid)
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}
	metrics.RoutingDecisions.WithLabelValues(string(decision.Backend), decision.Rule).Inc()

	if o.Debug {
		o.logger.Info("Routing decision",
			"backend", decision.Backend,
			"rule", decision.Rule,
			"reason", decision.Reason,
			"confidence", decision.Confidence,
			"allow_fallback", decision.AllowFallback,
			"request_type", analysis.Type,
			"tools", analysis.ToolCount,
			"messages", analysis.MessageCount,
		)
	} else {
		o.logger.Info("Routing decision", "backend", decision.Backend, "rule", decision.Rule)
	}

	res, err := o.call(ctx, decision.Backend, req, cid, opts)
	if err == nil {
		res.Decision = decision
		return res, nil
	}
	o.logger.Error("Backend failed", "backend", decision.Backend, "error", err)

	policy := o.Engine.Policy()
	if !decision.AllowFallback || !policy.AutoFallback {
		return nil, err
	}

	fallback := decision.Backend.Other()
	if !policy.Enabled(fallback) {
		o.logger.Error("Fallback failed", "to", fallback, "error", ErrFallbackUnavailable)
		metrics.Fallbacks.WithLabelValues(string(decision.Backend), string(fallback), metrics.OutcomeError).Inc()
		return nil, err
	}

	o.logger.Warn("Attempting fallback", "from", decision.Backend, "to", fallback)
	res, fallbackErr := o.call(ctx, fallback, req, cid, opts)
	if fallbackErr != nil {
		o.logger.Error("Fallback also failed", "to", fallback, "error", fallbackErr)
		metrics.Fallbacks.WithLabelValues(string(decision.Backend), string(fallback), metrics.OutcomeError).Inc()
		return nil, err
	}

	o.logger.Info("Fallback succeeded", "to", fallback)
	metrics.Fallbacks.WithLabelValues(string(decision.Backend), string(fallback), metrics.OutcomeSuccess).Inc()
	res.Decision = decision
	return res, nil
}

func (o *Orchestrator) call(ctx context.Context, backend types.Backend, req *types.ChatRequest, cid string, opts Options) (*Result, error) {
	start := time.Now()
	var (
		res *Result
		err error
	)
	switch backend {
	case types.BackendSider:
		res, err = o.callSider(ctx, req, cid, opts)
	case types.BackendAnthropic:
		if opts.Sink != nil && o.PassthroughStream {
			res, err = o.streamAnthropic(ctx, req, cid, opts.Sink)
		} else {
			res, err = o.callAnthropic(ctx, req, cid)
		}
	default:
		err = fmt.Errorf("unknown backend %q", backend)
	}

	metrics.BackendLatency.WithLabelValues(string(backend)).Observe(time.Since(start).Seconds())
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.BackendRequests.WithLabelValues(string(backend), outcome).Inc()
	return res, err
}

func (o *Orchestrator) callSider(ctx context.Context, req *types.ChatRequest, cid string, opts Options) (*Result, error) {
	if o.Sider == nil {
		return nil, errors.New("sider backend not configured")
	}
	token := o.Sider.Token(opts.Token)

	tr, err := o.Translator.ToSider(ctx, req, translate.SiderOptions{
		ConversationID:  cid,
		ParentMessageID: opts.ParentMessageID,
		Token:           token,
	})
	if err != nil {
		return nil, fmt.Errorf("translate request: %w", err)
	}
	o.logger.Debug("Translated request for Sider", "path", tr.Path, "model", tr.Request.Model)

	result, err := o.Sider.Chat(ctx, tr.Request, token)
	if err != nil {
		return nil, err
	}

	recorded := cid
	if recorded == "" {
		recorded = result.ConversationID
	}
	if o.Conversations != nil {
		conv := o.Conversations.GetOrCreate(req.Messages)
		if recorded == "" {
			o.logger.Warn("Sider returned no conversation id, correlating by fingerprint",
				"conversation", conv.ID,
				"parent", o.Conversations.ParentID(conv, req.Messages),
			)
			recorded = conv.ID
		}
	}
	o.Engine.Record(recorded, types.BackendSider)
	if o.Sessions != nil {
		metrics.SiderSessions.Set(float64(o.Sessions.Len()))
	}

	return &Result{
		Response:       translate.FromSider(result, req.Model, translate.InputTokens(req)),
		Backend:        types.BackendSider,
		ConversationID: recorded,
		SessionHeaders: translate.SessionHeaders(result),
	}, nil
}

func (o *Orchestrator) callAnthropic(ctx context.Context, req *types.ChatRequest, cid string) (*Result, error) {
	if o.Anthropic == nil {
		return nil, errors.New("anthropic API not configured")
	}

	resp, err := o.Anthropic.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	o.Engine.Record(cid, types.BackendAnthropic)

	return &Result{
		Response:       resp,
		Backend:        types.BackendAnthropic,
		ConversationID: cid,
	}, nil
}

// streamAnthropic relays the upstream stream through sink. Failures before
// the first relayed chunk are returned so the caller may fall back; later
// failures end the stream as it stands.
func (o *Orchestrator) streamAnthropic(ctx context.Context, req *types.ChatRequest, cid string, sink StreamSink) (*Result, error) {
	if o.Anthropic == nil {
		return nil, errors.New("anthropic API not configured")
	}

	var (
		relayed   int
		streamErr error
	)
	o.Anthropic.Stream(ctx, req, backends.StreamCallbacks{
		OnChunk: func(chunk json.RawMessage) {
			if streamErr != nil {
				return
			}
			if err := sink(chunk); err != nil {
				streamErr = fmt.Errorf("relay stream: %w", err)
				return
			}
			relayed++
		},
		OnError: func(err error) {
			streamErr = err
		},
	})

	if streamErr != nil && relayed == 0 {
		return nil, streamErr
	}
	if streamErr != nil {
		o.logger.Error("Anthropic stream ended early", "chunks", relayed, "error", streamErr)
	}
	o.Engine.Record(cid, types.BackendAnthropic)

	return &Result{
		Backend:        types.BackendAnthropic,
		ConversationID: cid,
		Streamed:       true,
	}, nil
}
