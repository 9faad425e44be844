package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/sider-gateway/internal/config"
	"github.com/mihaisavezi/sider-gateway/internal/gateway"
	"github.com/mihaisavezi/sider-gateway/internal/middleware"
	"github.com/mihaisavezi/sider-gateway/internal/stream"
	"github.com/mihaisavezi/sider-gateway/internal/tokens"
	"github.com/mihaisavezi/sider-gateway/internal/translate"
	"github.com/mihaisavezi/sider-gateway/internal/types"
)

// maxBodyBytes bounds an inbound Messages request.
const maxBodyBytes = 32 << 20

const (
	HeaderParentMessageID = "X-Parent-Message-ID"
	HeaderBackendUsed     = "X-Backend-Used"
	HeaderRoutingRule     = "X-Routing-Rule"
)

// Gateway serves one validated Messages request.
type Gateway interface {
	Handle(ctx context.Context, req *types.ChatRequest, opts gateway.Options) (*gateway.Result, error)
}

type MessagesHandler struct {
	config  *config.Manager
	gateway Gateway
	counter *tokens.TiktokenCounter
	pacer   stream.Pacer
	logger  *slog.Logger
}

func NewMessagesHandler(config *config.Manager, gw Gateway, logger *slog.Logger) *MessagesHandler {
	return &MessagesHandler{
		config:  config,
		gateway: gw,
		counter: tokens.NewTiktokenCounter(logger),
		logger:  logger,
	}
}

// WithPacer overrides the delay between synthesized text deltas.
func (h *MessagesHandler) WithPacer(p stream.Pacer) *MessagesHandler {
	h.pacer = p
	return h
}

func (h *MessagesHandler) streamPacer(cfg *config.Config) stream.Pacer {
	if h.pacer != nil {
		return h.pacer
	}
	return stream.FixedDelay(cfg.StreamDelay())
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Get()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, ErrTypeInvalidRequest, "failed to read request body: "+err.Error())
		return
	}

	req, err := translate.DecodeRequest(body)
	if err != nil {
		var verr *translate.ValidationError
		if errors.As(err, &verr) {
			h.logger.Warn("Rejected invalid request", "error", verr.Message)
			writeError(w, h.logger, http.StatusBadRequest, ErrTypeInvalidRequest, verr.Message)
			return
		}
		writeError(w, h.logger, http.StatusBadRequest, ErrTypeInvalidRequest, err.Error())
		return
	}

	h.logger.Info("Received request",
		"model", req.Model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"stream", req.Stream,
	)
	if cfg.Routing.DebugMode && cfg.Tokenizer == config.TokenizerTiktoken {
		h.logger.Info("Tokenizer count", "input_tokens", h.counter.Count(string(body)))
	}

	cid := r.URL.Query().Get("cid")
	if cid == "" {
		cid = r.Header.Get(translate.HeaderConversationID)
	}
	opts := gateway.Options{
		ConversationID:  cid,
		ParentMessageID: r.Header.Get(HeaderParentMessageID),
	}
	if info, ok := middleware.AuthFromContext(r.Context()); ok {
		opts.Token = info.Token
	}

	var relaying bool
	if req.Stream {
		opts.Sink = func(chunk json.RawMessage) error {
			if !relaying {
				stream.SetHeaders(w)
				w.WriteHeader(http.StatusOK)
				relaying = true
			}
			if _, err := w.Write(stream.FormatRawEvent(chunk)); err != nil {
				return err
			}
			flush(w)
			return r.Context().Err()
		}
	}

	result, err := h.gateway.Handle(r.Context(), req, opts)
	if err != nil {
		if relaying {
			h.logger.Error("Stream failed after it started", "error", err)
			return
		}
		h.logger.Error("Messages request failed", "error", err)
		writeJSON(w, h.logger, http.StatusInternalServerError, translate.ErrorResponse(err, req.Model))
		return
	}

	if result.Streamed {
		h.logger.Info("Relayed upstream stream", "backend", result.Backend)
		return
	}

	for key, values := range result.SessionHeaders {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if cfg.Routing.DebugMode {
		w.Header().Set(HeaderBackendUsed, string(result.Backend))
		w.Header().Set(HeaderRoutingRule, result.Decision.Rule)
	}

	if !req.Stream {
		writeJSON(w, h.logger, http.StatusOK, result.Response)
		return
	}

	stream.SetHeaders(w)
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events := stream.Events(result.Response)
	if err := stream.Write(r.Context(), w, events, h.streamPacer(cfg)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			h.logger.Info("Client disconnected during stream", "backend", result.Backend)
			return
		}
		h.logger.Error("Failed to write stream", "error", err)
	}
}

// CountTokens estimates the input size of a messages array.
func (h *MessagesHandler) CountTokens(w http.ResponseWriter, r *http.Request) {
	var body types.CountTokensRequest
	if err := decodeBody(r, w, &body); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, ErrTypeInvalidRequest, "Invalid JSON in request body: "+err.Error())
		return
	}

	writeJSON(w, h.logger, http.StatusOK, types.CountTokensResponse{
		InputTokens: tokens.EstimateJSON(body.Messages),
	})
}
