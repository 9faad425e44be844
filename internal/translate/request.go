package translate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mihaisavezi/sider-gateway/internal/models"
	"github.com/mihaisavezi/sider-gateway/internal/session"
	"github.com/mihaisavezi/sider-gateway/internal/types"
)

// HistoryFetcher returns the id of the newest message in a remote Sider
// conversation.
type HistoryFetcher interface {
	LatestMessageID(ctx context.Context, cid, token string) (string, error)
}

// Path records which strategy produced the parent link.
type Path string

const (
	PathHistory Path = "history"
	PathSession Path = "session"
	PathFresh   Path = "fresh"
)

var errNoUserMessage = errors.New("no user message found in request")

// SiderOptions carries per-request conversation state.
type SiderOptions struct {
	ConversationID  string
	ParentMessageID string
	Token           string
}

// SiderTranslation is the translated body plus how it was built.
type SiderTranslation struct {
	Request *types.SiderRequest
	Path    Path
}

type RequestTranslator struct {
	sessions *session.BackendStore
	history  HistoryFetcher
	logger   *slog.Logger
}

// NewRequestTranslator builds a translator. history may be nil, which skips
// the remote history lookup.
func NewRequestTranslator(sessions *session.BackendStore, history HistoryFetcher, logger *slog.Logger) *RequestTranslator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RequestTranslator{sessions: sessions, history: history, logger: logger}
}

// ToSider builds the Sider body. Only the current user turn is sent; Sider
// links history through cid and parent_message_id.
func (t *RequestTranslator) ToSider(ctx context.Context, req *types.ChatRequest, opts SiderOptions) (*SiderTranslation, error) {
	last := req.LastUserMessage()
	if last == nil {
		return nil, errNoUserMessage
	}

	input := last.Text()
	cid := opts.ConversationID
	wireCID := cid
	if session.IsPlaceholder(cid) {
		wireCID = ""
	}
	multiTurn := len(req.Messages) > 1

	out := &types.SiderRequest{
		CID:             wireCID,
		Model:           models.SiderModel(req.Model, t.logger),
		From:            "chat",
		ClientPrompt:    clientPrompt(req),
		PromptTemplates: []types.PromptTemplate{},
		Tools:           SiderTools(req.Tools, t.logger),
	}
	result := &SiderTranslation{Request: out, Path: PathFresh}

	text := input
	if system := req.SystemText(); system != "" && len(req.Messages) == 1 {
		text = system + "\n\n" + input
	}

	switch {
	case opts.ParentMessageID != "":
		out.ParentMessageID = opts.ParentMessageID
		result.Path = PathSession
	case cid != "" && multiTurn:
		if parent, ok := t.parentFromHistory(ctx, wireCID, opts.Token); ok {
			out.ParentMessageID = parent
			result.Path = PathHistory
			text = input
			break
		}
		if parent := t.parentFromSession(cid); parent != "" {
			out.ParentMessageID = parent
			result.Path = PathSession
		}
	case cid != "":
		out.ParentMessageID = t.parentFromSession(cid)
		if out.ParentMessageID != "" {
			result.Path = PathSession
		}
	}

	out.MultiContent = []types.MultiContent{{
		Type:          "text",
		Text:          text,
		UserInputText: input,
	}}

	t.logger.Info("Converted request to Sider format",
		"cid", orNew(wireCID),
		"path", result.Path,
		"model", out.Model,
		"text_length", len(text),
		"message_count", len(req.Messages),
		"has_parent", out.ParentMessageID != "",
	)

	return result, nil
}

func (t *RequestTranslator) parentFromHistory(ctx context.Context, cid, token string) (string, bool) {
	if t.history == nil || cid == "" {
		return "", false
	}
	parent, err := t.history.LatestMessageID(ctx, cid, token)
	if err != nil {
		t.logger.Warn("Failed to get conversation history, using local session", "cid", session.ShortID(cid), "error", err)
		return "", false
	}
	if parent == "" {
		return "", false
	}
	return parent, true
}

func (t *RequestTranslator) parentFromSession(cid string) string {
	if t.sessions == nil {
		return ""
	}
	if session.IsPlaceholder(cid) {
		return t.sessions.GetOrCreatePlaceholder().AssistantMessageID
	}
	return t.sessions.NextParentID(cid)
}

func clientPrompt(req *types.ChatRequest) map[string]any {
	prompt := map[string]any{}
	if req.Temperature != nil && *req.Temperature >= 0 && *req.Temperature <= 1 {
		prompt["temperature"] = *req.Temperature
	}
	return prompt
}

func orNew(cid string) string {
	if cid == "" {
		return "new"
	}
	return session.ShortID(cid)
}
