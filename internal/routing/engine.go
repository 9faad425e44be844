package routing

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mihaisavezi/sider-gateway/internal/analyzer"
	"github.com/mihaisavezi/sider-gateway/internal/session"
	"github.com/mihaisavezi/sider-gateway/internal/types"
)

// ErrNoBackend means no backend is enabled. Startup validation rejects such a
// configuration, so seeing it at request time is a bug.
var ErrNoBackend = errors.New("no backend enabled")

// Policy is the static routing configuration.
type Policy struct {
	SiderEnabled       bool
	AnthropicEnabled   bool
	DefaultBackend     types.Backend
	PreferSiderForChat bool
	AutoFallback       bool
}

// Enabled reports whether b may receive traffic.
func (p Policy) Enabled(b types.Backend) bool {
	switch b {
	case types.BackendSider:
		return p.SiderEnabled
	case types.BackendAnthropic:
		return p.AnthropicEnabled
	}
	return false
}

// Decision is the outcome of routing one request.
type Decision struct {
	Backend       types.Backend
	Reason        string
	Confidence    float64
	AllowFallback bool
	Rule          string
}

// Stats aggregates conversation affinity per backend.
type Stats struct {
	TotalSessions     int `json:"totalSessions"`
	SiderSessions     int `json:"siderSessions"`
	AnthropicSessions int `json:"anthropicSessions"`
}

type Engine struct {
	policy   Policy
	affinity *session.Affinity
	logger   *slog.Logger
}

func NewEngine(policy Policy, affinity *session.Affinity, logger *slog.Logger) *Engine {
	if affinity == nil {
		affinity = session.NewAffinity()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{policy: policy, affinity: affinity, logger: logger}
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// Decide picks a backend. Rules are evaluated in order and the first match
// wins. It has no side effects; callers record affinity with Record after a
// successful response.
func (e *Engine) Decide(a analyzer.Analysis, conversationID string) (Decision, error) {
	p := e.policy
	if !p.SiderEnabled && !p.AnthropicEnabled {
		return Decision{}, ErrNoBackend
	}

	if a.Type == analyzer.ToolResultFeedback {
		if backend, ok := e.affinity.Get(conversationID); ok {
			return Decision{
				Backend:    backend,
				Reason:     fmt.Sprintf("Tool result continuity: conversation previously served by %s", backend),
				Confidence: 1.0,
				Rule:       "rule_1_tool_result_continuity",
			}, nil
		}
	}

	if a.HasCodeTools {
		return e.preferAnthropic("rule_2_code_tools",
			fmt.Sprintf("Code execution tools declared: %v", a.CodeTools)), nil
	}

	if a.HasExternalTools {
		return e.preferAnthropic("rule_3_external_tools",
			fmt.Sprintf("External tools declared: %v", a.ExternalTools)), nil
	}

	if a.HasNativeTools && p.SiderEnabled {
		return Decision{
			Backend:       types.BackendSider,
			Reason:        fmt.Sprintf("Only native tools declared: %v", a.NativeTools),
			Confidence:    0.9,
			AllowFallback: true,
			Rule:          "rule_4_native_tools",
		}, nil
	}

	if a.Type == analyzer.SimpleChat {
		switch {
		case p.PreferSiderForChat && p.SiderEnabled:
			return Decision{
				Backend:       types.BackendSider,
				Reason:        "Simple chat, Sider preferred",
				Confidence:    0.8,
				AllowFallback: true,
				Rule:          "rule_5_simple_chat_prefer_sider",
			}, nil
		case p.AnthropicEnabled:
			return Decision{
				Backend:       types.BackendAnthropic,
				Reason:        "Simple chat, Anthropic available",
				Confidence:    0.7,
				AllowFallback: true,
				Rule:          "rule_5_simple_chat_anthropic",
			}, nil
		default:
			return Decision{
				Backend:    types.BackendSider,
				Reason:     "Simple chat, only Sider available",
				Confidence: 0.6,
				Rule:       "rule_5_simple_chat_fallback_sider",
			}, nil
		}
	}

	if p.Enabled(p.DefaultBackend) {
		return Decision{
			Backend:       p.DefaultBackend,
			Reason:        fmt.Sprintf("Default backend %s", p.DefaultBackend),
			Confidence:    0.6,
			AllowFallback: true,
			Rule:          "rule_6_default_" + string(p.DefaultBackend),
		}, nil
	}

	only := types.BackendSider
	if !p.SiderEnabled {
		only = types.BackendAnthropic
	}
	return Decision{
		Backend:    only,
		Reason:     fmt.Sprintf("Only %s is enabled", only),
		Confidence: 0.6,
		Rule:       "rule_6_only_" + string(only),
	}, nil
}

// preferAnthropic routes tool-bearing requests. Without Anthropic the request
// degrades to Sider, where the tools will not run.
func (e *Engine) preferAnthropic(rule, reason string) Decision {
	if e.policy.AnthropicEnabled {
		return Decision{
			Backend:       types.BackendAnthropic,
			Reason:        reason,
			Confidence:    1.0,
			AllowFallback: true,
			Rule:          rule,
		}
	}
	return Decision{
		Backend:    types.BackendSider,
		Reason:     reason + " (Anthropic disabled, tools will not function)",
		Confidence: 0.2,
		Rule:       rule + "_degraded",
	}
}

// Record pins conversationID to backend.
func (e *Engine) Record(conversationID string, backend types.Backend) {
	if conversationID == "" {
		return
	}
	e.affinity.Set(conversationID, backend)
	e.logger.Debug("Recorded backend affinity", "cid", session.ShortID(conversationID), "backend", backend)
}

// Backend returns the recorded backend for conversationID.
func (e *Engine) Backend(conversationID string) (types.Backend, bool) {
	return e.affinity.Get(conversationID)
}

func (e *Engine) Stats() Stats {
	total, sider, anthropic := e.affinity.Counts()
	return Stats{TotalSessions: total, SiderSessions: sider, AnthropicSessions: anthropic}
}

func (e *Engine) ClearAffinity() {
	e.affinity.Clear()
}
