package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/sider-gateway/internal/analyzer"
	"github.com/mihaisavezi/sider-gateway/internal/types"
)

var bothEnabled = Policy{
	SiderEnabled:       true,
	AnthropicEnabled:   true,
	DefaultBackend:     types.BackendSider,
	PreferSiderForChat: true,
	AutoFallback:       true,
}

func analysisWith(reqType analyzer.RequestType, code, external, native []string) analyzer.Analysis {
	return analyzer.Analysis{
		Type:             reqType,
		ToolCount:        len(code) + len(external) + len(native),
		MessageCount:     1,
		HasCodeTools:     len(code) > 0,
		HasExternalTools: len(external) > 0,
		HasNativeTools:   len(native) > 0,
		CodeTools:        code,
		ExternalTools:    external,
		NativeTools:      native,
		HasToolResults:   reqType == analyzer.ToolResultFeedback,
	}
}

func TestDecide_Rules(t *testing.T) {
	siderOnly := Policy{SiderEnabled: true, DefaultBackend: types.BackendAnthropic, AutoFallback: true}
	anthropicOnly := Policy{AnthropicEnabled: true, DefaultBackend: types.BackendSider, AutoFallback: true}
	noPreference := bothEnabled
	noPreference.PreferSiderForChat = false

	testCases := []struct {
		name          string
		policy        Policy
		analysis      analyzer.Analysis
		backend       types.Backend
		rule          string
		confidence    float64
		allowFallback bool
	}{
		{
			name:          "code tools go to anthropic",
			policy:        bothEnabled,
			analysis:      analysisWith(analyzer.ToolCall, []string{"Bash"}, nil, nil),
			backend:       types.BackendAnthropic,
			rule:          "rule_2_code_tools",
			confidence:    1.0,
			allowFallback: true,
		},
		{
			name:       "code tools degrade to sider",
			policy:     siderOnly,
			analysis:   analysisWith(analyzer.ToolCall, []string{"Bash"}, nil, []string{"search"}),
			backend:    types.BackendSider,
			rule:       "rule_2_code_tools_degraded",
			confidence: 0.2,
		},
		{
			name:          "external tools go to anthropic",
			policy:        bothEnabled,
			analysis:      analysisWith(analyzer.ToolCall, nil, []string{"get_weather"}, []string{"search"}),
			backend:       types.BackendAnthropic,
			rule:          "rule_3_external_tools",
			confidence:    1.0,
			allowFallback: true,
		},
		{
			name:       "external tools degrade to sider",
			policy:     siderOnly,
			analysis:   analysisWith(analyzer.ToolCall, nil, []string{"get_weather"}, nil),
			backend:    types.BackendSider,
			rule:       "rule_3_external_tools_degraded",
			confidence: 0.2,
		},
		{
			name:          "native tools go to sider",
			policy:        bothEnabled,
			analysis:      analysisWith(analyzer.ToolCall, nil, nil, []string{"search", "create_image"}),
			backend:       types.BackendSider,
			rule:          "rule_4_native_tools",
			confidence:    0.9,
			allowFallback: true,
		},
		{
			name:          "native tools without sider fall to default",
			policy:        anthropicOnly,
			analysis:      analysisWith(analyzer.ToolCall, nil, nil, []string{"search"}),
			backend:       types.BackendAnthropic,
			rule:          "rule_6_only_anthropic",
			confidence:    0.6,
			allowFallback: false,
		},
		{
			name:          "simple chat prefers sider",
			policy:        bothEnabled,
			analysis:      analysisWith(analyzer.SimpleChat, nil, nil, nil),
			backend:       types.BackendSider,
			rule:          "rule_5_simple_chat_prefer_sider",
			confidence:    0.8,
			allowFallback: true,
		},
		{
			name:          "simple chat without preference uses anthropic",
			policy:        noPreference,
			analysis:      analysisWith(analyzer.SimpleChat, nil, nil, nil),
			backend:       types.BackendAnthropic,
			rule:          "rule_5_simple_chat_anthropic",
			confidence:    0.7,
			allowFallback: true,
		},
		{
			name:       "simple chat with only sider",
			policy:     Policy{SiderEnabled: true},
			analysis:   analysisWith(analyzer.SimpleChat, nil, nil, nil),
			backend:    types.BackendSider,
			rule:       "rule_5_simple_chat_fallback_sider",
			confidence: 0.6,
		},
		{
			name:          "tool result without affinity uses default",
			policy:        bothEnabled,
			analysis:      analysisWith(analyzer.ToolResultFeedback, nil, nil, nil),
			backend:       types.BackendSider,
			rule:          "rule_6_default_sider",
			confidence:    0.6,
			allowFallback: true,
		},
		{
			name:       "disabled default picks the only backend",
			policy:     siderOnly,
			analysis:   analysisWith(analyzer.ToolResultFeedback, nil, nil, nil),
			backend:    types.BackendSider,
			rule:       "rule_6_only_sider",
			confidence: 0.6,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			engine := NewEngine(tc.policy, nil, nil)

			decision, err := engine.Decide(tc.analysis, "")
			require.NoError(t, err)

			assert.Equal(t, tc.backend, decision.Backend)
			assert.Equal(t, tc.rule, decision.Rule)
			assert.InDelta(t, tc.confidence, decision.Confidence, 0.0001)
			assert.Equal(t, tc.allowFallback, decision.AllowFallback)
			assert.NotEmpty(t, decision.Reason)
		})
	}
}

func TestDecide_ToolResultContinuity(t *testing.T) {
	engine := NewEngine(bothEnabled, nil, nil)
	engine.Record("cid-1", types.BackendSider)

	// Code tools would normally go to anthropic.
	a := analysisWith(analyzer.ToolResultFeedback, []string{"Bash"}, nil, nil)

	decision, err := engine.Decide(a, "cid-1")
	require.NoError(t, err)
	assert.Equal(t, types.BackendSider, decision.Backend)
	assert.Equal(t, "rule_1_tool_result_continuity", decision.Rule)
	assert.Equal(t, 1.0, decision.Confidence)
	assert.False(t, decision.AllowFallback)

	other, err := engine.Decide(a, "cid-2")
	require.NoError(t, err)
	assert.Equal(t, types.BackendAnthropic, other.Backend)
}

func TestDecide_NativeToolsIgnoreMessageCount(t *testing.T) {
	engine := NewEngine(bothEnabled, nil, nil)

	for _, count := range []int{1, 2, 10, 100} {
		a := analysisWith(analyzer.ToolCall, nil, nil, []string{"search"})
		a.MessageCount = count
		a.IsMultiTurn = count > 1

		decision, err := engine.Decide(a, "")
		require.NoError(t, err)
		assert.Equal(t, types.BackendSider, decision.Backend, "message count %d", count)
	}
}

func TestDecide_NoBackend(t *testing.T) {
	engine := NewEngine(Policy{}, nil, nil)

	_, err := engine.Decide(analysisWith(analyzer.SimpleChat, nil, nil, nil), "")
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestEngine_StatsAndClear(t *testing.T) {
	engine := NewEngine(bothEnabled, nil, nil)

	engine.Record("", types.BackendSider)
	engine.Record("a", types.BackendSider)
	engine.Record("b", types.BackendAnthropic)

	assert.Equal(t, Stats{TotalSessions: 2, SiderSessions: 1, AnthropicSessions: 1}, engine.Stats())

	backend, ok := engine.Backend("b")
	require.True(t, ok)
	assert.Equal(t, types.BackendAnthropic, backend)

	engine.ClearAffinity()
	assert.Equal(t, Stats{}, engine.Stats())
}
