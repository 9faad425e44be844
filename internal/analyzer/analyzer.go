package analyzer

import (
	"log/slog"

	"github.com/mihaisavezi/sider-gateway/internal/types"
)

type RequestType string

const (
	SimpleChat         RequestType = "simple_chat"
	ToolCall           RequestType = "tool_call"
	ToolResultFeedback RequestType = "tool_result_feedback"
)

// Category is the capability set a tool name belongs to.
type Category int

const (
	CategoryExternal Category = iota
	CategoryCode
	CategoryNative
)

func (c Category) String() string {
	switch c {
	case CategoryCode:
		return "code"
	case CategoryNative:
		return "native"
	default:
		return "external"
	}
}

// Host-environment actions issued by Claude Code style clients.
var codeTools = map[string]struct{}{
	"Task":            {},
	"Bash":            {},
	"Read":            {},
	"Write":           {},
	"Edit":            {},
	"Glob":            {},
	"Grep":            {},
	"WebFetch":        {},
	"WebSearch":       {},
	"TodoWrite":       {},
	"NotebookEdit":    {},
	"Skill":           {},
	"SlashCommand":    {},
	"ExitPlanMode":    {},
	"AskUserQuestion": {},
}

// Tools the Sider backend runs itself.
var nativeTools = map[string]struct{}{
	"search":           {},
	"web_search":       {},
	"internet_search":  {},
	"web_browse":       {},
	"browse_web":       {},
	"web_browsing":     {},
	"create_image":     {},
	"generate_image":   {},
	"image_generation": {},
}

// Classify puts a tool name into exactly one category. Unknown names are
// external.
func Classify(name string) Category {
	if _, ok := codeTools[name]; ok {
		return CategoryCode
	}
	if _, ok := nativeTools[name]; ok {
		return CategoryNative
	}
	return CategoryExternal
}

// Analysis describes the features of one request that routing depends on.
type Analysis struct {
	Type           RequestType
	ToolCount      int
	MessageCount   int
	HasToolResults bool
	IsMultiTurn    bool

	HasCodeTools     bool
	HasExternalTools bool
	HasNativeTools   bool
	CodeTools        []string
	ExternalTools    []string
	NativeTools      []string
}

// HasTools reports whether the request declared any tool.
func (a Analysis) HasTools() bool {
	return a.ToolCount > 0
}

// OnlyNativeTools is true when tools were declared and all of them are native.
func (a Analysis) OnlyNativeTools() bool {
	return a.HasNativeTools && !a.HasCodeTools && !a.HasExternalTools
}

type Analyzer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

// Analyze never fails; missing tools or messages give a simple_chat result.
func (a *Analyzer) Analyze(req *types.ChatRequest) Analysis {
	result := Analysis{
		ToolCount:    len(req.Tools),
		MessageCount: len(req.Messages),
		IsMultiTurn:  len(req.Messages) > 1,
	}

	for _, tool := range req.Tools {
		switch Classify(tool.Name) {
		case CategoryCode:
			result.HasCodeTools = true
			result.CodeTools = append(result.CodeTools, tool.Name)
		case CategoryNative:
			result.HasNativeTools = true
			result.NativeTools = append(result.NativeTools, tool.Name)
		default:
			result.HasExternalTools = true
			result.ExternalTools = append(result.ExternalTools, tool.Name)
		}
	}

	result.HasToolResults = hasToolResults(req.Messages)

	switch {
	case result.HasToolResults:
		result.Type = ToolResultFeedback
	case result.ToolCount > 0:
		result.Type = ToolCall
	default:
		result.Type = SimpleChat
	}

	if a.logger != nil {
		a.logger.Debug("Request analyzed",
			"type", result.Type,
			"messages", result.MessageCount,
			"tools", result.ToolCount,
			"code_tools", result.CodeTools,
			"external_tools", result.ExternalTools,
			"native_tools", result.NativeTools,
		)
	}

	return result
}

func hasToolResults(messages []types.Message) bool {
	for i := range messages {
		msg := &messages[i]
		if msg.Role != types.RoleUser || !msg.IsBlockArray() {
			continue
		}
		blocks, err := msg.ParseContent()
		if err != nil {
			continue
		}
		for _, b := range blocks {
			if b.Type == types.BlockToolResult {
				return true
			}
		}
	}
	return false
}
