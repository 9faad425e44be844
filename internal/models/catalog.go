package models

import (
	"log/slog"
	"strings"
)

// DefaultSiderModel serves requests for names the catalog does not know.
const DefaultSiderModel = "claude-4.5-sonnet"

const catalogCreated = 1677649963

// Model is one entry of GET /v1/models.
type Model struct {
	ID         string `json:"id"`
	Object     string `json:"object"`
	Created    int64  `json:"created"`
	OwnedBy    string `json:"owned_by"`
	SiderModel string `json:"siderModel,omitempty"`
}

// ModelList is the GET /v1/models body.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

var catalog = []Model{
	entry("claude-3.7-sonnet", "claude-3.7-sonnet"),
	entry("claude-3-7-sonnet", "claude-3.7-sonnet-think"),
	entry("claude-4-sonnet", "claude-4-sonnet"),
	entry("claude-4-sonnet-think", "claude-4-sonnet-think"),
	entry("claude-4.1-opus", "claude-4.1-opus"),
	entry("claude-4.1-opus-think", "claude-4.1-opus-think"),
	entry("claude-4.5-sonnet", "claude-4.5-sonnet"),
	entry("claude-4.5-sonnet-think", "claude-4.5-sonnet-think"),
	entry("claude-haiku-4.5", "claude-haiku-4.5"),
	entry("claude-haiku-4.5-think", "claude-haiku-4.5-think"),
	// aliases
	entry("claude-3-sonnet", "claude-3.7-sonnet-think"),
	entry("claude-sonnet", "claude-4.5-sonnet-think"),
}

var siderModels = func() map[string]string {
	m := make(map[string]string, len(catalog))
	for _, model := range catalog {
		m[strings.ToLower(model.ID)] = model.SiderModel
	}
	return m
}()

func entry(id, sider string) Model {
	return Model{
		ID:         id,
		Object:     "model",
		Created:    catalogCreated,
		OwnedBy:    "anthropic",
		SiderModel: sider,
	}
}

// All returns a copy of the catalog.
func All() ModelList {
	data := make([]Model, len(catalog))
	copy(data, catalog)
	return ModelList{Object: "list", Data: data}
}

// Lookup finds a catalog entry by case-insensitive id.
func Lookup(id string) (Model, bool) {
	for _, m := range catalog {
		if strings.EqualFold(m.ID, id) {
			return m, true
		}
	}
	return Model{}, false
}

// SiderModel maps an Anthropic-style name to the Sider model name. Names that
// already carry a thinking variant pass through; anything else unknown falls
// back to DefaultSiderModel.
func SiderModel(name string, logger *slog.Logger) string {
	if mapped, ok := siderModels[strings.ToLower(name)]; ok {
		return mapped
	}
	if strings.Contains(name, "think") {
		return name
	}
	if logger != nil {
		logger.Warn("Unknown model, using default", "requested", name, "fallback", DefaultSiderModel)
	}
	return DefaultSiderModel
}
