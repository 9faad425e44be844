package translate

import (
	"log/slog"

	"github.com/mihaisavezi/sider-gateway/internal/types"
)

// Sider accepts these names; each maps onto one of its three built-in tools.
var siderToolNames = map[string]string{
	"search":           "search",
	"web_search":       "search",
	"search_web":       "search",
	"internet_search":  "search",
	"web_browse":       "web_browse",
	"browse_web":       "web_browse",
	"web_browsing":     "web_browse",
	"visit_url":        "web_browse",
	"create_image":     "create_image",
	"generate_image":   "create_image",
	"image_generation": "create_image",
}

// SiderTools converts declared tools to the Sider tools block. Tools Sider
// cannot execute are dropped and logged.
func SiderTools(tools []types.Tool, logger *slog.Logger) types.SiderTools {
	out := types.SiderTools{Auto: []string{}}
	if len(tools) == 0 {
		return out
	}

	seen := make(map[string]bool)
	var dropped []string
	for _, tool := range tools {
		mapped, ok := siderToolNames[tool.Name]
		if !ok {
			dropped = append(dropped, tool.Name)
			continue
		}
		if !seen[mapped] {
			seen[mapped] = true
			out.Auto = append(out.Auto, mapped)
		}

		switch mapped {
		case "create_image":
			out.Image = &types.ImageTool{QualityLevel: "high"}
		case "search":
			out.Search = &types.SearchTool{Enabled: true, MaxResults: 10}
		case "web_browse":
			out.WebBrowse = &types.WebBrowseTool{Enabled: true, Timeout: 30}
		}
	}

	if len(dropped) > 0 && logger != nil {
		logger.Warn("Tools not supported by Sider were dropped",
			"dropped", dropped,
			"sider_tools", out.Auto,
		)
	}

	return out
}
