package backends

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mihaisavezi/sider-gateway/internal/types"
)

const minSimilarity = 0.6

// modelListTimeout bounds the one-off model list fetch, which ignores the
// cancellation of the request that triggered it.
const modelListTimeout = 10 * time.Second

// Fallback catalogue used when the endpoint does not list its models.
var fallbackModels = []string{
	"claude-sonnet-4-5-20250929",
	"claude-sonnet-4.5",
	"claude-4-5-sonnet",
	"claude-3-5-sonnet-20241022",
	"claude-3-5-sonnet-latest",
	"claude-3-opus-20240229",
	"claude-3-haiku-20240307",
}

// Version patterns in precedence order. A version may sit anywhere in the
// name but must not touch other digits, so dates never match.
var versionPatterns = []struct {
	feature string
	re      *regexp.Regexp
}{
	{"claude45", versionRegexp(`4[-_. ]?5`)},
	{"claude41", versionRegexp(`4[-_. ]?1`)},
	{"claude4", versionRegexp(`4`)},
	{"claude37", versionRegexp(`3[-_. ]?7`)},
	{"claude35", versionRegexp(`3[-_. ]?5`)},
	{"claude3", versionRegexp(`3`)},
	{"claude2", versionRegexp(`2`)},
}

func versionRegexp(version string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[^0-9])` + version + `(?:[^0-9]|$)`)
}

var datePattern = regexp.MustCompile(`\d{8}`)

func normalizeModel(name string) string {
	return strings.NewReplacer("-", "", "_", "", ".", "").Replace(strings.ToLower(name))
}

func modelFeatures(name string) []string {
	lower := strings.ToLower(name)
	var features []string

	if strings.Contains(lower, "claude") {
		for _, v := range versionPatterns {
			if v.re.MatchString(lower) {
				features = append(features, v.feature)
				break
			}
		}
	}
	for _, family := range []string{"sonnet", "opus", "haiku"} {
		if strings.Contains(lower, family) {
			features = append(features, family)
		}
	}
	if strings.Contains(lower, "think") {
		features = append(features, "thinking")
	}
	return features
}

// Similarity scores how well target serves a request for source, in [0, 1].
func Similarity(source, target string) float64 {
	ns, nt := normalizeModel(source), normalizeModel(target)
	if ns == nt {
		return 1.0
	}
	if ns != "" && strings.Contains(nt, ns) {
		return 0.9
	}

	sourceFeatures := modelFeatures(source)
	if len(sourceFeatures) == 0 {
		return 0
	}
	targetFeatures := make(map[string]bool)
	for _, f := range modelFeatures(target) {
		targetFeatures[f] = true
	}
	matched := 0
	for _, f := range sourceFeatures {
		if targetFeatures[f] {
			matched++
		}
	}
	featureScore := float64(matched) / float64(len(sourceFeatures))

	maxLen := max(len(ns), len(nt))
	common := 0
	for _, c := range ns {
		if strings.ContainsRune(nt, c) {
			common++
		}
	}
	charScore := float64(common) / float64(maxLen)

	return featureScore*0.7 + charScore*0.3
}

func modelDate(name string) int {
	d, _ := strconv.Atoi(datePattern.FindString(name))
	return d
}

// bestModel picks the closest available model. Among candidates within 0.01
// of the top score the newest date wins, then the smallest name.
func bestModel(requested string, available []string) (string, float64, bool) {
	type candidate struct {
		model string
		score float64
		date  int
	}
	var candidates []candidate
	top := 0.0
	for _, m := range available {
		score := Similarity(requested, m)
		if score <= minSimilarity {
			continue
		}
		candidates = append(candidates, candidate{m, score, modelDate(m)})
		top = math.Max(top, score)
	}
	if len(candidates) == 0 {
		return "", 0, false
	}

	best := candidates[:0]
	for _, c := range candidates {
		if top-c.score <= 0.01 {
			best = append(best, c)
		}
	}
	sort.Slice(best, func(i, j int) bool {
		if best[i].date != best[j].date {
			return best[i].date > best[j].date
		}
		return best[i].model < best[j].model
	})
	return best[0].model, best[0].score, true
}

// MapperStats describes the mapper state.
type MapperStats struct {
	Initialized     bool `json:"initialized"`
	CachedMappings  int  `json:"cachedMappings"`
	AvailableModels int  `json:"availableModels"`
	ClaudeModels    int  `json:"claudeModels"`
}

// ModelMapper maps requested model names onto the models an endpoint
// actually serves. The model list is fetched once, on first use.
type ModelMapper struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger

	mu          sync.Mutex
	initialized bool
	available   map[string]struct{}
	cache       map[string]string
}

func NewModelMapper(baseURL, apiKey string, client *http.Client, logger *slog.Logger) *ModelMapper {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ModelMapper{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		client:    client,
		logger:    logger,
		available: make(map[string]struct{}),
		cache:     make(map[string]string),
	}
}

// Map returns the best available model for requested, or requested itself
// when nothing is similar enough.
func (m *ModelMapper) Map(ctx context.Context, requested string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.initLocked(ctx)

	if mapped, ok := m.cache[requested]; ok {
		return mapped
	}
	if _, ok := m.available[requested]; ok {
		m.cache[requested] = requested
		return requested
	}

	names := make([]string, 0, len(m.available))
	for name := range m.available {
		names = append(names, name)
	}
	best, score, ok := bestModel(requested, names)
	if !ok {
		m.logger.Warn("No suitable model mapping found", "requested", requested)
		return requested
	}

	m.logger.Info("Model mapped",
		"from", requested,
		"to", best,
		"similarity", strconv.FormatFloat(score*100, 'f', 1, 64)+"%",
	)
	m.cache[requested] = best
	return best
}

func (m *ModelMapper) initLocked(ctx context.Context) {
	if m.initialized {
		return
	}
	m.initialized = true

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), modelListTimeout)
	defer cancel()

	models := m.fetchModels(fetchCtx)
	if len(models) == 0 {
		m.logger.Warn("No models listed by endpoint, using fallback mapping", "base_url", m.baseURL)
		models = fallbackModels
	} else {
		m.logger.Info("Model list loaded", "base_url", m.baseURL, "count", len(models))
	}
	for _, id := range models {
		m.available[id] = struct{}{}
	}
}

func (m *ModelMapper) fetchModels(ctx context.Context) []string {
	for _, endpoint := range []string{"/v1/models", "/models"} {
		ids, err := m.fetchModelList(ctx, m.baseURL+endpoint)
		if err != nil {
			m.logger.Debug("Model list fetch failed", "endpoint", endpoint, "error", err)
			continue
		}
		return ids
	}
	return nil
}

func (m *ModelMapper) fetchModelList(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("x-api-key", m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newUpstreamError(types.BackendAnthropic, resp.StatusCode, body)
	}

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list.Data))
	for _, d := range list.Data {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// ClaudeModels lists the available models whose name mentions claude.
func (m *ModelMapper) ClaudeModels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claudeModelsLocked()
}

func (m *ModelMapper) claudeModelsLocked() []string {
	var out []string
	for name := range m.available {
		if strings.Contains(strings.ToLower(name), "claude") {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ClearCache forgets mappings and the model list; the next Map refetches.
func (m *ModelMapper) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = make(map[string]string)
	m.available = make(map[string]struct{})
	m.initialized = false
	m.logger.Info("Model mapper cache cleared")
}

func (m *ModelMapper) Stats() MapperStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MapperStats{
		Initialized:     m.initialized,
		CachedMappings:  len(m.cache),
		AvailableModels: len(m.available),
		ClaudeModels:    len(m.claudeModelsLocked()),
	}
}
