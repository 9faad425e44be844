package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6970
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"

	DefaultSiderURL             = "https://sider.ai/api/chat/v1/completions"
	DefaultSiderConversationURL = "https://sider.ai/api/chat/v1/conversation/messages"
	DefaultAnthropicURL         = "https://api.anthropic.com"

	DefaultRequestTimeoutMS = 30000
	DefaultHistoryTimeoutMS = 10000
	DefaultStreamDelayMS    = 150
	DefaultHistoryLimit     = 50

	DefaultSessionMaxAgeHours      = 2
	DefaultConversationMaxAgeHours = 1

	BackendSider     = "sider"
	BackendAnthropic = "anthropic"

	TokenizerEstimate = "estimate"
	TokenizerTiktoken = "tiktoken"
)

// ErrNoBackend is returned by Validate when no backend has a credential.
var ErrNoBackend = errors.New("at least one backend must be enabled: set SIDER_AUTH_TOKEN or ANTHROPIC_API_KEY")

type SiderConfig struct {
	APIURL          string `json:"api_url,omitempty" yaml:"api_url,omitempty"`
	ConversationURL string `json:"conversation_url,omitempty" yaml:"conversation_url,omitempty"`
	AuthToken       string `json:"auth_token,omitempty" yaml:"auth_token,omitempty"`
	HistoryLimit    int    `json:"history_limit,omitempty" yaml:"history_limit,omitempty"`
}

type AnthropicConfig struct {
	BaseURL  string            `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey   string            `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	ModelMap map[string]string `json:"model_map,omitempty" yaml:"model_map,omitempty"`

	// PassthroughStream relays upstream streams instead of re-synthesizing them.
	PassthroughStream bool `json:"passthrough_stream,omitempty" yaml:"passthrough_stream,omitempty"`
}

type RoutingConfig struct {
	DefaultBackend     string `json:"default_backend" yaml:"default_backend"`
	AutoFallback       bool   `json:"auto_fallback" yaml:"auto_fallback"`
	PreferSiderForChat bool   `json:"prefer_sider_for_chat" yaml:"prefer_sider_for_chat"`
	DebugMode          bool   `json:"debug_mode" yaml:"debug_mode"`
}

type SessionConfig struct {
	MaxAgeHours             float64 `json:"max_age_hours" yaml:"max_age_hours"`
	ConversationMaxAgeHours float64 `json:"conversation_max_age_hours" yaml:"conversation_max_age_hours"`
}

type Config struct {
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty"`

	// AuthToken, when set, is the only credential the gateway accepts.
	AuthToken string `json:"auth_token,omitempty" yaml:"auth_token,omitempty"`

	RequestTimeoutMS int    `json:"request_timeout_ms,omitempty" yaml:"request_timeout_ms,omitempty"`
	HistoryTimeoutMS int    `json:"history_timeout_ms,omitempty" yaml:"history_timeout_ms,omitempty"`
	StreamDelayMS    int    `json:"stream_delay_ms" yaml:"stream_delay_ms"`
	Tokenizer        string `json:"tokenizer,omitempty" yaml:"tokenizer,omitempty"`

	Sider     SiderConfig     `json:"sider" yaml:"sider"`
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	Routing   RoutingConfig   `json:"routing" yaml:"routing"`
	Session   SessionConfig   `json:"session" yaml:"session"`
}

// Default returns a configuration with every default filled in and no
// credentials.
func Default() *Config {
	return &Config{
		Host:             DefaultHost,
		Port:             DefaultPort,
		RequestTimeoutMS: DefaultRequestTimeoutMS,
		HistoryTimeoutMS: DefaultHistoryTimeoutMS,
		StreamDelayMS:    DefaultStreamDelayMS,
		Tokenizer:        TokenizerEstimate,
		Sider: SiderConfig{
			APIURL:          DefaultSiderURL,
			ConversationURL: DefaultSiderConversationURL,
			HistoryLimit:    DefaultHistoryLimit,
		},
		Anthropic: AnthropicConfig{
			BaseURL: DefaultAnthropicURL,
		},
		Routing: RoutingConfig{
			DefaultBackend:     BackendSider,
			AutoFallback:       true,
			PreferSiderForChat: true,
		},
		Session: SessionConfig{
			MaxAgeHours:             DefaultSessionMaxAgeHours,
			ConversationMaxAgeHours: DefaultConversationMaxAgeHours,
		},
	}
}

// SiderEnabled reports whether a Sider token is configured.
func (c *Config) SiderEnabled() bool {
	return c.Sider.AuthToken != ""
}

// AnthropicEnabled reports whether an Anthropic key is configured.
func (c *Config) AnthropicEnabled() bool {
	return c.Anthropic.APIKey != ""
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

func (c *Config) HistoryTimeout() time.Duration {
	return time.Duration(c.HistoryTimeoutMS) * time.Millisecond
}

func (c *Config) StreamDelay() time.Duration {
	return time.Duration(c.StreamDelayMS) * time.Millisecond
}

// Validate rejects a configuration without backends and moves the default
// backend to the enabled one when the configured default is disabled.
func (c *Config) Validate(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if !c.SiderEnabled() && !c.AnthropicEnabled() {
		return ErrNoBackend
	}

	switch c.Routing.DefaultBackend {
	case BackendSider, BackendAnthropic:
	case "":
		c.Routing.DefaultBackend = BackendSider
	default:
		return fmt.Errorf("invalid default backend %q: must be %s or %s",
			c.Routing.DefaultBackend, BackendSider, BackendAnthropic)
	}

	if c.Routing.DefaultBackend == BackendSider && !c.SiderEnabled() {
		logger.Warn("Default backend is Sider but it is not enabled, switching to Anthropic")
		c.Routing.DefaultBackend = BackendAnthropic
	}
	if c.Routing.DefaultBackend == BackendAnthropic && !c.AnthropicEnabled() {
		logger.Warn("Default backend is Anthropic but it is not enabled, switching to Sider")
		c.Routing.DefaultBackend = BackendSider
	}

	switch c.Tokenizer {
	case TokenizerEstimate, TokenizerTiktoken:
	default:
		return fmt.Errorf("invalid tokenizer %q: must be %s or %s", c.Tokenizer, TokenizerEstimate, TokenizerTiktoken)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// ApplyEnv overlays the environment onto c. Lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	// Unset leaves the value alone; any value other than "false" enables.
	onUnlessFalse := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			*dst = !strings.EqualFold(strings.TrimSpace(v), "false")
		}
	}

	str("HOST", &c.Host)
	num("PORT", &c.Port)
	str("AUTH_TOKEN", &c.AuthToken)
	num("REQUEST_TIMEOUT", &c.RequestTimeoutMS)
	str("SIDER_API_URL", &c.Sider.APIURL)
	str("SIDER_AUTH_TOKEN", &c.Sider.AuthToken)
	str("ANTHROPIC_BASE_URL", &c.Anthropic.BaseURL)
	str("ANTHROPIC_API_KEY", &c.Anthropic.APIKey)
	str("DEFAULT_BACKEND", &c.Routing.DefaultBackend)
	onUnlessFalse("AUTO_FALLBACK", &c.Routing.AutoFallback)
	onUnlessFalse("PREFER_SIDER_FOR_CHAT", &c.Routing.PreferSiderForChat)
	if v, ok := lookup("DEBUG_ROUTING"); ok {
		c.Routing.DebugMode = strings.EqualFold(strings.TrimSpace(v), "true")
	}
}

type Manager struct {
	baseDir     string
	configPath  string
	configValue atomic.Value
	lookupEnv   func(string) (string, bool)
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:    baseDir,
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
		lookupEnv:  os.LookupEnv,
	}
}

// WithEnv replaces the environment lookup, mainly for tests.
func (m *Manager) WithEnv(lookup func(string) (string, bool)) *Manager {
	m.lookupEnv = lookup
	return m
}

// resolvePath prefers config.yaml over config.json.
func (m *Manager) resolvePath() string {
	yamlPath := filepath.Join(m.baseDir, DefaultYAMLFilename)
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}
	return filepath.Join(m.baseDir, DefaultConfigFilename)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads the config file, when there is one, on top of the defaults and
// then applies the environment. A missing file is not an error.
func (m *Manager) Load() (*Config, error) {
	m.configPath = m.resolvePath()
	cfg := Default()

	data, err := os.ReadFile(m.configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	case isYAML(m.configPath):
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.ApplyEnv(m.lookupEnv)
	m.applyDefaults(cfg)

	m.configValue.Store(cfg)
	return cfg, nil
}

func (m *Manager) applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.RequestTimeoutMS <= 0 {
		cfg.RequestTimeoutMS = def.RequestTimeoutMS
	}
	if cfg.HistoryTimeoutMS <= 0 {
		cfg.HistoryTimeoutMS = def.HistoryTimeoutMS
	}
	if cfg.StreamDelayMS < 0 {
		cfg.StreamDelayMS = 0
	}
	if cfg.Tokenizer == "" {
		cfg.Tokenizer = def.Tokenizer
	}
	if cfg.Sider.APIURL == "" {
		cfg.Sider.APIURL = def.Sider.APIURL
	}
	if cfg.Sider.ConversationURL == "" {
		cfg.Sider.ConversationURL = def.Sider.ConversationURL
	}
	if cfg.Sider.HistoryLimit <= 0 {
		cfg.Sider.HistoryLimit = def.Sider.HistoryLimit
	}
	if cfg.Anthropic.BaseURL == "" {
		cfg.Anthropic.BaseURL = def.Anthropic.BaseURL
	}
	if cfg.Session.MaxAgeHours <= 0 {
		cfg.Session.MaxAgeHours = def.Session.MaxAgeHours
	}
	if cfg.Session.ConversationMaxAgeHours <= 0 {
		cfg.Session.ConversationMaxAgeHours = def.Session.ConversationMaxAgeHours
	}
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		// Return a config with defaults if loading fails
		return Default()
	}
	return cfg
}

// Save writes cfg as YAML or JSON according to the active path.
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(m.configPath) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

// SaveAsYAML switches the active path to config.yaml and saves cfg there.
func (m *Manager) SaveAsYAML(cfg *Config) error {
	m.configPath = filepath.Join(m.baseDir, DefaultYAMLFilename)
	return m.Save(cfg)
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.resolvePath())
	return err == nil
}

// Redacted returns a copy of cfg with credentials masked, for display.
func Redacted(cfg *Config) *Config {
	out := *cfg
	out.AuthToken = mask(cfg.AuthToken)
	out.Sider.AuthToken = mask(cfg.Sider.AuthToken)
	out.Anthropic.APIKey = mask(cfg.Anthropic.APIKey)
	return &out
}

func mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "***"
	default:
		return secret[:4] + "..." + secret[len(secret)-4:]
	}
}
