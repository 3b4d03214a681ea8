// Package config loads the server configuration from a JSON file with
// environment variable substitution.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "configs/smallville.json"

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Providers  []ProviderConfig `json:"providers"`
	Routing    RoutingConfig    `json:"routing"`
	Embedding  *EmbeddingConfig `json:"embedding,omitempty"`
	Simulation SimulationConfig `json:"simulation"`
	Database   DatabaseConfig   `json:"database"`
	Feed       FeedConfig       `json:"feed"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// ProviderConfig describes one model gateway.
type ProviderConfig struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"` // openai, openai-sdk, anthropic
	Name           string            `json:"name"`
	Endpoint       string            `json:"endpoint"`
	APIKey         string            `json:"api_key"`
	Model          string            `json:"model"`
	EmbeddingModel string            `json:"embedding_model"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Timeout        Duration          `json:"timeout"`
	Embedding      *EmbeddingConfig  `json:"embedding,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// RoutingConfig picks the default provider, the fallback chain and
// per-agent bindings.
type RoutingConfig struct {
	Default   string            `json:"default"`
	Fallbacks []string          `json:"fallbacks,omitempty"`
	Bindings  map[string]string `json:"bindings,omitempty"` // agent name -> provider ID
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// SimulationConfig controls the clock and the tick driver.
type SimulationConfig struct {
	// StartTime is the world time the clock starts at, RFC 3339.
	StartTime string `json:"start_time"`
	// ClockInterval is how often the clock moves in real time. Zero means
	// the clock only moves through the API.
	ClockInterval Duration `json:"clock_interval"`
	// Speed multiplies ClockInterval into world time.
	Speed float64 `json:"speed"`
	// TickEvery is how much world time passes between automatic ticks.
	TickEvery Duration `json:"tick_every"`
	// TimeStep is how far POST /api/state moves the clock.
	TimeStep              Duration `json:"time_step"`
	TickTimeout           Duration `json:"tick_timeout"`
	GatewayTimeout        Duration `json:"gateway_timeout"`
	Parallelism           int      `json:"parallelism"`
	Temperature           float64  `json:"temperature"`
	MemoryHalfLife        Duration `json:"memory_half_life"`
	ConversationIdleTicks int      `json:"conversation_idle_ticks"`
}

// Start parses StartTime. An empty value means now.
func (s SimulationConfig) Start() (time.Time, error) {
	if s.StartTime == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, s.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("simulation.start_time: %w", err)
	}
	return t, nil
}

// ConversationIdle is how much world time a conversation may go without a
// turn before it ends.
func (s SimulationConfig) ConversationIdle() time.Duration {
	return time.Duration(s.ConversationIdleTicks) * s.TickEvery.Duration()
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn"`
	Migrations string `json:"migrations"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// FeedConfig lists the chat platforms that mirror the town.
type FeedConfig struct {
	Slack   SlackFeedConfig   `json:"slack"`
	Discord DiscordFeedConfig `json:"discord"`
	// Kinds limits which events are posted. Empty means all.
	Kinds []string `json:"kinds,omitempty"`
}

type SlackFeedConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordFeedConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

// Duration is a time.Duration written as a string such as "15m" in JSON.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"15m\": %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references and fills in defaults. It does not validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	s := &c.Simulation
	if s.Speed == 0 {
		s.Speed = 1
	}
	if s.TickEvery == 0 {
		s.TickEvery = Duration(15 * time.Minute)
	}
	if s.TimeStep == 0 {
		s.TimeStep = s.TickEvery
	}
	if s.TickTimeout == 0 {
		s.TickTimeout = Duration(5 * time.Minute)
	}
	if s.GatewayTimeout == 0 {
		s.GatewayTimeout = Duration(2 * time.Minute)
	}
	if s.Parallelism == 0 {
		s.Parallelism = 4
	}
	if s.Temperature == 0 {
		s.Temperature = 0.7
	}
	if s.MemoryHalfLife == 0 {
		s.MemoryHalfLife = Duration(6 * time.Hour)
	}
	if s.ConversationIdleTicks == 0 {
		s.ConversationIdleTicks = 2
	}
	if c.Database.Postgres.Migrations == "" {
		c.Database.Postgres.Migrations = "migrations"
	}
	if c.Routing.Default == "" && len(c.Providers) > 0 {
		c.Routing.Default = c.Providers[0].ID
	}
}

// Validate reports every problem found, joined. Every provider needs a
// credential before the server may start.
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if len(c.Providers) == 0 {
		add("at least one provider is required")
	}
	ids := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			add("providers[%d]: id is required", i)
			continue
		}
		if ids[p.ID] {
			add("provider %s: duplicate id", p.ID)
		}
		ids[p.ID] = true
		if p.APIKey == "" {
			add("provider %s: api_key is required", p.ID)
		}
		switch p.Type {
		case "", "openai", "openai-sdk":
		case "anthropic":
			if p.Embedding == nil && c.Embedding == nil {
				add("provider %s: anthropic needs an embedding section", p.ID)
			}
		default:
			add("provider %s: unknown type %q", p.ID, p.Type)
		}
	}
	if c.Routing.Default != "" && !ids[c.Routing.Default] {
		add("routing.default: unknown provider %q", c.Routing.Default)
	}
	for _, id := range c.Routing.Fallbacks {
		if !ids[id] {
			add("routing.fallbacks: unknown provider %q", id)
		}
	}
	for name, id := range c.Routing.Bindings {
		if !ids[id] {
			add("routing.bindings[%s]: unknown provider %q", name, id)
		}
	}

	s := c.Simulation
	if _, err := s.Start(); err != nil {
		problems = append(problems, err)
	}
	if s.Speed < 0 {
		add("simulation.speed must be positive")
	}
	if s.ClockInterval < 0 {
		add("simulation.clock_interval must not be negative")
	}
	if s.TickEvery <= 0 || s.TimeStep <= 0 {
		add("simulation: tick_every and time_step must be positive")
	}
	if s.Parallelism < 1 {
		add("simulation.parallelism must be at least 1")
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		add("simulation.temperature must be between 0 and 2")
	}
	if s.ConversationIdleTicks < 1 {
		add("simulation.conversation_idle_ticks must be at least 1")
	}

	if f := c.Feed.Slack; f.Enabled && (f.BotToken == "" || f.Channel == "") {
		add("feed.slack: bot_token and channel are required when enabled")
	}
	if f := c.Feed.Discord; f.Enabled && (f.BotToken == "" || f.Channel == "") {
		add("feed.discord: bot_token and channel are required when enabled")
	}
	return errors.Join(problems...)
}
