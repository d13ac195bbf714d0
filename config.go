package chatmemory

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"gopkg.in/yaml.v3"
)

// Reply providers selectable in Config.Reply.Provider.
const (
	ReplyProviderTemplate  = "template"
	ReplyProviderAnthropic = "anthropic"
	ReplyProviderOpenAI    = "openai"
	ReplyProviderNoop      = "noop"
)

// Config is the service configuration. It is read from an optional YAML file
// and then overridden from the environment.
type Config struct {
	Cache   CacheConfig   `yaml:"cache"`
	History HistoryConfig `yaml:"history"`
	Server  ServerConfig  `yaml:"server"`
	Reply   ReplyConfig   `yaml:"reply"`
	Log     LogConfig     `yaml:"log"`
}

type CacheConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

type HistoryConfig struct {
	MaxMessages int           `yaml:"max_messages"`
	TTL         time.Duration `yaml:"ttl"`
	KeyedLocks  bool          `yaml:"keyed_locks"`
}

type ServerConfig struct {
	ListenAddr     string  `yaml:"listen_addr"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type ReplyConfig struct {
	Provider     string  `yaml:"provider"`
	Model        string  `yaml:"model"`
	APIKey       string  `yaml:"api_key"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int64   `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		History: HistoryConfig{
			MaxMessages: DefaultMaxHistory,
			TTL:         DefaultHistoryTTL,
		},
		Server: ServerConfig{
			ListenAddr:     defaultListenAddr,
			RateLimitBurst: 10,
		},
		Reply: ReplyConfig{
			Provider:    ReplyProviderTemplate,
			MaxTokens:   DefaultLLMRequestConfig.MaxToken,
			Temperature: DefaultLLMRequestConfig.Temperature,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// LoadConfig reads path (skipped when empty) over the defaults and applies
// environment overrides from lookup. Pass os.LookupEnv in production.
func LoadConfig(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	str("REDIS_URL", &c.Cache.URL)
	str("REDIS_PASSWORD", &c.Cache.Password)
	str("LISTEN_ADDR", &c.Server.ListenAddr)
	str("REPLY_PROVIDER", &c.Reply.Provider)
	str("LLM_MODEL", &c.Reply.Model)

	switch strings.ToLower(c.Reply.Provider) {
	case ReplyProviderAnthropic:
		str("ANTHROPIC_API_KEY", &c.Reply.APIKey)
	case ReplyProviderOpenAI:
		str("OPENAI_API_KEY", &c.Reply.APIKey)
	}

	if v, ok := lookup("CHAT_MAX_HISTORY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigurationError{Setting: "CHAT_MAX_HISTORY", Reason: err.Error()}
		}
		c.History.MaxMessages = n
	}

	if v, ok := lookup("CHAT_TTL"); ok && v != "" {
		ttl, err := parseTTL(v)
		if err != nil {
			return &ConfigurationError{Setting: "CHAT_TTL", Reason: err.Error()}
		}
		c.History.TTL = ttl
	}

	if v, ok := lookup("RATE_LIMIT_RPS"); ok && v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &ConfigurationError{Setting: "RATE_LIMIT_RPS", Reason: err.Error()}
		}
		c.Server.RateLimitRPS = rps
	}

	return nil
}

// parseTTL accepts a Go duration ("24h") or a whole number of seconds ("86400").
func parseTTL(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the settings that can be judged without I/O. A missing cache
// URL is not reported here: the connection manager reports it on first use.
func (c Config) Validate() error {
	if c.History.MaxMessages <= 0 {
		return &ConfigurationError{Setting: "CHAT_MAX_HISTORY", Reason: "must be positive"}
	}
	if c.History.MaxMessages%2 != 0 {
		return &ConfigurationError{Setting: "CHAT_MAX_HISTORY", Reason: "must be even"}
	}
	if c.History.TTL <= 0 {
		return &ConfigurationError{Setting: "CHAT_TTL", Reason: "must be positive"}
	}

	switch strings.ToLower(c.Reply.Provider) {
	case "", ReplyProviderTemplate, ReplyProviderNoop:
	case ReplyProviderAnthropic:
		if c.Reply.APIKey == "" {
			return &ConfigurationError{Setting: "ANTHROPIC_API_KEY"}
		}
	case ReplyProviderOpenAI:
		if c.Reply.APIKey == "" {
			return &ConfigurationError{Setting: "OPENAI_API_KEY"}
		}
	default:
		return &ConfigurationError{
			Setting: "REPLY_PROVIDER",
			Reason:  fmt.Sprintf("unknown provider %q", c.Reply.Provider),
		}
	}
	return nil
}

// Target returns the cache target described by the configuration.
func (c Config) Target() CacheTarget {
	return CacheTarget{URL: c.Cache.URL, Password: c.Cache.Password}
}

// StoreOptions returns the store options described by the configuration.
func (c Config) StoreOptions() []StoreOption {
	opts := []StoreOption{
		WithMaxHistory(c.History.MaxMessages),
		WithTTL(c.History.TTL),
	}
	if c.History.KeyedLocks {
		opts = append(opts, WithKeyedLocking())
	}
	return opts
}

// NewReplyGenerator builds the generator selected by c.Reply.
func NewReplyGenerator(c ReplyConfig) (ReplyGenerator, error) {
	requestConfig := NewRequestConfig(
		WithMaxToken(c.MaxTokens),
		WithTemperature(c.Temperature),
	)

	var opts []LLMReplyOption
	if c.SystemPrompt != "" {
		opts = append(opts, WithSystemPrompt(c.SystemPrompt))
	}

	switch strings.ToLower(c.Provider) {
	case "", ReplyProviderTemplate:
		return NewTemplateReplyGenerator(), nil
	case ReplyProviderNoop:
		return NewLLMReplyGenerator(NewNoOpsLLMProvider(), requestConfig, opts...), nil
	case ReplyProviderAnthropic:
		if c.APIKey == "" {
			return nil, errors.New("anthropic reply provider requires an API key")
		}
		provider := NewAnthropicLLMProvider(AnthropicProviderConfig{
			Client: NewAnthropicClient(c.APIKey),
			Model:  anthropic.Model(c.Model),
		})
		return NewLLMReplyGenerator(provider, requestConfig, opts...), nil
	case ReplyProviderOpenAI:
		if c.APIKey == "" {
			return nil, errors.New("openai reply provider requires an API key")
		}
		provider := NewOpenAILLMProvider(OpenAIProviderConfig{
			Client: NewOpenAIClient(c.APIKey),
			Model:  c.Model,
		})
		return NewLLMReplyGenerator(provider, requestConfig, opts...), nil
	default:
		return nil, fmt.Errorf("unknown reply provider %q", c.Provider)
	}
}
