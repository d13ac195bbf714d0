package chatmemory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("", envLookup(nil))
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 20, cfg.History.MaxMessages)
	assert.Equal(t, 24*time.Hour, cfg.History.TTL)
	assert.Equal(t, ReplyProviderTemplate, cfg.Reply.Provider)
	assert.NoError(t, cfg.Validate(), "a missing cache url is reported on first use, not here")
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  url: redis://file-host:6379
history:
  max_messages: 10
  ttl: 2h
  keyed_locks: true
server:
  listen_addr: ":9000"
reply:
  provider: openai
  system_prompt: Be brief.
log:
  format: json
  level: debug
`), 0o600))

	cfg, err := LoadConfig(path, envLookup(map[string]string{
		"REDIS_URL":      "redis://env-host:6379",
		"REDIS_PASSWORD": "secret",
		"CHAT_TTL":       "3600",
		"OPENAI_API_KEY": "sk-test",
		"RATE_LIMIT_RPS": "5.5",
	}))
	require.NoError(t, err)

	assert.Equal(t, "redis://env-host:6379", cfg.Cache.URL)
	assert.Equal(t, "secret", cfg.Cache.Password)
	assert.Equal(t, 10, cfg.History.MaxMessages)
	assert.Equal(t, time.Hour, cfg.History.TTL)
	assert.True(t, cfg.History.KeyedLocks)
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, 5.5, cfg.Server.RateLimitRPS)
	assert.Equal(t, ReplyProviderOpenAI, cfg.Reply.Provider)
	assert.Equal(t, "sk-test", cfg.Reply.APIKey)
	assert.Equal(t, "Be brief.", cfg.Reply.SystemPrompt)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, CacheTarget{URL: "redis://env-host:6379", Password: "secret"}, cfg.Target())
	assert.Len(t, cfg.StoreOptions(), 3)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		env  map[string]string
	}{
		{name: "missing file", path: "/does/not/exist.yaml"},
		{name: "bad max history", env: map[string]string{"CHAT_MAX_HISTORY": "many"}},
		{name: "bad ttl", env: map[string]string{"CHAT_TTL": "forever"}},
		{name: "bad rate", env: map[string]string{"RATE_LIMIT_RPS": "fast"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(tt.path, envLookup(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		wantSetting string
	}{
		{name: "odd history", mutate: func(c *Config) { c.History.MaxMessages = 7 }, wantSetting: "CHAT_MAX_HISTORY"},
		{name: "zero history", mutate: func(c *Config) { c.History.MaxMessages = 0 }, wantSetting: "CHAT_MAX_HISTORY"},
		{name: "zero ttl", mutate: func(c *Config) { c.History.TTL = 0 }, wantSetting: "CHAT_TTL"},
		{name: "anthropic without key", mutate: func(c *Config) { c.Reply.Provider = ReplyProviderAnthropic }, wantSetting: "ANTHROPIC_API_KEY"},
		{name: "openai without key", mutate: func(c *Config) { c.Reply.Provider = ReplyProviderOpenAI }, wantSetting: "OPENAI_API_KEY"},
		{name: "unknown provider", mutate: func(c *Config) { c.Reply.Provider = "markov" }, wantSetting: "REPLY_PROVIDER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			var configErr *ConfigurationError
			require.True(t, errors.As(cfg.Validate(), &configErr))
			assert.Equal(t, tt.wantSetting, configErr.Setting)
		})
	}
}

func TestNewReplyGenerator(t *testing.T) {
	tests := []struct {
		name     string
		config   ReplyConfig
		wantType interface{}
		wantErr  bool
	}{
		{name: "default", config: ReplyConfig{}, wantType: &TemplateReplyGenerator{}},
		{name: "template", config: ReplyConfig{Provider: "template"}, wantType: &TemplateReplyGenerator{}},
		{name: "noop", config: ReplyConfig{Provider: "noop"}, wantType: &LLMReplyGenerator{}},
		{name: "anthropic", config: ReplyConfig{Provider: "anthropic", APIKey: "k"}, wantType: &LLMReplyGenerator{}},
		{name: "openai", config: ReplyConfig{Provider: "OpenAI", APIKey: "k"}, wantType: &LLMReplyGenerator{}},
		{name: "anthropic without key", config: ReplyConfig{Provider: "anthropic"}, wantErr: true},
		{name: "unknown", config: ReplyConfig{Provider: "markov"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewReplyGenerator(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, g)
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: nil, want: 200},
		{err: &ConfigurationError{Setting: "REDIS_URL"}, want: 503},
		{err: &ConnectionError{Err: errors.New("refused")}, want: 503},
		{err: &ValidationError{Message: "Message is required for chat action"}, want: 400},
		{err: &InvalidActionError{Action: "x"}, want: 400},
		{err: &ReplyError{Err: errors.New("x")}, want: 502},
		{err: &PersistenceError{Op: "delete", Err: errors.New("x")}, want: 500},
		{err: errors.New("other"), want: 500},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}
