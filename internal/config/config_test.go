package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.jwt_secret", envKey("CASEBOOK_SERVER_JWT_SECRET"))
	assert.Equal(t, "ai.max_context_chars", envKey("CASEBOOK_AI_MAX_CONTEXT_CHARS"))
	assert.Equal(t, "database.url", envKey("CASEBOOK_DATABASE_URL"))
	assert.Equal(t, "debug", envKey("CASEBOOK_DEBUG"))
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Server.TokenTTL)
	assert.Equal(t, "river", cfg.Executor.Kind)
	assert.Equal(t, 5*time.Minute, cfg.Executor.JobTimeout)
	assert.Equal(t, time.Duration(0), cfg.Executor.StaleAfter)
	assert.Equal(t, 10*time.Minute, cfg.Redis.ClaimMinIdle)
	assert.Equal(t, 900, cfg.AI.MaxTokens)
	assert.Equal(t, 0.0, cfg.AI.Temperature)
	assert.Equal(t, 0, cfg.AI.MaxContextChars)
	assert.Equal(t, []string{"text-davinci-003", "gpt-3.5-turbo", "gpt-4"}, cfg.AI.ModelNames())
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casebook.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9000
jwt_secret = "from-file"

[executor]
kind = "pool"
pool_size = 8

[[ai.models]]
name = "llama3"
provider = "ollama"
style = "chat"
`), 0644))

	t.Setenv("CASEBOOK_SERVER_JWT_SECRET", "from-env")
	t.Setenv("CASEBOOK_EXECUTOR_STALE_AFTER", "15m")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Server.JWTSecret)
	assert.Equal(t, "pool", cfg.Executor.Kind)
	assert.Equal(t, 8, cfg.Executor.PoolSize)
	assert.Equal(t, 15*time.Minute, cfg.Executor.StaleAfter)
	require.Len(t, cfg.AI.Models, 1)
	assert.Equal(t, ModelConfig{Name: "llama3", Provider: "ollama", Style: "chat"}, cfg.AI.Models[0])
}

func TestLoadConfig_Fallbacks(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/casebook")
	t.Setenv("JWT_SECRET", "fallback-secret")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/casebook", cfg.Database.URL)
	assert.Equal(t, "fallback-secret", cfg.Server.JWTSecret)
	assert.Equal(t, "sk-test", cfg.AI.APIKey)
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casebook.toml")
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.NoError(t, Validate(cfg))
	assert.Len(t, cfg.AI.Models, 3)
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8888, JWTSecret: "secret"},
		Database: DatabaseConfig{Driver: "memory"},
		Executor: ExecutorConfig{Kind: "fifo"},
		AI: AIConfig{
			APIKey: "sk",
			Models: DefaultModels(),
		},
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"missing secret", func(c *Config) { c.Server.JWTSecret = "" }, "jwt_secret"},
		{"bad driver", func(c *Config) { c.Database.Driver = "sqlite" }, "unknown database driver"},
		{"postgres without url", func(c *Config) { c.Database.Driver = "postgres" }, "database url"},
		{"river on memory", func(c *Config) { c.Executor.Kind = "river" }, "requires the postgres"},
		{"bad executor", func(c *Config) { c.Executor.Kind = "celery" }, "unknown executor kind"},
		{"no models", func(c *Config) { c.AI.Models = nil }, "at least one model"},
		{"duplicate model", func(c *Config) { c.AI.Models = append(c.AI.Models, c.AI.Models[0]) }, "configured twice"},
		{"openai without key", func(c *Config) { c.AI.APIKey = "" }, "api_key"},
		{"bad style", func(c *Config) { c.AI.Models[0].Style = "stream" }, "unknown style"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
