// Package config loads loom's configuration via chu, the same
// env/file/Consul/Vault-layered loader the teacher uses, and its schema
// keeps the teacher's struct-tag conventions (cfg tags, `default`,
// `log:"-"` to redact secrets from the startup log line).
package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/alan"
	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	// Providers is a map of named provider configurations, each
	// resolved by AgentFactory.BuildAgent via a "provider/model" spec
	// string (see internal/llmprovider).
	Providers map[string]LLMConfig `cfg:"providers"`

	Store     Store       `cfg:"store"`
	Tools     []ToolConfig `cfg:"tools"`
	Outsink   Outsink     `cfg:"outsink"`
	Cluster   *alan.Config `cfg:"cluster"`
	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

// LLMConfig describes a single LLM provider configuration, one entry
// per "provider/model" namespace AgentFactory.BuildAgent resolves.
type LLMConfig struct {
	// Type selects the wire protocol: "anthropic", "openai", "vertex",
	// "gemini", or "ollama". "openai" works with any OpenAI-compatible
	// API (Groq, DeepSeek, Together AI, OpenRouter, vLLM, etc.).
	Type string `cfg:"type" json:"type"`

	APIKey string `cfg:"api_key" json:"api_key" log:"-"`

	BaseURL string `cfg:"base_url" json:"base_url"`

	Model string `cfg:"model" json:"model"`

	ExtraHeaders map[string]string `cfg:"extra_headers" json:"extra_headers"`

	// Proxy is an optional HTTP/HTTPS/SOCKS5 proxy URL.
	Proxy string `cfg:"proxy" json:"proxy"`

	InsecureSkipVerify bool `cfg:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// ToolConfig describes one HTTP-backed tool the Toolbox can resolve by
// name or by "all" selector (internal/toolbox/httptool).
type ToolConfig struct {
	Name        string            `cfg:"name"`
	Description string            `cfg:"description"`
	Method      string            `cfg:"method" default:"GET"`
	URL         string            `cfg:"url"`
	Headers     map[string]string `cfg:"headers"`
	BodyTmpl    string            `cfg:"body_template"`
	InputSchema map[string]any    `cfg:"input_schema"`
	Timeout     *time.Duration    `cfg:"timeout"`
	Proxy       string            `cfg:"proxy"`
	Insecure    bool              `cfg:"insecure_skip_verify"`
}

// Outsink configures the optional notification sinks a run's outputs
// channel fans out to, in addition to in-process collection.
type Outsink struct {
	Email    *OutsinkEmail    `cfg:"email"`
	Discord  *OutsinkDiscord  `cfg:"discord"`
	Telegram *OutsinkTelegram `cfg:"telegram"`
}

type OutsinkEmail struct {
	Host     string   `cfg:"host"`
	Port     int      `cfg:"port" default:"587"`
	Username string   `cfg:"username"`
	Password string   `cfg:"password" log:"-"`
	From     string   `cfg:"from"`
	To       []string `cfg:"to"`
	Subject  string   `cfg:"subject"`
	NoTLS    bool     `cfg:"no_tls"`
	Insecure bool     `cfg:"insecure_skip_verify"`
}

type OutsinkDiscord struct {
	Token      string `cfg:"token" log:"-"`
	ChannelID  string `cfg:"channel_id"`
	WebhookURL string `cfg:"webhook_url" log:"-"`
}

type OutsinkTelegram struct {
	Token  string `cfg:"token" log:"-"`
	ChatID int64  `cfg:"chat_id"`
}

// Store selects which WorkflowStore/WorkflowVersionStore backend to
// wire: exactly one of Postgres/SQLite/Git should be set, else the
// process falls back to the in-memory store.
type Store struct {
	Postgres *StorePostgres `cfg:"postgres"`
	SQLite   *StoreSQLite   `cfg:"sqlite"`
	Git      *StoreGit      `cfg:"git"`
}

type StorePostgres struct {
	TablePrefix     *string        `cfg:"table_prefix"`
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`

	Migrate Migrate `cfg:"migrate"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource"`

	Migrate Migrate `cfg:"migrate"`
}

// StoreGit configures the git-backed WorkflowStore: each Put is
// committed to a local non-bare repository (created at Path if absent),
// one file per workflow name, giving version history a literal
// diffable log.
type StoreGit struct {
	Path       string `cfg:"path"`
	AuthorName string `cfg:"author_name" default:"loom"`
	AuthorMail string `cfg:"author_email" default:"loom@localhost"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("LOOM_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
