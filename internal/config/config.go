// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the hub configuration from a YAML file, a .env file
// and AREAHUB_* environment variables, in increasing order of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	internallog "github.com/tombee/areahub/internal/log"
)

// DefaultPath is read when no config path is given and the file exists.
const DefaultPath = "areahub.yaml"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Notifier types.
const (
	NotifierLog   = "log"
	NotifierHTTP  = "http"
	NotifierRedis = "redis"
	NotifierSQS   = "sqs"
)

// Tracing exporters.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLP     = "otlp"
	ExporterOTLPHTTP = "otlp-http"
)

// Error is a configuration error.
type Error struct {
	Key    string
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("config %s: %s", e.Key, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Config is the root configuration.
type Config struct {
	Log          internallog.Config           `yaml:"log"`
	Server       ServerConfig                 `yaml:"server"`
	Store        StoreConfig                  `yaml:"store"`
	Poller       PollerConfig                 `yaml:"poller"`
	Notifier     NotifierConfig               `yaml:"notifier"`
	Tracing      TracingConfig                `yaml:"tracing"`
	Integrations map[string]IntegrationConfig `yaml:"integrations"`
}

// ServerConfig configures the serve command's HTTP listener.
type ServerConfig struct {
	// MetricsAddr serves /metrics and /healthz (default: ":9090")
	MetricsAddr string `yaml:"metrics_addr"`

	// ShutdownTimeout bounds graceful shutdown (default: 10s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the credential store.
type StoreConfig struct {
	Backend  string         `yaml:"backend"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`

	// EncryptionKey seals tokens at rest when set. Accepts secret references.
	EncryptionKey string `yaml:"encryption_key"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type DynamoDBConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// PollerConfig holds settings shared by every integration's poller.
type PollerConfig struct {
	Interval            time.Duration `yaml:"interval"`
	PollTimeout         time.Duration `yaml:"poll_timeout"`
	MaxConcurrency      int           `yaml:"max_concurrency"`
	RefreshMargin       time.Duration `yaml:"refresh_margin"`
	DisconnectThreshold int           `yaml:"disconnect_threshold"`
}

// NotifierConfig selects where detected events are delivered.
type NotifierConfig struct {
	Type  string              `yaml:"type"`
	HTTP  HTTPNotifierConfig  `yaml:"http"`
	Redis RedisNotifierConfig `yaml:"redis"`
	SQS   SQSNotifierConfig   `yaml:"sqs"`
}

type HTTPNotifierConfig struct {
	BaseURL       string        `yaml:"base_url"`
	SigningKey    string        `yaml:"signing_key"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Issuer        string        `yaml:"issuer"`
	Timeout       time.Duration `yaml:"timeout"`
}

type RedisNotifierConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

type SQSNotifierConfig struct {
	QueueURL string `yaml:"queue_url"`
	Region   string `yaml:"region"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter    string `yaml:"exporter"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// IntegrationConfig configures one platform adapter.
type IntegrationConfig struct {
	Enabled bool `yaml:"enabled"`

	// Poll starts a change poller for the integration in serve
	Poll bool `yaml:"poll"`

	// ClientID and ClientSecret are the OAuth client credentials used for
	// token refresh. Both accept secret references.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// BaseURL overrides the platform API root
	BaseURL string `yaml:"base_url"`

	// RateLimit caps upstream calls per second. Zero means unlimited.
	RateLimit float64 `yaml:"rate_limit"`

	// Filter is an expression polled changes must satisfy to be delivered
	Filter string `yaml:"filter"`
}

// Default returns the configuration used for unset keys.
func Default() *Config {
	return &Config{
		Log: *internallog.DefaultConfig(),
		Server: ServerConfig{
			MetricsAddr:     ":9090",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend: BackendSQLite,
			SQLite:  SQLiteConfig{Path: "areahub.db"},
		},
		Poller: PollerConfig{
			Interval:            5 * time.Second,
			PollTimeout:         30 * time.Second,
			RefreshMargin:       60 * time.Second,
			DisconnectThreshold: 5,
		},
		Notifier: NotifierConfig{Type: NotifierLog},
		Tracing: TracingConfig{
			Exporter:    ExporterNone,
			ServiceName: "areahub",
		},
		Integrations: map[string]IntegrationConfig{},
	}
}

// Load reads .env (if present), then the YAML file at path, then environment
// overrides, and validates the result. An empty path reads DefaultPath when
// it exists.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &Error{Key: "dotenv", Reason: "failed to load .env", Cause: err}
	}

	cfg := Default()
	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, &Error{Key: "config_file", Reason: fmt.Sprintf("failed to load from %s", path), Cause: err}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &Error{Key: "validation", Reason: "configuration validation failed", Cause: err}
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if c.Integrations == nil {
		c.Integrations = map[string]IntegrationConfig{}
	}
	return nil
}

// loadFromEnv applies AREAHUB_* overrides. Malformed numbers and durations
// are ignored.
func (c *Config) loadFromEnv() {
	internallog.ApplyEnv(&c.Log)

	setString(&c.Server.MetricsAddr, "AREAHUB_METRICS_ADDR")

	setString(&c.Store.Backend, "AREAHUB_STORE_BACKEND")
	setString(&c.Store.SQLite.Path, "AREAHUB_SQLITE_PATH")
	setString(&c.Store.Postgres.DSN, "AREAHUB_POSTGRES_DSN")
	setString(&c.Store.DynamoDB.Table, "AREAHUB_DYNAMODB_TABLE")
	setString(&c.Store.DynamoDB.Region, "AREAHUB_DYNAMODB_REGION")
	setString(&c.Store.DynamoDB.Endpoint, "AREAHUB_DYNAMODB_ENDPOINT")
	setString(&c.Store.EncryptionKey, "AREAHUB_ENCRYPTION_KEY")

	setDuration(&c.Poller.Interval, "AREAHUB_POLL_INTERVAL")
	setDuration(&c.Poller.RefreshMargin, "AREAHUB_REFRESH_MARGIN")
	setInt(&c.Poller.MaxConcurrency, "AREAHUB_POLL_MAX_CONCURRENCY")
	setInt(&c.Poller.DisconnectThreshold, "AREAHUB_DISCONNECT_THRESHOLD")

	setString(&c.Notifier.Type, "AREAHUB_NOTIFIER")
	setString(&c.Notifier.HTTP.BaseURL, "AREAHUB_ORCHESTRATOR_URL")
	setString(&c.Notifier.HTTP.SigningKey, "AREAHUB_SIGNING_KEY")
	setString(&c.Notifier.HTTP.WebhookSecret, "AREAHUB_WEBHOOK_SECRET")
	setString(&c.Notifier.Redis.Addr, "AREAHUB_REDIS_ADDR")
	setString(&c.Notifier.Redis.Password, "AREAHUB_REDIS_PASSWORD")
	setString(&c.Notifier.SQS.QueueURL, "AREAHUB_SQS_QUEUE_URL")
	setString(&c.Notifier.SQS.Region, "AREAHUB_SQS_REGION")

	setString(&c.Tracing.Exporter, "AREAHUB_TRACING_EXPORTER")
	setString(&c.Tracing.Endpoint, "AREAHUB_OTLP_ENDPOINT")

	// AREAHUB_<NAME>_CLIENT_ID / _CLIENT_SECRET configure an integration,
	// enabling it when it was not in the file.
	for _, env := range os.Environ() {
		key, value, _ := strings.Cut(env, "=")
		if !strings.HasPrefix(key, "AREAHUB_") || value == "" {
			continue
		}
		rest := strings.TrimPrefix(key, "AREAHUB_")
		for suffix, set := range map[string]func(*IntegrationConfig){
			"_CLIENT_ID":     func(ic *IntegrationConfig) { ic.ClientID = value },
			"_CLIENT_SECRET": func(ic *IntegrationConfig) { ic.ClientSecret = value },
		} {
			name, ok := strings.CutSuffix(rest, suffix)
			if !ok || name == "" || strings.HasPrefix(name, "SECRET_") {
				continue
			}
			name = strings.ToLower(name)
			ic, exists := c.Integrations[name]
			if !exists {
				ic.Enabled = true
			}
			set(&ic)
			c.Integrations[name] = ic
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		add("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level)
	}
	if c.Log.Format != internallog.FormatJSON && c.Log.Format != internallog.FormatText {
		add("log.format must be one of [json, text], got %q", c.Log.Format)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			add("store.sqlite.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			add("store.postgres.dsn is required for the postgres backend")
		}
	case BackendDynamoDB:
		if c.Store.DynamoDB.Table == "" {
			add("store.dynamodb.table is required for the dynamodb backend")
		}
	default:
		add("store.backend must be one of [memory, sqlite, postgres, dynamodb], got %q", c.Store.Backend)
	}

	if c.Poller.Interval <= 0 {
		add("poller.interval must be positive, got %v", c.Poller.Interval)
	}
	if c.Poller.PollTimeout < 0 {
		add("poller.poll_timeout must not be negative, got %v", c.Poller.PollTimeout)
	}
	if c.Poller.MaxConcurrency < 0 {
		add("poller.max_concurrency must not be negative, got %d", c.Poller.MaxConcurrency)
	}
	if c.Poller.RefreshMargin < 0 {
		add("poller.refresh_margin must not be negative, got %v", c.Poller.RefreshMargin)
	}
	if c.Poller.DisconnectThreshold < 1 {
		add("poller.disconnect_threshold must be at least 1, got %d", c.Poller.DisconnectThreshold)
	}

	switch c.Notifier.Type {
	case NotifierLog:
	case NotifierHTTP:
		if c.Notifier.HTTP.BaseURL == "" {
			add("notifier.http.base_url is required for the http notifier")
		}
	case NotifierRedis:
		if c.Notifier.Redis.Addr == "" {
			add("notifier.redis.addr is required for the redis notifier")
		}
	case NotifierSQS:
		if c.Notifier.SQS.QueueURL == "" {
			add("notifier.sqs.queue_url is required for the sqs notifier")
		}
	default:
		add("notifier.type must be one of [log, http, redis, sqs], got %q", c.Notifier.Type)
	}

	switch c.Tracing.Exporter {
	case ExporterNone, ExporterStdout:
	case ExporterOTLP, ExporterOTLPHTTP:
		if c.Tracing.Endpoint == "" {
			add("tracing.endpoint is required for the %s exporter", c.Tracing.Exporter)
		}
	default:
		add("tracing.exporter must be one of [none, stdout, otlp, otlp-http], got %q", c.Tracing.Exporter)
	}

	for _, name := range c.IntegrationNames() {
		ic := c.Integrations[name]
		if ic.Poll && !ic.Enabled {
			add("integrations.%s.poll requires enabled", name)
		}
		if ic.RateLimit < 0 {
			add("integrations.%s.rate_limit must not be negative, got %v", name, ic.RateLimit)
		}
		if ic.Enabled && (ic.ClientID == "" || ic.ClientSecret == "") {
			add("integrations.%s requires client_id and client_secret", name)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d problem(s):\n  - %s", len(errs), strings.Join(errs, "\n  - "))
	}
	return nil
}

// IntegrationNames returns the configured integration names in sorted order.
func (c *Config) IntegrationNames() []string {
	names := make([]string, 0, len(c.Integrations))
	for name := range c.Integrations {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SecretResolver resolves "env:", "keychain:" and "secret:" references.
type SecretResolver interface {
	ResolveRef(ctx context.Context, value string) (string, error)
}

// ResolveSecrets replaces secret references in credential-bearing fields
// with their values.
func (c *Config) ResolveSecrets(ctx context.Context, r SecretResolver) error {
	fields := map[string]*string{
		"store.encryption_key":         &c.Store.EncryptionKey,
		"store.postgres.dsn":           &c.Store.Postgres.DSN,
		"notifier.http.signing_key":    &c.Notifier.HTTP.SigningKey,
		"notifier.http.webhook_secret": &c.Notifier.HTTP.WebhookSecret,
		"notifier.redis.password":      &c.Notifier.Redis.Password,
	}
	for key, ptr := range fields {
		if err := resolveField(ctx, r, key, ptr); err != nil {
			return err
		}
	}

	for _, name := range c.IntegrationNames() {
		ic := c.Integrations[name]
		if err := resolveField(ctx, r, "integrations."+name+".client_id", &ic.ClientID); err != nil {
			return err
		}
		if err := resolveField(ctx, r, "integrations."+name+".client_secret", &ic.ClientSecret); err != nil {
			return err
		}
		c.Integrations[name] = ic
	}
	return nil
}

func resolveField(ctx context.Context, r SecretResolver, key string, ptr *string) error {
	if *ptr == "" {
		return nil
	}
	v, err := r.ResolveRef(ctx, *ptr)
	if err != nil {
		return &Error{Key: key, Reason: "failed to resolve secret reference", Cause: err}
	}
	*ptr = v
	return nil
}
