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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp runs the test from an empty directory so no stray .env or
// areahub.yaml is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "areahub.db", cfg.Store.SQLite.Path)
	assert.Equal(t, 5*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 60*time.Second, cfg.Poller.RefreshMargin)
	assert.Equal(t, 5, cfg.Poller.DisconnectThreshold)
	assert.Equal(t, NotifierLog, cfg.Notifier.Type)
	assert.Equal(t, ExporterNone, cfg.Tracing.Exporter)
	assert.Empty(t, cfg.Integrations)
}

func TestLoadFromFile(t *testing.T) {
	dir := chdirTemp(t)
	path := writeFile(t, dir, "hub.yaml", `
log:
  level: debug
  format: text
store:
  backend: postgres
  postgres:
    dsn: postgres://localhost/areahub
poller:
  interval: 30s
  max_concurrency: 8
notifier:
  type: http
  http:
    base_url: http://orchestrator:8080
    timeout: 3s
integrations:
  gmail:
    enabled: true
    poll: true
    client_id: id
    client_secret: secret
    rate_limit: 2.5
    filter: 'not (payload.subject contains "[AREA]")'
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://localhost/areahub", cfg.Store.Postgres.DSN)
	assert.Equal(t, 30*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 8, cfg.Poller.MaxConcurrency)
	assert.Equal(t, 5, cfg.Poller.DisconnectThreshold, "unset keys keep defaults")
	assert.Equal(t, 3*time.Second, cfg.Notifier.HTTP.Timeout)

	gmail := cfg.Integrations["gmail"]
	assert.True(t, gmail.Poll)
	assert.Equal(t, 2.5, gmail.RateLimit)
	assert.Contains(t, gmail.Filter, "[AREA]")
}

func TestLoadReadsDefaultPath(t *testing.T) {
	dir := chdirTemp(t)
	writeFile(t, dir, DefaultPath, "store:\n  backend: memory\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
}

func TestLoadMissingFile(t *testing.T) {
	chdirTemp(t)

	_, err := Load("does-not-exist.yaml")
	require.Error(t, err)

	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "config_file", cfgErr.Key)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	path := writeFile(t, dir, "hub.yaml", "store:\n  backend: memory\npoller:\n  interval: 30s\n")

	t.Setenv("AREAHUB_POLL_INTERVAL", "2s")
	t.Setenv("AREAHUB_NOTIFIER", "redis")
	t.Setenv("AREAHUB_REDIS_ADDR", "localhost:6379")
	t.Setenv("AREAHUB_DISCONNECT_THRESHOLD", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Poller.Interval)
	assert.Equal(t, NotifierRedis, cfg.Notifier.Type)
	assert.Equal(t, "localhost:6379", cfg.Notifier.Redis.Addr)
	assert.Equal(t, 5, cfg.Poller.DisconnectThreshold, "malformed values are ignored")
}

func TestDotEnvIsLoaded(t *testing.T) {
	dir := chdirTemp(t)
	writeFile(t, dir, ".env", "AREAHUB_STORE_BACKEND=memory\n")
	t.Cleanup(func() { os.Unsetenv("AREAHUB_STORE_BACKEND") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
}

func TestIntegrationCredentialsFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("AREAHUB_TWITCH_CLIENT_ID", "twitch-id")
	t.Setenv("AREAHUB_TWITCH_CLIENT_SECRET", "twitch-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	twitch, ok := cfg.Integrations["twitch"]
	require.True(t, ok)
	assert.True(t, twitch.Enabled)
	assert.Equal(t, "twitch-id", twitch.ClientID)
	assert.Equal(t, "twitch-secret", twitch.ClientSecret)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Store.Backend = "dynamodb"
	cfg.Poller.Interval = 0
	cfg.Poller.DisconnectThreshold = 0
	cfg.Notifier.Type = "sqs"
	cfg.Tracing.Exporter = "otlp"
	cfg.Integrations["gmail"] = IntegrationConfig{Poll: true, RateLimit: -1}

	err := cfg.Validate()
	require.Error(t, err)

	for _, want := range []string{
		"log.level",
		"store.dynamodb.table",
		"poller.interval",
		"poller.disconnect_threshold",
		"notifier.sqs.queue_url",
		"tracing.endpoint",
		"integrations.gmail.poll requires enabled",
		"integrations.gmail.rate_limit",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRejectsUnknownChoices(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"store", func(c *Config) { c.Store.Backend = "etcd" }, "store.backend"},
		{"notifier", func(c *Config) { c.Notifier.Type = "kafka" }, "notifier.type"},
		{"tracing", func(c *Config) { c.Tracing.Exporter = "zipkin" }, "tracing.exporter"},
		{"integration credentials", func(c *Config) {
			c.Integrations["gmail"] = IntegrationConfig{Enabled: true, ClientID: "id"}
		}, "integrations.gmail requires client_id and client_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

type fakeResolver map[string]string

func (f fakeResolver) ResolveRef(_ context.Context, value string) (string, error) {
	if !strings.Contains(value, ":") {
		return value, nil
	}
	v, ok := f[value]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestResolveSecrets(t *testing.T) {
	cfg := Default()
	cfg.Store.EncryptionKey = "keychain:master"
	cfg.Notifier.HTTP.SigningKey = "literal"
	cfg.Integrations["gmail"] = IntegrationConfig{Enabled: true, ClientID: "id", ClientSecret: "env:GMAIL_SECRET"}

	r := fakeResolver{"keychain:master": "k", "env:GMAIL_SECRET": "s"}
	require.NoError(t, cfg.ResolveSecrets(context.Background(), r))

	assert.Equal(t, "k", cfg.Store.EncryptionKey)
	assert.Equal(t, "literal", cfg.Notifier.HTTP.SigningKey)
	assert.Equal(t, "s", cfg.Integrations["gmail"].ClientSecret)
}

func TestResolveSecretsReportsKey(t *testing.T) {
	cfg := Default()
	cfg.Store.Postgres.DSN = "secret:missing"

	err := cfg.ResolveSecrets(context.Background(), fakeResolver{})
	require.Error(t, err)

	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "store.postgres.dsn", cfgErr.Key)
}
