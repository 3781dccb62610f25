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

package shared

import (
	"context"
	"log/slog"

	"github.com/tombee/areahub/internal/config"
	"github.com/tombee/areahub/internal/hub"
	internallog "github.com/tombee/areahub/internal/log"
	"github.com/tombee/areahub/internal/secrets"
)

// LoadConfig loads the configuration named by --config and resolves its
// secret references.
func LoadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, NewConfigError("failed to load configuration", err)
	}
	if err := cfg.ResolveSecrets(ctx, secrets.NewDefaultResolver()); err != nil {
		return nil, NewConfigError("failed to resolve secrets", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger. --verbose forces debug level.
func NewLogger(cfg *config.Config) *slog.Logger {
	logCfg := cfg.Log
	if GetVerbose() {
		logCfg.Level = "debug"
	}
	return internallog.New(&logCfg)
}

// OpenHub loads configuration and assembles a hub. The caller closes it.
func OpenHub(ctx context.Context, opts hub.Options) (*hub.Hub, *config.Config, error) {
	cfg, err := LoadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	if opts.Logger == nil {
		opts.Logger = NewLogger(cfg)
	}
	h, err := hub.New(ctx, cfg, opts)
	if err != nil {
		return nil, nil, NewExecutionError("failed to start hub", err)
	}
	return h, cfg, nil
}
