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

// Package hub assembles the execution core from configuration: the
// credential store, adapters, lifecycle manager, dispatcher, notifier and
// per-integration pollers.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/areahub/internal/config"
	"github.com/tombee/areahub/internal/credential"
	"github.com/tombee/areahub/internal/integration/gmail"
	"github.com/tombee/areahub/internal/integration/twitch"
	internallog "github.com/tombee/areahub/internal/log"
	"github.com/tombee/areahub/internal/notifier"
	"github.com/tombee/areahub/internal/operation"
	"github.com/tombee/areahub/internal/platform"
	"github.com/tombee/areahub/internal/poller"
)

// AdapterFactory builds an adapter from its integration config.
type AdapterFactory func(ic config.IntegrationConfig, client *http.Client) platform.Adapter

// Factories lists the integrations the hub can build.
var Factories = map[string]AdapterFactory{
	gmail.Name: func(ic config.IntegrationConfig, client *http.Client) platform.Adapter {
		return gmail.New(gmail.Config{
			ClientID:     ic.ClientID,
			ClientSecret: ic.ClientSecret,
			BaseURL:      ic.BaseURL,
			HTTPClient:   client,
		})
	},
	twitch.Name: func(ic config.IntegrationConfig, client *http.Client) platform.Adapter {
		return twitch.New(twitch.Config{
			ClientID:     ic.ClientID,
			ClientSecret: ic.ClientSecret,
			BaseURL:      ic.BaseURL,
			HTTPClient:   client,
		})
	},
}

// Options overrides parts of the assembly.
type Options struct {
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	// Store replaces the configured credential store
	Store credential.Store

	// Notifier replaces the configured notifier (e.g. log-only dry runs)
	Notifier notifier.Notifier

	// HTTPClient is passed to every adapter
	HTTPClient *http.Client
}

// Hub owns the assembled components.
type Hub struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store      credential.Store
	manager    *credential.Manager
	dispatcher *operation.Dispatcher
	notifier   notifier.Notifier
	adapters   map[string]platform.Adapter
	closers    []io.Closer

	mu      sync.Mutex
	pollers map[string]*poller.Service
	started []*poller.Service
}

// New builds a hub for every enabled integration in cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Hub, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Logger = logger

	h := &Hub{
		cfg:      cfg,
		opts:     opts,
		logger:   internallog.WithComponent(logger, "hub"),
		adapters: make(map[string]platform.Adapter),
		pollers:  make(map[string]*poller.Service),
	}

	if err := h.build(ctx, logger); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

func (h *Hub) build(ctx context.Context, logger *slog.Logger) error {
	store := h.opts.Store
	if store == nil {
		var err error
		store, err = OpenStore(ctx, h.cfg.Store)
		if err != nil {
			return err
		}
		h.closers = append(h.closers, store)
	}
	h.store = store

	manager, err := credential.NewManager(credential.ManagerConfig{
		Store:         store,
		RefreshMargin: h.cfg.Poller.RefreshMargin,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create credential manager: %w", err)
	}
	h.manager = manager

	dispatcher, err := operation.NewDispatcher(operation.Config{
		Tokens:         manager,
		Logger:         logger,
		TracerProvider: h.opts.TracerProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	h.dispatcher = dispatcher

	for _, name := range h.cfg.IntegrationNames() {
		ic := h.cfg.Integrations[name]
		if !ic.Enabled {
			continue
		}
		factory, ok := Factories[name]
		if !ok {
			return &config.Error{Key: "integrations." + name, Reason: "unknown integration"}
		}
		adapter := factory(ic, h.opts.HTTPClient)
		manager.Register(adapter)

		var regOpts []operation.RegisterOption
		if ic.RateLimit > 0 {
			regOpts = append(regOpts, operation.WithRateLimit(ic.RateLimit, 1))
		}
		if err := dispatcher.Register(adapter, regOpts...); err != nil {
			return fmt.Errorf("failed to register %s: %w", name, err)
		}
		h.adapters[name] = adapter
	}

	n := h.opts.Notifier
	if n == nil {
		n, err = OpenNotifier(ctx, h.cfg.Notifier, logger)
		if err != nil {
			return err
		}
		if c, ok := n.(io.Closer); ok {
			h.closers = append(h.closers, c)
		}
	}
	h.notifier = n

	h.logger.Debug("hub assembled",
		slog.String("store", h.cfg.Store.Backend),
		slog.Any("integrations", h.Integrations()))
	return nil
}

// OpenStore opens the configured credential backend, wrapped in a
// SealedStore when an encryption key is set.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (credential.Store, error) {
	var (
		store credential.Store
		err   error
	)
	switch cfg.Backend {
	case config.BackendMemory:
		store = credential.NewMemoryStore()
	case config.BackendSQLite:
		store, err = credential.NewSQLiteStore(credential.SQLiteConfig{Path: cfg.SQLite.Path})
	case config.BackendPostgres:
		store, err = credential.NewPostgresStore(cfg.Postgres.DSN)
	case config.BackendDynamoDB:
		store, err = credential.NewDynamoStore(ctx, credential.DynamoConfig{
			Table:    cfg.DynamoDB.Table,
			Region:   cfg.DynamoDB.Region,
			Endpoint: cfg.DynamoDB.Endpoint,
		})
	default:
		return nil, &config.Error{Key: "store.backend", Reason: fmt.Sprintf("unsupported backend %q", cfg.Backend)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s credential store: %w", cfg.Backend, err)
	}

	if cfg.EncryptionKey == "" {
		return store, nil
	}
	sealed, err := credential.NewSealedStore(store, cfg.EncryptionKey)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to enable credential encryption: %w", err)
	}
	return sealed, nil
}

// OpenNotifier builds the configured trigger notifier.
func OpenNotifier(ctx context.Context, cfg config.NotifierConfig, logger *slog.Logger) (notifier.Notifier, error) {
	switch cfg.Type {
	case config.NotifierLog, "":
		return notifier.NewLogNotifier(logger), nil
	case config.NotifierHTTP:
		return notifier.NewHTTPNotifier(notifier.HTTPConfig{
			BaseURL:       cfg.HTTP.BaseURL,
			SigningKey:    cfg.HTTP.SigningKey,
			WebhookSecret: cfg.HTTP.WebhookSecret,
			Issuer:        cfg.HTTP.Issuer,
			Timeout:       cfg.HTTP.Timeout,
		})
	case config.NotifierRedis:
		return notifier.NewRedisNotifier(ctx, notifier.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		})
	case config.NotifierSQS:
		return notifier.NewSQSNotifierFromEnv(ctx, cfg.SQS.QueueURL, cfg.SQS.Region)
	default:
		return nil, &config.Error{Key: "notifier.type", Reason: fmt.Sprintf("unsupported notifier %q", cfg.Type)}
	}
}

// Integrations returns the enabled integration names in sorted order.
func (h *Hub) Integrations() []string {
	names := make([]string, 0, len(h.adapters))
	for name := range h.adapters {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Adapter returns the adapter for an enabled integration.
func (h *Hub) Adapter(name string) (platform.Adapter, bool) {
	a, ok := h.adapters[name]
	return a, ok
}

func (h *Hub) Store() credential.Store           { return h.store }
func (h *Hub) Manager() *credential.Manager      { return h.manager }
func (h *Hub) Dispatcher() *operation.Dispatcher { return h.dispatcher }
func (h *Hub) Notifier() notifier.Notifier       { return h.notifier }

// Poller returns the change poller for an integration, creating it on first
// use. It fails when the integration is not enabled or cannot be polled.
func (h *Hub) Poller(name string) (*poller.Service, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, ok := h.pollers[name]; ok {
		return p, nil
	}
	adapter, ok := h.adapters[name]
	if !ok {
		return nil, fmt.Errorf("integration %q is not enabled", name)
	}

	ic := h.cfg.Integrations[name]
	p, err := poller.NewService(poller.Config{
		Adapter:             adapter,
		Tokens:              h.manager,
		Store:               h.store,
		Notifier:            h.notifier,
		Interval:            h.cfg.Poller.Interval,
		PollTimeout:         h.cfg.Poller.PollTimeout,
		MaxConcurrency:      h.cfg.Poller.MaxConcurrency,
		DisconnectThreshold: h.cfg.Poller.DisconnectThreshold,
		Filter:              ic.Filter,
		RateLimit:           ic.RateLimit,
		Logger:              h.opts.Logger,
		MeterProvider:       h.opts.MeterProvider,
	})
	if err != nil {
		return nil, err
	}
	h.pollers[name] = p
	return p, nil
}

// StartPollers starts a poller for every integration configured with
// poll: true.
func (h *Hub) StartPollers(ctx context.Context) error {
	for _, name := range h.Integrations() {
		if !h.cfg.Integrations[name].Poll {
			continue
		}
		p, err := h.Poller(name)
		if err != nil {
			return err
		}
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s poller: %w", name, err)
		}
		h.mu.Lock()
		h.started = append(h.started, p)
		h.mu.Unlock()
		h.logger.Info("poller started",
			slog.String(internallog.IntegrationKey, name),
			slog.Duration("interval", h.cfg.Poller.Interval))
	}
	return nil
}

// Stop stops every started poller, waiting for in-flight polls up to ctx.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	started := h.started
	h.started = nil
	h.mu.Unlock()

	var errs []error
	for _, p := range started {
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s poller: %w", p.Integration(), err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the store and notifier opened by New.
func (h *Hub) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errors.Join(errs...)
}
