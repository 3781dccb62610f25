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

package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultStream = "areahub:triggers"
	defaultMaxLen = 100000
)

// RedisConfig configures delivery to a Redis stream.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Stream is the stream key (default: "areahub:triggers")
	Stream string

	// MaxLen caps the stream with approximate trimming (default: 100000)
	MaxLen int64

	// Client overrides Addr/Password/DB
	Client *goredis.Client
}

// RedisNotifier appends each event to a Redis stream with XADD.
type RedisNotifier struct {
	client *goredis.Client
	stream string
	maxLen int64
}

// NewRedisNotifier connects and pings the server.
func NewRedisNotifier(ctx context.Context, cfg RedisConfig) (*RedisNotifier, error) {
	client := cfg.Client
	if client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, errors.New("redis addr is required")
		}
		client = goredis.NewClient(&goredis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = defaultStream
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &RedisNotifier{client: client, stream: stream, maxLen: maxLen}, nil
}

// Notify appends the event. The payload field holds the JSON-encoded data.
func (n *RedisNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	err = n.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":          event.ID,
			"event":       event.Name,
			"integration": event.Integration,
			"user_id":     event.UserID,
			"marker":      event.Marker,
			"payload":     string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append trigger event: %w", err)
	}
	return nil
}

// Close closes the client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
