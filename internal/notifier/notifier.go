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

// Package notifier delivers detected trigger events to the orchestrator.
//
// The poller treats a Notifier as a remote call: a nil error acknowledges
// the event, any error leaves it eligible for redelivery on the next poll.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one detected trigger occurrence.
type Event struct {
	// ID identifies the event. Events built by NewChangeEvent keep the
	// same ID across redeliveries of the same change.
	ID string

	// Name is the action name (e.g. "email_received").
	Name string

	Integration string
	UserID      string

	// Marker is the change marker the event was observed at.
	Marker string

	Payload    map[string]any
	OccurredAt time.Time
}

// NewEvent returns an event with a fresh ID and timestamp.
func NewEvent(name, integration, userID string, payload map[string]any) Event {
	return Event{
		ID:          uuid.NewString(),
		Name:        name,
		Integration: integration,
		UserID:      userID,
		Payload:     payload,
		OccurredAt:  time.Now().UTC(),
	}
}

var changeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://areahub/change-events"))

// NewChangeEvent returns an event for a polled change. Its ID is derived
// from the integration, user, marker and the payload's "id" (or the whole
// payload when it has none), so a redelivered change keeps its ID.
func NewChangeEvent(name, integration, userID, marker string, payload map[string]any) Event {
	event := NewEvent(name, integration, userID, payload)
	event.Marker = marker
	event.ID = uuid.NewSHA1(changeNamespace, []byte(strings.Join(
		[]string{integration, userID, marker, payloadKey(payload)}, "\x00"))).String()
	return event
}

func payloadKey(payload map[string]any) string {
	if id, ok := payload["id"]; ok && id != nil {
		return fmt.Sprint(id)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprint(payload)
	}
	return string(b)
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, event Event) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// LogNotifier logs events instead of delivering them.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that writes each event to logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With(slog.String("component", "notifier"))}
}

// Notify logs the event and always succeeds.
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	n.logger.InfoContext(ctx, "trigger event",
		slog.String("event", event.Name),
		slog.String("integration", event.Integration),
		slog.String("user_id", event.UserID),
		slog.String("marker", event.Marker),
		slog.Any("payload", event.Payload))
	return nil
}
