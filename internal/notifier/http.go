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
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ceevent "github.com/cloudevents/sdk-go/v2/event"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the request body.
	SignatureHeader = "X-Webhook-Signature"

	cloudEventsContentType = "application/cloudevents+json"
	defaultHTTPTimeout     = 10 * time.Second
	serviceTokenTTL        = 5 * time.Minute
)

// HTTPConfig configures delivery to the orchestrator's trigger endpoint.
type HTTPConfig struct {
	// BaseURL is the orchestrator root (required)
	BaseURL string

	// SigningKey signs the HS256 service bearer token. Empty disables
	// the Authorization header.
	SigningKey string

	// WebhookSecret enables the body signature header when set
	WebhookSecret string

	// Issuer is the bearer token iss claim (default: "areahub")
	Issuer string

	// Timeout bounds each request (default: 10s)
	Timeout time.Duration

	// HTTPClient overrides the default client
	HTTPClient *http.Client
}

// HTTPNotifier posts events as structured-mode CloudEvents to
// {base}/workflow/trigger/{integration}/{event}.
type HTTPNotifier struct {
	base          string
	signingKey    []byte
	webhookSecret []byte
	issuer        string
	client        *http.Client
}

// triggerBody is the CloudEvent data the orchestrator expects.
type triggerBody struct {
	UserID string         `json:"userId"`
	Data   map[string]any `json:"data"`
}

// NewHTTPNotifier validates cfg and creates the notifier.
func NewHTTPNotifier(cfg HTTPConfig) (*HTTPNotifier, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("notifier base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid notifier base URL: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "areahub"
	}
	return &HTTPNotifier{
		base:          base,
		signingKey:    []byte(cfg.SigningKey),
		webhookSecret: []byte(cfg.WebhookSecret),
		issuer:        issuer,
		client:        client,
	}, nil
}

// Notify delivers the event. Any non-2xx response is an error.
func (n *HTTPNotifier) Notify(ctx context.Context, event Event) error {
	body, err := n.encode(event)
	if err != nil {
		return err
	}

	endpoint := n.base + "/workflow/trigger/" + url.PathEscape(event.Integration) + "/" + url.PathEscape(event.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", cloudEventsContentType)

	if len(n.signingKey) > 0 {
		token, err := n.serviceToken(event.Integration)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if len(n.webhookSecret) > 0 {
		req.Header.Set(SignatureHeader, Sign(body, n.webhookSecret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("trigger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("trigger rejected: %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (n *HTTPNotifier) encode(event Event) ([]byte, error) {
	ce := ceevent.New()
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	ce.SetID(id)
	ce.SetType(fmt.Sprintf("areahub.%s.%s", event.Integration, event.Name))
	ce.SetSource("areahub/" + event.Integration)
	ce.SetSubject(event.UserID)
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	ce.SetTime(occurred)
	if event.Marker != "" {
		ce.SetExtension("marker", event.Marker)
	}

	data := event.Payload
	if data == nil {
		data = map[string]any{}
	}
	if err := ce.SetData(ceevent.ApplicationJSON, triggerBody{UserID: event.UserID, Data: data}); err != nil {
		return nil, fmt.Errorf("failed to encode event data: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cloud event: %w", err)
	}
	body, err := json.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cloud event: %w", err)
	}
	return body, nil
}

func (n *HTTPNotifier) serviceToken(integration string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    n.issuer,
		Subject:   integration,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(serviceTokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(n.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}
	return signed, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
