// Package gmail is the Gmail platform adapter. It publishes the
// email_received action, detected by polling the mailbox history, and a set
// of mail reactions.
package gmail

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tombee/areahub/internal/integration/apiclient"
	"github.com/tombee/areahub/internal/platform"
)

const (
	// Name is the integration identifier.
	Name = "gmail"

	// DefaultBaseURL is the Gmail REST API root.
	DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

	// DefaultTokenURL is Google's OAuth token endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"

	// EmailReceived is the action delivered for new inbox messages.
	EmailReceived = "email_received"
)

// Config configures the adapter.
type Config struct {
	ClientID     string
	ClientSecret string

	// BaseURL overrides DefaultBaseURL (tests, proxies)
	BaseURL string

	// TokenURL overrides DefaultTokenURL
	TokenURL string

	HTTPClient *http.Client

	// Retry overrides the API client's retry policy
	Retry *apiclient.RetryConfig
}

type handler func(ctx context.Context, token string, params map[string]any) (map[string]any, error)

// Adapter implements platform.Adapter, platform.ChangeSource,
// platform.IdentityProvider and platform.EventNamer for Gmail.
type Adapter struct {
	platform.OAuthRefresher

	api      *apiclient.Client
	handlers map[string]handler
}

var (
	_ platform.Adapter          = (*Adapter)(nil)
	_ platform.ChangeSource     = (*Adapter)(nil)
	_ platform.IdentityProvider = (*Adapter)(nil)
	_ platform.EventNamer       = (*Adapter)(nil)
)

// New creates a Gmail adapter.
func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}

	api := apiclient.New(cfg.BaseURL, cfg.HTTPClient)
	api.Retry = cfg.Retry

	a := &Adapter{
		OAuthRefresher: platform.OAuthRefresher{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			HTTPClient:   cfg.HTTPClient,
		},
		api: api,
	}
	a.handlers = map[string]handler{
		EmailReceived:  echo,
		"send_email":   a.sendEmail,
		"create_draft": a.createDraft,
		"add_label":    a.addLabel,
		"flag_email":   a.flagEmail,
		"reply_email":  a.replyEmail,
	}
	return a
}

// Name returns "gmail".
func (a *Adapter) Name() string { return Name }

// EventName returns the action name polled changes are delivered as.
func (a *Adapter) EventName() string { return EmailReceived }

// RefreshToken exchanges a refresh token at Google's token endpoint.
func (a *Adapter) RefreshToken(ctx context.Context, refreshToken string) (*platform.TokenGrant, error) {
	return a.Refresh(ctx, refreshToken)
}

// Invoke runs the named operation.
func (a *Adapter) Invoke(ctx context.Context, operation, token string, params map[string]any) (map[string]any, error) {
	h, ok := a.handlers[operation]
	if !ok {
		return nil, &platform.Error{
			Kind:      platform.KindUnknownOperation,
			Operation: operation,
			Message:   fmt.Sprintf("gmail has no operation %q", operation),
		}
	}
	return h(ctx, token, params)
}

// SelfIdentity returns the mailbox address of the token's account.
func (a *Adapter) SelfIdentity(ctx context.Context, token string) (string, error) {
	p, err := a.profile(ctx, token)
	if err != nil {
		return "", err
	}
	return p.EmailAddress, nil
}

// echo returns the action input unchanged. Actions are detected by polling;
// invoking one directly only reflects its data.
func echo(_ context.Context, _ string, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out, nil
}
