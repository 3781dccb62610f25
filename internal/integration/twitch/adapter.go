// Package twitch is the Twitch platform adapter. Its actions arrive through
// EventSub webhooks handled outside the hub; the adapter performs channel
// reactions and releases a user's EventSub subscriptions on disconnect.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tombee/areahub/internal/integration/apiclient"
	"github.com/tombee/areahub/internal/platform"
)

const (
	// Name is the integration identifier.
	Name = "twitch"

	// DefaultBaseURL is the Helix API root.
	DefaultBaseURL = "https://api.twitch.tv/helix"

	// DefaultTokenURL is the Twitch OAuth token endpoint.
	DefaultTokenURL = "https://id.twitch.tv/oauth2/token"
)

// Config configures the adapter.
type Config struct {
	ClientID     string
	ClientSecret string

	// BaseURL overrides DefaultBaseURL
	BaseURL string

	// TokenURL overrides DefaultTokenURL
	TokenURL string

	HTTPClient *http.Client
	Retry      *apiclient.RetryConfig
}

type handler func(ctx context.Context, token string, params map[string]any) (map[string]any, error)

// Adapter implements platform.Adapter and platform.SubscriptionReleaser.
type Adapter struct {
	platform.OAuthRefresher

	api      *apiclient.Client
	app      *clientcredentials.Config
	handlers map[string]handler
}

var (
	_ platform.Adapter              = (*Adapter)(nil)
	_ platform.SubscriptionReleaser = (*Adapter)(nil)
)

// New creates a Twitch adapter.
func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}

	api := apiclient.New(cfg.BaseURL, cfg.HTTPClient)
	api.Header = http.Header{"Client-Id": []string{cfg.ClientID}}
	api.Retry = cfg.Retry

	a := &Adapter{
		OAuthRefresher: platform.OAuthRefresher{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			HTTPClient:   cfg.HTTPClient,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		api: api,
		app: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
	}
	a.handlers = map[string]handler{
		"stream_started":         echo,
		"stream_ended":           echo,
		"new_follower":           echo,
		"viewer_count_threshold": echo,
		"update_stream_title":    a.reaction(a.updateStreamTitle, false),
		"update_stream_game":     a.reaction(a.updateStreamGame, false),
		"send_chat_message":      a.reaction(a.sendChatMessage, true),
		"create_clip":            a.reaction(a.createClip, true),
		"start_commercial":       a.reaction(a.startCommercial, true),
		"create_stream_marker":   a.reaction(a.createStreamMarker, true),
	}
	return a
}

// Name returns "twitch".
func (a *Adapter) Name() string { return Name }

// RefreshToken exchanges a refresh token at the Twitch token endpoint.
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
			Message:   fmt.Sprintf("twitch has no operation %q", operation),
		}
	}
	return h(ctx, token, params)
}

// ReleaseSubscriptions deletes the EventSub subscriptions that watch the
// token owner's channel. EventSub webhooks are owned by the application, so
// they are listed and deleted with an app access token.
func (a *Adapter) ReleaseSubscriptions(ctx context.Context, token string) error {
	broadcaster, err := a.broadcasterID(ctx, token)
	if err != nil {
		return err
	}
	appToken, err := a.appToken(ctx)
	if err != nil {
		return err
	}

	var ids []string
	after := ""
	for {
		q := url.Values{}
		if after != "" {
			q.Set("after", after)
		}
		var page struct {
			Data []struct {
				ID        string            `json:"id"`
				Type      string            `json:"type"`
				Condition map[string]string `json:"condition"`
			} `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		if err := a.api.Get(ctx, "eventsub/subscriptions", q, appToken, &page); err != nil {
			return err
		}
		for _, sub := range page.Data {
			if sub.Condition["broadcaster_user_id"] == broadcaster {
				ids = append(ids, sub.ID)
			}
		}
		if page.Pagination.Cursor == "" {
			break
		}
		after = page.Pagination.Cursor
	}

	var errs []error
	for _, id := range ids {
		q := url.Values{"id": {id}}
		if err := a.api.Do(ctx, http.MethodDelete, "eventsub/subscriptions", q, appToken, nil, nil); err != nil {
			errs = append(errs, fmt.Errorf("delete subscription %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (a *Adapter) appToken(ctx context.Context) (string, error) {
	if a.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.HTTPClient)
	}
	tok, err := a.app.Token(ctx)
	if err != nil {
		return "", platform.Wrap(platform.KindUpstream, err, "app access token request failed")
	}
	return tok.AccessToken, nil
}

// broadcasterID returns the Twitch user id of the token owner.
func (a *Adapter) broadcasterID(ctx context.Context, token string) (string, error) {
	var users struct {
		Data []struct {
			ID    string `json:"id"`
			Login string `json:"login"`
		} `json:"data"`
	}
	if err := a.api.Get(ctx, "users", nil, token, &users); err != nil {
		return "", err
	}
	if len(users.Data) == 0 {
		return "", platform.NewError(platform.KindUpstream, "token does not identify a user")
	}
	return users.Data[0].ID, nil
}

func echo(_ context.Context, _ string, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out, nil
}
