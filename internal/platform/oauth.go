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

package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// OAuthRefresher performs the refresh_token grant against a platform's
// token endpoint. Adapters embed it to satisfy Adapter.RefreshToken.
type OAuthRefresher struct {
	ClientID     string
	ClientSecret string
	TokenURL     string

	// HTTPClient is used for the token request (default: 30s timeout client)
	HTTPClient *http.Client

	// AuthStyle selects how client credentials are sent (default: autodetect)
	AuthStyle oauth2.AuthStyle
}

// Refresh exchanges refreshToken for a new access token. The returned grant
// carries a refresh token only when the platform rotated it.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	cfg := &oauth2.Config{
		ClientID:     r.ClientID,
		ClientSecret: r.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  r.TokenURL,
			AuthStyle: r.AuthStyle,
		},
	}

	client := r.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classifyOAuthError(err)
	}

	grant := &TokenGrant{AccessToken: tok.AccessToken}
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		grant.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		grant.ExpiresIn = time.Until(tok.Expiry).Round(time.Second)
	}
	return grant, nil
}

// classifyOAuthError separates rejected refresh tokens (KindUpstream) from
// transient token endpoint failures (KindTransport).
func classifyOAuthError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return Wrap(KindTransport, err, "token request failed")
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	msg := re.ErrorCode
	if re.ErrorDescription != "" {
		msg = fmt.Sprintf("%s: %s", msg, re.ErrorDescription)
	}

	switch re.ErrorCode {
	case "invalid_grant", "unauthorized_client", "access_denied", "invalid_client":
		return &Error{Kind: KindUpstream, Message: msg, StatusCode: status, Cause: err}
	case "temporarily_unavailable", "server_error":
		return &Error{Kind: KindTransport, Message: msg, StatusCode: status, Cause: err}
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return &Error{Kind: KindTransport, Message: msg, StatusCode: status, Cause: err}
	}
	return &Error{Kind: KindUpstream, Message: msg, StatusCode: status, Cause: err}
}
