package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/tombee/areahub/internal/platform"
)

// generatedHeader marks messages and drafts created by the hub. Polled
// messages carrying it are reported as sentinel changes.
const generatedHeader = "X-Area-Generated"

type profile struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    string `json:"historyId"`
}

type historyPage struct {
	History []struct {
		ID            string `json:"id"`
		MessagesAdded []struct {
			Message messageRef `json:"message"`
		} `json:"messagesAdded"`
	} `json:"history"`
	NextPageToken string `json:"nextPageToken"`
	HistoryID     string `json:"historyId"`
}

type messageRef struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds"`
}

type message struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	Snippet      string   `json:"snippet"`
	InternalDate string   `json:"internalDate"`
	Payload      part     `json:"payload"`
}

type part struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []part `json:"parts"`
}

func (p *part) header(name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func (a *Adapter) profile(ctx context.Context, token string) (*profile, error) {
	var p profile
	if err := a.api.Get(ctx, "users/me/profile", nil, token, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FetchCurrentMarker returns the mailbox's current historyId.
func (a *Adapter) FetchCurrentMarker(ctx context.Context, token string) (string, error) {
	p, err := a.profile(ctx, token)
	if err != nil {
		return "", err
	}
	if p.HistoryID == "" {
		return "", platform.NewError(platform.KindUpstream, "profile has no historyId")
	}
	return p.HistoryID, nil
}

// FetchChangesSince lists messages added after marker. Each change's marker
// is the history record it appeared in. A 404 from the history endpoint
// means the historyId has expired and is reported as a cursor error.
func (a *Adapter) FetchChangesSince(ctx context.Context, token, marker string) ([]platform.Change, error) {
	type added struct {
		marker string
		ref    messageRef
	}
	var (
		refs      []added
		seen      = make(map[string]bool)
		pageToken string
	)
	for {
		q := url.Values{
			"startHistoryId": {marker},
			"historyTypes":   {"messageAdded"},
		}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page historyPage
		if err := a.api.Get(ctx, "users/me/history", q, token, &page); err != nil {
			if isNotFound(err) {
				return nil, &platform.Error{
					Kind:       platform.KindCursorInvalidated,
					Message:    "startHistoryId is no longer valid",
					StatusCode: http.StatusNotFound,
					Cause:      err,
				}
			}
			return nil, err
		}

		for _, h := range page.History {
			for _, m := range h.MessagesAdded {
				if m.Message.ID == "" || seen[m.Message.ID] {
					continue
				}
				seen[m.Message.ID] = true
				refs = append(refs, added{marker: h.ID, ref: m.Message})
			}
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	changes := make([]platform.Change, 0, len(refs))
	for _, r := range refs {
		var msg message
		err := a.api.Get(ctx, "users/me/messages/"+url.PathEscape(r.ref.ID), url.Values{"format": {"full"}}, token, &msg)
		if err != nil {
			// Deleted between the history listing and the fetch.
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		changes = append(changes, toChange(r.marker, &msg))
	}
	return changes, nil
}

func toChange(marker string, msg *message) platform.Change {
	from := msg.Payload.header("From")
	return platform.Change{
		Marker: marker,
		Payload: map[string]any{
			"id":         msg.ID,
			"threadId":   msg.ThreadID,
			"from":       from,
			"to":         msg.Payload.header("To"),
			"subject":    msg.Payload.header("Subject"),
			"body":       messageBody(msg),
			"snippet":    msg.Snippet,
			"receivedAt": msg.InternalDate,
			"historyId":  marker,
		},
		AuthorHint: from,
		Sentinel:   msg.Payload.header(generatedHeader) != "",
	}
}

// messageBody returns the first text part of the message, preferring
// text/plain, or the snippet when no part decodes.
func messageBody(msg *message) string {
	if body, ok := findText(&msg.Payload, "text/plain"); ok {
		return body
	}
	if body, ok := findText(&msg.Payload, "text/html"); ok {
		return body
	}
	return msg.Snippet
}

func findText(p *part, mimeType string) (string, bool) {
	if strings.HasPrefix(p.MimeType, mimeType) && p.Body.Data != "" {
		if b, err := decodeBase64URL(p.Body.Data); err == nil {
			return string(b), true
		}
	}
	for i := range p.Parts {
		if body, ok := findText(&p.Parts[i], mimeType); ok {
			return body, true
		}
	}
	return "", false
}

func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func isNotFound(err error) bool {
	var pe *platform.Error
	return errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound
}
