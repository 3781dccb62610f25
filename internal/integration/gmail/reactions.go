package gmail

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/tombee/areahub/internal/platform"
)

const (
	subjectPrefix  = "[AREA]"
	importantLabel = "IMPORTANT"
)

type sentMessage struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds"`
}

type label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (a *Adapter) sendEmail(ctx context.Context, token string, params map[string]any) (map[string]any, error) {
	vals, err := platform.Require(params, "to", "subject", "body")
	if err != nil {
		return nil, err
	}
	to, subject, body := vals[0], vals[1], vals[2]
	if !strings.HasPrefix(subject, subjectPrefix) {
		subject = subjectPrefix + " " + subject
	}

	raw, err := draft{To: to, Subject: subject, Body: body}.raw()
	if err != nil {
		return nil, err
	}
	var sent sentMessage
	if err := a.api.Post(ctx, "users/me/messages/send", token, map[string]string{"raw": raw}, &sent); err != nil {
		return nil, err
	}
	return map[string]any{
		"success":  true,
		"id":       sent.ID,
		"threadId": sent.ThreadID,
		"message":  fmt.Sprintf("Email successfully sent to %s", to),
	}, nil
}

func (a *Adapter) createDraft(ctx context.Context, token string, params map[string]any) (map[string]any, error) {
	vals, err := platform.Require(params, "to", "subject", "body")
	if err != nil {
		return nil, err
	}
	to, subject, body := vals[0], vals[1], vals[2]
	if !strings.Contains(to, "@") {
		return nil, &platform.Error{
			Kind:    platform.KindInvalidParameter,
			Field:   "to",
			Message: fmt.Sprintf("invalid recipient address %q", to),
		}
	}

	raw, err := draft{To: to, Subject: subject, Body: body}.raw()
	if err != nil {
		return nil, err
	}
	var created struct {
		ID      string      `json:"id"`
		Message sentMessage `json:"message"`
	}
	req := map[string]any{"message": map[string]string{"raw": raw}}
	if err := a.api.Post(ctx, "users/me/drafts", token, req, &created); err != nil {
		return nil, err
	}
	return map[string]any{
		"success":  true,
		"draftId":  created.ID,
		"threadId": created.Message.ThreadID,
		"message":  fmt.Sprintf("Draft created successfully for %s", to),
	}, nil
}

func (a *Adapter) addLabel(ctx context.Context, token string, params map[string]any) (map[string]any, error) {
	vals, err := platform.Require(params, "id", "labelName")
	if err != nil {
		return nil, err
	}
	id, labelName := vals[0], vals[1]

	labelID, err := a.ensureLabel(ctx, token, labelName)
	if err != nil {
		return nil, err
	}
	modified, err := a.modify(ctx, token, id, labelID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"id":      modified.ID,
		"labels":  modified.LabelIDs,
		"message": fmt.Sprintf("Label %q successfully applied to message %s", labelName, id),
	}, nil
}

// ensureLabel returns the ID of the user label named name, creating it when
// it does not exist.
func (a *Adapter) ensureLabel(ctx context.Context, token, name string) (string, error) {
	var list struct {
		Labels []label `json:"labels"`
	}
	if err := a.api.Get(ctx, "users/me/labels", nil, token, &list); err != nil {
		return "", err
	}
	for _, l := range list.Labels {
		if l.Name == name {
			return l.ID, nil
		}
	}

	var created label
	req := map[string]string{
		"name":                  name,
		"labelListVisibility":   "labelShow",
		"messageListVisibility": "show",
	}
	if err := a.api.Post(ctx, "users/me/labels", token, req, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (a *Adapter) modify(ctx context.Context, token, id string, addLabelIDs ...string) (*sentMessage, error) {
	var out sentMessage
	path := "users/me/messages/" + url.PathEscape(id) + "/modify"
	if err := a.api.Post(ctx, path, token, map[string]any{"addLabelIds": addLabelIDs}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *Adapter) flagEmail(ctx context.Context, token string, params map[string]any) (map[string]any, error) {
	vals, err := platform.Require(params, "id")
	if err != nil {
		return nil, err
	}
	modified, err := a.modify(ctx, token, vals[0], importantLabel)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"id":      modified.ID,
		"flagged": slices.Contains(modified.LabelIDs, importantLabel),
		"message": fmt.Sprintf("Email %s flagged as important", vals[0]),
	}, nil
}

func (a *Adapter) replyEmail(ctx context.Context, token string, params map[string]any) (map[string]any, error) {
	vals, err := platform.Require(params, "id", "body")
	if err != nil {
		return nil, err
	}
	id, body := vals[0], vals[1]

	var original message
	q := url.Values{"format": {"metadata"}, "metadataHeaders": {"From", "Reply-To", "Subject", "Message-ID"}}
	if err := a.api.Get(ctx, "users/me/messages/"+url.PathEscape(id), q, token, &original); err != nil {
		return nil, err
	}
	from := original.Payload.header("Reply-To")
	if from == "" {
		from = original.Payload.header("From")
	}
	if from == "" {
		return nil, platform.Precondition("original message has no sender to reply to")
	}
	subject := original.Payload.header("Subject")
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	raw, err := draft{
		To:        from,
		Subject:   subject,
		Body:      body,
		InReplyTo: original.Payload.header("Message-ID"),
	}.raw()
	if err != nil {
		return nil, err
	}
	var sent sentMessage
	req := map[string]string{"raw": raw, "threadId": original.ThreadID}
	if err := a.api.Post(ctx, "users/me/messages/send", token, req, &sent); err != nil {
		return nil, err
	}
	return map[string]any{
		"success":  true,
		"id":       sent.ID,
		"threadId": sent.ThreadID,
		"message":  fmt.Sprintf("Reply sent for email %s", id),
	}, nil
}
