package twitch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/tombee/areahub/internal/platform"
)

// commercialLengths are the break lengths Helix accepts, in seconds.
var commercialLengths = []int{30, 60, 90, 120, 150, 180}

type reactionFunc func(ctx context.Context, token, broadcaster string, params map[string]any) (map[string]any, error)

// reaction resolves the token owner's channel and, when requiresLive is set,
// fails with PreconditionFailed unless the channel is streaming.
func (a *Adapter) reaction(fn reactionFunc, requiresLive bool) handler {
	return func(ctx context.Context, token string, params map[string]any) (map[string]any, error) {
		broadcaster, err := a.broadcasterID(ctx, token)
		if err != nil {
			return nil, err
		}
		if requiresLive {
			if err := a.ensureLive(ctx, token, broadcaster); err != nil {
				return nil, err
			}
		}
		return fn(ctx, token, broadcaster, params)
	}
}

func (a *Adapter) ensureLive(ctx context.Context, token, broadcaster string) error {
	var streams struct {
		Data []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"data"`
	}
	if err := a.api.Get(ctx, "streams", url.Values{"user_id": {broadcaster}}, token, &streams); err != nil {
		return err
	}
	if len(streams.Data) == 0 {
		return platform.Precondition("stream is offline")
	}
	return nil
}

// dataResponse is the Helix {"data": [...]} envelope.
type dataResponse[T any] struct {
	Data []T `json:"data"`
}

func first[T any](r *dataResponse[T]) (T, error) {
	var zero T
	if len(r.Data) == 0 {
		return zero, platform.NewError(platform.KindUpstream, "empty response data")
	}
	return r.Data[0], nil
}

func (a *Adapter) updateStreamTitle(ctx context.Context, token, broadcaster string, params map[string]any) (map[string]any, error) {
	vals, err := platform.Require(params, "title")
	if err != nil {
		return nil, err
	}
	title := vals[0]

	q := url.Values{"broadcaster_id": {broadcaster}}
	if err := a.api.Do(ctx, http.MethodPatch, "channels", q, token, map[string]string{"title": title}, nil); err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"title":   title,
		"message": fmt.Sprintf("Stream title updated to: %s", title),
	}, nil
}

func (a *Adapter) updateStreamGame(ctx context.Context, token, broadcaster string, params map[string]any) (map[string]any, error) {
	vals, err := platform.Require(params, "gameName")
	if err != nil {
		return nil, err
	}

	var games dataResponse[struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}]
	if err := a.api.Get(ctx, "games", url.Values{"name": {vals[0]}}, token, &games); err != nil {
		return nil, err
	}
	if len(games.Data) == 0 {
		return nil, &platform.Error{
			Kind:    platform.KindInvalidParameter,
			Field:   "gameName",
			Message: fmt.Sprintf("game not found: %s", vals[0]),
		}
	}
	game := games.Data[0]

	q := url.Values{"broadcaster_id": {broadcaster}}
	if err := a.api.Do(ctx, http.MethodPatch, "channels", q, token, map[string]string{"game_id": game.ID}, nil); err != nil {
		return nil, err
	}
	return map[string]any{
		"success":  true,
		"gameName": game.Name,
		"gameId":   game.ID,
		"message":  fmt.Sprintf("Stream game updated to: %s", game.Name),
	}, nil
}

func (a *Adapter) sendChatMessage(ctx context.Context, token, broadcaster string, params map[string]any) (map[string]any, error) {
	vals, err := platform.Require(params, "message")
	if err != nil {
		return nil, err
	}
	msg := vals[0]

	var resp dataResponse[struct {
		MessageID  string `json:"message_id"`
		IsSent     bool   `json:"is_sent"`
		DropReason *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"drop_reason"`
	}]
	req := map[string]string{
		"broadcaster_id": broadcaster,
		"sender_id":      broadcaster,
		"message":        msg,
	}
	if err := a.api.Post(ctx, "chat/messages", token, req, &resp); err != nil {
		return nil, err
	}
	sent, err := first(&resp)
	if err != nil {
		return nil, err
	}
	if !sent.IsSent {
		reason := "message was dropped"
		if sent.DropReason != nil && sent.DropReason.Message != "" {
			reason = sent.DropReason.Message
		}
		return nil, platform.NewError(platform.KindUpstream, "%s", reason)
	}
	return map[string]any{
		"success":   true,
		"messageId": sent.MessageID,
		"message":   fmt.Sprintf("Chat message sent: %s", msg),
	}, nil
}

func (a *Adapter) createClip(ctx context.Context, token, broadcaster string, params map[string]any) (map[string]any, error) {
	hasDelay, err := platform.Bool(params, "hasDelay", false)
	if err != nil {
		return nil, err
	}

	var resp dataResponse[struct {
		ID      string `json:"id"`
		EditURL string `json:"edit_url"`
	}]
	q := url.Values{
		"broadcaster_id": {broadcaster},
		"has_delay":      {strconv.FormatBool(hasDelay)},
	}
	if err := a.api.Do(ctx, http.MethodPost, "clips", q, token, nil, &resp); err != nil {
		return nil, err
	}
	clip, err := first(&resp)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"clipId":  clip.ID,
		"editUrl": clip.EditURL,
		"message": "Clip created successfully",
	}, nil
}

func (a *Adapter) startCommercial(ctx context.Context, token, broadcaster string, params map[string]any) (map[string]any, error) {
	length, err := platform.Int(params, "length", 30)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(commercialLengths, length) {
		return nil, &platform.Error{
			Kind:    platform.KindInvalidParameter,
			Field:   "length",
			Message: fmt.Sprintf("commercial length must be one of %v", commercialLengths),
		}
	}

	var resp dataResponse[struct {
		Length     int    `json:"length"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retry_after"`
	}]
	req := map[string]any{"broadcaster_id": broadcaster, "length": length}
	if err := a.api.Post(ctx, "channels/commercial", token, req, &resp); err != nil {
		return nil, err
	}
	started, err := first(&resp)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":    true,
		"length":     started.Length,
		"retryAfter": started.RetryAfter,
		"message":    fmt.Sprintf("Commercial started (%ds)", length),
	}, nil
}

func (a *Adapter) createStreamMarker(ctx context.Context, token, broadcaster string, params map[string]any) (map[string]any, error) {
	description := platform.String(params, "description")
	if description == "" {
		description = "Stream marker"
	}

	var resp dataResponse[struct {
		ID              string `json:"id"`
		PositionSeconds int    `json:"position_seconds"`
		Description     string `json:"description"`
	}]
	req := map[string]string{"user_id": broadcaster, "description": description}
	if err := a.api.Post(ctx, "streams/markers", token, req, &resp); err != nil {
		return nil, err
	}
	marker, err := first(&resp)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":         true,
		"markerId":        marker.ID,
		"positionSeconds": marker.PositionSeconds,
		"description":     marker.Description,
		"message":         "Stream marker created",
	}, nil
}
