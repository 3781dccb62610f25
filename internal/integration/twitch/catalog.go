package twitch

import "github.com/tombee/areahub/internal/platform"

// Catalog returns the Twitch actions and reactions.
func (a *Adapter) Catalog() []platform.Descriptor {
	return []platform.Descriptor{
		{
			Name:        "stream_started",
			Kind:        platform.KindAction,
			Description: "Triggered when a stream goes live",
			Outputs: []platform.OutputField{
				{Name: "streamId", Type: "string", Description: "Stream ID"},
				{Name: "streamTitle", Type: "string", Description: "Stream title"},
				{Name: "gameName", Type: "string", Description: "Game being played"},
				{Name: "viewerCount", Type: "number", Description: "Current viewer count"},
			},
		},
		{
			Name:        "stream_ended",
			Kind:        platform.KindAction,
			Description: "Triggered when a stream goes offline",
			Outputs: []platform.OutputField{
				{Name: "streamId", Type: "string", Description: "Stream ID"},
				{Name: "duration", Type: "number", Description: "Stream duration in seconds"},
			},
		},
		{
			Name:        "new_follower",
			Kind:        platform.KindAction,
			Description: "Triggered when someone follows the channel",
			Outputs: []platform.OutputField{
				{Name: "followerName", Type: "string", Description: "Name of the new follower"},
				{Name: "followerId", Type: "string", Description: "ID of the new follower"},
				{Name: "followedAt", Type: "string", Description: "Timestamp of follow"},
			},
		},
		{
			Name:        "viewer_count_threshold",
			Kind:        platform.KindAction,
			Description: "Triggered when viewer count reaches a threshold",
			Parameters: []platform.ParameterInfo{
				{Name: "threshold", Type: "number", Required: true, Description: "Viewer count threshold"},
			},
			Outputs: []platform.OutputField{
				{Name: "viewerCount", Type: "number", Description: "Current viewer count"},
				{Name: "streamTitle", Type: "string", Description: "Stream title"},
			},
		},
		{
			Name:        "update_stream_title",
			Kind:        platform.KindReaction,
			Description: "Update the stream title",
			Parameters: []platform.ParameterInfo{
				{Name: "title", Type: "string", Required: true, Description: "New stream title"},
			},
		},
		{
			Name:        "update_stream_game",
			Kind:        platform.KindReaction,
			Description: "Update the game/category being played",
			Parameters: []platform.ParameterInfo{
				{Name: "gameName", Type: "string", Required: true, Description: "Name of the game"},
			},
		},
		{
			Name:        "send_chat_message",
			Kind:        platform.KindReaction,
			Description: "Send a message in chat (stream must be live)",
			Parameters: []platform.ParameterInfo{
				{Name: "message", Type: "string", Required: true, Description: "Message to send"},
			},
		},
		{
			Name:        "create_clip",
			Kind:        platform.KindReaction,
			Description: "Create a clip of the current stream (stream must be live)",
			Parameters: []platform.ParameterInfo{
				{Name: "hasDelay", Type: "boolean", Default: false, Description: "Include broadcast delay"},
			},
			Outputs: []platform.OutputField{
				{Name: "clipId", Type: "string"},
				{Name: "editUrl", Type: "string"},
			},
		},
		{
			Name:        "start_commercial",
			Kind:        platform.KindReaction,
			Description: "Start a commercial break (stream must be live)",
			Parameters: []platform.ParameterInfo{
				{Name: "length", Type: "integer", Default: 30, Description: "Commercial length in seconds (30, 60, 90, 120, 150, 180)"},
			},
			Outputs: []platform.OutputField{
				{Name: "length", Type: "integer"},
				{Name: "retryAfter", Type: "integer", Description: "Seconds until the next commercial may run"},
			},
		},
		{
			Name:        "create_stream_marker",
			Kind:        platform.KindReaction,
			Description: "Create a marker in the stream (stream must be live)",
			Parameters: []platform.ParameterInfo{
				{Name: "description", Type: "string", Default: "Stream marker", Description: "Marker description"},
			},
			Outputs: []platform.OutputField{
				{Name: "markerId", Type: "string"},
				{Name: "positionSeconds", Type: "integer"},
			},
		},
	}
}
