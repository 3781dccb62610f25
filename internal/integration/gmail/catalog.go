package gmail

import (
	"github.com/tombee/areahub/internal/platform"
)

var mailOutputs = []platform.OutputField{
	{Name: "id", Type: "string", Description: "Message ID"},
	{Name: "threadId", Type: "string", Description: "Thread ID"},
	{Name: "message", Type: "string", Description: "Confirmation message"},
}

// Catalog returns the Gmail actions and reactions.
func (a *Adapter) Catalog() []platform.Descriptor {
	return []platform.Descriptor{
		{
			Name:        EmailReceived,
			Kind:        platform.KindAction,
			Description: "Triggered when a new email arrives in the mailbox",
			Outputs: []platform.OutputField{
				{Name: "id", Type: "string", Description: "Message ID"},
				{Name: "threadId", Type: "string", Description: "Thread ID"},
				{Name: "from", Type: "string", Description: "Sender"},
				{Name: "to", Type: "string", Description: "Recipients"},
				{Name: "subject", Type: "string", Description: "Subject line"},
				{Name: "body", Type: "string", Description: "Message body"},
				{Name: "snippet", Type: "string", Description: "Short preview of the body"},
				{Name: "receivedAt", Type: "string", Description: "Receive time in epoch milliseconds"},
			},
		},
		{
			Name:        "send_email",
			Kind:        platform.KindReaction,
			Description: "Send an email",
			Parameters: []platform.ParameterInfo{
				{Name: "to", Type: "string", Required: true, Description: "Recipient address"},
				{Name: "subject", Type: "string", Required: true, Description: "Subject line"},
				{Name: "body", Type: "string", Required: true, Description: "HTML body"},
			},
			Outputs: mailOutputs,
		},
		{
			Name:        "create_draft",
			Kind:        platform.KindReaction,
			Description: "Create a draft email",
			Parameters: []platform.ParameterInfo{
				{Name: "to", Type: "string", Required: true, Description: "Recipient address"},
				{Name: "subject", Type: "string", Required: true, Description: "Subject line"},
				{Name: "body", Type: "string", Required: true, Description: "HTML body"},
			},
			Outputs: []platform.OutputField{
				{Name: "draftId", Type: "string", Description: "Draft ID"},
				{Name: "threadId", Type: "string", Description: "Thread ID"},
				{Name: "message", Type: "string", Description: "Confirmation message"},
			},
		},
		{
			Name:        "add_label",
			Kind:        platform.KindReaction,
			Description: "Apply a label to an email, creating the label if needed",
			Parameters: []platform.ParameterInfo{
				{Name: "id", Type: "string", Required: true, Description: "Message ID"},
				{Name: "labelName", Type: "string", Required: true, Description: "Label to apply"},
			},
			Outputs: []platform.OutputField{
				{Name: "id", Type: "string", Description: "Message ID"},
				{Name: "labels", Type: "array", Description: "Label IDs now on the message"},
				{Name: "message", Type: "string", Description: "Confirmation message"},
			},
		},
		{
			Name:        "flag_email",
			Kind:        platform.KindReaction,
			Description: "Mark an email as important",
			Parameters: []platform.ParameterInfo{
				{Name: "id", Type: "string", Required: true, Description: "Message ID"},
			},
			Outputs: []platform.OutputField{
				{Name: "id", Type: "string", Description: "Message ID"},
				{Name: "flagged", Type: "boolean", Description: "Whether the message carries the IMPORTANT label"},
				{Name: "message", Type: "string", Description: "Confirmation message"},
			},
		},
		{
			Name:        "reply_email",
			Kind:        platform.KindReaction,
			Description: "Reply to an email in its thread",
			Parameters: []platform.ParameterInfo{
				{Name: "id", Type: "string", Required: true, Description: "Message ID to reply to"},
				{Name: "body", Type: "string", Required: true, Description: "HTML reply body"},
			},
			Outputs: mailOutputs,
		},
	}
}
