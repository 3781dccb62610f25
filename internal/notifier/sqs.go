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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSClient is the subset of the SQS API the notifier uses.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier sends each event as one SQS message.
type SQSNotifier struct {
	client   SQSClient
	queueURL string
	fifo     bool
}

// sqsMessage is the JSON message body.
type sqsMessage struct {
	ID          string         `json:"id"`
	Event       string         `json:"event"`
	Integration string         `json:"integration"`
	UserID      string         `json:"userId"`
	Marker      string         `json:"marker,omitempty"`
	Data        map[string]any `json:"data"`
}

// NewSQSNotifier creates a notifier using client.
func NewSQSNotifier(client SQSClient, queueURL string) (*SQSNotifier, error) {
	if client == nil {
		return nil, errors.New("sqs client is required")
	}
	if strings.TrimSpace(queueURL) == "" {
		return nil, errors.New("sqs queue URL is required")
	}
	return &SQSNotifier{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}, nil
}

// NewSQSNotifierFromEnv loads the default AWS configuration and creates
// the notifier. An empty region uses the configured default.
func NewSQSNotifierFromEnv(ctx context.Context, queueURL, region string) (*SQSNotifier, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSQSNotifier(sqs.NewFromConfig(cfg), queueURL)
}

// Notify sends the event. FIFO queues group messages per user so one
// user's events stay ordered.
func (n *SQSNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(sqsMessage{
		ID:          event.ID,
		Event:       event.Name,
		Integration: event.Integration,
		UserID:      event.UserID,
		Marker:      event.Marker,
		Data:        event.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event":       stringAttribute(event.Name),
			"integration": stringAttribute(event.Integration),
		},
	}
	if n.fifo {
		input.MessageGroupId = aws.String(event.Integration + ":" + event.UserID)
		input.MessageDeduplicationId = aws.String(event.ID)
	}

	if _, err := n.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("failed to send trigger event: %w", err)
	}
	return nil
}

func stringAttribute(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}
