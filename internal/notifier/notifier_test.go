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
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	ceevent "github.com/cloudevents/sdk-go/v2/event"
	"github.com/golang-jwt/jwt/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPNotifierDeliversCloudEvent(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotSig  string
		gotType string
		gotBody []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotSig = r.Header.Get(SignatureHeader)
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n, err := NewHTTPNotifier(HTTPConfig{
		BaseURL:       server.URL + "/",
		SigningKey:    "signing-key",
		WebhookSecret: "hook-secret",
	})
	require.NoError(t, err)

	event := NewEvent("email_received", "gmail", "user-1", map[string]any{"subject": "Hello"})
	event.Marker = "1234"
	require.NoError(t, n.Notify(context.Background(), event))

	assert.Equal(t, "/workflow/trigger/gmail/email_received", gotPath)
	assert.Equal(t, cloudEventsContentType, gotType)
	assert.Equal(t, Sign(gotBody, []byte("hook-secret")), gotSig)

	require.True(t, strings.HasPrefix(gotAuth, "Bearer "))
	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimPrefix(gotAuth, "Bearer "), claims, func(*jwt.Token) (any, error) {
		return []byte("signing-key"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	assert.Equal(t, "gmail", claims.Subject)
	assert.Equal(t, "areahub", claims.Issuer)

	var ce ceevent.Event
	require.NoError(t, json.Unmarshal(gotBody, &ce))
	assert.Equal(t, event.ID, ce.ID())
	assert.Equal(t, "areahub.gmail.email_received", ce.Type())
	assert.Equal(t, "user-1", ce.Subject())
	assert.Equal(t, "1234", ce.Extensions()["marker"])

	var data triggerBody
	require.NoError(t, ce.DataAs(&data))
	assert.Equal(t, "user-1", data.UserID)
	assert.Equal(t, "Hello", data.Data["subject"])
}

func TestHTTPNotifierRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no workflow listens to this trigger", http.StatusNotFound)
	}))
	defer server.Close()

	n, err := NewHTTPNotifier(HTTPConfig{BaseURL: server.URL})
	require.NoError(t, err)

	err = n.Notify(context.Background(), NewEvent("email_received", "gmail", "u", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no workflow listens")
}

func TestHTTPNotifierOmitsOptionalHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" || r.Header.Get(SignatureHeader) != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n, err := NewHTTPNotifier(HTTPConfig{BaseURL: server.URL, Timeout: time.Second})
	require.NoError(t, err)
	assert.NoError(t, n.Notify(context.Background(), NewEvent("e", "i", "u", nil)))
}

func TestNewHTTPNotifierRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPNotifier(HTTPConfig{BaseURL: "  "})
	assert.Error(t, err)
}

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSNotifier(t *testing.T) {
	client := &fakeSQS{}
	n, err := NewSQSNotifier(client, "https://sqs.eu-west-1.amazonaws.com/123456789012/triggers")
	require.NoError(t, err)

	event := NewEvent("email_received", "gmail", "user-1", map[string]any{"id": "m1"})
	require.NoError(t, n.Notify(context.Background(), event))

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Nil(t, in.MessageGroupId)
	assert.Equal(t, "email_received", *in.MessageAttributes["event"].StringValue)
	assert.Equal(t, "gmail", *in.MessageAttributes["integration"].StringValue)

	var msg sqsMessage
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &msg))
	assert.Equal(t, "user-1", msg.UserID)
	assert.Equal(t, "m1", msg.Data["id"])
}

func TestSQSNotifierFIFO(t *testing.T) {
	client := &fakeSQS{}
	n, err := NewSQSNotifier(client, "https://sqs.eu-west-1.amazonaws.com/123456789012/triggers.fifo")
	require.NoError(t, err)

	event := NewEvent("email_received", "gmail", "user-1", nil)
	require.NoError(t, n.Notify(context.Background(), event))

	in := client.inputs[0]
	require.NotNil(t, in.MessageGroupId)
	assert.Equal(t, "gmail:user-1", *in.MessageGroupId)
	assert.Equal(t, event.ID, *in.MessageDeduplicationId)
}

func TestSQSNotifierPropagatesErrors(t *testing.T) {
	client := &fakeSQS{err: io.ErrUnexpectedEOF}
	n, err := NewSQSNotifier(client, "https://sqs.eu-west-1.amazonaws.com/1/q")
	require.NoError(t, err)
	assert.ErrorIs(t, n.Notify(context.Background(), NewEvent("e", "i", "u", nil)), io.ErrUnexpectedEOF)
}

func TestRedisNotifier(t *testing.T) {
	addr := os.Getenv("AREAHUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AREAHUB_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	stream := "areahub:test:" + NewEvent("", "", "", nil).ID

	n, err := NewRedisNotifier(ctx, RedisConfig{Addr: addr, Stream: stream, MaxLen: 10})
	require.NoError(t, err)
	defer n.Close()

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	defer client.Close()
	defer client.Del(ctx, stream)

	require.NoError(t, n.Notify(ctx, NewEvent("email_received", "gmail", "user-1", map[string]any{"id": "m1"})))

	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "email_received", msgs[0].Values["event"])
	assert.Equal(t, "user-1", msgs[0].Values["user_id"])
	assert.JSONEq(t, `{"id":"m1"}`, msgs[0].Values["payload"].(string))
}

func TestNewChangeEventIDIsStable(t *testing.T) {
	payload := map[string]any{"id": "msg-1", "subject": "hi"}
	first := NewChangeEvent("email_received", "gmail", "alice", "101", payload)
	again := NewChangeEvent("email_received", "gmail", "alice", "101", map[string]any{"id": "msg-1"})

	assert.Equal(t, first.ID, again.ID, "redelivery keeps the id")
	assert.Equal(t, "101", first.Marker)

	assert.NotEqual(t, first.ID, NewChangeEvent("email_received", "gmail", "bob", "101", payload).ID)
	assert.NotEqual(t, first.ID, NewChangeEvent("email_received", "gmail", "alice", "101", map[string]any{"id": "msg-2"}).ID)

	noID := map[string]any{"subject": "hi", "from": "bob"}
	assert.Equal(t,
		NewChangeEvent("e", "gmail", "alice", "7", noID).ID,
		NewChangeEvent("e", "gmail", "alice", "7", map[string]any{"from": "bob", "subject": "hi"}).ID)
}
