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

package tracing

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupStdoutExportsSpans(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	p, err := Setup(ctx, Config{Exporter: "stdout", Writer: &buf})
	require.NoError(t, err)

	_, span := p.TracerProvider().Tracer("test").Start(ctx, "gmail.send_email")
	span.End()

	require.NoError(t, p.Shutdown(ctx))
	assert.Contains(t, buf.String(), "gmail.send_email")
	assert.Contains(t, buf.String(), "areahub")
}

func TestSetupNoneExporter(t *testing.T) {
	ctx := context.Background()

	p, err := Setup(ctx, Config{Exporter: "none", ServiceName: "hub-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(ctx) })

	_, span := p.TracerProvider().Tracer("test").Start(ctx, "noop")
	span.End()
	assert.True(t, span.SpanContext().IsValid())
}

func TestSetupUnknownExporter(t *testing.T) {
	_, err := Setup(context.Background(), Config{Exporter: "zipkin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zipkin")
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	ctx := context.Background()
	p, err := Setup(ctx, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(ctx) })

	counter, err := p.MeterProvider().Meter("test").Int64Counter("hub_test_events")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	srv := httptest.NewServer(p.MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "hub_test_events")
}
