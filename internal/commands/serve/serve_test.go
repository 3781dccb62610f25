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

package serve

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/areahub/internal/config"
	"github.com/tombee/areahub/internal/hub"
	internallog "github.com/tombee/areahub/internal/log"
	"github.com/tombee/areahub/internal/tracing"
)

func TestMux(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.Backend = config.BackendMemory
	cfg.Integrations["gmail"] = config.IntegrationConfig{Enabled: true, ClientID: "id", ClientSecret: "secret"}

	h, err := hub.New(ctx, cfg, hub.Options{Logger: internallog.Discard()})
	require.NoError(t, err)
	defer h.Close()

	provider, err := tracing.Setup(ctx, tracing.Config{})
	require.NoError(t, err)
	defer provider.Shutdown(ctx)

	srv := httptest.NewServer(newMux(h, provider.MetricsHandler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, []string{"gmail"}, body.Integrations)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)

	post, err := http.Post(srv.URL+"/healthz", "text/plain", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}
