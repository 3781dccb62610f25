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

package credentials

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/tombee/areahub/internal/cli"
	"github.com/tombee/areahub/internal/commands/shared"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	keyring.MockInit()

	dir := t.TempDir()
	path := filepath.Join(dir, "areahub.yaml")
	content := fmt.Sprintf(`
log:
  level: error
store:
  backend: sqlite
  sqlite:
    path: %s
  encryption_key: test-master-key
integrations:
  gmail:
    enabled: true
    client_id: id
    client_secret: secret
`, filepath.Join(dir, "credentials.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := cli.NewRootCommand()
	root.AddCommand(NewCommand())

	var out bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCredentialsLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "ya29.access-token-1234\n1//refresh-token-5678\n",
		"--config", cfg, "credentials", "set", "gmail", "--user", "u1", "--expires-in", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "Credential stored for user u1 on gmail")

	out, err = execute(t, "", "--config", cfg, "credentials", "show", "gmail", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "...1234")
	assert.Contains(t, out, "...5678")
	assert.NotContains(t, out, "access-token", "tokens are masked")
	assert.Contains(t, out, "(uninitialized)")

	out, err = execute(t, "", "--config", cfg, "--json", "credentials", "list", "gmail")
	require.NoError(t, err)
	var users []string
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	assert.Equal(t, []string{"u1"}, users)

	out, err = execute(t, "", "--config", cfg, "credentials", "disconnect", "gmail", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Disconnected user u1 from gmail")

	_, err = execute(t, "", "--config", cfg, "credentials", "show", "gmail", "--user", "u1")
	require.Error(t, err)
	assert.Equal(t, shared.ExitReauthorize, shared.ExitCodeFor(err))
}

func TestCredentialsSetRejectsEmptyToken(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "\n", "--config", cfg, "credentials", "set", "gmail", "--user", "u1")
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidRequest, shared.ExitCodeFor(err))
}

func TestCredentialsSetUnknownIntegration(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "token\n", "--config", cfg, "credentials", "set", "twitch", "--user", "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enabled")
}

func TestCredentialsRequireUser(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "", "--config", cfg, "credentials", "show", "gmail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user")
}

func TestReadTokensFromPipe(t *testing.T) {
	access, refresh, err := readTokens(strings.NewReader("  a  \n r \nextra\n"), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "a", access)
	assert.Equal(t, "r", refresh)

	access, refresh, err = readTokens(strings.NewReader("only"), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "only", access)
	assert.Empty(t, refresh)
}
