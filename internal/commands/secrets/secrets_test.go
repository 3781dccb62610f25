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

package secrets

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/tombee/areahub/internal/cli"
	"github.com/tombee/areahub/internal/secrets"
)

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

func TestSecretsRoundTrip(t *testing.T) {
	keyring.MockInit()
	newResolver = func() *secrets.Resolver { return secrets.NewResolver(secrets.NewKeychainBackend()) }
	t.Cleanup(func() { newResolver = secrets.NewDefaultResolver })

	out, err := execute(t, "super-secret-value\n", "secrets", "set", "gmail/client_secret")
	require.NoError(t, err)
	assert.Contains(t, out, `Secret "gmail/client_secret" stored`)

	out, err = execute(t, "", "secrets", "get", "gmail/client_secret")
	require.NoError(t, err)
	assert.Contains(t, out, "supe...alue")
	assert.NotContains(t, out, "super-secret-value")

	out, err = execute(t, "", "secrets", "get", "gmail/client_secret", "--unmask")
	require.NoError(t, err)
	assert.Equal(t, "super-secret-value\n", out)

	_, err = execute(t, "", "secrets", "delete", "gmail/client_secret")
	require.NoError(t, err)

	_, err = execute(t, "", "secrets", "get", "gmail/client_secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret not found")
}

func TestSecretsSetValidation(t *testing.T) {
	keyring.MockInit()

	_, err := execute(t, "value", "secrets", "set", "bad key")
	assert.ErrorContains(t, err, "invalid secret key")

	_, err = execute(t, "", "secrets", "set", "gmail/client_secret")
	assert.ErrorContains(t, err, "cannot be empty")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "abcd...wxyz", maskSecret("abcdefghijklmnopqrstuvwxyz"))
}
