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

// Package secrets implements the secrets command group for storing values
// that configuration files reference as keychain:<key> or secret:<key>.
package secrets

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/areahub/internal/commands/shared"
	"github.com/tombee/areahub/internal/secrets"
)

var (
	secretBackend string
	secretUnmask  bool
)

// newResolver is replaced in tests.
var newResolver = secrets.NewDefaultResolver

// NewCommand creates the secrets command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage secrets referenced from configuration",
		Long: `Manage secrets that configuration values reference instead of holding
them in plain text, e.g.

  integrations:
    gmail:
      client_secret: keychain:gmail/client_secret

Backends, checked in priority order:
  1. Environment variables AREAHUB_SECRET_<KEY> (read-only)
  2. System keychain`,
	}

	cmd.AddCommand(newSetCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newDeleteCommand())

	return cmd
}

func newSetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Store a secret",
		Long: `Store a secret. The value is read from a hidden prompt, or from standard
input when it is not a terminal.

Examples:
  areahub secrets set gmail/client_secret
  echo "$SECRET" | areahub secrets set twitch/client_secret`,
		Args: cobra.ExactArgs(1),
		RunE: runSet,
	}
	cmd.Flags().StringVar(&secretBackend, "backend", "", "Target backend (default: first writable)")
	return cmd
}

func newGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Show a secret (masked unless --unmask)",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
	cmd.Flags().BoolVar(&secretUnmask, "unmask", false, "Show the full value")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a secret from every writable backend",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
}

func runSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if err := validateKey(key); err != nil {
		return err
	}

	value, err := readValue(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to read secret value: %w", err)
	}
	if value == "" {
		return errors.New("secret value cannot be empty")
	}

	if err := newResolver().Set(cmd.Context(), key, value, secretBackend); err != nil {
		if errors.Is(err, secrets.ErrBackendUnavailable) {
			return fmt.Errorf("%w\n\nSet it in the environment instead: export %s=<value>", err, secrets.EnvKey(key))
		}
		return shared.NewExecutionError("failed to set secret", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Secret %q stored\n", key)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	value, err := newResolver().Get(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return fmt.Errorf("secret not found: %q\n\nSet it with: areahub secrets set %s", args[0], args[0])
		}
		return shared.NewExecutionError("failed to get secret", err)
	}

	out := cmd.OutOrStdout()
	if secretUnmask {
		fmt.Fprintln(out, value)
		return nil
	}
	fmt.Fprintf(out, "%s (use --unmask to show full value)\n", maskSecret(value))
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	if err := newResolver().Delete(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return fmt.Errorf("secret not found: %q", args[0])
		}
		return shared.NewExecutionError("failed to delete secret", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Secret %q deleted\n", args[0])
	return nil
}

func readValue(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Enter secret value (hidden): ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("secret key cannot be empty")
	}
	if strings.ContainsAny(key, " \t\n:") {
		return fmt.Errorf("invalid secret key %q: must not contain whitespace or ':'", key)
	}
	return nil
}
