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

// Package credentials implements the credentials command group used to
// seed, inspect and revoke stored OAuth credentials.
package credentials

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/areahub/internal/commands/shared"
	"github.com/tombee/areahub/internal/hub"
	internallog "github.com/tombee/areahub/internal/log"
	"github.com/tombee/areahub/internal/platform"
)

var (
	credUser      string
	credExpiresIn time.Duration
)

// NewCommand creates the credentials command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored user credentials",
		Long: `Manage the OAuth credentials areahub holds for each (user, integration).

Commands:
  set         Store an access token and optional refresh token
  show        Show a credential with tokens masked
  list        List users holding a credential for an integration
  disconnect  Release upstream subscriptions and delete a credential`,
	}

	cmd.AddCommand(newSetCommand())
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newDisconnectCommand())

	return cmd
}

func addUserFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&credUser, "user", "", "User id (required)")
	_ = cmd.MarkFlagRequired("user")
}

func newSetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <integration>",
		Short: "Store an access token and optional refresh token",
		Long: `Store a credential as if an authorization flow had just completed.

Tokens are read from a hidden prompt, or from standard input when it is not
a terminal: the first line is the access token, the optional second line
the refresh token. An existing cursor is kept.

Examples:
  areahub credentials set gmail --user 42 --expires-in 1h
  printf '%s\n%s\n' "$ACCESS" "$REFRESH" | areahub credentials set gmail --user 42`,
		Args: cobra.ExactArgs(1),
		RunE: runSet,
	}
	addUserFlag(cmd)
	cmd.Flags().DurationVar(&credExpiresIn, "expires-in", 0, "Access token lifetime (0 means non-expiring)")
	return cmd
}

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <integration>",
		Short: "Show a credential with tokens masked",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	addUserFlag(cmd)
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <integration>",
		Short: "List users holding a credential for an integration",
		Args:  cobra.ExactArgs(1),
		RunE:  runList,
	}
}

func newDisconnectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disconnect <integration>",
		Short: "Release upstream subscriptions and delete a credential",
		Args:  cobra.ExactArgs(1),
		RunE:  runDisconnect,
	}
	addUserFlag(cmd)
	return cmd
}

func runSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	access, refresh, err := readTokens(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to read tokens: %w", err)
	}
	if access == "" {
		return &shared.ExitError{Code: shared.ExitInvalidRequest, Message: "access token cannot be empty"}
	}

	h, _, err := shared.OpenHub(ctx, hub.Options{})
	if err != nil {
		return err
	}
	defer h.Close()
	if _, ok := h.Adapter(args[0]); !ok {
		return &shared.ExitError{Code: shared.ExitInvalidRequest, Message: fmt.Sprintf("integration %q is not enabled", args[0])}
	}

	c, err := h.Manager().Save(ctx, credUser, args[0], &platform.TokenGrant{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    credExpiresIn,
	})
	if err != nil {
		return shared.NewExecutionError("failed to store credential", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Credential stored for user %s on %s\n", c.UserID, c.Integration)
	return nil
}

// readTokens prompts with hidden input on a terminal and reads up to two
// lines otherwise.
func readTokens(in io.Reader, prompt io.Writer) (access, refresh string, err error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Access token (hidden): ")
		a, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", "", err
		}
		fmt.Fprint(prompt, "Refresh token (hidden, optional): ")
		r, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", "", err
		}
		return strings.TrimSpace(string(a)), strings.TrimSpace(string(r)), nil
	}

	scanner := bufio.NewScanner(in)
	var lines []string
	for scanner.Scan() && len(lines) < 2 {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}
	if len(lines) > 0 {
		access = lines[0]
	}
	if len(lines) > 1 {
		refresh = lines[1]
	}
	return access, refresh, nil
}

type credentialView struct {
	UserID       string     `json:"userId"`
	Integration  string     `json:"integration"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Cursor       string     `json:"cursor,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	h, _, err := shared.OpenHub(ctx, hub.Options{})
	if err != nil {
		return err
	}
	defer h.Close()

	c, err := h.Store().Get(ctx, credUser, args[0])
	if err != nil {
		return shared.NewExecutionError("failed to load credential", err)
	}
	if c == nil {
		return &shared.ExitError{
			Code:    shared.ExitReauthorize,
			Message: fmt.Sprintf("no credential for user %s on %s", credUser, args[0]),
		}
	}

	view := credentialView{
		UserID:      c.UserID,
		Integration: c.Integration,
		AccessToken: internallog.SanitizeToken(c.AccessToken),
		ExpiresAt:   c.ExpiresAt,
		Cursor:      c.Cursor,
		UpdatedAt:   c.UpdatedAt,
	}
	if c.RefreshToken != "" {
		view.RefreshToken = internallog.SanitizeToken(c.RefreshToken)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, view)
	}
	fmt.Fprintf(out, "User:          %s\n", view.UserID)
	fmt.Fprintf(out, "Integration:   %s\n", view.Integration)
	fmt.Fprintf(out, "Access token:  %s\n", view.AccessToken)
	if view.RefreshToken != "" {
		fmt.Fprintf(out, "Refresh token: %s\n", view.RefreshToken)
	} else {
		fmt.Fprintln(out, "Refresh token: (none)")
	}
	if view.ExpiresAt != nil {
		fmt.Fprintf(out, "Expires at:    %s\n", view.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(out, "Expires at:    never")
	}
	if view.Cursor != "" {
		fmt.Fprintf(out, "Cursor:        %s\n", view.Cursor)
	} else {
		fmt.Fprintln(out, "Cursor:        (uninitialized)")
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	h, _, err := shared.OpenHub(ctx, hub.Options{})
	if err != nil {
		return err
	}
	defer h.Close()

	users, err := h.Store().ListUsers(ctx, args[0])
	if err != nil {
		return shared.NewExecutionError("failed to list users", err)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if users == nil {
			users = []string{}
		}
		return shared.EmitJSON(out, users)
	}
	for _, u := range users {
		fmt.Fprintln(out, u)
	}
	return nil
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	h, _, err := shared.OpenHub(ctx, hub.Options{})
	if err != nil {
		return err
	}
	defer h.Close()

	if _, ok := h.Adapter(args[0]); !ok {
		return &shared.ExitError{Code: shared.ExitInvalidRequest, Message: fmt.Sprintf("integration %q is not enabled", args[0])}
	}
	if err := h.Manager().Disconnect(ctx, credUser, args[0]); err != nil {
		return shared.NewExecutionError("failed to disconnect", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Disconnected user %s from %s\n", credUser, args[0])
	return nil
}
