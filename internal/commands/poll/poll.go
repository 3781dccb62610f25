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

// Package poll implements the poll command.
package poll

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/areahub/internal/commands/shared"
	"github.com/tombee/areahub/internal/hub"
	"github.com/tombee/areahub/internal/notifier"
)

var (
	pollUser   string
	pollDryRun bool
)

// NewCommand creates the poll command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll <integration>",
		Short: "Run one poll cycle for an integration",
		Long: `Run a single poll cycle for every user of an integration, or for one
user with --user, then print each user's poller state and cursor.

With --dry-run, detected events are logged instead of being delivered to
the configured notifier. Cursors still advance.

Examples:
  areahub poll gmail
  areahub poll gmail --user 42 --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: run,
	}

	cmd.Flags().StringVar(&pollUser, "user", "", "Poll only this user")
	cmd.Flags().BoolVar(&pollDryRun, "dry-run", false, "Log events instead of notifying")

	return cmd
}

type userStatus struct {
	UserID string `json:"userId"`
	State  string `json:"state"`
	Cursor string `json:"cursor"`
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	integration := args[0]

	var opts hub.Options
	if pollDryRun {
		cfg, err := shared.LoadConfig(ctx)
		if err != nil {
			return err
		}
		opts.Logger = shared.NewLogger(cfg)
		opts.Notifier = notifier.NewLogNotifier(opts.Logger)
	}
	h, _, err := shared.OpenHub(ctx, opts)
	if err != nil {
		return err
	}
	defer h.Close()

	p, err := h.Poller(integration)
	if err != nil {
		return &shared.ExitError{Code: shared.ExitInvalidRequest, Message: "cannot poll " + integration, Cause: err}
	}

	var pollErr error
	if pollUser != "" {
		pollErr = p.PollUser(ctx, pollUser)
	} else {
		pollErr = p.Tick(ctx)
	}

	states := p.States()
	users := make([]string, 0, len(states))
	for user := range states {
		users = append(users, user)
	}
	slices.Sort(users)

	statuses := make([]userStatus, 0, len(users))
	for _, user := range users {
		status := userStatus{UserID: user, State: string(states[user])}
		if c, err := h.Store().Get(ctx, user, integration); err == nil && c != nil {
			status.Cursor = c.Cursor
		}
		statuses = append(statuses, status)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if err := shared.EmitJSON(out, statuses); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "USER\tSTATE\tCURSOR")
		for _, s := range statuses {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.UserID, s.State, s.Cursor)
		}
		_ = tw.Flush()
	}

	if pollErr != nil {
		return shared.NewExecutionError("poll completed with failures", pollErr)
	}
	return nil
}
