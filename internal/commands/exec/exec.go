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

// Package exec implements the exec command, which dispatches one action or
// reaction on behalf of a user.
package exec

import (
	"github.com/spf13/cobra"

	"github.com/tombee/areahub/internal/commands/shared"
	"github.com/tombee/areahub/internal/hub"
	"github.com/tombee/areahub/internal/operation"
	"github.com/tombee/areahub/internal/platform"
)

var (
	execUser   string
	execConfig string
	execInput  string
	execAction bool
)

// NewCommand creates the exec command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <integration> <operation>",
		Short: "Execute a reaction (or action) for a user",
		Long: `Execute a catalog operation with the user's stored credential and print
the JSON result. --config carries the operator-authored parameters and
--input the runtime data; input wins on conflicting keys.

Examples:
  areahub exec gmail send_email --user 42 \
    --config '{"to":"a@example.com","subject":"Hi"}' --input '{"body":"<p>hello</p>"}'
  areahub exec twitch start_commercial --user 42 --input '{"length":60}'
  areahub exec gmail email_received --action --user 42 --input '{"subject":"x"}'`,
		Args: cobra.ExactArgs(2),
		RunE: run,
	}

	cmd.Flags().StringVar(&execUser, "user", "", "User to act for (required)")
	cmd.Flags().StringVar(&execConfig, "config-json", "", "Static configuration as a JSON object")
	cmd.Flags().StringVar(&execInput, "input", "", "Runtime input as a JSON object")
	cmd.Flags().BoolVar(&execAction, "action", false, "Execute an action instead of a reaction")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfgParams, err := shared.ParseJSONObject("config-json", execConfig)
	if err != nil {
		return err
	}
	input, err := shared.ParseJSONObject("input", execInput)
	if err != nil {
		return err
	}

	h, _, err := shared.OpenHub(ctx, hub.Options{})
	if err != nil {
		return err
	}
	defer h.Close()

	kind := platform.KindReaction
	if execAction {
		kind = platform.KindAction
	}
	result, err := h.Dispatcher().Execute(ctx, operation.Request{
		Kind:        kind,
		Integration: args[0],
		Operation:   args[1],
		UserID:      execUser,
		Config:      cfgParams,
		Input:       input,
	})
	if err != nil {
		return err
	}
	return shared.EmitJSON(cmd.OutOrStdout(), result)
}
