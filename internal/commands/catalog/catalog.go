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

// Package catalog implements the catalog command.
package catalog

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/areahub/internal/commands/shared"
	"github.com/tombee/areahub/internal/config"
	"github.com/tombee/areahub/internal/hub"
	"github.com/tombee/areahub/internal/platform"
)

// NewCommand creates the catalog command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog [integration]",
		Short: "List the actions and reactions integrations publish",
		Long: `List the actions (triggers) and reactions (effects) each integration
publishes, with their parameters. Catalogs are static, so no credentials or
configuration are needed.

Examples:
  areahub catalog
  areahub catalog gmail
  areahub catalog twitch --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: run,
	}
}

func run(cmd *cobra.Command, args []string) error {
	names := make([]string, 0, len(hub.Factories))
	for name := range hub.Factories {
		names = append(names, name)
	}
	slices.Sort(names)

	if len(args) == 1 {
		if _, ok := hub.Factories[args[0]]; !ok {
			return &shared.ExitError{
				Code:    shared.ExitInvalidRequest,
				Message: fmt.Sprintf("unknown integration %q (available: %s)", args[0], strings.Join(names, ", ")),
			}
		}
		names = args
	}

	catalogs := make(map[string][]platform.Descriptor, len(names))
	for _, name := range names {
		catalogs[name] = hub.Factories[name](config.IntegrationConfig{}, nil).Catalog()
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, catalogs)
	}
	for i, name := range names {
		if i > 0 {
			fmt.Fprintln(out)
		}
		printCatalog(out, name, catalogs[name])
	}
	return nil
}

func printCatalog(out io.Writer, name string, catalog []platform.Descriptor) {
	fmt.Fprintf(out, "%s\n", name)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, d := range catalog {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", d.Kind, d.Name, d.Description)
		for _, p := range d.Parameters {
			required := ""
			if p.Required {
				required = " (required)"
			}
			fmt.Fprintf(tw, "  \t  %s: %s%s\t%s\n", p.Name, p.Type, required, p.Description)
		}
	}
	_ = tw.Flush()
}
