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

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/trclient/internal/commands/shared"
	"github.com/tombee/trclient/internal/topic"
)

const docsURL = "https://tombee.github.io/trclient/reference/cli/"

// CommandMetadata describes one command in JSON help output.
type CommandMetadata struct {
	Name        string         `json:"name"`
	Short       string         `json:"short"`
	Long        string         `json:"long,omitempty"`
	Usage       string         `json:"usage"`
	Flags       []FlagMetadata `json:"flags,omitempty"`
	Examples    string         `json:"examples,omitempty"`
	Subcommands []string       `json:"subcommands,omitempty"`
	Group       string         `json:"group,omitempty"`
	Aliases     []string       `json:"aliases,omitempty"`
}

// FlagMetadata describes one flag.
type FlagMetadata struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required"`
}

// TopicMetadata describes a subscription topic. It is attached to the help
// of commands that take a topic argument.
type TopicMetadata struct {
	Name        string `json:"name"`
	Args        string `json:"args,omitempty"`
	Description string `json:"description"`
	Once        bool   `json:"once"`
}

// HelpResponse is the JSON response for help command
type HelpResponse struct {
	shared.JSONResponse
	Commands    []CommandMetadata `json:"commands,omitempty"`
	Detail      *CommandMetadata  `json:"detail,omitempty"`
	Topics      []TopicMetadata   `json:"topics,omitempty"`
	GlobalFlags []FlagMetadata    `json:"global_flags,omitempty"`
	DocsURL     string            `json:"docs_url"`
}

// NewHelpCommand creates the help command
func NewHelpCommand(rootCmd *cobra.Command) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "help [command]",
		Short: "Help about any command",
		Long: `Help provides detailed information about commands and their usage.

Run 'trclient help' to see all available commands.
Run 'trclient help <command>' to see detailed help for a specific command.
Use --json for machine-readable output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			useJSON := shared.GetJSON() || jsonOutput

			target := rootCmd
			if len(args) > 0 {
				found, _, err := rootCmd.Find(args)
				if err != nil || found == rootCmd {
					return shared.NewUsageError(fmt.Sprintf("command %q not found", args[0]), err)
				}
				target = found
			}

			if !useJSON {
				return target.Help()
			}
			return shared.EmitJSON(cmd.OutOrStdout(), buildHelp(rootCmd, target))
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

// buildHelp lists every visible command for the root, or describes target.
func buildHelp(rootCmd, target *cobra.Command) HelpResponse {
	resp := HelpResponse{
		JSONResponse: shared.NewJSONResponse("help", true),
		GlobalFlags:  extractGlobalFlags(rootCmd),
		DocsURL:      docsURL,
	}

	if target == rootCmd {
		resp.Commands = []CommandMetadata{}
		for _, c := range rootCmd.Commands() {
			if !c.Hidden {
				resp.Commands = append(resp.Commands, extractCommandMetadata(c))
			}
		}
		return resp
	}

	resp.Command = "help " + target.Name()
	detail := extractCommandMetadata(target)
	resp.Detail = &detail
	if takesTopic(target) {
		resp.Topics = topicCatalogue()
	}
	return resp
}

// takesTopic reports whether the first positional argument of cmd is a
// topic name.
func takesTopic(cmd *cobra.Command) bool {
	_, args, _ := strings.Cut(cmd.Use, " ")
	return strings.HasPrefix(args, "<topic>")
}

func topicCatalogue() []TopicMetadata {
	all := topic.All()
	out := make([]TopicMetadata, 0, len(all))
	for _, d := range all {
		out = append(out, TopicMetadata{
			Name:        d.Name,
			Args:        d.Usage(),
			Description: d.Description,
			Once:        d.Once,
		})
	}
	return out
}

func extractCommandMetadata(cmd *cobra.Command) CommandMetadata {
	metadata := CommandMetadata{
		Name:     cmd.Name(),
		Short:    cmd.Short,
		Long:     cmd.Long,
		Usage:    cmd.UseLine(),
		Examples: cmd.Example,
		Aliases:  cmd.Aliases,
		Group:    cmd.Annotations[shared.GroupAnnotation],
	}

	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if flag.Hidden {
			return
		}
		metadata.Flags = append(metadata.Flags, flagMetadata(flag))
	})

	for _, sub := range cmd.Commands() {
		if !sub.Hidden {
			metadata.Subcommands = append(metadata.Subcommands, sub.Name())
		}
	}

	return metadata
}

func extractGlobalFlags(rootCmd *cobra.Command) []FlagMetadata {
	var flags []FlagMetadata
	rootCmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Hidden {
			flags = append(flags, flagMetadata(flag))
		}
	})
	return flags
}

func flagMetadata(flag *pflag.Flag) FlagMetadata {
	required := false
	if ann := flag.Annotations[cobra.BashCompOneRequiredFlag]; len(ann) > 0 && ann[0] == "true" {
		required = true
	}
	return FlagMetadata{
		Name:      flag.Name,
		Shorthand: flag.Shorthand,
		Usage:     flag.Usage,
		Default:   flag.DefValue,
		Required:  required,
	}
}
