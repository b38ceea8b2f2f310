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

package subscribe

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/trclient/internal/commands/shared"
	"github.com/tombee/trclient/internal/topic"
)

// TopicInfo is one entry of the topics JSON output.
type TopicInfo struct {
	Name        string `json:"name"`
	Usage       string `json:"usage,omitempty"`
	Description string `json:"description"`
	Once        bool   `json:"once"`
}

// NewTopicsCommand creates the topics command
func NewTopicsCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "topics",
		Short:       "List known topics and their arguments",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{shared.GroupAnnotation: shared.GroupStreaming},
		RunE:        runTopics,
	}
}

func runTopics(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	all := topic.All()

	if shared.GetJSON() {
		infos := make([]TopicInfo, 0, len(all))
		for _, d := range all {
			infos = append(infos, TopicInfo{
				Name:        d.Name,
				Usage:       d.Usage(),
				Description: d.Description,
				Once:        d.Once,
			})
		}
		return shared.EmitJSON(out, struct {
			shared.JSONResponse
			Topics []TopicInfo `json:"topics"`
		}{
			JSONResponse: shared.NewJSONResponse("topics", true),
			Topics:       infos,
		})
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, shared.RenderHeader("TOPIC")+"\t"+shared.RenderHeader("ARGS")+"\t"+shared.RenderHeader("DESCRIPTION"))
	for _, d := range all {
		desc := d.Description
		if d.Once {
			desc += " " + shared.RenderLabel("(once)")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, d.Usage(), desc)
	}
	return w.Flush()
}
