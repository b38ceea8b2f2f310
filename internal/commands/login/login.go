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

// Package login implements the login and logout commands.
package login

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/trclient/internal/commands/shared"
)

// Result is the JSON output of login and logout.
type Result struct {
	shared.JSONResponse
	State string `json:"state,omitempty"`
}

// NewLoginCommand creates the login command
func NewLoginCommand() *cobra.Command {
	var creds shared.CredentialFlags

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session",
		Long: `Log in to the brokerage and save the session for later commands.

A saved session is reused when the server still accepts it. Otherwise the
full login runs: the phone number and PIN are sent, a device PIN is sent to
your phone, and you are asked to enter it.`,
		Example: `  # Interactive login
  trclient login

  # Phone and PIN from flags and environment, device PIN prompted
  TRCLIENT_PIN=1234 trclient login --phone +4915112345678`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{shared.GroupAnnotation: shared.GroupSession},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, creds)
		},
	}

	creds.Register(cmd.Flags())
	return cmd
}

func runLogin(cmd *cobra.Command, creds shared.CredentialFlags) error {
	out := cmd.OutOrStdout()

	rt, err := shared.LoadRuntime(out, cmd.ErrOrStderr())
	if err != nil {
		return fail(cmd, "login", err)
	}
	ctx := cmd.Context()
	defer rt.Close(context.WithoutCancel(ctx))

	c, err := rt.Login(ctx, creds)
	if err != nil {
		return fail(cmd, "login", err)
	}
	// Close keeps the saved session.
	defer c.Close(context.WithoutCancel(ctx))

	if shared.GetJSON() {
		return shared.EmitJSON(out, Result{
			JSONResponse: shared.NewJSONResponse("login", true),
			State:        c.State().String(),
		})
	}
	if !shared.GetQuiet() {
		fmt.Fprintln(out, shared.RenderOK("Logged in"))
		fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel("connection:"), shared.RenderState(c.State()))
	}
	return nil
}

// NewLogoutCommand creates the logout command
func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "logout",
		Short:       "Discard the saved session",
		Long:        `Discard the saved session. The next login runs the full PIN handshake.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{shared.GroupAnnotation: shared.GroupSession},
		RunE:        runLogout,
	}
}

func runLogout(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	rt, err := shared.LoadRuntime(out, cmd.ErrOrStderr())
	if err != nil {
		return fail(cmd, "logout", err)
	}
	defer rt.Close(context.WithoutCancel(cmd.Context()))

	c, err := rt.NewClient(nil)
	if err != nil {
		return fail(cmd, "logout", err)
	}
	if err := c.Logout(cmd.Context()); err != nil {
		return fail(cmd, "logout", fmt.Errorf("failed to discard session: %w", err))
	}

	if shared.GetJSON() {
		return shared.EmitJSON(out, Result{JSONResponse: shared.NewJSONResponse("logout", true)})
	}
	if !shared.GetQuiet() {
		fmt.Fprintln(out, shared.RenderOK("Logged out"))
	}
	return nil
}

// fail emits a JSON error envelope when --json is set and returns err for
// the exit code.
func fail(cmd *cobra.Command, command string, err error) error {
	if shared.GetJSON() {
		shared.EmitJSONError(cmd.OutOrStdout(), command, err)
	}
	return err
}
