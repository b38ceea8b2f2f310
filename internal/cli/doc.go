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

/*
Package cli provides the root command and help for the trclient CLI.

This package creates the root Cobra command and handles global concerns like
version information, persistent flags and exit codes. Individual commands
are implemented in the internal/commands subpackages.

# Command Tree

	trclient
	├── login       Pair this device or restore the saved session
	├── logout      Forget the saved session
	├── subscribe   Stream a topic to stdout
	├── topics      List known topics
	├── version     Show version
	└── help        Show help

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	rootCmd := cli.NewRootCommand()
	// ... add commands ...
	if err := rootCmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Global Flags

	--verbose, -v    Enable debug logging
	--quiet, -q      Only log errors
	--json           Output in JSON format
	--config         Path to config file

# Exit Codes

  - 0: Success
  - 1: General error
  - 2: Invalid usage
  - 3: Login failed
  - 4: Configuration error
  - 70: Input required but stdin is not interactive
*/
package cli
