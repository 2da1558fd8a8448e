package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/crewdev/crew/internal/mcpserver"
	"github.com/crewdev/crew/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the task facade over MCP (stdio)",
	Long: `Expose crew's task operations as MCP tools on stdio, so coding
agents can create tasks, move them through the pipeline, record
blockers and gate verdicts, and inspect the plan.

Add to your agent's MCP config:

  {
    "mcpServers": {
      "crew": {
        "command": "crew",
        "args": ["serve"]
      }
    }
  }

The server works against the same persisted registry as the rest of
the CLI; changes made by tools are visible to 'crew status' at once.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	co, cleanup, err := openFacade()
	if err != nil {
		return err
	}
	defer cleanup()

	s := mcpserver.New(co, version.Get())

	// Anything for humans goes to stderr; stdout belongs to the MCP
	// transport.
	fmt.Fprintf(os.Stderr, "crew v%s MCP server listening on stdio\n", version.Get())

	return server.ServeStdio(s)
}
