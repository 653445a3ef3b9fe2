// ABOUTME: MCP server subcommand
// ABOUTME: Serves the sync tools and resources over stdio for agent integration
package cli

import (
	"github.com/harperreed/contactsync/handlers"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

func newMCPCommand(opts *rootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}

			app.Logger.Info("starting contactsync MCP server", "version", version)
			server := handlers.NewServer(version, app.Engine, app.Dispatcher)
			return server.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}
