package cmd

import (
	"github.com/spf13/cobra"

	mcpserver "github.com/joescharf/am/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an orchestrating agent query am natively for blocker
detection, session lists, and liveliness scores. Configure with:

  {
    "mcpServers": {
      "am": { "command": "am", "args": ["mcp"] }
    }
  }

Available tools: am_detect_blocker, am_check_session, am_list_sessions,
am_session_health, am_list_projects`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		d, err := getDetector()
		if err != nil {
			return err
		}

		srv := mcpserver.NewServer(s, d, getAssessor())
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
