package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joestump/skillwatch/internal/mcpserver"
)

func serveMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-mcp",
		Short: "Serve the history queries as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newApp().openStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			return mcpserver.NewServer(st).Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func installMCPCmd() *cobra.Command {
	var file, name string
	cmd := &cobra.Command{
		Use:   "install-mcp",
		Short: "Register serve-mcp in an MCP client configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
			db, err := filepath.Abs(a.cfg.DBPath)
			if err != nil {
				return err
			}
			replaced, err := mcpserver.Install(file, name, mcpserver.ServerEntry{
				Command: exe,
				Args:    []string{"serve-mcp", "--db", db},
			})
			if err != nil {
				return err
			}
			verb := "Added"
			if replaced {
				verb = "Updated"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s in %s\n", verb, name, file)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", ".mcp.json", "MCP client configuration to update")
	cmd.Flags().StringVar(&name, "name", "skillwatch", "server name to register")
	return cmd
}
