// Command pitchtend stores tuning sessions and reports per-note pitch
// tendencies. It runs the daemon and HTTP API (serve), a terminal dashboard
// (tui), an MCP tool server (mcp), and client commands that talk to the
// daemon socket.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/muffinbran/pitch-tendency-analyzer/internal/config"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "pitchtend"
)

// cli is the state shared by every subcommand, filled in by the root
// PersistentPreRunE.
type cli struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Pitch tendency analyzer",
		Long: `pitchtend collects tuning sessions (per-note mean deviation in cents
and sample counts) and reports, for each note and instrument, the
sample-weighted mean tendency across every stored session.

Run "pitchtend serve" to start the daemon and HTTP API, then submit
sessions and query tendencies from another terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file path (YAML, default "+config.DefaultPath()+")")

	cmd.AddCommand(
		serveCmd(c),
		submitCmd(c),
		tendenciesCmd(c),
		instrumentsCmd(c),
		deleteCmd(c),
		tuiCmd(c),
		mcpCmd(c),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)

	return cmd
}

func (c *cli) load() error {
	path := c.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	c.logger = cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(c.logger)
	return nil
}
