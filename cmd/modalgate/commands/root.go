// Package commands implements the CLI commands for modalgate server
// management.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
	apiAddr string
)

// rootCmd represents the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "modalgate",
	Short: "ModalGate - multi-modal data-ingestion server",
	Long: `ModalGate is a multi-modal data-ingestion server. Clients push text,
JSON, image, binary, and file payloads over HTTP, and exchange large
buffers with the server through named shared-memory regions governed
by a polled status protocol.

Use "modalgate [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/modalgate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "server", "http://127.0.0.1:8080", "server address for client commands")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(regionsCmd)
	rootCmd.AddCommand(logsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("modalgate %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}
