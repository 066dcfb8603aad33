package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose bool
	version = "dev"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatmem",
	Short: "Session and long-term memory core for a conversational assistant",
	Long: `chatmem keeps chat sessions and the durable facts learned about each user.

The serve command runs the HTTP API. The other commands work on the
persisted snapshot directly and signal a running server when needed.

Quick Start:
  chatmem serve                                  # Run the API server
  chatmem list                                   # List identities
  chatmem list --identity <id>                   # List sessions of one identity
  chatmem export <session-id> --identity <id>    # Export a session as JSON
  chatmem import guest.yaml --identity <id>      # Merge a guest transcript
  chatmem reset --all                            # Clear every identity's data
  chatmem backup                                 # Back up the snapshot database

Configuration is read from CHATMEM_* environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// The server always logs; offline tools only when asked.
		if !verbose && cmd.Name() != serveCmd.Name() {
			log.SetOutput(io.Discard)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(serveCmd, resetCmd, importCmd, exportCmd, listCmd, backupCmd)
}
