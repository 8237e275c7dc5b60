// Package cmd provides the command-line interface of cowvm.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// Version is the version printed by the version command.
const Version = "0.1.0"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use: "cowvm",
		Short: "cowvm simulates two-level page tables with copy-on-write " +
			"fork.",
		Long: `cowvm runs scripts of memory accesses and process switches ` +
			`against a simulated MMU. Pages are mapped on first touch and ` +
			`shared copy-on-write between forked processes.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("env-file", ".env",
		"file to load COWVM_* settings from, ignored if missing")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the root command and exits. Exit handlers, such as the ones
// flushing trace databases, run before the process ends.
func Execute() {
	err := newRootCmd().Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
