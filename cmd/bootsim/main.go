// Bootsim runs the bootloader reliability core against a real or simulated
// host link.
//
// It wires the lifecycle state machine, protocol session, flash staging
// engine and emergency manager onto the transport named in the
// configuration file, then drives the run cycle until the update completes
// or is aborted.
//
// Usage:
//
//	bootsim [command] [flags]
//
// See 'bootsim --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tallstad/bootcore/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bootsim",
	Short: "Bootloader reliability core simulator",
	Long: `Bootsim hosts the device-side bootloader core on a workstation.

It speaks the framed upload protocol over a serial port, a TCP socket or an
in-process loopback, stages received firmware into an in-memory flash model
and walks the full device lifecycle from trigger detection to the
application jump.`,
	Version: version.Version,
	RunE:    runBootloader,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(initConfigCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bootsim %s (commit: %s)\n", version.Version, version.Commit)
	},
}
