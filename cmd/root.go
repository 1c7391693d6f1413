// Package cmd implements the debug CLI: a thin cobra front end over
// pkg/mount and internal/services, mirroring the teacher's
// cmd/root.go (global persistent flags, sub-commands, an Execute()
// entry point) but over a single mounted filesystem rather than a
// container/volume tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	verbose bool
	quiet   bool
	output  string
)

var rootCmd = &cobra.Command{
	Use:   "xfscore",
	Short: "Debug CLI for the xfscore filesystem engine",
	Long: `xfscore is a read-only debug front end over an XFS image or block
device: mount it, inspect its superblock, and walk its namespace,
without going through a kernel mount.

Commands:
  info    Print superblock and geometry summary
  ls      List a directory's entries
  fsck    Run a lightweight consistency pass`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set the mount's Debug option (no debug logging is emitted)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "accepted; no subcommand consults it")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "accepted; no subcommand consults it (output is always text)")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.SetEnvPrefix("XFSCORE")
	viper.AutomaticEnv()
}
