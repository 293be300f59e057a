// Package cmd contains the CLI commands for kyano.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version info (set from main)
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"

	// Global flags
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kyano",
	Short: "Realtime wire messaging",
	Long: `kyano moves realtime traffic over named wires.

A wire is a Stream (sequenced emissions), a Discrete wire (request and
reply) or a Signal (a current value). Wires with the same name on
connections that share a hub are the same wire; remote connections reach
them through a transport: in-process, WebSocket, stdio or NATS.

Run "kyano serve" to start a server, then use emit, send, watch and listen
as clients.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information from the main package.
func SetVersionInfo(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./kyano.yaml or ~/.kyano/kyano.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd displays version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "kyano %s\n", version)
		fmt.Fprintf(out, "  Build time: %s\n", buildTime)
		fmt.Fprintf(out, "  Git commit: %s\n", gitCommit)
	},
}
