// Command sshmcpctl is the operator-facing companion to sshmcpd: it does
// not speak MCP, it inspects and probes a running daemon over the local
// control socket and offers a handful of standalone diagnostics. Its
// rootOptions/PersistentFlags shape follows the teacher's cmd/xrunner
// CLI structure.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nullstream/sshmcp/internal/config"
	"github.com/nullstream/sshmcp/internal/localctl"
)

type rootOptions struct {
	configPath   string
	controlSock  string
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "sshmcpctl",
		Short: "Operator CLI for the SSH MCP broker daemon",
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigPath(), "path to sshmcpd config file")
	rootCmd.PersistentFlags().StringVar(&opts.controlSock, "control-socket", localctl.DefaultSocketPath(), "path to sshmcpd's control socket")

	rootCmd.AddCommand(newDoctorCmd(opts))
	rootCmd.AddCommand(newSessionsCmd(opts))
	rootCmd.AddCommand(newAuthCmd(opts))
	rootCmd.AddCommand(newToolsCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
