package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/opcore/guest"
)

// newRootCmd builds the command tree. Each call returns fresh commands
// with their own flag sets.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "opcore [module.wasm]",
		Short: "Script runtime core with a native op host",
		Long: `opcore - Boot a script isolate against an in-process native host.

The isolate performs the op_start handshake, builds its globals and drives
async ops and timers through the host's event loop. A WebAssembly guest
module can act as the script. By default scripts have no access to the
filesystem, network or key-value store; enable them explicitly with flags.`,
		Args:          cobra.MaximumNArgs(1),
		RunE:          runRun,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Config file (.toml, .yaml or .yml)")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.PersistentFlags().Bool("no-cache", false, "Disable compilation cache")
	addHostFlags(root)

	root.AddCommand(newRunCmd(), newReplCmd(), newOpsCmd())
	return root
}

// exitError carries a non-zero script exit code to Execute.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func Execute() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	var exit exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func addHostFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray("arg", nil, "Script argument (repeatable)")
	cmd.Flags().Bool("unstable", false, "Enable unstable APIs (kv, fetch)")
	cmd.Flags().Bool("kv", false, "Enable key-value store")
	cmd.Flags().StringSlice("allow-host", nil, "Allow fetch to host (repeatable)")
	cmd.Flags().StringSlice("mount", nil, "Mount filesystem virtual:host[:mode] (repeatable)")
	cmd.Flags().StringToString("env", nil, "Environment visible to op_env_get (KEY=VALUE)")
	cmd.Flags().Duration("timeout", defaultSettings().Timeout, "Run timeout (0 for none)")
	cmd.Flags().String("memory", "256mb", "Guest memory limit: 16mb, 64mb, 256mb")
}

func parseMemoryLimit(s string) uint32 {
	switch strings.ToLower(s) {
	case "16mb":
		return guest.MemoryLimit16MB
	case "64mb":
		return guest.MemoryLimit64MB
	case "256mb":
		return guest.MemoryLimit256MB
	default:
		return 0
	}
}

func newLogger(debug bool) *zap.Logger {
	if !debug {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}
