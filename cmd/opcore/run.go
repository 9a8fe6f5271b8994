package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/opcore/guest"
	"github.com/caffeineduck/opcore/isolate"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [module.wasm]",
		Short: "Boot a primary isolate and drive its event loop",
		Long: `Boot a primary isolate on the native host and run until the script
closes, no work remains, or the timeout expires.

A WebAssembly module given as argument runs as the first script task. It
reaches the host through the "opcore" import module:
  - File argument: opcore run app.wasm
  - Script arguments: opcore run app.wasm --arg one --arg two`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRun,
	}
	addHostFlags(cmd)
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	s, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	log := newLogger(s.Debug)
	defer log.Sync()

	var wasm []byte
	if len(args) > 0 {
		if wasm, err = os.ReadFile(args[0]); err != nil {
			return err
		}
	}

	host := newHost(s, cmd, log, false)
	iso := isolate.New(host, isolate.WithLogger(log))
	if err := iso.BootstrapPrimary(); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	ctx := cmd.Context()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	var res guest.Result
	if wasm != nil {
		runner, err := guest.New(runnerOptions(s, log)...)
		if err != nil {
			return err
		}
		defer runner.Close()

		name := filepath.Base(args[0])
		host.Post(func() {
			iso.Task(func() {
				res = runner.Run(ctx, iso, name, wasm,
					guest.WithTimeout(0),
					guest.WithArgs(s.Args...),
					guest.WithEnv(s.Env),
					guest.WithStdio(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr()),
				)
				iso.DispatchLoad()
			})
		})
	}

	if err := host.Run(ctx); err != nil {
		return err
	}
	iso.DispatchUnload()

	if res.Error != nil {
		if res.ExitCode != 0 {
			return exitError{code: res.ExitCode}
		}
		return res.Error
	}
	if host.Exited() && host.ExitCode() != 0 {
		return exitError{code: host.ExitCode()}
	}
	log.Debug("run finished", zap.Stringer("state", iso.State()), zap.Duration("guest", res.Duration))
	return nil
}

func runnerOptions(s settings, log *zap.Logger) []guest.Option {
	opts := []guest.Option{guest.WithLogger(log)}
	if !s.NoCache {
		opts = append(opts, guest.WithDiskCache())
	}
	if pages := parseMemoryLimit(s.Memory); pages > 0 {
		opts = append(opts, guest.WithMemoryLimit(pages))
	}
	return opts
}
