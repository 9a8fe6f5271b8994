package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/opcore/dispatch"
	"github.com/caffeineduck/opcore/isolate"
	"github.com/caffeineduck/opcore/nativehost"
)

func newReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive op console on a live isolate",
		Long: `Start an interactive console on a primary isolate booted with repl=true.

Each line calls one op through the isolate's dispatcher:
  op_kv_set {"key":"a","value":"1"}   structured op with JSON arguments
  op_write 1 hello                    write text to a resource id
  op_read 0 16                        read up to n bytes from a resource id
  .ops  .info  .close  .help

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
		Args: cobra.NoArgs,
		RunE: runRepl,
	}
	addHostFlags(cmd)
	cmd.Flags().String("history", "", "History file path (default: ~/.opcore_history)")
	return cmd
}

var errHostStopped = errors.New("host stopped")

const replHelp = `op_name [json]       call a structured op
op_write <rid> text  write to a resource
op_read <rid> [n]    read from a resource
.ops                 list ops
.info                show the handshake
.close               close the isolate and exit
exit, quit           leave the console`

type repl struct {
	host *nativehost.Host
	iso  *isolate.Isolate
	out  io.Writer
	st   styles
}

func newRepl(host *nativehost.Host, iso *isolate.Isolate, out io.Writer) *repl {
	return &repl{
		host: host,
		iso:  iso,
		out:  out,
		st:   newStyles(out, iso.Info().NoColor),
	}
}

// loop reads lines until EOF, exit, or .close.
func (r *repl) loop(ctx context.Context, rl *readline.Instance) {
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r.eval(ctx, line) {
			return
		}
	}
}

// eval runs one console line and reports whether the console should end.
func (r *repl) eval(ctx context.Context, line string) bool {
	switch line {
	case "exit", "quit":
		return true
	case ".help":
		fmt.Fprintln(r.out, r.st.help.Render(replHelp))
		return false
	case ".ops":
		printOps(r.out, r.iso.Dispatcher().Table(), r.st)
		return false
	case ".info":
		data, _ := json.MarshalIndent(r.iso.Info(), "", "  ")
		fmt.Fprintln(r.out, string(data))
		return false
	case ".close":
		_, err := r.await(ctx, func(settle func(string, error)) {
			settle("", r.iso.Close())
		})
		r.print("", err)
		return true
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	if !r.iso.Dispatcher().Has(name) {
		r.print("", fmt.Errorf("unknown op %s (try .ops)", name))
		return false
	}

	var out string
	var err error
	switch name {
	case dispatch.OpRead:
		out, err = r.read(ctx, rest)
	case dispatch.OpWrite:
		out, err = r.write(ctx, rest)
	default:
		out, err = r.call(ctx, name, rest)
	}
	r.print(out, err)
	return false
}

func (r *repl) call(ctx context.Context, name, rawArgs string) (string, error) {
	var args map[string]any
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}
	return r.await(ctx, func(settle func(string, error)) {
		r.iso.Dispatcher().CallAsync(name, args).Then(func(raw json.RawMessage, err error) {
			settle(string(raw), err)
		})
	})
}

func (r *repl) read(ctx context.Context, rest string) (string, error) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", errors.New("usage: op_read <rid> [n]")
	}
	rid, err := strconv.ParseInt(fields[0], 10, 32)
	if err != nil {
		return "", fmt.Errorf("invalid rid: %w", err)
	}
	n := 0
	if len(fields) > 1 {
		if n, err = strconv.Atoi(fields[1]); err != nil {
			return "", fmt.Errorf("invalid count: %w", err)
		}
	}
	return r.await(ctx, func(settle func(string, error)) {
		r.iso.Dispatcher().Read(int32(rid), n).Then(func(res dispatch.MinimalResult, err error) {
			settle(strconv.Quote(string(res.Data)), err)
		})
	})
}

func (r *repl) write(ctx context.Context, rest string) (string, error) {
	ridStr, text, ok := strings.Cut(rest, " ")
	if !ok {
		return "", errors.New("usage: op_write <rid> text")
	}
	rid, err := strconv.ParseInt(ridStr, 10, 32)
	if err != nil {
		return "", fmt.Errorf("invalid rid: %w", err)
	}
	return r.await(ctx, func(settle func(string, error)) {
		r.iso.Dispatcher().Write(int32(rid), []byte(text+"\n")).Then(func(res dispatch.MinimalResult, err error) {
			settle(strconv.Itoa(int(res.N)), err)
		})
	})
}

// await runs start as a task on the loop goroutine and waits for it to
// settle.
func (r *repl) await(ctx context.Context, start func(settle func(string, error))) (string, error) {
	type outcome struct {
		out string
		err error
	}
	ch := make(chan outcome, 1)
	r.host.Post(func() {
		r.iso.Task(func() {
			start(func(out string, err error) {
				ch <- outcome{out, err}
			})
		})
	})

	select {
	case o := <-ch:
		return o.out, o.err
	case <-r.host.Done():
		return "", errHostStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *repl) print(out string, err error) {
	if err != nil {
		if kind := dispatch.KindOf(err); kind != 0 {
			fmt.Fprintln(r.out, r.st.err.Render(fmt.Sprintf("%s: %v", kind, err)))
			return
		}
		fmt.Fprintln(r.out, r.st.err.Render(fmt.Sprintf("Error: %v", err)))
		return
	}
	if out != "" {
		fmt.Fprintln(r.out, r.st.result.Render(out))
	}
}

func runRepl(cmd *cobra.Command, args []string) error {
	s, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	log := newLogger(s.Debug)
	defer log.Sync()

	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".opcore_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	ctx := cmd.Context()
	host := newHost(s, cmd, log, true)
	iso := isolate.New(host, isolate.WithLogger(log), isolate.WithRepl(func(iso *isolate.Isolate) error {
		r := newRepl(host, iso, cmd.OutOrStdout())
		fmt.Fprintf(cmd.ErrOrStderr(), "opcore %s REPL (type 'exit' to quit, Ctrl+D to exit)\n", iso.Info().Versions.Opcore)

		host.Ref()
		go func() {
			defer host.Unref()
			r.loop(ctx, rl)
		}()
		return nil
	}))
	if err := iso.BootstrapPrimary(); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if err := host.Run(ctx); err != nil {
		return err
	}
	iso.DispatchUnload()
	if host.Exited() && host.ExitCode() != 0 {
		return exitError{code: host.ExitCode()}
	}
	return nil
}
