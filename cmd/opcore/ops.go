package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/opcore/dispatch"
	"github.com/caffeineduck/opcore/ops"
)

func newOpsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List the op table the host advertises",
		Long: `Print every op the native host would advertise to an isolate with the
given flags, with its id and completion codec.

Examples:
  opcore ops
  opcore ops --kv --allow-host api.example.com --mount /data:./data:ro`,
		Args: cobra.NoArgs,
		RunE: runOps,
	}
	addHostFlags(cmd)
	return cmd
}

func runOps(cmd *cobra.Command, args []string) error {
	s, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	host := newHost(s, cmd, newLogger(s.Debug), false)
	table, err := ops.Build(host)
	if err != nil {
		return err
	}
	printOps(cmd.OutOrStdout(), table, newStyles(cmd.OutOrStdout(), *host.Config().NoColor))
	return nil
}

func printOps(w io.Writer, table *ops.Table, st styles) {
	all := table.All()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	width := len("NAME")
	for _, op := range all {
		width = max(width, len(op.Name))
	}

	fmt.Fprintf(w, "%s\n", st.header.Render(fmt.Sprintf("%-4s %-*s %s", "ID", width, "NAME", "CODEC")))
	for _, op := range all {
		fmt.Fprintf(w, "%-4d %s %s\n",
			op.ID,
			st.name.Render(fmt.Sprintf("%-*s", width, op.Name)),
			st.codec.Render(dispatch.CodecFor(op.Name).String()),
		)
	}
	fmt.Fprintln(w, st.help.Render(fmt.Sprintf("%d ops", len(all))))
}
