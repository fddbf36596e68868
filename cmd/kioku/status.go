package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog size, gate and cache state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, _, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		st, err := b.Status(cmd.Context())
		if err != nil {
			return err
		}
		if outputFormat() == cli.OutputJSON {
			return cli.WriteJSON(cmd.OutOrStdout(), st)
		}
		writeStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

func writeStatus(w io.Writer, st *statusResponse) {
	fmt.Fprintf(w, "Cards:        %d\n", st.Cards)
	fmt.Fprintf(w, "Reviews:      %d\n", st.Reviews)
	fmt.Fprintf(w, "Vector index: %d\n", st.VectorIndexSize)
	if st.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage:   %s\n", formatBytes(*st.DiskUsageBytes))
	}
	for _, g := range st.Gates {
		state := "none"
		if g.Circuit != nil {
			state = g.Circuit.State
		}
		fmt.Fprintf(w, "Gate %-8s enabled=%t circuit=%s\n", g.Name, g.Enabled, state)
	}
	for _, c := range st.Caches {
		fmt.Fprintf(w, "Cache %-12s entries=%d hits=%d misses=%d\n", c.Name, c.Entries, c.Hits, c.Misses)
	}
	keys := make([]string, 0, len(st.Config))
	for k := range st.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %v\n", k, st.Config[k])
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
