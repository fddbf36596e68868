package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
)

var importCmd = &cobra.Command{
	Use:   "import <file-or-directory>",
	Short: "Import a deck file, or every deck file under a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("cannot access %s: %w", path, err)
		}

		b, _, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		out := cmd.OutOrStdout()
		if info.IsDir() {
			n, err := b.ImportDirectory(cmd.Context(), path)
			if err != nil {
				return err
			}
			if outputFormat() == cli.OutputJSON {
				return cli.WriteJSON(out, map[string]interface{}{"directory": path, "imported": n})
			}
			fmt.Fprintf(out, "Imported %d deck files from %s\n", n, path)
			return nil
		}

		res, err := b.ImportFile(cmd.Context(), path)
		if err != nil {
			return err
		}
		if outputFormat() == cli.OutputJSON {
			return cli.WriteJSON(out, res)
		}
		if res.Skipped {
			fmt.Fprintf(out, "%s unchanged, skipped\n", path)
			return nil
		}
		fmt.Fprintf(out, "Imported %s: %d added, %d updated, %d removed\n", path, res.Added, res.Updated, res.Removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
