package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/models"
)

var reviewCmd = &cobra.Command{
	Use:   "review <card-id> <grade>",
	Short: "Record a review and print the next schedule",
	Long:  "Record a review of a card with a grade from 0 (blackout) to 5 (perfect recall).",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		grade, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("grade must be an integer 0-5: %q", args[1])
		}
		b, _, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		state, err := b.Review(cmd.Context(), args[0], grade)
		if err != nil {
			return err
		}
		return cli.WriteSchedule(cmd.OutOrStdout(), state, outputFormat())
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview <card-id>",
	Short: "Show the schedule each grade would produce, without recording anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, _, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		states, err := b.Preview(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return cli.WritePreview(cmd.OutOrStdout(), states, outputFormat())
	},
}

var dueCmd = &cobra.Command{
	Use:   "due [user-id]",
	Short: "List cards due for review",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, cfg, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		userID := cfg.Watch.UserID
		if len(args) == 1 {
			userID = args[0]
		}
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			limit = cfg.Scheduler.DueLimit
		}
		due, err := b.Due(cmd.Context(), userID, limit)
		if err != nil {
			return err
		}
		return cli.WriteDueCards(cmd.OutOrStdout(), due, outputFormat())
	},
}

var linkCmd = &cobra.Command{
	Use:   "link <from-card-id> <to-card-id>",
	Short: "Relate two cards in the knowledge graph",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		weight, _ := cmd.Flags().GetFloat64("weight")
		b, _, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		rel := models.Relation{FromID: args[0], ToID: args[1], Weight: weight}
		if err := b.Link(cmd.Context(), rel); err != nil {
			return err
		}
		if outputFormat() == cli.OutputJSON {
			return cli.WriteJSON(cmd.OutOrStdout(), rel)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Linked %s -> %s (weight %.2f)\n", rel.FromID, rel.ToID, rel.Weight)
		return nil
	},
}

func init() {
	dueCmd.Flags().Int("limit", 0, "maximum cards to list (0 = config due_limit)")
	linkCmd.Flags().Float64("weight", 1.0, "relation weight in (0, 1]")
	rootCmd.AddCommand(reviewCmd, previewCmd, dueCmd, linkCmd)
}
