package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/models"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search cards with the lexical and vector hybrid",
	Long: `Search cards. Multi-word queries work with or without quotes:
  kioku search mitochondria powerhouse
  kioku search "mitochondria powerhouse" --limit 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		queryStr := buildSearchQuery(args)
		if queryStr == "" {
			return errors.New("query cannot be empty")
		}
		limit, _ := cmd.Flags().GetInt("limit")
		lexicalOnly, _ := cmd.Flags().GetBool("lexical-only")
		userID, _ := cmd.Flags().GetString("user")

		b, _, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		resp, err := b.Search(cmd.Context(), &models.SearchQuery{
			Query:       queryStr,
			UserID:      userID,
			Limit:       limit,
			LexicalOnly: lexicalOnly,
		})
		if err != nil {
			return err
		}
		return cli.WriteSearchResults(cmd.OutOrStdout(), resp, outputFormat())
	},
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	searchCmd.Flags().Bool("lexical-only", false, "skip the vector leg")
	searchCmd.Flags().String("user", "", "restrict results to one user's cards")
	rootCmd.AddCommand(searchCmd)
}
