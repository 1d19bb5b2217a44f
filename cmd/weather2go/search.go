package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/weather2go/internal/models"
)

var searchCmd = &cobra.Command{
	Use:   "search <place>",
	Short: "List matching locations in the configured region",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		query := strings.Join(args, " ")
		locs, err := a.svc.Search(cmd.Context(), query)
		if err != nil {
			return err
		}
		if len(locs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No matches in %s for %q\n", a.svc.Region().Name, query)
			return nil
		}
		printCandidates(cmd.OutOrStdout(), locs, a.svc.Region().Abbreviation)
		return nil
	},
}

func printCandidates(w io.Writer, locs []models.Location, abbrev string) {
	for i, loc := range locs {
		fmt.Fprintf(w, "%2d. %s\n", i+1, loc.Label(abbrev))
	}
}

// pickLocation returns the 1-based pick from candidates.
func pickLocation(locs []models.Location, pick int) (models.Location, error) {
	if len(locs) == 0 {
		return models.Location{}, fmt.Errorf("%w: no locations matched", models.ErrNoMatch)
	}
	if pick < 1 || pick > len(locs) {
		return models.Location{}, fmt.Errorf("%w: pick %d is out of range 1-%d", models.ErrInvalidInput, pick, len(locs))
	}
	return locs[pick-1], nil
}
