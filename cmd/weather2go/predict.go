package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/weather2go/internal/forecast"
	"github.com/kjstillabower/weather2go/internal/models"
	"github.com/kjstillabower/weather2go/internal/risk"
)

var (
	predictPick int
	predictDate string
	predictHour int
)

var predictCmd = &cobra.Command{
	Use:   "predict <place>",
	Short: "Predict driving risk for a place from its hourly forecast",
	Long: `Resolves the place, picks a candidate (the first one unless --pick is set)
and scores the forecast hour. Without --date the first available hour is used.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		locs, err := a.svc.Search(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		loc, err := pickLocation(locs, predictPick)
		if err != nil {
			return err
		}

		sel := forecast.NextAvailable()
		if predictDate != "" {
			sel = forecast.At(predictDate, predictHour)
		}
		res, err := a.svc.Predict(cmd.Context(), loc, sel)
		if err != nil {
			return err
		}
		printPrediction(cmd.OutOrStdout(), res, a.svc.Region().Abbreviation)
		return nil
	},
}

func init() {
	predictCmd.Flags().IntVar(&predictPick, "pick", 1, "1-based candidate to use when several locations match")
	predictCmd.Flags().StringVar(&predictDate, "date", "", "local forecast date, YYYY-MM-DD")
	predictCmd.Flags().IntVar(&predictHour, "hour", 0, "local forecast hour, 0-23 (used with --date)")
}

func printPrediction(w io.Writer, res models.PredictionResult, abbrev string) {
	if res.Location != nil {
		fmt.Fprintf(w, "Location:    %s\n", res.Location.Label(abbrev))
	}
	if res.PickedTime != "" {
		fmt.Fprintf(w, "Forecast at: %s\n", res.PickedTime)
	}
	fmt.Fprintf(w, "Risk:        %s (P(%s) = %.2f)\n", res.RiskBucket, res.HighRiskClass, res.HighRiskProbability)

	fv := res.Features
	fmt.Fprintf(w, "Conditions:  %s, %.1f°F, %.0f%% humidity, wind %.1f mph, precip %.2f in\n",
		fv.WeatherCategory, fv.TemperatureF, fv.HumidityPct, fv.WindSpeedMph, fv.PrecipitationIn)

	fmt.Fprintln(w, "\nAdvice:")
	for _, line := range risk.Advice(res.RiskBucket) {
		fmt.Fprintf(w, "  - %s\n", line)
	}
	fmt.Fprintln(w, "\nInsurance notes:")
	for _, line := range risk.InsuranceNotes {
		fmt.Fprintf(w, "  - %s\n", line)
	}
}
