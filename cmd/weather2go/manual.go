package main

import (
	"github.com/spf13/cobra"

	"github.com/kjstillabower/weather2go/internal/models"
)

var manualFeatures models.FeatureVector

var manualCmd = &cobra.Command{
	Use:   "manual",
	Short: "Score a hand-entered feature vector",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.svc.PredictManual(cmd.Context(), manualFeatures)
		if err != nil {
			return err
		}
		printPrediction(cmd.OutOrStdout(), res, a.svc.Region().Abbreviation)
		return nil
	},
}

func init() {
	f := manualCmd.Flags()
	f.StringVar((*string)(&manualFeatures.WeatherCategory), "weather", string(models.CategoryClear), "weather category (clear, cloudy, fog, rain_light, ...)")
	f.Float64Var(&manualFeatures.TemperatureF, "temp", 50, "temperature in °F")
	f.Float64Var(&manualFeatures.HumidityPct, "humidity", 60, "relative humidity, 0-100")
	f.Float64Var(&manualFeatures.WindSpeedMph, "wind", 5, "wind speed in mph, 0-50")
	f.Float64Var(&manualFeatures.PrecipitationIn, "precip", 0, "precipitation in inches, 0-5")
	f.StringVar(&manualFeatures.DayOfWeek, "day", "Monday", "day of week")
	f.IntVar(&manualFeatures.Month, "month", 1, "month, 1-12")
	f.IntVar(&manualFeatures.Hour, "hour", 8, "hour, 0-23")
}
