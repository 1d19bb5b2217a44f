package models

// WeatherCategory is the classifier's categorical weather vocabulary.
type WeatherCategory string

const (
	CategoryClear        WeatherCategory = "clear"
	CategoryCloudy       WeatherCategory = "cloudy"
	CategoryFog          WeatherCategory = "fog"
	CategoryRainLight    WeatherCategory = "rain_light"
	CategoryRainHeavy    WeatherCategory = "rain_heavy"
	CategoryFreezingRain WeatherCategory = "freezing_rain"
	CategorySnowLight    WeatherCategory = "snow_light"
	CategorySnowHeavy    WeatherCategory = "snow_heavy"
	CategoryThunder      WeatherCategory = "thunder"
	CategoryHail         WeatherCategory = "hail"
	CategoryOther        WeatherCategory = "other"
)

// WeatherCategories lists every category in training order.
var WeatherCategories = []WeatherCategory{
	CategoryClear, CategoryCloudy, CategoryFog, CategoryRainLight, CategoryRainHeavy,
	CategoryFreezingRain, CategorySnowLight, CategorySnowHeavy, CategoryThunder,
	CategoryHail, CategoryOther,
}

// Weekdays lists the Day_of_Week vocabulary, Monday first.
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Feature column names. The classifier was trained on exactly these columns in
// exactly this order.
const (
	ColumnWeatherCategory = "Weather_Category"
	ColumnTemperatureF    = "Temperature_F"
	ColumnHumidityPct     = "Humidity_Pct"
	ColumnWindSpeedMph    = "Wind_Speed_mph"
	ColumnPrecipitationIn = "Precipitation_in"
	ColumnDayOfWeek       = "Day_of_Week"
	ColumnMonth           = "Month"
	ColumnHour            = "Hour"
)

// FeatureColumns is the ordered feature schema.
var FeatureColumns = []string{
	ColumnWeatherCategory, ColumnTemperatureF, ColumnHumidityPct, ColumnWindSpeedMph,
	ColumnPrecipitationIn, ColumnDayOfWeek, ColumnMonth, ColumnHour,
}

// CategoricalColumns are the columns whose values are labels rather than numbers.
var CategoricalColumns = map[string]bool{
	ColumnWeatherCategory: true,
	ColumnDayOfWeek:       true,
}

// FeatureVector is one classifier input row. The validate tags carry the
// bounds accepted for manually entered vectors.
type FeatureVector struct {
	WeatherCategory WeatherCategory `json:"Weather_Category" validate:"required,oneof=clear cloudy fog rain_light rain_heavy freezing_rain snow_light snow_heavy thunder hail other"`
	TemperatureF    float64         `json:"Temperature_F"`
	HumidityPct     float64         `json:"Humidity_Pct" validate:"gte=0,lte=100"`
	WindSpeedMph    float64         `json:"Wind_Speed_mph" validate:"gte=0,lte=50"`
	PrecipitationIn float64         `json:"Precipitation_in" validate:"gte=0,lte=5"`
	DayOfWeek       string          `json:"Day_of_Week" validate:"required,oneof=Monday Tuesday Wednesday Thursday Friday Saturday Sunday"`
	Month           int             `json:"Month" validate:"gte=1,lte=12"`
	Hour            int             `json:"Hour" validate:"gte=0,lte=23"`
}

// Numeric returns the value of a numeric column.
func (v FeatureVector) Numeric(column string) (float64, bool) {
	switch column {
	case ColumnTemperatureF:
		return v.TemperatureF, true
	case ColumnHumidityPct:
		return v.HumidityPct, true
	case ColumnWindSpeedMph:
		return v.WindSpeedMph, true
	case ColumnPrecipitationIn:
		return v.PrecipitationIn, true
	case ColumnMonth:
		return float64(v.Month), true
	case ColumnHour:
		return float64(v.Hour), true
	}
	return 0, false
}

// Categorical returns the value of a categorical column.
func (v FeatureVector) Categorical(column string) (string, bool) {
	switch column {
	case ColumnWeatherCategory:
		return string(v.WeatherCategory), true
	case ColumnDayOfWeek:
		return v.DayOfWeek, true
	}
	return "", false
}
