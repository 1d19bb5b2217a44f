package features

import "github.com/kjstillabower/weather2go/internal/models"

// codeCategories groups WMO weather codes into the classifier vocabulary.
// Codes missing from the table are "other".
var codeCategories = map[int]models.WeatherCategory{
	0: models.CategoryClear,

	1: models.CategoryCloudy,
	2: models.CategoryCloudy,
	3: models.CategoryCloudy,

	45: models.CategoryFog,
	48: models.CategoryFog,

	// drizzle, rain and rain showers
	51: models.CategoryRainLight,
	53: models.CategoryRainLight,
	55: models.CategoryRainLight,
	61: models.CategoryRainLight,
	63: models.CategoryRainLight,
	80: models.CategoryRainLight,
	81: models.CategoryRainLight,
	65: models.CategoryRainHeavy,
	82: models.CategoryRainHeavy,

	56: models.CategoryFreezingRain,
	57: models.CategoryFreezingRain,
	66: models.CategoryFreezingRain,
	67: models.CategoryFreezingRain,

	71: models.CategorySnowLight,
	73: models.CategorySnowLight,
	77: models.CategorySnowLight,
	85: models.CategorySnowLight,
	75: models.CategorySnowHeavy,
	86: models.CategorySnowHeavy,

	95: models.CategoryThunder,
	96: models.CategoryHail,
	99: models.CategoryHail,
}

// Categorize maps a WMO weather code to exactly one category. It never fails.
func Categorize(code int) models.WeatherCategory {
	if c, ok := codeCategories[code]; ok {
		return c
	}
	return models.CategoryOther
}
