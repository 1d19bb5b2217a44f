package risk

import "github.com/kjstillabower/weather2go/internal/models"

var advice = map[models.RiskBucket][]string{
	models.RiskSevere: {
		"Strongly consider delaying travel if possible",
		"Avoid non-essential trips",
		"Reduce speed substantially (20-30%+)",
		"Increase following distance significantly",
		"Expect poor visibility or traction",
		"Ensure tires, wipers, lights, and defroster are working",
		"Keep emergency kit (blanket, charger, flashlight)",
		"Check road advisories before leaving",
	},
	models.RiskHeavy: {
		"Consider delaying travel if your trip is optional",
		"Drive with extreme caution",
		"Reduce speed by 15-25%",
		"Increase following distance",
		"Avoid sudden braking or lane changes",
		"Watch for black ice, standing water, or drifting snow",
		"Stay updated on weather changes",
	},
	models.RiskModerate: {
		"Use increased caution",
		"Reduce speed by 10-15%",
		"Increase following distance",
		"Stay alert for changing conditions and hazards",
		"Consider alternate routes if roads look worse ahead",
	},
	models.RiskModerateLow: {
		"Conditions are mostly manageable, but stay cautious",
		"Light speed reduction (5-10%) if needed",
		"Keep extra following distance",
		"Watch bridges and shaded areas for slick spots",
	},
	models.RiskLow: {
		"Conditions are relatively safe for driving",
		"Standard safe driving practices apply",
		"Stay aware of your surroundings",
		"Continue monitoring weather conditions",
	},
}

// InsuranceNotes is shown with every prediction regardless of bucket.
var InsuranceNotes = []string{
	"Accidents can raise premiums due to higher perceived risk",
	"Claims may trigger deductibles, affect renewal terms, or impact discounts",
	"A cleaner driving record helps keep insurance more affordable",
}

// Advice returns the driving tips for a bucket. Unknown buckets get none.
// The returned slice is a copy.
func Advice(b models.RiskBucket) []string {
	tips := advice[b]
	out := make([]string, len(tips))
	copy(out, tips)
	return out
}
