package models

import "fmt"

// Location is a geocoding candidate. Region holds the provider's first-level
// administrative area (admin1) and Admin2 the county.
type Location struct {
	Name      string  `json:"name" validate:"required"`
	Region    string  `json:"region" validate:"required"`
	Admin2    string  `json:"admin2,omitempty"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Label renders the candidate for a pick list, e.g. "Detroit, Wayne MI (lat=42.331, lon=-83.046)".
// regionAbbrev falls back to the full region name when empty.
func (l Location) Label(regionAbbrev string) string {
	if regionAbbrev == "" {
		regionAbbrev = l.Region
	}
	place := l.Name
	if l.Admin2 != "" {
		place += ", " + l.Admin2
	}
	return fmt.Sprintf("%s %s (lat=%.3f, lon=%.3f)", place, regionAbbrev, l.Latitude, l.Longitude)
}
