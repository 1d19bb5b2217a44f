// Package geo resolves free-text place names to locations inside the one
// supported region.
package geo

import (
	"context"
	"fmt"
	"strings"

	"github.com/kjstillabower/weather2go/internal/client"
	"github.com/kjstillabower/weather2go/internal/models"
)

// Region is the administrative area predictions are supported for.
type Region struct {
	// Name must equal the geocoder's admin1 field exactly, e.g. "Michigan".
	Name         string
	Abbreviation string
	CountryCode  string
	Language     string
	ResultCap    int
}

// Resolver filters geocoder candidates to Region.
type Resolver struct {
	geocoder client.Geocoder
	region   Region
}

func NewResolver(geocoder client.Geocoder, region Region) *Resolver {
	if region.ResultCap <= 0 {
		region.ResultCap = 20
	}
	if region.Language == "" {
		region.Language = "en"
	}
	return &Resolver{geocoder: geocoder, region: region}
}

// Region returns the configured region.
func (r *Resolver) Region() Region {
	return r.region
}

// LookupName drops a trailing qualifier: "Detroit, MI" becomes "Detroit".
func LookupName(query string) (string, error) {
	name := strings.TrimSpace(query)
	if i := strings.IndexByte(name, ','); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	if name == "" {
		return "", fmt.Errorf("%w: place name is required", models.ErrInvalidInput)
	}
	return name, nil
}

// Resolve returns the candidates in the region, in provider order. No
// candidates is not an error.
func (r *Resolver) Resolve(ctx context.Context, query string) ([]models.Location, error) {
	name, err := LookupName(query)
	if err != nil {
		return nil, err
	}
	candidates, err := r.geocoder.Search(ctx, client.SearchParams{
		Name:        name,
		Count:       r.region.ResultCap,
		Language:    r.region.Language,
		CountryCode: r.region.CountryCode,
	})
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", name, err)
	}

	inRegion := make([]models.Location, 0, len(candidates))
	for _, c := range candidates {
		if c.Region == r.region.Name {
			inRegion = append(inRegion, c)
		}
	}
	return inRegion, nil
}

// Contains reports whether loc belongs to the region.
func (r *Resolver) Contains(loc models.Location) bool {
	return loc.Region == r.region.Name
}
