// Package model defines core domain types shared across the service.
package model

// CityRecord is one row of the pollution listing.
type CityRecord struct {
	Name      string `json:"name"`
	Pollution any    `json:"pollution"`
}

// Index returns the pollution value when the upstream sent a JSON number.
func (c CityRecord) Index() (float64, bool) {
	switch v := c.Pollution.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// CountryReference maps country codes to their known cities and display names.
// City sets hold lower-cased names so membership is case-insensitive by construction.
type CountryReference struct {
	CitiesByCountry map[string]map[string]struct{}
	CodesByCountry  map[string]string
}

// HasCity reports whether lowerName belongs to the country's city set.
func (r CountryReference) HasCity(country, lowerName string) bool {
	set, ok := r.CitiesByCountry[country]
	if !ok {
		return false
	}
	_, ok = set[lowerName]
	return ok
}

func (r CountryReference) Empty() bool {
	return len(r.CitiesByCountry) == 0 && len(r.CodesByCountry) == 0
}

type EnrichedCity struct {
	Name        string  `json:"name"`
	Country     string  `json:"country"`
	Pollution   float64 `json:"pollution"`
	Description string  `json:"description"`
}

type Page struct {
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
	Total  int            `json:"total"`
	Cities []EnrichedCity `json:"cities"`
}

// Source tags where a page was served from.
type Source string

const (
	SourceMemory Source = "memory-cache"
	SourceRedis  Source = "redis-cache"
	SourceFresh  Source = "fresh"
)

// Clone returns a copy that shares no memory with p.
func (p Page) Clone() Page {
	out := p
	out.Cities = make([]EnrichedCity, len(p.Cities))
	copy(out.Cities, p.Cities)
	return out
}
