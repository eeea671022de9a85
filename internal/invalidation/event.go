// Package invalidation defines the cache invalidation events published when
// an upstream dataset changes.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	// KindPollution drops a country's pollution list and its pages.
	KindPollution Kind = "pollution"
	// KindReference drops the country reference and every page.
	KindReference Kind = "reference"
	// KindSummary drops one city's encyclopedia summary.
	KindSummary Kind = "summary"
	// KindPage drops a country's pages.
	KindPage Kind = "page"
)

type Event struct {
	Version int       `json:"version"`
	Kind    Kind      `json:"kind"`
	Country string    `json:"country,omitempty"`
	City    string    `json:"city,omitempty"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Kind {
	case KindPollution, KindPage:
		if strings.TrimSpace(e.Country) == "" {
			return fmt.Errorf("country is required for kind %q", e.Kind)
		}
	case KindSummary:
		if strings.TrimSpace(e.City) == "" {
			return fmt.Errorf("city is required for kind %q", e.Kind)
		}
	case KindReference:
	default:
		return fmt.Errorf("kind must be pollution|reference|summary|page")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// Subject identifies what an event invalidates, independent of when.
func (e Event) Subject() string {
	return string(e.Kind) + "|" + strings.TrimSpace(e.Country) + "|" + strings.TrimSpace(e.City)
}
