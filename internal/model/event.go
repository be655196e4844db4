// Package model holds the domain types shared by every layer of the risk
// assessor: event data, risk items, justifications, phases and the error
// taxonomy. It has no dependencies on other internal packages.
package model

import (
	"slices"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ─── EVENT CATEGORY ───────────────────────────────────────────────────────────

// EventCategory is the kind of event being assessed. String values match the
// values the AI backend expects in eventType.
type EventCategory string

const (
	CategoryMusic     EventCategory = "Music"
	CategoryCommunity EventCategory = "Community"
	CategoryState     EventCategory = "State"
	CategorySport     EventCategory = "Sport"
	CategoryOther     EventCategory = "Other"
)

// venueSubtypes lists the allowed venue subtypes for each category, in the
// order a form would offer them.
var venueSubtypes = map[EventCategory][]string{
	CategoryMusic: {
		"Outdoor Festival",
		"Indoor Concert",
		"Nightclub Event",
		"Arena Tour",
		"Album Launch Party",
	},
	CategoryCommunity: {
		"Street Fair / Fete",
		"Charity Fundraiser",
		"Local Market",
		"Public Rally / Protest",
		"Cultural Festival",
	},
	CategoryState: {
		"Official Public Ceremony",
		"VIP Visit / Dignitary Protection",
		"Political Conference",
		"National Day Parade",
		"State Funeral",
	},
	CategorySport: {
		"Stadium Match (e.g., Football, Rugby)",
		"Marathon / Running Event",
		"Motorsport Race",
		"Combat Sports Night (e.g., Boxing, MMA)",
		"Golf Tournament",
	},
	CategoryOther: {
		"Corporate Conference",
		"Private Party / Wedding",
		"Film Premiere",
		"Exhibition / Trade Show",
		"Product Launch",
	},
}

// EventCategories returns every known category.
func EventCategories() []EventCategory {
	return []EventCategory{CategoryMusic, CategoryCommunity, CategoryState, CategorySport, CategoryOther}
}

// Valid reports whether c is a known category.
func (c EventCategory) Valid() bool {
	_, ok := venueSubtypes[c]
	return ok
}

// VenueSubtypes returns a copy of the subtypes allowed for c. Unknown
// categories have none.
func (c EventCategory) VenueSubtypes() []string {
	return slices.Clone(venueSubtypes[c])
}

// AllowsVenue reports whether subtype belongs to c. The empty subtype is
// always allowed.
func (c EventCategory) AllowsVenue(subtype string) bool {
	if subtype == "" {
		return true
	}
	return slices.Contains(venueSubtypes[c], subtype)
}

// ─── EVENT DATA ───────────────────────────────────────────────────────────────

// EventData is the snapshot of the event description submitted at the start of
// an assessment. It is never mutated after submission; changing it requires
// going back to setup, which discards it.
type EventData struct {
	Title        string        `json:"eventTitle" yaml:"title"`
	Date         string        `json:"eventDate" yaml:"date"` // YYYY-MM-DD
	Location     string        `json:"location" yaml:"location"`
	Attendance   int           `json:"attendance" yaml:"attendance"`
	Category     EventCategory `json:"eventType" yaml:"category"`
	VenueSubtype string        `json:"venueType" yaml:"venue"`
	RiskLevel    string        `json:"riskLevel,omitempty" yaml:"risk_level"`
	Description  string        `json:"description,omitempty" yaml:"description"`
}

// Validate checks presence and range of the required fields and that the venue
// subtype belongs to the category.
func (e EventData) Validate() error {
	switch {
	case strings.TrimSpace(e.Title) == "":
		return invalidField("eventTitle", "event title is required")
	case strings.TrimSpace(e.Date) == "":
		return invalidField("eventDate", "event date is required")
	case strings.TrimSpace(e.Location) == "":
		return invalidField("location", "location is required")
	case e.Attendance <= 0:
		return goerr.Wrap(ErrValidation, "attendance must be a positive number",
			goerr.V("field", "attendance"), goerr.V("attendance", e.Attendance))
	case !e.Category.Valid():
		return goerr.Wrap(ErrValidation, "unknown event category",
			goerr.V("field", "eventType"), goerr.V("category", e.Category))
	case !e.Category.AllowsVenue(e.VenueSubtype):
		return goerr.Wrap(ErrValidation, "venue subtype does not belong to category",
			goerr.V("field", "venueType"),
			goerr.V("category", e.Category),
			goerr.V("venue", e.VenueSubtype))
	}

	if _, err := time.Parse(time.DateOnly, e.Date); err != nil {
		return goerr.Wrap(ErrValidation, "event date must be YYYY-MM-DD",
			goerr.V("field", "eventDate"), goerr.V("date", e.Date))
	}
	return nil
}

func invalidField(field, msg string) error {
	return goerr.Wrap(ErrValidation, msg, goerr.V("field", field))
}
