package scoring

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/nyashahama/event-risk-assessor/internal/model"
)

//go:embed tables.toml
var defaultTables []byte

// Tables is the data that drives every index. The canonical version is
// embedded; a deployment may load a replacement with LoadTables.
//
// TOML shape:
//
//	version = "2024.1"
//	[context]
//	min = 1
//	max = 7
//	sensitive_venue_bonus = 1
//	sensitive_venues = ["State Funeral", ...]
//	[context.base]
//	State = 6
//	[[context.attendance]]
//	above = 50000
//	bonus = 3
//	[risk]
//	high_impact = 4
//	[[risk.levels]]
//	level = 1
//	min_score = 0
type Tables struct {
	Version string        `toml:"version"`
	Context ContextTables `toml:"context"`
	Risk    RiskTables    `toml:"risk"`
}

type ContextTables struct {
	Min                 int              `toml:"min"`
	Max                 int              `toml:"max"`
	Base                map[string]int   `toml:"base"`
	Attendance          []AttendanceTier `toml:"attendance"`
	SensitiveVenues     []string         `toml:"sensitive_venues"`
	SensitiveVenueBonus int              `toml:"sensitive_venue_bonus"`
}

// AttendanceTier adds Bonus when attendance is strictly greater than Above.
type AttendanceTier struct {
	Above int `toml:"above"`
	Bonus int `toml:"bonus"`
}

type RiskTables struct {
	HighImpact int         `toml:"high_impact"`
	Levels     []RiskLevel `toml:"levels"`
}

// RiskLevel maps a minimum max-overall-score to an index level.
type RiskLevel struct {
	Level    int `toml:"level"`
	MinScore int `toml:"min_score"`
}

// DefaultTables returns the embedded canonical tables.
func DefaultTables() Tables {
	t, err := ParseTables(defaultTables)
	if err != nil {
		panic(fmt.Sprintf("scoring: embedded tables invalid: %v", err))
	}
	return t
}

// LoadTables reads and validates a TOML table file.
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("scoring: read tables: %w", err)
	}
	return ParseTables(data)
}

// ParseTables decodes and validates a TOML document. Call it once at startup,
// not per request.
func ParseTables(data []byte) (Tables, error) {
	var t Tables
	if err := toml.Unmarshal(data, &t); err != nil {
		return Tables{}, fmt.Errorf("scoring: parse tables: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tables{}, err
	}
	return t, nil
}

// Validate checks the tables are complete and ordered so every index stays in
// range and context stays monotonic in attendance.
func (t Tables) Validate() error {
	if t.Version == "" {
		return fmt.Errorf("scoring tables: version is required")
	}

	c := t.Context
	if c.Min < 1 || c.Max < c.Min || c.Max > len(contextLevels) {
		return fmt.Errorf("scoring tables: context range [%d,%d] invalid", c.Min, c.Max)
	}
	for _, cat := range model.EventCategories() {
		if _, ok := c.Base[string(cat)]; !ok {
			return fmt.Errorf("scoring tables: context base missing for category %q", cat)
		}
	}
	for i, tier := range c.Attendance {
		if tier.Bonus < 0 {
			return fmt.Errorf("scoring tables: attendance[%d] bonus %d is negative", i, tier.Bonus)
		}
		if i == 0 {
			continue
		}
		prev := c.Attendance[i-1]
		if tier.Above >= prev.Above {
			return fmt.Errorf("scoring tables: attendance[%d] threshold %d must be below %d", i, tier.Above, prev.Above)
		}
		if tier.Bonus > prev.Bonus {
			return fmt.Errorf("scoring tables: attendance[%d] bonus %d exceeds higher tier bonus %d", i, tier.Bonus, prev.Bonus)
		}
	}

	r := t.Risk
	if r.HighImpact < model.MinScore || r.HighImpact > model.MaxScore {
		return fmt.Errorf("scoring tables: risk high_impact %d out of range [1,5]", r.HighImpact)
	}
	if len(r.Levels) != len(riskLevels) {
		return fmt.Errorf("scoring tables: want %d risk levels, got %d", len(riskLevels), len(r.Levels))
	}
	for i, lvl := range r.Levels {
		if lvl.Level != i+1 {
			return fmt.Errorf("scoring tables: risk.levels[%d] has level %d, want %d", i, lvl.Level, i+1)
		}
		if i > 0 && lvl.MinScore <= r.Levels[i-1].MinScore {
			return fmt.Errorf("scoring tables: risk.levels[%d] min_score %d must exceed %d", i, lvl.MinScore, r.Levels[i-1].MinScore)
		}
	}
	return nil
}
