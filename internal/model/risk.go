package model

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ─── CONSTANTS ────────────────────────────────────────────────────────────────

const (
	MinScore     = 1
	MaxScore     = 5
	DefaultScore = 3 // substituted for out-of-range or non-numeric AI scores

	missingDescription = "Risk description not provided"
	missingMitigation  = "Mitigation strategy not provided"
)

// ─── RISK CATEGORY ────────────────────────────────────────────────────────────

type RiskCategory string

const (
	RiskCrowdSafety   RiskCategory = "Crowd Safety"
	RiskEnvironmental RiskCategory = "Environmental"
	RiskSecurity      RiskCategory = "Security"
	RiskMedical       RiskCategory = "Medical"
	RiskOperational   RiskCategory = "Operational"
	RiskLogistics     RiskCategory = "Logistics"
)

var riskCategories = []RiskCategory{
	RiskCrowdSafety, RiskEnvironmental, RiskSecurity, RiskMedical, RiskOperational, RiskLogistics,
}

// RiskCategories returns the fixed category set.
func RiskCategories() []RiskCategory { return slices.Clone(riskCategories) }

func (c RiskCategory) Valid() bool { return slices.Contains(riskCategories, c) }

// ─── FIELDS ───────────────────────────────────────────────────────────────────

// Field is the key of a justification entry on a RiskItem.
type Field string

const (
	FieldRisk       Field = "risk"
	FieldCategory   Field = "category"
	FieldImpact     Field = "impact"
	FieldLikelihood Field = "likelihood"
	FieldMitigation Field = "mitigation"
	FieldOverall    Field = "overall"
)

var fieldNames = map[Field]string{
	FieldRisk:       "Risk Description",
	FieldCategory:   "Category",
	FieldImpact:     "Impact",
	FieldLikelihood: "Likelihood",
	FieldMitigation: "Mitigations",
	FieldOverall:    "Overall Score",
}

// Fields returns every justification key in display order.
func Fields() []Field {
	return []Field{FieldRisk, FieldCategory, FieldImpact, FieldLikelihood, FieldMitigation, FieldOverall}
}

// DisplayName is the human label of the field, which is also the fieldType
// sent to the AI backend.
func (f Field) DisplayName() string { return fieldNames[f] }

// ParseField accepts either a key ("impact") or a display name ("Impact").
func ParseField(s string) (Field, bool) {
	if _, ok := fieldNames[Field(s)]; ok {
		return Field(s), true
	}
	for f, name := range fieldNames {
		if strings.EqualFold(name, s) {
			return f, true
		}
	}
	return "", false
}

// ─── JUSTIFICATION ────────────────────────────────────────────────────────────

// Justification is the explanatory text shown next to a value, with its cited
// sources in order.
type Justification struct {
	Reasoning string   `json:"reasoning"`
	Sources   []string `json:"sources"`
}

func (j *Justification) clone() *Justification {
	if j == nil {
		return nil
	}
	return &Justification{Reasoning: j.Reasoning, Sources: slices.Clone(j.Sources)}
}

// Clone returns a deep copy; nil stays nil.
func (j *Justification) Clone() *Justification { return j.clone() }

// ─── RISK ITEM ────────────────────────────────────────────────────────────────

// RiskItem is one row of the risk table.
type RiskItem struct {
	ID             int                      `json:"id"`
	Description    string                   `json:"risk"`
	Category       RiskCategory             `json:"category"`
	Impact         int                      `json:"impact"`
	Likelihood     int                      `json:"likelihood"`
	Mitigation     string                   `json:"mitigation"`
	Accepted       bool                     `json:"accepted"`
	Justifications map[Field]*Justification `json:"justifications"`
}

// OverallScore is impact × likelihood, in [1,25] for valid items.
func (r RiskItem) OverallScore() int { return r.Impact * r.Likelihood }

// EmptyJustifications returns a map with every field present and nil.
func EmptyJustifications() map[Field]*Justification {
	m := make(map[Field]*Justification, len(fieldNames))
	for f := range fieldNames {
		m[f] = nil
	}
	return m
}

// Clone returns a deep copy of r, including the justification map.
func (r RiskItem) Clone() RiskItem {
	out := r
	out.Justifications = make(map[Field]*Justification, len(r.Justifications))
	for f, j := range r.Justifications {
		out.Justifications[f] = j.clone()
	}
	return out
}

// FieldValue renders the value of f the way it is sent to the AI backend.
func (r RiskItem) FieldValue(f Field) string {
	switch f {
	case FieldRisk:
		return r.Description
	case FieldCategory:
		return string(r.Category)
	case FieldImpact:
		return strconv.Itoa(r.Impact)
	case FieldLikelihood:
		return strconv.Itoa(r.Likelihood)
	case FieldMitigation:
		return r.Mitigation
	case FieldOverall:
		return strconv.Itoa(r.OverallScore())
	}
	return ""
}

// ─── PATCH ────────────────────────────────────────────────────────────────────

// RiskPatch carries an edit. Nil fields are left unchanged.
type RiskPatch struct {
	Description *string       `json:"risk,omitempty"`
	Category    *RiskCategory `json:"category,omitempty"`
	Impact      *int          `json:"impact,omitempty"`
	Likelihood  *int          `json:"likelihood,omitempty"`
	Mitigation  *string       `json:"mitigation,omitempty"`
}

// Validate rejects patches that would leave the item malformed.
func (p RiskPatch) Validate() error {
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return invalidField("risk", "risk description must not be empty")
	}
	if p.Category != nil && !p.Category.Valid() {
		return goerr.Wrap(ErrValidation, "unknown risk category",
			goerr.V("field", "category"), goerr.V("category", *p.Category))
	}
	if p.Impact != nil && !ScoreInRange(*p.Impact) {
		return goerr.Wrap(ErrValidation, "impact must be between 1 and 5",
			goerr.V("field", "impact"), goerr.V("impact", *p.Impact))
	}
	if p.Likelihood != nil && !ScoreInRange(*p.Likelihood) {
		return goerr.Wrap(ErrValidation, "likelihood must be between 1 and 5",
			goerr.V("field", "likelihood"), goerr.V("likelihood", *p.Likelihood))
	}
	if p.Mitigation != nil && strings.TrimSpace(*p.Mitigation) == "" {
		return invalidField("mitigation", "mitigation must not be empty")
	}
	return nil
}

// Apply writes the patch onto r and returns the fields whose value changed.
func (p RiskPatch) Apply(r *RiskItem) []Field {
	var changed []Field
	if p.Description != nil && *p.Description != r.Description {
		r.Description = *p.Description
		changed = append(changed, FieldRisk)
	}
	if p.Category != nil && *p.Category != r.Category {
		r.Category = *p.Category
		changed = append(changed, FieldCategory)
	}
	if p.Impact != nil && *p.Impact != r.Impact {
		r.Impact = *p.Impact
		changed = append(changed, FieldImpact)
	}
	if p.Likelihood != nil && *p.Likelihood != r.Likelihood {
		r.Likelihood = *p.Likelihood
		changed = append(changed, FieldLikelihood)
	}
	if p.Mitigation != nil && *p.Mitigation != r.Mitigation {
		r.Mitigation = *p.Mitigation
		changed = append(changed, FieldMitigation)
	}
	return changed
}

// ScoreInRange reports whether v is a valid impact or likelihood.
func ScoreInRange(v int) bool { return v >= MinScore && v <= MaxScore }

// ─── CUSTOM RISK ──────────────────────────────────────────────────────────────

// CustomRisk is the user-entered form for a risk added by hand.
type CustomRisk struct {
	Description string       `json:"risk"`
	Category    RiskCategory `json:"category"`
	Impact      int          `json:"impact"`
	Likelihood  int          `json:"likelihood"`
	Mitigation  string       `json:"mitigation"`
}

// Validate requires every field, with impact and likelihood in [1,5].
func (c CustomRisk) Validate() error {
	if strings.TrimSpace(c.Description) == "" ||
		c.Category == "" ||
		strings.TrimSpace(c.Mitigation) == "" {
		return goerr.Wrap(ErrValidation, "all fields are required for a custom risk")
	}
	p := RiskPatch{Category: &c.Category, Impact: &c.Impact, Likelihood: &c.Likelihood}
	return p.Validate()
}

// Item converts the form into an unaccepted RiskItem without an id.
func (c CustomRisk) Item() RiskItem {
	return RiskItem{
		Description:    strings.TrimSpace(c.Description),
		Category:       c.Category,
		Impact:         c.Impact,
		Likelihood:     c.Likelihood,
		Mitigation:     strings.TrimSpace(c.Mitigation),
		Justifications: EmptyJustifications(),
	}
}

// ─── AI RISK SHAPE ────────────────────────────────────────────────────────────

// RiskShape is a risk as returned by the AI backend. Scores may arrive as
// numbers or numeric strings, and any field may be missing.
type RiskShape struct {
	ID         json.RawMessage `json:"id,omitempty"`
	Risk       string          `json:"risk"`
	Category   string          `json:"category"`
	Impact     json.RawMessage `json:"impact"`
	Likelihood json.RawMessage `json:"likelihood"`
	Mitigation string          `json:"mitigation"`
}

// Normalize turns the loose shape into a fixed RiskItem. Unknown categories
// become Operational, invalid scores become 3, missing text gets a
// placeholder. The id is kept only when it is a positive integer.
func (s RiskShape) Normalize() RiskItem {
	item := RiskItem{
		ID:             0,
		Description:    strings.TrimSpace(s.Risk),
		Category:       RiskCategory(strings.TrimSpace(s.Category)),
		Impact:         normalizeScore(s.Impact),
		Likelihood:     normalizeScore(s.Likelihood),
		Mitigation:     strings.TrimSpace(s.Mitigation),
		Justifications: EmptyJustifications(),
	}
	if id, ok := parseInt(s.ID); ok && id > 0 {
		item.ID = id
	}
	if !item.Category.Valid() {
		item.Category = RiskOperational
	}
	if item.Description == "" {
		item.Description = missingDescription
	}
	if item.Mitigation == "" {
		item.Mitigation = missingMitigation
	}
	return item
}

// ShapeOf is the inverse of Normalize, used to seed the backend with the
// existing risk list.
func ShapeOf(r RiskItem) RiskShape {
	return RiskShape{
		ID:         json.RawMessage(strconv.Itoa(r.ID)),
		Risk:       r.Description,
		Category:   string(r.Category),
		Impact:     json.RawMessage(strconv.Itoa(r.Impact)),
		Likelihood: json.RawMessage(strconv.Itoa(r.Likelihood)),
		Mitigation: r.Mitigation,
	}
}

func normalizeScore(raw json.RawMessage) int {
	v, ok := parseInt(raw)
	if !ok || !ScoreInRange(v) {
		return DefaultScore
	}
	return v
}

// parseInt accepts a JSON number or a JSON string holding an integer.
func parseInt(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := strconv.Atoi(n.String()); err == nil {
			return v, true
		}
		if f, err := n.Float64(); err == nil && f == float64(int(f)) {
			return int(f), true
		}
		return 0, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return v, true
}
