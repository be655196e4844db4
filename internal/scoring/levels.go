package scoring

// Level is the name and canned description of an index value. Details are the
// fallback bullets shown when the AI narrative is unavailable.
type Level struct {
	Score   int      `json:"score"`
	Name    string   `json:"level"`
	Details []string `json:"details"`
}

// ─── RISK INDEX LEVELS ────────────────────────────────────────────────────────

var riskLevels = []Level{
	{1, "Negligible", []string{
		"Risks identified are procedural or minor in nature.",
		"Impact on objectives is highly unlikely and would be insignificant.",
		"Standard operational controls are sufficient for management.",
	}},
	{2, "Very Low", []string{
		"Identified risks have a low probability of occurring.",
		"Potential impact is minor and could be easily absorbed.",
		"Existing mitigation strategies require minimal active management.",
	}},
	{3, "Low", []string{
		"Risks are unlikely to occur but warrant monitoring.",
		"Impact would be localized and have a limited effect on overall objectives.",
		"Specific mitigation plans should be in place and reviewed periodically.",
	}},
	{4, "Moderate", []string{
		"Risks have a reasonable chance of occurring if not managed.",
		"Potential impact could cause noticeable disruption and may require dedicated resources.",
		"Active monitoring and defined mitigation actions are required.",
	}},
	{5, "High", []string{
		"Risks are likely to materialize without proactive intervention.",
		"Impact could be significant, affecting key project outcomes or reputation.",
		"Robust mitigation strategies must be implemented and closely tracked.",
	}},
	{6, "Very High", []string{
		"Risks are very likely to occur and could have a severe impact.",
		"Potential for major disruption, financial loss, or harm is substantial.",
		"Requires senior management attention and intensive mitigation efforts.",
	}},
	{7, "Critical", []string{
		"Risks are imminent or have an almost certain chance of occurring.",
		"Impact would be critical, threatening project viability or causing extreme harm.",
		"Immediate, comprehensive action and contingency planning are essential.",
	}},
}

// ─── CONTEXT INDEX LEVELS ─────────────────────────────────────────────────────

var contextLevels = []Level{
	{1, "Routine", []string{
		"Small-scale, localized event with straightforward logistics.",
		"Low public profile with minimal media interest or social sensitivity.",
		"Follows established, routine procedures with low regulatory oversight.",
	}},
	{2, "Standard", []string{
		"Medium-scale event with moderate complexity and coordination requirements.",
		"Some public interest but manageable media attention and stakeholder engagement.",
		"Standard regulatory compliance with well-defined approval processes.",
	}},
	{3, "Elevated", []string{
		"Large-scale event requiring significant coordination across multiple agencies.",
		"High public profile with substantial media coverage and stakeholder interest.",
		"Enhanced regulatory oversight with multiple approval layers and compliance requirements.",
	}},
	{4, "Complex", []string{
		"Multi-faceted event with intricate logistics and extensive stakeholder management.",
		"Very high public profile with intense media scrutiny and political sensitivity.",
		"Complex regulatory environment requiring specialized expertise and extensive documentation.",
	}},
	{5, "Critical", []string{
		"High-stakes event with national or international significance and complex security requirements.",
		"Extreme public and media attention with potential for widespread social and political impact.",
		"Stringent regulatory compliance with multiple jurisdictions and specialized security protocols.",
	}},
	{6, "Strategic", []string{
		"Mission-critical event with far-reaching implications for organizational reputation and objectives.",
		"Global media attention and high-level political or diplomatic significance.",
		"Multi-layered regulatory framework requiring coordination with national and international authorities.",
	}},
	{7, "Exceptional", []string{
		"Unprecedented event requiring extraordinary measures and resources.",
		"Worldwide attention with potential to influence international relations or global markets.",
		"Exceptional regulatory requirements involving the highest levels of government and security agencies.",
	}},
}

// ─── COMPLIANCE ───────────────────────────────────────────────────────────────

// ComplianceStatus is the categorical judgment of security-risk coverage.
type ComplianceStatus string

const (
	NonCompliant      ComplianceStatus = "Non-Compliant"
	Compliant         ComplianceStatus = "Compliant"
	ExceedsCompliance ComplianceStatus = "Exceeds Compliance"
)

var (
	exceedsDetails = []string{
		"Demonstrates a robust, multi-layered approach aligning with Martyn's Law.",
		"Integrates advanced threat intelligence in line with ProtectUK guidance.",
		"Proactively addresses information security with comprehensive controls (ISO 27001).",
	}
	compliantHighImpactDetails = []string{
		"Assessment considers terrorist threats and proposes proportionate mitigations (Martyn's Law).",
		"Aligns with national guidance on threat detection and public safety (ProtectUK).",
		"Identifies key information-related risks as a basis for security controls (ISO 27001).",
	}
	compliantDetails = []string{
		"Basic principles of public safety and security are considered (Martyn's Law).",
		"Some general security guidance has been acknowledged (ProtectUK).",
		"Initial steps taken to identify general risks, touching on information security (ISO 27001).",
	}
	nonCompliantDetails = []string{
		"Key principles of terrorism risk assessment are not addressed (Martyn's Law).",
		"Fails to incorporate guidance on recognising and responding to threats (ProtectUK).",
		"Information security risks associated with the event are not considered (ISO 27001).",
	}
)

// ─── LOOKUPS ──────────────────────────────────────────────────────────────────

// RiskLevelFor returns the level for a risk index, clamping out-of-range
// scores into [1,7].
func RiskLevelFor(score int) Level { return lookup(riskLevels, score) }

// ContextLevelFor returns the level for a context index, clamping out-of-range
// scores into [1,7].
func ContextLevelFor(score int) Level { return lookup(contextLevels, score) }

func lookup(levels []Level, score int) Level {
	i := clamp(score, 1, len(levels)) - 1
	l := levels[i]
	l.Details = append([]string(nil), l.Details...)
	return l
}
