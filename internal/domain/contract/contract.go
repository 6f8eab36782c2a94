// Package contract defines the contract-review analysis produced by the
// LLM analyzer and stored as a completed task's result.
package contract

import (
	"fmt"
	"slices"
	"strings"
)

// ClauseType categorizes an extracted clause.
type ClauseType string

const (
	ClauseIndemnification      ClauseType = "indemnification"
	ClauseLiability            ClauseType = "liability"
	ClauseTermination          ClauseType = "termination"
	ClauseConfidentiality      ClauseType = "confidentiality"
	ClauseIntellectualProperty ClauseType = "intellectual_property"
	ClausePayment              ClauseType = "payment"
	ClauseWarranty             ClauseType = "warranty"
	ClauseForceMajeure         ClauseType = "force_majeure"
	ClauseDisputeResolution    ClauseType = "dispute_resolution"
	ClauseGoverningLaw         ClauseType = "governing_law"
	ClauseAssignment           ClauseType = "assignment"
	ClauseAmendment            ClauseType = "amendment"
	ClauseNotice               ClauseType = "notice"
	ClauseEntireAgreement      ClauseType = "entire_agreement"
	ClauseSeverability         ClauseType = "severability"
	ClauseOther                ClauseType = "other"
)

var clauseTypes = []ClauseType{
	ClauseIndemnification, ClauseLiability, ClauseTermination, ClauseConfidentiality,
	ClauseIntellectualProperty, ClausePayment, ClauseWarranty, ClauseForceMajeure,
	ClauseDisputeResolution, ClauseGoverningLaw, ClauseAssignment, ClauseAmendment,
	ClauseNotice, ClauseEntireAgreement, ClauseSeverability, ClauseOther,
}

// StandardClauses are the clause types a commercial contract is expected to contain.
var StandardClauses = []ClauseType{
	ClauseLiability, ClauseTermination, ClauseConfidentiality,
	ClauseGoverningLaw, ClauseDisputeResolution,
}

// ParseClauseType maps a model-supplied label onto a known type. Unknown
// labels become ClauseOther.
func ParseClauseType(s string) ClauseType {
	ct := ClauseType(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(clauseTypes, ct) {
		return ct
	}
	return ClauseOther
}

// RiskLevel grades a clause from low to critical.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (r RiskLevel) rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// ParseRiskLevel returns the matching level and false when s is not one.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch r := RiskLevel(strings.ToLower(strings.TrimSpace(s))); r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return r, true
	}
	return "", false
}

// Clause is a single clause extracted from the contract text.
type Clause struct {
	ID       string     `json:"id"`
	Type     ClauseType `json:"type"`
	Title    string     `json:"title"`
	Text     string     `json:"text"`
	Location string     `json:"location"`
}

// RiskAssessment grades one clause.
type RiskAssessment struct {
	ClauseID      string    `json:"clause_id"`
	RiskLevel     RiskLevel `json:"risk_level"`
	Confidence    float64   `json:"confidence"`
	Issues        []string  `json:"issues"`
	Explanation   string    `json:"explanation"`
	AffectedParty string    `json:"affected_party"`
}

// Recommendation is a suggested change to one clause. Priority 1 is the most urgent.
type Recommendation struct {
	ClauseID      string    `json:"clause_id"`
	Priority      int       `json:"priority"`
	Action        string    `json:"action"`
	Rationale     string    `json:"rationale"`
	SuggestedText string    `json:"suggested_text,omitempty"`
	RiskReduction RiskLevel `json:"risk_reduction,omitempty"`
}

// Analysis is the complete review of one contract.
type Analysis struct {
	ContractID      string           `json:"contract_id"`
	Summary         string           `json:"summary"`
	OverallRisk     RiskLevel        `json:"overall_risk"`
	Clauses         []Clause         `json:"clauses"`
	Risks           []RiskAssessment `json:"risks"`
	Recommendations []Recommendation `json:"recommendations"`
	MissingClauses  []ClauseType     `json:"missing_clauses"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
}

// NewAnalysis assembles an Analysis and derives the overall risk, missing
// standard clauses and summary. Recommendations are ordered by priority.
func NewAnalysis(contractID string, clauses []Clause, risks []RiskAssessment, recs []Recommendation) Analysis {
	slices.SortStableFunc(recs, func(a, b Recommendation) int { return a.Priority - b.Priority })
	a := Analysis{
		ContractID:      contractID,
		Clauses:         nonNil(clauses),
		Risks:           nonNil(risks),
		Recommendations: nonNil(recs),
		OverallRisk:     OverallRisk(risks),
		MissingClauses:  MissingClauses(clauses),
	}
	a.Summary = a.summarize()
	return a
}

// OverallRisk returns the highest risk level among the assessments, or low.
func OverallRisk(risks []RiskAssessment) RiskLevel {
	overall := RiskLow
	for _, r := range risks {
		if r.RiskLevel.rank() > overall.rank() {
			overall = r.RiskLevel
		}
	}
	return overall
}

// MissingClauses lists the standard clause types absent from clauses.
func MissingClauses(clauses []Clause) []ClauseType {
	missing := []ClauseType{}
	for _, want := range StandardClauses {
		if !slices.ContainsFunc(clauses, func(c Clause) bool { return c.Type == want }) {
			missing = append(missing, want)
		}
	}
	return missing
}

// CountRisks returns the number of assessments at the given level.
func (a *Analysis) CountRisks(level RiskLevel) int {
	n := 0
	for _, r := range a.Risks {
		if r.RiskLevel == level {
			n++
		}
	}
	return n
}

func (a *Analysis) summarize() string {
	parts := []string{
		fmt.Sprintf("Analyzed contract with %d clauses.", len(a.Clauses)),
		fmt.Sprintf("Found %d potential issues.", len(a.Risks)),
	}
	if n := a.CountRisks(RiskCritical); n > 0 {
		parts = append(parts, fmt.Sprintf("%d critical risks require immediate attention.", n))
	}
	if n := a.CountRisks(RiskHigh); n > 0 {
		parts = append(parts, fmt.Sprintf("%d high-priority issues should be addressed.", n))
	}
	parts = append(parts, fmt.Sprintf("Generated %d recommendations for improvement.", len(a.Recommendations)))
	return strings.Join(parts, " ")
}

// Markdown renders the analysis as the contract_analysis report artifact.
func (a *Analysis) Markdown() string {
	var b strings.Builder
	b.WriteString("# Contract Analysis Report\n\n")
	fmt.Fprintf(&b, "## Summary\n%s\n\n", a.Summary)
	fmt.Fprintf(&b, "## Overall Risk Level: %s\n\n", strings.ToUpper(string(a.OverallRisk)))

	fmt.Fprintf(&b, "## Clauses Analyzed (%d)\n", len(a.Clauses))
	for _, c := range a.Clauses {
		fmt.Fprintf(&b, "- **%s** (%s): %s\n", c.Title, c.Type, c.Location)
	}

	fmt.Fprintf(&b, "\n## Risk Assessments (%d)\n", len(a.Risks))
	for _, r := range a.Risks {
		fmt.Fprintf(&b, "- [%s] Clause %s: %s\n", strings.ToUpper(string(r.RiskLevel)), r.ClauseID, truncate(r.Explanation, 100))
	}

	fmt.Fprintf(&b, "\n## Recommendations (%d)\n", len(a.Recommendations))
	for _, r := range a.Recommendations {
		fmt.Fprintf(&b, "- [Priority %d] %s\n", r.Priority, r.Action)
	}

	if len(a.MissingClauses) > 0 {
		fmt.Fprintf(&b, "\n## Missing Standard Clauses (%d)\n", len(a.MissingClauses))
		for _, m := range a.MissingClauses {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
