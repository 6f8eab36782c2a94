// Package reviewer implements the contract analyzer on top of an LLM:
// clause extraction, risk assessment and recommendations, each one chat
// completion.
package reviewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/Strob0t/contractreview/internal/adapter/litellm"
	cfotel "github.com/Strob0t/contractreview/internal/adapter/otel"
	"github.com/Strob0t/contractreview/internal/domain/contract"
	"github.com/Strob0t/contractreview/internal/port/analyzer"
)

// Completer is the chat completion capability the reviewer needs.
type Completer interface {
	ChatCompletion(ctx context.Context, req litellm.ChatRequest) (*litellm.ChatResponse, error)
}

// Reviewer is an analyzer.Analyzer backed by an LLM.
type Reviewer struct {
	llm         Completer
	model       string
	temperature float64
	newID       func() string
}

var _ analyzer.Analyzer = (*Reviewer)(nil)

// New creates a Reviewer calling model through llm.
func New(llm Completer, model string, temperature float64) *Reviewer {
	return &Reviewer{
		llm:         llm,
		model:       model,
		temperature: temperature,
		newID:       func() string { return uuid.NewString()[:8] },
	}
}

// Analyze runs the three review stages and returns a contract.Analysis
// encoded as JSON. A stage failure fails the whole analysis.
func (r *Reviewer) Analyze(ctx context.Context, req analyzer.Request) (json.RawMessage, error) {
	clauses, err := r.extractClauses(ctx, req.Text)
	if err != nil {
		return nil, err
	}

	var risks []contract.RiskAssessment
	if len(clauses) > 0 {
		if risks, err = r.assessRisks(ctx, clauses); err != nil {
			return nil, err
		}
	} else {
		slog.WarnContext(ctx, "no clauses extracted")
	}

	var recs []contract.Recommendation
	if len(risks) > 0 {
		if recs, err = r.recommend(ctx, clauses, risks); err != nil {
			return nil, err
		}
	}

	a := contract.NewAnalysis(req.TaskID, clauses, risks, recs)
	a.Metadata = map[string]any{"model": r.model}
	slog.InfoContext(ctx, "contract reviewed",
		"clauses", len(a.Clauses), "risks", len(a.Risks),
		"recommendations", len(a.Recommendations), "overall_risk", a.OverallRisk)
	return json.Marshal(a)
}

type rawClause struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Location string `json:"location"`
}

func (r *Reviewer) extractClauses(ctx context.Context, text string) ([]contract.Clause, error) {
	var raw []rawClause
	if err := r.stage(ctx, "extract_clauses", extractPrompt,
		"Extract all clauses from the following contract:\n\n"+text, 0, &raw); err != nil {
		return nil, err
	}

	clauses := make([]contract.Clause, 0, len(raw))
	for i, rc := range raw {
		c := contract.Clause{
			ID:       r.newID(),
			Type:     contract.ParseClauseType(rc.Type),
			Title:    rc.Title,
			Text:     rc.Text,
			Location: rc.Location,
		}
		if c.Title == "" {
			c.Title = fmt.Sprintf("Clause %d", i+1)
		}
		if c.Location == "" {
			c.Location = fmt.Sprintf("Section %d", i+1)
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}

type rawRisk struct {
	ClauseID      string   `json:"clause_id"`
	RiskLevel     string   `json:"risk_level"`
	Confidence    *float64 `json:"confidence"`
	Issues        []string `json:"issues"`
	Explanation   string   `json:"explanation"`
	AffectedParty string   `json:"affected_party"`
}

func (r *Reviewer) assessRisks(ctx context.Context, clauses []contract.Clause) ([]contract.RiskAssessment, error) {
	blocks := make([]string, len(clauses))
	for i, c := range clauses {
		blocks[i] = fmt.Sprintf("CLAUSE ID: %s\nTYPE: %s\nTITLE: %s\nLOCATION: %s\nTEXT:\n%s",
			c.ID, c.Type, c.Title, c.Location, c.Text)
	}

	var raw []rawRisk
	if err := r.stage(ctx, "analyze_risks", riskPrompt,
		"Assess the risks of these contract clauses:\n\n"+strings.Join(blocks, "\n\n"), 0, &raw); err != nil {
		return nil, err
	}

	risks := make([]contract.RiskAssessment, 0, len(raw))
	for _, rr := range raw {
		level, ok := contract.ParseRiskLevel(rr.RiskLevel)
		if !ok {
			level = contract.RiskLow
		}
		conf := 0.5
		if rr.Confidence != nil {
			conf = min(max(*rr.Confidence, 0), 1)
		}
		risks = append(risks, contract.RiskAssessment{
			ClauseID:      orDefault(rr.ClauseID, "unknown"),
			RiskLevel:     level,
			Confidence:    conf,
			Issues:        nonNilStrings(rr.Issues),
			Explanation:   rr.Explanation,
			AffectedParty: orDefault(rr.AffectedParty, "both"),
		})
	}
	return risks, nil
}

type rawRecommendation struct {
	ClauseID      string  `json:"clause_id"`
	Priority      *int    `json:"priority"`
	Action        string  `json:"action"`
	Rationale     string  `json:"rationale"`
	SuggestedText *string `json:"suggested_text"`
	RiskReduction *string `json:"risk_reduction"`
}

func (r *Reviewer) recommend(ctx context.Context, clauses []contract.Clause, risks []contract.RiskAssessment) ([]contract.Recommendation, error) {
	byID := make(map[string]contract.Clause, len(clauses))
	for _, c := range clauses {
		byID[c.ID] = c
	}
	blocks := make([]string, len(risks))
	for i, rk := range risks {
		title, text := "Unknown clause", "Clause text not available"
		if c, ok := byID[rk.ClauseID]; ok {
			title, text = c.Title, c.Text
		}
		blocks[i] = fmt.Sprintf("CLAUSE ID: %s\nCLAUSE TITLE: %s\nCLAUSE TEXT: %s\nRISK LEVEL: %s\nISSUES: %s\nEXPLANATION: %s",
			rk.ClauseID, title, text, rk.RiskLevel, strings.Join(rk.Issues, ", "), rk.Explanation)
	}

	var raw []rawRecommendation
	if err := r.stage(ctx, "generate_recommendations", recommendPrompt,
		"Recommend changes for these clause risks:\n\n"+strings.Join(blocks, "\n\n---\n\n"),
		max(r.temperature, 0.1), &raw); err != nil {
		return nil, err
	}

	recs := make([]contract.Recommendation, 0, len(raw))
	for _, rr := range raw {
		prio := 3
		if rr.Priority != nil {
			prio = min(max(*rr.Priority, 1), 5)
		}
		rec := contract.Recommendation{
			ClauseID:  orDefault(rr.ClauseID, "unknown"),
			Priority:  prio,
			Action:    orDefault(rr.Action, "Review this clause"),
			Rationale: rr.Rationale,
		}
		if rr.SuggestedText != nil {
			rec.SuggestedText = *rr.SuggestedText
		}
		if rr.RiskReduction != nil {
			if level, ok := contract.ParseRiskLevel(*rr.RiskReduction); ok {
				rec.RiskReduction = level
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// stage runs one completion and decodes its JSON answer into out.
func (r *Reviewer) stage(ctx context.Context, name, system, user string, temperature float64, out any) error {
	ctx, span := cfotel.StartStageSpan(ctx, name)
	defer span.End()

	if temperature == 0 {
		temperature = r.temperature
	}
	resp, err := r.llm.ChatCompletion(ctx, litellm.ChatRequest{
		Model: r.model,
		Messages: []litellm.ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
	})
	if err == nil {
		var content string
		if content, err = resp.Content(); err == nil {
			err = decodeJSON(content, out)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

var errNoJSON = errors.New("response contains no JSON")

// decodeJSON parses a model answer, tolerating markdown code fences and
// prose around the payload.
func decodeJSON(content string, out any) error {
	body := strings.TrimSpace(content)
	if _, after, ok := strings.Cut(body, "```json"); ok {
		body, _, _ = strings.Cut(after, "```")
	} else if _, after, ok := strings.Cut(body, "```"); ok {
		body, _, _ = strings.Cut(after, "```")
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return errNoJSON
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("parse model response: %w", err)
	}
	return nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
