package state

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	MaxCriterionScore = 10
	MaxTotalScore     = 6 * MaxCriterionScore
)

// Score is a rubric value. Reviewers sometimes emit 7.5 or "8", both are accepted.
type Score int

func (s *Score) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("score %s: %w", string(b), err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("score %s is not a finite number", string(b))
	}
	// Normalize clamps per field; this only keeps the conversion defined.
	*s = Score(math.Round(math.Max(0, math.Min(f, MaxTotalScore))))
	return nil
}

// Scores holds the six rubric criteria.
type Scores struct {
	Accuracy           Score `json:"accuracy"`
	Relevance          Score `json:"relevance"`
	Completeness       Score `json:"completeness"`
	CitationAccuracy   Score `json:"citation_accuracy"`
	ClarityConciseness Score `json:"clarity_conciseness"`
	Objectivity        Score `json:"objectivity"`
}

func (s *Scores) each() []*Score {
	return []*Score{&s.Accuracy, &s.Relevance, &s.Completeness, &s.CitationAccuracy, &s.ClarityConciseness, &s.Objectivity}
}

// EvaluationReport is the reviewer's verdict on a final answer.
type EvaluationReport struct {
	Scores          Scores `json:"scores"`
	TotalScore      Score  `json:"total_score"`
	BriefEvaluation string `json:"brief_evaluation"`
}

// Normalize clamps every criterion to [0,10] and recomputes the total from them.
func (r *EvaluationReport) Normalize() {
	var total Score
	for _, s := range r.Scores.each() {
		if *s < 0 {
			*s = 0
		}
		if *s > MaxCriterionScore {
			*s = MaxCriterionScore
		}
		total += *s
	}
	r.TotalScore = total
	r.BriefEvaluation = strings.TrimSpace(r.BriefEvaluation)
}

func (r *EvaluationReport) Validate() error {
	var total Score
	for _, s := range r.Scores.each() {
		if *s < 0 || *s > MaxCriterionScore {
			return fmt.Errorf("criterion score %d out of range", *s)
		}
		total += *s
	}
	if r.TotalScore != total {
		return fmt.Errorf("total score %d does not match criteria sum %d", r.TotalScore, total)
	}
	return nil
}

// ParseEvaluationReport decodes and normalizes a reviewer reply.
func ParseEvaluationReport(raw []byte) (*EvaluationReport, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if _, ok := fields["scores"]; !ok {
		return nil, fmt.Errorf("evaluation report missing scores")
	}
	var r EvaluationReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	r.Normalize()
	return &r, nil
}

// ZeroReport is used when a malformed evaluation is configured to degrade instead of fail.
func ZeroReport(reason string) *EvaluationReport {
	return &EvaluationReport{BriefEvaluation: reason}
}
