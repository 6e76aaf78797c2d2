package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DomainTag identifies a retrieval domain the router can dispatch to.
type DomainTag string

const (
	DomainPersonal DomainTag = "personal"
	DomainLabor    DomainTag = "labor"
	DomainHousing  DomainTag = "housing"
	DomainWeb      DomainTag = "web"
)

// AllDomains is the canonical dispatch order. Answers are folded in this order.
var AllDomains = []DomainTag{DomainPersonal, DomainLabor, DomainHousing, DomainWeb}

// ToolName is the router-facing name, e.g. "search_labor".
func (d DomainTag) ToolName() string { return "search_" + string(d) }

func (d DomainTag) Valid() bool {
	for _, t := range AllDomains {
		if t == d {
			return true
		}
	}
	return false
}

// DomainFromTool maps a router tool name (or a bare tag) back to its domain.
func DomainFromTool(name string) (DomainTag, bool) {
	tag := DomainTag(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "search_"))
	return tag, tag.Valid()
}

// Decision is the reviewer's verdict injected at the human review gate.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

var ErrInvalidDecision = errors.New("decision must be approved or rejected")

func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionApproved, DecisionRejected:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
}

// Node is the orchestrator's position in the graph.
type Node string

const (
	NodeAnalyze  Node = "analyze_question"
	NodeDispatch Node = "dispatch"
	NodeGenerate Node = "generate_answer"
	NodeFallback Node = "llm_fallback"
	NodeEvaluate Node = "evaluate_answer"
	NodeReview   Node = "human_review"
	NodeEnd      Node = "end"
)

// SearchNode names the per-domain sub-agent node.
func SearchNode(d DomainTag) Node { return Node(d.ToolName()) }

// Status is derived from Node but stored so stores can index on it.
type Status string

const (
	StatusRunning        Status = "running"
	StatusAwaitingReview Status = "awaiting_review"
	StatusCompleted      Status = "completed"
	// StatusExpired marks a review window that closed without a decision.
	StatusExpired Status = "expired"
)

// WorkflowState is the durable per-thread state.
type WorkflowState struct {
	ThreadID         string            `json:"thread_id"`
	Question         string            `json:"question"`
	Answers          []string          `json:"answers"`
	FinalAnswer      *string           `json:"final_answer,omitempty"`
	Datasources      []DomainTag       `json:"datasources"`
	EvaluationReport *EvaluationReport `json:"evaluation_report,omitempty"`
	UserDecision     *Decision         `json:"user_decision,omitempty"`

	Node      Node      `json:"node"`
	Status    Status    `json:"status"`
	Revision  int64     `json:"revision"`
	Passes    int       `json:"passes"`
	Fallback  bool      `json:"fallback"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowState starts a thread at the router.
func NewWorkflowState(threadID, question string, now time.Time) *WorkflowState {
	return &WorkflowState{
		ThreadID:  threadID,
		Question:  question,
		Node:      NodeAnalyze,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (ws *WorkflowState) Validate() error {
	if strings.TrimSpace(ws.ThreadID) == "" {
		return fmt.Errorf("thread id cannot be empty")
	}
	if strings.TrimSpace(ws.Question) == "" {
		return fmt.Errorf("question cannot be empty")
	}
	for _, d := range ws.Datasources {
		if !d.Valid() {
			return fmt.Errorf("unknown datasource %q", d)
		}
	}
	if ws.EvaluationReport != nil {
		if err := ws.EvaluationReport.Validate(); err != nil {
			return err
		}
	}
	if ws.Status == StatusAwaitingReview {
		if ws.Node != NodeReview {
			return fmt.Errorf("awaiting review but positioned at %s", ws.Node)
		}
		if ws.FinalAnswer == nil || ws.EvaluationReport == nil {
			return fmt.Errorf("awaiting review without answer and evaluation")
		}
	}
	return nil
}

func (ws *WorkflowState) AwaitingReview() bool { return ws.Status == StatusAwaitingReview }

func (ws *WorkflowState) Done() bool { return ws.Status == StatusCompleted }

func (ws *WorkflowState) Expired() bool { return ws.Status == StatusExpired }

// Expire closes an unanswered review. The answer stays readable.
func (ws *WorkflowState) Expire(now time.Time) {
	ws.Node = NodeEnd
	ws.Status = StatusExpired
	ws.UpdatedAt = now
}

// Answer returns the final answer or "" when none was produced.
func (ws *WorkflowState) Answer() string {
	if ws.FinalAnswer == nil {
		return ""
	}
	return *ws.FinalAnswer
}

// ResetForReroute clears everything the previous routing pass produced.
// The question survives.
func (ws *WorkflowState) ResetForReroute() {
	ws.Answers = nil
	ws.Datasources = nil
	ws.FinalAnswer = nil
	ws.EvaluationReport = nil
	ws.UserDecision = nil
	ws.Fallback = false
	ws.Node = NodeAnalyze
	ws.Status = StatusRunning
}

// Clone returns a deep copy so the engine can mutate without touching the stored snapshot.
func (ws *WorkflowState) Clone() *WorkflowState {
	if ws == nil {
		return nil
	}
	c := *ws
	c.Answers = append([]string(nil), ws.Answers...)
	c.Datasources = append([]DomainTag(nil), ws.Datasources...)
	if ws.FinalAnswer != nil {
		s := *ws.FinalAnswer
		c.FinalAnswer = &s
	}
	if ws.EvaluationReport != nil {
		r := *ws.EvaluationReport
		c.EvaluationReport = &r
	}
	if ws.UserDecision != nil {
		d := *ws.UserDecision
		c.UserDecision = &d
	}
	return &c
}

// Document is one retrieved passage.
type Document struct {
	Content  string           `json:"content"`
	Metadata DocumentMetadata `json:"metadata"`
}

type DocumentMetadata struct {
	Source string  `json:"source,omitempty"`
	URL    string  `json:"url,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

// InformationStrip is a scored fact extracted from a document.
type InformationStrip struct {
	Content           string  `json:"content"`
	Source            string  `json:"source"`
	RelevanceScore    float64 `json:"relevance_score"`
	FaithfulnessScore float64 `json:"faithfulness_score"`
}

// ExtractedInformation is the extraction model's verdict for one document.
type ExtractedInformation struct {
	Strips         []InformationStrip `json:"strips"`
	QueryRelevance float64            `json:"query_relevance"`
}

// RefinedQuestion is the rewrite model's output.
type RefinedQuestion struct {
	QuestionRefined string `json:"question_refined"`
	Reason          string `json:"reason"`
}

type ToolSelector struct {
	Tool string `json:"tool"`
}

// ToolSelectors is the router's raw output. Duplicates are allowed here.
type ToolSelectors struct {
	Tools []ToolSelector `json:"tools"`
}

// SubAgentState lives for one sub-agent dispatch only.
type SubAgentState struct {
	Question       string             `json:"question"`
	RewrittenQuery *string            `json:"rewritten_query,omitempty"`
	Documents      []Document         `json:"documents"`
	ExtractedInfo  []InformationStrip `json:"extracted_info,omitempty"`
	NumGenerations int                `json:"num_generations"`
	NodeAnswer     *string            `json:"node_answer,omitempty"`
}

// Query is what the next retrieval should search for.
func (s *SubAgentState) Query() string {
	if s.RewrittenQuery != nil && strings.TrimSpace(*s.RewrittenQuery) != "" {
		return *s.RewrittenQuery
	}
	return s.Question
}
