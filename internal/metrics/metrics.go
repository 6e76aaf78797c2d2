package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	TurnsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalqa_turns_started_total",
			Help: "Conversation turns started, by kind (question, resume)",
		},
		[]string{"kind"},
	)

	TurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalqa_turns_completed_total",
			Help: "Conversation turns finished, by outcome",
		},
		[]string{"kind", "outcome"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "legalqa_turn_duration_seconds",
			Help:    "Wall time of a conversation turn",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"kind"},
	)

	// Graph metrics
	NodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "legalqa_node_duration_seconds",
			Help:    "Time spent in a workflow node",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node"},
	)

	RouterSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalqa_router_selections_total",
			Help: "Domains selected by the router; fallback counts empty selections",
		},
		[]string{"domain"},
	)

	SubAgentPasses = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "legalqa_subagent_passes",
			Help:    "Extraction passes a sub-agent needed before answering",
			Buckets: []float64{1, 2, 3, 4},
		},
		[]string{"domain"},
	)

	StripsKept = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalqa_strips_kept_total",
			Help: "Information strips that passed the relevance and faithfulness bar",
		},
		[]string{"domain"},
	)

	QueryRewrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalqa_query_rewrites_total",
			Help: "Query rewrites issued by sub-agents",
		},
		[]string{"domain"},
	)

	EvaluationScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "legalqa_evaluation_total_score",
			Help:    "Reviewer total score out of 60",
			Buckets: prometheus.LinearBuckets(0, 10, 7),
		},
	)

	ReviewDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalqa_review_decisions_total",
			Help: "Human review decisions",
		},
		[]string{"decision"},
	)

	// Dependency metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalqa_llm_requests_total",
			Help: "Model calls by purpose and status",
		},
		[]string{"purpose", "status"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalqa_llm_tokens_total",
			Help: "Tokens consumed by direction",
		},
		[]string{"direction"},
	)

	RetrievalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalqa_retrieval_requests_total",
			Help: "Retrieval calls by backend and status (hit, empty, error)",
		},
		[]string{"backend", "status"},
	)

	RetrievalLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "legalqa_retrieval_latency_seconds",
			Help:    "Retrieval latency by backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	CheckpointOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalqa_checkpoint_operations_total",
			Help: "Checkpoint store operations by backend, op and status",
		},
		[]string{"backend", "op", "status"},
	)

	CheckpointsEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalqa_checkpoints_evicted_total",
			Help: "Checkpoints removed by TTL sweeps",
		},
		[]string{"backend"},
	)

	ActiveThreads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "legalqa_threads_awaiting_review",
			Help: "Threads currently suspended at the review gate",
		},
	)

	EmbeddingCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalqa_embedding_cache_total",
			Help: "Embedding cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)
)

// Status maps an error to a label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
