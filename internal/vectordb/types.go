package vectordb

// Point is one scored hit from a collection.
type Point struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// String returns the payload value for key, or "".
func (p Point) String(key string) string {
	if v, ok := p.Payload[key].(string); ok {
		return v
	}
	return ""
}

type queryRequest struct {
	Query          []float32 `json:"query"`
	Limit          int       `json:"limit"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
	WithPayload    bool      `json:"with_payload"`
}

type searchRequest struct {
	Vector         []float32 `json:"vector"`
	Limit          int       `json:"limit"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
	WithPayload    bool      `json:"with_payload"`
}

type searchResponse struct {
	Result []Point `json:"result"`
	Status string  `json:"status"`
}

// /points/query nests the hits one level deeper.
type queryResponse struct {
	Result struct {
		Points []Point `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}
