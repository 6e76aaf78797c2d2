package state

// Thresholds gate which extraction results a sub-agent keeps.
type Thresholds struct {
	QueryRelevance float64 // per document, inclusive
	Strip          float64 // per strip, both scores must exceed it
}

var DefaultThresholds = Thresholds{QueryRelevance: 0.8, Strip: 0.7}

// Keep returns the strips of ex that survive t. A document below the query
// relevance bar contributes nothing.
func (t Thresholds) Keep(ex ExtractedInformation) []InformationStrip {
	if ex.QueryRelevance < t.QueryRelevance {
		return nil
	}
	var kept []InformationStrip
	for _, s := range ex.Strips {
		if s.RelevanceScore > t.Strip && s.FaithfulnessScore > t.Strip {
			kept = append(kept, s)
		}
	}
	return kept
}

// DedupDomains turns router selections into a dispatch set in canonical order.
// Unknown names are returned separately so callers can log them.
func DedupDomains(sel ToolSelectors) (set []DomainTag, unknown []string) {
	seen := make(map[DomainTag]bool, len(AllDomains))
	for _, t := range sel.Tools {
		d, ok := DomainFromTool(t.Tool)
		if !ok {
			unknown = append(unknown, t.Tool)
			continue
		}
		seen[d] = true
	}
	for _, d := range AllDomains {
		if seen[d] {
			set = append(set, d)
		}
	}
	return set, unknown
}

// FoldAnswers is the join step after parallel dispatch. Map iteration order is
// irrelevant: output follows AllDomains and empty answers are kept.
func FoldAnswers(byDomain map[DomainTag]string) []string {
	out := make([]string, 0, len(byDomain))
	for _, d := range AllDomains {
		if a, ok := byDomain[d]; ok {
			out = append(out, a)
		}
	}
	return out
}
