package activities

import (
	"strings"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/state"
)

var lawNames = map[state.DomainTag]string{
	state.DomainPersonal: "개인정보보호법",
	state.DomainLabor:    "근로기준법",
	state.DomainHousing:  "주택임대차보호법",
	state.DomainWeb:      "인터넷 검색",
}

// LawName is the human name of the body of law a domain searches.
func LawName(d state.DomainTag) string { return lawNames[d] }

// SourceExample shows the model how to cite: an article for statutes, a site for the web.
func SourceExample(d state.DomainTag) string {
	name := LawName(d)
	if strings.Contains(name, "법") {
		return name + " 제15조"
	}
	return "블로그 (www.example.com)"
}

// reviewerTools maps the evaluator's tool names to domains.
var reviewerTools = []struct {
	name   string
	domain state.DomainTag
	desc   string
}{
	{"personal_law_search", state.DomainPersonal, "Search the Personal Information Protection Act (개인정보보호법)."},
	{"labor_law_search", state.DomainLabor, "Search the Labor Standards Act (근로기준법)."},
	{"housing_law_search", state.DomainHousing, "Search the Housing Lease Protection Act (주택임대차보호법)."},
	{"web_search", state.DomainWeb, "Search the web for current information."},
}
