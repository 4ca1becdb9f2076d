package engine

import (
	"fmt"
	"strings"
)

// Intent labels what kind of answer a question is after. Classification is
// keyword-driven and only steers prompt composition and visualization
// defaults; it never forces a particular tool call.
type Intent string

const (
	IntentRetrieval   Intent = "retrieval"
	IntentAggregation Intent = "aggregation"
	IntentComparison  Intent = "comparison"
	IntentTrend       Intent = "trend"
	IntentAnomaly     Intent = "anomaly"
	IntentCorrelation Intent = "correlation"
	IntentExploration Intent = "exploration"
	IntentFollowUp    Intent = "follow_up"
)

// Classification is the outcome of classifying one incoming query.
type Classification struct {
	Intent            Intent
	SuggestedViz      string
	Confidence        float64
	Reasoning         string
	ReferencedContext bool
}

var anomalyKeywords = []string{
	"anomal", "unusual", "strange", "weird", "odd", "outlier", "abnormal",
	"irregular", "suspicious", "unexpected", "deviation", "exception",
	"inconsistent", "fraud", "detect",
}

var trendKeywords = []string{
	"trend", "over time", "growth", "decline", "evolution", "monthly",
	"weekly", "daily", "yearly", "quarterly", "historical", "trajectory",
}

var comparisonKeywords = []string{
	"compare", "versus", " vs ", "difference", "between", "against",
	"top", "bottom", "best", "worst", "ranking", "rank",
}

var aggregationKeywords = []string{
	"total", "sum", "average", "mean", "count", "how many", "how much",
	"maximum", "minimum", "overall",
}

var explorationKeywords = []string{
	"analyze", "investigate", "explore", "understand", "insight",
	"tell me about", "deep dive", "comprehensive", "overview",
}

var correlationKeywords = []string{
	"relationship", "correlation", "relate", "affect", "impact",
}

var followUpKeywords = []string{
	"that", "those", "them", "previous", "earlier", "mentioned",
	"more about", "drill down", "expand on", "same",
}

// Classify labels the query with an intent and a suggested chart type.
// hasContext tells the follow-up check whether any prior exchange exists.
func Classify(query string, hasContext bool) Classification {
	lower := strings.ToLower(strings.TrimSpace(query))

	isFollowUp := hasContext && (containsAny(lower, followUpKeywords) || len(strings.Fields(lower)) <= 3)

	intent := IntentRetrieval
	switch {
	case isFollowUp:
		intent = IntentFollowUp
	case containsAny(lower, explorationKeywords):
		intent = IntentExploration
	case containsAny(lower, anomalyKeywords):
		intent = IntentAnomaly
	case containsAny(lower, trendKeywords):
		intent = IntentTrend
	case containsAny(lower, comparisonKeywords):
		intent = IntentComparison
	case containsAny(lower, correlationKeywords):
		intent = IntentCorrelation
	case containsAny(lower, aggregationKeywords):
		intent = IntentAggregation
	}

	return Classification{
		Intent:            intent,
		SuggestedViz:      suggestViz(intent, lower),
		Confidence:        classificationConfidence(lower, intent),
		Reasoning:         fmt.Sprintf("query classified with %s intent", intent),
		ReferencedContext: isFollowUp,
	}
}

// IsAnomalyQuery reports whether the question reads like an anomaly hunt.
// The broad keyword net intentionally over-triggers; the match only adds a
// priority instruction block to the first planning prompt.
func IsAnomalyQuery(query string) bool {
	lower := strings.ToLower(query)
	broad := append([]string{"pattern", "error", "wrong", "find", "identify", "spot", "discover"}, anomalyKeywords...)
	return containsAny(lower, broad)
}

// LooksLikeConclusion sniffs narrative text for summary language. This is a
// deliberate heuristic with known false positives (analysis that merely
// mentions "summary") and false negatives (conclusions phrased without any
// trigger word); a structured end-of-investigation signal from the model
// would be more reliable but is not part of the current wire contract.
func LooksLikeConclusion(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range []string{"conclusion", "summary", "recommendation", "insight"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func suggestViz(intent Intent, lower string) string {
	switch intent {
	case IntentTrend:
		return "line"
	case IntentComparison:
		return "bar"
	case IntentCorrelation:
		return "scatter"
	case IntentAnomaly:
		if containsAny(lower, []string{"time", "daily", "monthly", "trend"}) {
			return "line"
		}
		return "bar"
	}
	if containsAny(lower, []string{"distribution", "breakdown", "percentage", "share", "proportion"}) {
		return "pie"
	}
	return "bar"
}

func classificationConfidence(lower string, intent Intent) float64 {
	confidence := 0.7

	keywordSets := map[Intent][]string{
		IntentAnomaly:     anomalyKeywords,
		IntentTrend:       trendKeywords,
		IntentComparison:  comparisonKeywords,
		IntentAggregation: aggregationKeywords,
		IntentExploration: explorationKeywords,
	}
	if kws, ok := keywordSets[intent]; ok {
		matches := 0
		for _, kw := range kws {
			if strings.Contains(lower, kw) {
				matches++
			}
		}
		bonus := float64(matches) * 0.05
		if bonus > 0.2 {
			bonus = 0.2
		}
		confidence += bonus
	}
	if len(strings.Fields(lower)) > 5 {
		confidence += 0.05
	}
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
