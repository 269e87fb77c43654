package tools

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strings"
)

// Scorers grade model output against an expected answer for dataset
// evaluations. Scores are in [0, 1].

// MatchScore is 1 when actual equals expected after trimming whitespace.
func MatchScore(actual, expected string) float64 {
	if strings.TrimSpace(actual) == strings.TrimSpace(expected) {
		return 1
	}
	return 0
}

// ContainsScore is 1 when actual contains expected as a substring.
func ContainsScore(actual, expected string) float64 {
	if strings.Contains(actual, expected) {
		return 1
	}
	return 0
}

// JSONMatchScore compares both strings as JSON documents, so key order
// and whitespace don't matter. Falls back to MatchScore when either
// side isn't valid JSON.
func JSONMatchScore(actual, expected string) float64 {
	var a, e any
	if json.Unmarshal([]byte(actual), &a) != nil || json.Unmarshal([]byte(expected), &e) != nil {
		return MatchScore(actual, expected)
	}
	if reflect.DeepEqual(a, e) {
		return 1
	}
	return 0
}

// NDCGAtK is the normalized discounted cumulative gain of a ranked
// relevance list, truncated to the top k. A list whose top k is already
// in descending relevance order scores exactly 1. An empty or
// all-irrelevant list scores 0.
func NDCGAtK(relevances []float64, k int) float64 {
	if k <= 0 || len(relevances) == 0 {
		return 0
	}
	if k > len(relevances) {
		k = len(relevances)
	}

	dcg := dcgAtK(relevances, k)

	ideal := make([]float64, len(relevances))
	copy(ideal, relevances)
	sort.Sort(sort.Reverse(sort.Float64Slice(ideal)))
	idcg := dcgAtK(ideal, k)
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

func dcgAtK(relevances []float64, k int) float64 {
	var dcg float64
	for i := 0; i < k && i < len(relevances); i++ {
		dcg += relevances[i] / math.Log2(float64(i)+2)
	}
	return dcg
}
