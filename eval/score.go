package eval

import (
	"math"
	"sort"
	"strings"
)

const epsilon = 1e-9

// atLeast compares with a small tolerance so that 0.7 computed as 7/10
// passes a 0.70 threshold.
func atLeast(v, threshold float64) bool { return v+epsilon >= threshold }

func matches(r Result, topic string) bool {
	hay := strings.ToLower(r.Title + " " + r.Text)
	return strings.Contains(hay, strings.ToLower(topic))
}

// recall is the share of topics found in at least one result.
func recall(results []Result, topics []string) float64 {
	if len(topics) == 0 {
		return 1
	}
	found := 0
	for _, t := range topics {
		for _, r := range results {
			if matches(r, t) {
				found++
				break
			}
		}
	}
	return float64(found) / float64(len(topics))
}

// precision is the share of results matching any topic.
func precision(results []Result, topics []string) float64 {
	if len(results) == 0 {
		return 0
	}
	relevant := 0
	for _, r := range results {
		for _, t := range topics {
			if matches(r, t) {
				relevant++
				break
			}
		}
	}
	return float64(relevant) / float64(len(results))
}

// citationCoverage is min(cited, required) / required, 1 when nothing is
// required.
func citationCoverage(results []Result, required int) float64 {
	if required <= 0 {
		return 1
	}
	cited := 0
	for _, r := range results {
		if r.EvidenceID != "" {
			cited++
		}
	}
	return float64(min(cited, required)) / float64(required)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func p95(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	return s[int(math.Ceil(0.95*float64(len(s))))-1]
}
