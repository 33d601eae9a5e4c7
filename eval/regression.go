package eval

// Regression thresholds: the largest tolerated move in the unfavourable
// direction per metric. Latency regresses when it rises.
var regressionThresholds = []struct {
	name        string
	limit       float64
	lowerBetter bool
	get         func(Summary) float64
}{
	{"recall", 0.05, false, func(s Summary) float64 { return s.MeanRecall }},
	{"precision", 0.05, false, func(s Summary) float64 { return s.MeanPrecision }},
	{"citation_coverage", 0.03, false, func(s Summary) float64 { return s.MeanCoverage }},
	{"pass_rate", 0.05, false, func(s Summary) float64 { return s.PassRate }},
	{"latency_p95_ms", 250, true, func(s Summary) float64 { return s.LatencyP95Ms }},
}

// MetricDelta compares one metric between runs.
type MetricDelta struct {
	Metric    string  `json:"metric"`
	Current   float64 `json:"current"`
	Baseline  float64 `json:"baseline"`
	Drop      float64 `json:"drop"`
	Threshold float64 `json:"threshold"`
	Regressed bool    `json:"regressed"`
}

// Regression is the outcome of CheckForRegression.
type Regression struct {
	Regressed     bool          `json:"regressed"`
	BaselineRunID string        `json:"baselineRunId,omitempty"`
	Metrics       []MetricDelta `json:"metrics"`
}

// CheckForRegression flags a regression when any tracked metric moved
// away from baseline, in its unfavourable direction, by more than its
// threshold.
func CheckForRegression(current, baseline Summary) Regression {
	var out Regression
	for _, t := range regressionThresholds {
		d := MetricDelta{
			Metric:    t.name,
			Current:   t.get(current),
			Baseline:  t.get(baseline),
			Threshold: t.limit,
		}
		d.Drop = d.Baseline - d.Current
		if t.lowerBetter {
			d.Drop = d.Current - d.Baseline
		}
		d.Regressed = d.Drop > t.limit+epsilon
		if d.Regressed {
			out.Regressed = true
		}
		out.Metrics = append(out.Metrics, d)
	}
	return out
}
