// Package drift tracks quality metrics against fixed baselines and files
// gap tickets when a metric drifts past its critical threshold.
//
// Metrics belong to five domains. Each metric has a direction: for
// higher-is-better metrics the drift is baseline minus current, for
// lower-is-better metrics it is current minus baseline. A positive drift
// above the warning or critical threshold is a breach.
package drift

import (
	"fmt"
	"sort"
)

// Domain groups related metrics.
type Domain string

const (
	DomainRetrieval   Domain = "retrieval"
	DomainEvidence    Domain = "evidence"
	DomainTranslation Domain = "translation"
	DomainDashboard   Domain = "dashboard"
	DomainModel       Domain = "model"
)

// Domains lists every domain in reporting order.
var Domains = []Domain{DomainRetrieval, DomainEvidence, DomainTranslation, DomainDashboard, DomainModel}

// Direction says which way a metric improves.
type Direction string

const (
	HigherIsBetter Direction = "higher"
	LowerIsBetter  Direction = "lower"
)

// Severity of an evaluated metric. SeverityNone is stored as the empty
// string.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Definition is the catalog entry for one metric. Thresholds are
// absolute deltas in the metric's unit.
type Definition struct {
	Domain    Domain    `json:"domain" yaml:"domain"`
	Metric    string    `json:"metric" yaml:"metric"`
	Direction Direction `json:"direction" yaml:"direction"`
	Baseline  float64   `json:"baseline" yaml:"baseline"`
	Warning   float64   `json:"warningThreshold" yaml:"warning"`
	Critical  float64   `json:"criticalThreshold" yaml:"critical"`
	Unit      string    `json:"unit,omitempty" yaml:"unit"`
}

// Key is "domain.metric".
func (d Definition) Key() string { return string(d.Domain) + "." + d.Metric }

// Evaluate returns the unfavourable delta of value and its severity.
// The comparison is strict: a delta equal to a threshold does not breach.
func (d Definition) Evaluate(value float64) (float64, Severity) {
	delta := value - d.Baseline
	if d.Direction == HigherIsBetter {
		delta = d.Baseline - value
	}
	switch {
	case delta > d.Critical:
		return delta, SeverityCritical
	case delta > d.Warning:
		return delta, SeverityWarning
	default:
		return delta, SeverityNone
	}
}

func (d Definition) validate() error {
	switch {
	case d.Direction != HigherIsBetter && d.Direction != LowerIsBetter:
		return fmt.Errorf("drift: %s: direction must be higher or lower", d.Key())
	case d.Warning < 0 || d.Critical < d.Warning:
		return fmt.Errorf("drift: %s: need 0 <= warning <= critical", d.Key())
	}
	return nil
}

// DefaultCatalog is the built-in metric vocabulary.
var DefaultCatalog = []Definition{
	{DomainRetrieval, "recall_at_k", HigherIsBetter, 0.85, 0.05, 0.15, "ratio"},
	{DomainRetrieval, "precision_at_k", HigherIsBetter, 0.70, 0.05, 0.15, "ratio"},
	{DomainRetrieval, "latency_p95_ms", LowerIsBetter, 500, 250, 1000, "ms"},

	{DomainEvidence, "citation_accuracy", HigherIsBetter, 1.0, 0.02, 0.05, "ratio"},
	{DomainEvidence, "staleness_hours", LowerIsBetter, 24, 24, 72, "h"},
	{DomainEvidence, "contradiction_rate", LowerIsBetter, 0.02, 0.03, 0.08, "ratio"},

	{DomainTranslation, "parity_score", HigherIsBetter, 1.0, 0.05, 0.15, "ratio"},
	{DomainTranslation, "missing_translation_count", LowerIsBetter, 0, 5, 20, "count"},

	{DomainDashboard, "response_time_ms", LowerIsBetter, 300, 200, 700, "ms"},
	{DomainDashboard, "error_rate", LowerIsBetter, 0.01, 0.02, 0.05, "ratio"},

	{DomainModel, "response_quality", HigherIsBetter, 0.90, 0.05, 0.15, "ratio"},
	{DomainModel, "hallucination_rate", LowerIsBetter, 0.02, 0.03, 0.08, "ratio"},
}

// Catalog is an indexed set of definitions.
type Catalog struct {
	defs map[string]Definition
}

// NewCatalog indexes defs. Later entries replace earlier ones with the
// same key, so overrides can be appended to DefaultCatalog.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if err := d.validate(); err != nil {
			return nil, err
		}
		c.defs[d.Key()] = d
	}
	return c, nil
}

// Lookup returns the definition of domain.metric.
func (c *Catalog) Lookup(domain Domain, metric string) (Definition, bool) {
	d, ok := c.defs[string(domain)+"."+metric]
	return d, ok
}

// All returns every definition sorted by key.
func (c *Catalog) All() []Definition {
	out := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
