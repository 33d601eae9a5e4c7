package drift

import (
	"context"
	"database/sql"
	"time"

	"github.com/hazyhaar/datatrack/derived"
	"github.com/hazyhaar/datatrack/observability"
)

// EvidenceSampler measures how well derived rows are backed by evidence.
type EvidenceSampler struct {
	Derived *derived.Store
}

func (EvidenceSampler) Domain() Domain { return DomainEvidence }

func (s EvidenceSampler) Sample(ctx context.Context) ([]Sample, error) {
	st, err := s.Derived.EvidenceStats(ctx)
	if err != nil {
		return nil, err
	}
	return []Sample{
		{Domain: DomainEvidence, Metric: "citation_accuracy", Value: st.CitationAccuracy, SampleSize: st.Records},
		{Domain: DomainEvidence, Metric: "staleness_hours", Value: st.StalenessHours, SampleSize: st.Records},
		{Domain: DomainEvidence, Metric: "contradiction_rate", Value: st.ContradictionRate, SampleSize: st.Points},
	}, nil
}

// TranslationSampler measures bilingual parity of translated documents.
type TranslationSampler struct {
	Derived   *derived.Store
	Languages []string
}

func (TranslationSampler) Domain() Domain { return DomainTranslation }

func (s TranslationSampler) Sample(ctx context.Context) ([]Sample, error) {
	st, err := s.Derived.TranslationStats(ctx, s.Languages)
	if err != nil {
		return nil, err
	}
	return []Sample{
		{Domain: DomainTranslation, Metric: "parity_score", Value: st.ParityScore, SampleSize: st.Keys},
		{Domain: DomainTranslation, Metric: "missing_translation_count", Value: float64(st.Missing), SampleSize: st.Keys},
	}, nil
}

// DashboardSampler reads the HTTP request log of the observability
// database. An idle window yields no samples.
type DashboardSampler struct {
	DB     *sql.DB
	Window time.Duration
	Now    func() time.Time
}

func (DashboardSampler) Domain() Domain { return DomainDashboard }

func (s DashboardSampler) Sample(ctx context.Context) ([]Sample, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	sum, err := observability.RequestStats(ctx, s.DB, now().Add(-s.Window))
	if err != nil {
		return nil, err
	}
	if sum.Requests == 0 {
		return nil, nil
	}
	return []Sample{
		{Domain: DomainDashboard, Metric: "response_time_ms", Value: sum.P95Ms, SampleSize: sum.Requests, Notes: "p95"},
		{Domain: DomainDashboard, Metric: "error_rate", Value: sum.ErrorRate, SampleSize: sum.Requests},
	}, nil
}

// RetrievalStats are the retrieval numbers of the latest eval run.
type RetrievalStats struct {
	RecallAtK    float64
	PrecisionAtK float64
	LatencyP95Ms float64
	Questions    int
}

// RetrievalSampler reports the latest eval run. Latest returning nil
// (no eval run yet) skips the domain.
type RetrievalSampler struct {
	Latest func(ctx context.Context) (*RetrievalStats, error)
}

func (RetrievalSampler) Domain() Domain { return DomainRetrieval }

func (s RetrievalSampler) Sample(ctx context.Context) ([]Sample, error) {
	if s.Latest == nil {
		return nil, nil
	}
	st, err := s.Latest(ctx)
	if err != nil || st == nil {
		return nil, err
	}
	return []Sample{
		{Domain: DomainRetrieval, Metric: "recall_at_k", Value: st.RecallAtK, SampleSize: st.Questions},
		{Domain: DomainRetrieval, Metric: "precision_at_k", Value: st.PrecisionAtK, SampleSize: st.Questions},
		{Domain: DomainRetrieval, Metric: "latency_p95_ms", Value: st.LatencyP95Ms, SampleSize: st.Questions},
	}, nil
}

// DefaultSamplers builds the evidence, translation and dashboard
// samplers from cfg. obs may be nil to leave the dashboard domain out.
func DefaultSamplers(dv *derived.Store, obs *sql.DB, cfg Config) []Sampler {
	cfg.defaults()
	out := []Sampler{
		EvidenceSampler{Derived: dv},
		TranslationSampler{Derived: dv, Languages: cfg.TranslationLanguages},
	}
	if obs != nil {
		out = append(out, DashboardSampler{DB: obs, Window: cfg.DashboardWindow})
	}
	return out
}
