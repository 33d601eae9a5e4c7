package ingest

import (
	"context"

	"github.com/hazyhaar/datatrack/observability"
)

const abandonedMessage = "abandoned"

// RecoverAbandonedRuns fails runs left in the running state by a process
// that died. A run is abandoned when its connector lease is no longer
// held. Each recovered run counts as a connector failure unless a later
// run already updated the connector.
func (s *Service) RecoverAbandonedRuns(ctx context.Context) (int, error) {
	runs, err := s.store.ListRunningRuns(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range runs {
		held, err := s.leases.Held(ctx, leaseKey(r.ConnectorID))
		if err != nil {
			return n, err
		}
		if held {
			continue
		}
		now := s.now().UTC()
		r.Status = RunFailed
		r.CompletedAt = &now
		r.ErrorMessage = abandonedMessage
		r.Errors = append(r.Errors, RunError{Class: "unknown", Message: abandonedMessage})
		if err := s.store.FinishRun(ctx, r); err != nil {
			return n, err
		}
		n++

		c, err := s.store.GetConnector(ctx, r.ConnectorID)
		if err != nil {
			return n, err
		}
		if c == nil || (c.LastRunAt != nil && c.LastRunAt.After(r.StartedAt)) {
			continue
		}
		failures, err := s.store.RecordRunOutcome(ctx, c.ID, r.ID, now, false)
		if err != nil {
			return n, err
		}
		if failures >= s.config.MaxFailures {
			s.tripCircuit(ctx, c, failures, abandonedMessage)
		}
	}
	if n > 0 {
		s.events.LogEvent(ctx, observability.BusinessEvent{
			EventType:   observability.EventRunsRecovered,
			ServiceName: "ingest",
			Action:      "recover",
			Success:     true,
			Details:     map[string]int{"runs": n},
		})
	}
	return n, nil
}
