package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/datatrack/gaps"
	"github.com/hazyhaar/datatrack/ingest/internal/connector"
	"github.com/hazyhaar/datatrack/lease"
	"github.com/hazyhaar/datatrack/observability"
)

// RunConnector executes one connector end to end.
//
// A second call for the same connector while the first holds its lease
// returns ErrRunInProgress. Unforced runs must pass preflight. Per-item
// failures never surface as an error: they are recorded on the run,
// which ends success, partial or failed. The returned error is non-nil
// only when no run could be attempted, or when the stored config is
// invalid (ErrInvalidConfig, with the failed run in the result).
func (s *Service) RunConnector(ctx context.Context, id string, opts RunOptions) (*RunResult, error) {
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = TriggerManual
	}
	c, err := s.GetConnector(ctx, id)
	if err != nil {
		return nil, err
	}
	src, err := s.store.GetSource(ctx, c.SourceID)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		return s.dryRun(c, src, opts)
	}

	held, err := s.leases.Acquire(ctx, leaseKey(id), s.config.RunLeaseTTL)
	if errors.Is(err, lease.ErrLeaseHeld) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: acquire run lease: %w", err)
	}
	stop := s.keepLease(ctx, held)
	defer func() {
		stop()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.leases.Release(rctx, held); err != nil {
			s.logger.Warn("ingest: release run lease", "connector_id", id, "error", err)
		}
	}()

	if !opts.Force {
		if err := preflight(c, src); err != nil {
			return nil, err
		}
	}
	cfg, cfgErr := connector.DecodeConfig(c.Type, []byte(c.ConfigJSON))

	run := &Run{
		ID:            s.newRunID(),
		SourceID:      c.SourceID,
		ConnectorID:   c.ID,
		ConnectorName: c.Name,
		TriggeredBy:   opts.TriggeredBy,
	}
	if err := s.store.InsertRun(ctx, run); err != nil {
		return nil, err
	}
	log := s.logger.With("connector_id", c.ID, "run_id", run.ID)
	log.Info("ingest: run started", "type", c.Type, "triggered_by", run.TriggeredBy, "force", opts.Force)

	st := &connector.State{}
	if cfgErr == nil {
		cfgErr = connector.Run(ctx, s.deps(), connector.Target{
			ConnectorID: c.ID,
			SourceID:    c.SourceID,
			RunID:       run.ID,
		}, cfg, st)
	}
	if cfgErr != nil {
		st.Fail(c.ID, cfgErr)
	}

	// Bookkeeping must survive a cancelled caller.
	wctx := context.WithoutCancel(ctx)
	res := s.finish(wctx, c, run, st)
	if cfgErr != nil {
		return res, cfgErr
	}
	return res, nil
}

func (s *Service) dryRun(c *Connector, src *Source, opts RunOptions) (*RunResult, error) {
	if !opts.Force {
		if err := preflight(c, src); err != nil {
			return nil, err
		}
	}
	if _, err := connector.DecodeConfig(c.Type, []byte(c.ConfigJSON)); err != nil {
		return nil, err
	}
	return &RunResult{
		Run: &Run{
			SourceID:      c.SourceID,
			ConnectorID:   c.ID,
			ConnectorName: c.Name,
			StartedAt:     s.now().UTC(),
			Status:        RunPending,
			TriggeredBy:   opts.TriggeredBy,
			Errors:        []RunError{},
			Warnings:      []string{},
		},
		Success: true,
		DryRun:  true,
	}, nil
}

// finish derives the terminal status, persists the run and updates the
// connector's breaker state.
func (s *Service) finish(ctx context.Context, c *Connector, run *Run, st *connector.State) *RunResult {
	log := s.logger.With("connector_id", c.ID, "run_id", run.ID)
	run.Status = terminalStatus(st)
	run.RecordsFetched = st.Fetched
	run.RecordsCreated = st.Created
	run.RecordsUpdated = st.Updated
	run.RecordsSkipped = st.Skipped
	run.Errors = st.Errors
	run.Warnings = st.Warnings
	run.ErrorMessage = errorMessage(st.Errors)
	completed := s.now().UTC()
	run.CompletedAt = &completed

	res := &RunResult{Run: run, Success: run.Status == RunSuccess}
	if err := s.store.FinishRun(ctx, run); err != nil {
		log.Error("ingest: finish run", "error", err)
	}
	failures, err := s.store.RecordRunOutcome(ctx, c.ID, run.ID, completed, res.Success)
	if err != nil {
		log.Error("ingest: record run outcome", "error", err)
	}
	if failures >= s.config.MaxFailures {
		res.CircuitOpen = true
		res.TicketID = s.tripCircuit(ctx, c, failures, run.ErrorMessage)
	}
	if res.Success && c.ConsecutiveFailures > 0 {
		s.resetCircuit(ctx, c)
	}

	dur := completed.Sub(run.StartedAt)
	log.Info("ingest: run finished", "status", run.Status,
		"fetched", run.RecordsFetched, "created", run.RecordsCreated,
		"updated", run.RecordsUpdated, "skipped", run.RecordsSkipped,
		"errors", len(run.Errors), "warnings", len(run.Warnings),
		"duration_ms", dur.Milliseconds())

	s.metrics.Observe(observability.MetricRunDurationMs, float64(dur.Milliseconds()), "ms",
		"connector", c.ID, "status", run.Status)
	s.metrics.Observe(observability.MetricRecordsCreated, float64(run.RecordsCreated), "count",
		"connector", c.ID)
	if !res.Success {
		s.metrics.Observe(observability.MetricRunFailed, 1, "count", "connector", c.ID, "status", run.Status)
	}
	s.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   observability.EventRunCompleted,
		ServiceName: "ingest",
		EntityType:  "connector",
		EntityID:    c.ID,
		Action:      run.Status,
		Success:     res.Success,
		Details: map[string]any{
			"runId":   run.ID,
			"fetched": run.RecordsFetched,
			"created": run.RecordsCreated,
			"errors":  len(run.Errors),
		},
	})
	return res
}

// tripCircuit files (or finds) the breaker ticket for c.
func (s *Service) tripCircuit(ctx context.Context, c *Connector, failures int, lastErr string) string {
	if s.gaps == nil {
		return ""
	}
	if lastErr == "" {
		lastErr = "no error recorded"
	}
	t, created, err := s.gaps.Open(ctx, &gaps.Ticket{
		MissingItem:  fmt.Sprintf("connector %q (%s) is excluded from scheduling", c.Name, c.ID),
		WhyItMatters: fmt.Sprintf("%d consecutive failed runs, last error: %s", failures, lastErr),
		Priority:     gaps.PriorityHigh,
		Origin:       gaps.OriginIngestion,
		DedupKey:     leaseKey(c.ID),
	})
	if err != nil {
		s.logger.Error("ingest: open circuit ticket", "connector_id", c.ID, "error", err)
		return ""
	}
	if created {
		s.logger.Warn("ingest: circuit open", "connector_id", c.ID, "failures", failures, "ticket_id", t.ID)
		s.events.LogEvent(ctx, observability.BusinessEvent{
			EventType:   observability.EventCircuitTripped,
			ServiceName: "ingest",
			EntityType:  "connector",
			EntityID:    c.ID,
			Action:      "trip",
			Success:     true,
			Details:     map[string]any{"failures": failures, "ticketId": t.ID},
		})
	}
	return t.ID
}

// resetCircuit closes the breaker ticket of a connector that succeeded
// again, so a later trip files a fresh one.
func (s *Service) resetCircuit(ctx context.Context, c *Connector) {
	if s.gaps == nil {
		return
	}
	t, err := s.gaps.CloseByKey(ctx, leaseKey(c.ID))
	if err != nil {
		s.logger.Error("ingest: close circuit ticket", "connector_id", c.ID, "error", err)
		return
	}
	if t == nil {
		return
	}
	s.logger.Info("ingest: circuit closed", "connector_id", c.ID, "ticket_id", t.ID)
	s.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   observability.EventCircuitReset,
		ServiceName: "ingest",
		EntityType:  "connector",
		EntityID:    c.ID,
		Action:      "reset",
		Success:     true,
		Details:     map[string]any{"ticketId": t.ID},
	})
}

// keepLease extends held every third of its TTL until the returned stop
// func is called.
func (s *Service) keepLease(ctx context.Context, held *lease.Lease) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.config.RunLeaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.leases.Extend(ctx, held, s.config.RunLeaseTTL); err != nil {
					s.logger.Warn("ingest: extend run lease", "key", held.Key, "error", err)
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func preflight(c *Connector, src *Source) error {
	var reasons []string
	if c.Status != StatusActive {
		reasons = append(reasons, fmt.Sprintf("connector is %s", c.Status))
	}
	if !c.LicenseAllowsAutomation {
		reasons = append(reasons, "license does not allow automated collection")
	}
	if c.RequiresPartnership {
		status := PartnershipNone
		if src != nil {
			status = src.PartnershipStatus
		}
		if status != PartnershipActive {
			reasons = append(reasons, fmt.Sprintf("partnership required, source partnership is %s", status))
		}
	}
	if len(reasons) == 0 {
		return nil
	}
	return &PreflightError{ConnectorID: c.ID, Reasons: reasons}
}

func terminalStatus(st *connector.State) string {
	switch {
	case len(st.Errors) == 0:
		return RunSuccess
	case st.Fetched > 0:
		return RunPartial
	default:
		return RunFailed
	}
}

func errorMessage(errs []RunError) string {
	switch len(errs) {
	case 0:
		return ""
	case 1:
		return errs[0].Message
	default:
		return fmt.Sprintf("%d errors, first: %s", len(errs), errs[0].Message)
	}
}
