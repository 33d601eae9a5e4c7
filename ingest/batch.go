package ingest

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/datatrack/ingest/internal/cadence"
)

// GetDueConnectors returns the connectors that should run now. It has
// no side effects.
func (s *Service) GetDueConnectors(ctx context.Context) ([]*Connector, error) {
	all, err := s.store.ListConnectors(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var due []*Connector
	for _, c := range all {
		if cadence.Due(c, now, s.config.MaxFailures) {
			due = append(due, c)
		}
	}
	return due, nil
}

// RunScheduledIngestion runs every due connector once. A failing
// connector never aborts the batch. With Workers > 1 connectors run in
// parallel; items stay in due-list order either way.
func (s *Service) RunScheduledIngestion(ctx context.Context) (*BatchResult, error) {
	due, err := s.GetDueConnectors(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]BatchItem, len(due))
	for i, c := range due {
		items[i].ConnectorID = c.ID
	}
	runOne := func(i int) {
		if err := ctx.Err(); err != nil {
			items[i].Cancelled = true
			items[i].Error = err.Error()
			return
		}
		res, err := s.RunConnector(ctx, items[i].ConnectorID, RunOptions{TriggeredBy: TriggerSchedule})
		items[i].Result = res
		if err != nil {
			items[i].Error = err.Error()
		}
	}

	if s.config.Workers <= 1 {
		for i := range due {
			runOne(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(s.config.Workers)
		for i := range due {
			g.Go(func() error {
				runOne(i)
				return nil
			})
		}
		g.Wait()
	}

	br := &BatchResult{Total: len(due), Items: items}
	for _, it := range items {
		switch {
		case it.Cancelled:
			br.Cancelled++
		case it.Result != nil && it.Result.Run != nil && it.Result.Run.Status == RunSuccess:
			br.Succeeded++
		case it.Result != nil && it.Result.Run != nil && it.Result.Run.Status == RunPartial:
			br.Partial++
		case it.Result != nil:
			br.Failed++
		default:
			br.Rejected++
		}
	}
	s.logger.Info("ingest: batch finished", "total", br.Total, "succeeded", br.Succeeded,
		"partial", br.Partial, "failed", br.Failed, "rejected", br.Rejected, "cancelled", br.Cancelled)
	return br, ctx.Err()
}

func (s *Service) scheduledBatch(ctx context.Context) error {
	_, err := s.RunScheduledIngestion(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
