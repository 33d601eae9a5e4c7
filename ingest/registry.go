package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/datatrack/horosafe"
	"github.com/hazyhaar/datatrack/ingest/internal/cadence"
	"github.com/hazyhaar/datatrack/ingest/internal/connector"
)

// RegisterSource inserts or refreshes a registry entry.
func (s *Service) RegisterSource(ctx context.Context, src *Source) error {
	if err := horosafe.ValidateIdentifier(src.ID); err != nil {
		return fmt.Errorf("%w: source id: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(src.Name) == "" {
		return fmt.Errorf("%w: source %s has no name", ErrInvalidInput, src.ID)
	}
	if src.Cadence != "" && !cadence.Valid(src.Cadence) {
		return fmt.Errorf("%w: unknown cadence %q", ErrInvalidInput, src.Cadence)
	}
	switch src.PartnershipStatus {
	case "", PartnershipNone, PartnershipPending, PartnershipActive:
	default:
		return fmt.Errorf("%w: unknown partnership status %q", ErrInvalidInput, src.PartnershipStatus)
	}
	return s.store.UpsertSource(ctx, src)
}

// RegisterConnector validates c, including its typed config, and stores
// it. Run state of an existing connector is preserved.
func (s *Service) RegisterConnector(ctx context.Context, c *Connector) error {
	if err := horosafe.ValidateIdentifier(c.ID); err != nil {
		return fmt.Errorf("%w: connector id: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(c.Name) == "" {
		c.Name = c.ID
	}
	if c.Cadence != "" && !cadence.Valid(c.Cadence) {
		return fmt.Errorf("%w: unknown cadence %q", ErrInvalidInput, c.Cadence)
	}
	switch c.Status {
	case "", StatusActive, StatusPaused, StatusDisabled:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, c.Status)
	}
	if _, err := connector.DecodeConfig(c.Type, []byte(c.ConfigJSON)); err != nil {
		return err
	}
	src, err := s.store.GetSource(ctx, c.SourceID)
	if err != nil {
		return err
	}
	if src == nil {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, c.SourceID)
	}
	return s.store.UpsertConnector(ctx, c)
}

// SetConnectorStatus pauses, disables or reactivates a connector.
func (s *Service) SetConnectorStatus(ctx context.Context, id, status string) error {
	switch status {
	case StatusActive, StatusPaused, StatusDisabled:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if _, err := s.GetConnector(ctx, id); err != nil {
		return err
	}
	return s.store.SetConnectorStatus(ctx, id, status)
}

// IsInvalid reports whether err is a validation failure the caller can
// fix (bad input or bad connector config).
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInvalidConfig)
}
