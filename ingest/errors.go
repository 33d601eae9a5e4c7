package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/datatrack/ingest/internal/connector"
)

var (
	ErrConnectorNotFound = errors.New("ingest: connector not found")
	ErrSourceNotFound    = errors.New("ingest: source not found")
	ErrRunInProgress     = errors.New("ingest: run already in progress")
	ErrPreflight         = errors.New("ingest: preflight check failed")
	ErrInvalidInput      = errors.New("ingest: invalid input")

	// ErrInvalidConfig is returned for connector configs that do not decode
	// or validate, both at registration and at run time.
	ErrInvalidConfig = connector.ErrInvalidConfig
)

// PreflightError lists why a connector may not run unforced.
type PreflightError struct {
	ConnectorID string
	Reasons     []string
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("ingest: preflight failed for %s: %s", e.ConnectorID, strings.Join(e.Reasons, "; "))
}

func (e *PreflightError) Unwrap() error { return ErrPreflight }
