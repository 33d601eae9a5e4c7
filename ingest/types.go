package ingest

import (
	"time"

	"github.com/hazyhaar/datatrack/ingest/internal/store"
)

// Re-export store types for the public API.
type (
	Source    = store.Source
	Connector = store.Connector
	Run       = store.Run
	RunError  = store.RunError
)

// Run statuses and triggers.
const (
	RunPending = store.RunPending
	RunRunning = store.RunRunning
	RunSuccess = store.RunSuccess
	RunPartial = store.RunPartial
	RunFailed  = store.RunFailed

	TriggerSchedule = store.TriggerSchedule
	TriggerManual   = store.TriggerManual
	TriggerAPI      = store.TriggerAPI
	TriggerMCP      = store.TriggerMCP
)

// Connector types and statuses.
const (
	TypeAPIRest   = store.TypeAPIRest
	TypeWebScrape = store.TypeWebScrape
	TypeCSV       = store.TypeCSV
	TypePDF       = store.TypePDF

	StatusActive   = store.StatusActive
	StatusPaused   = store.StatusPaused
	StatusDisabled = store.StatusDisabled

	PartnershipNone    = store.PartnershipNone
	PartnershipPending = store.PartnershipPending
	PartnershipActive  = store.PartnershipActive
)

// ConnectorStatus is a connector plus its scheduling state. NextDueAt is
// set only while the cadence interval has not elapsed.
type ConnectorStatus struct {
	*Connector
	Due       bool       `json:"due"`
	NextDueAt *time.Time `json:"nextDueAt,omitempty"`
}

// RunOptions modify a single run.
type RunOptions struct {
	// Force skips preflight checks. Breaker state is ignored as well, so a
	// forced success closes the circuit.
	Force bool `json:"force"`
	// DryRun validates and reports without fetching or writing anything.
	DryRun      bool   `json:"dryRun"`
	TriggeredBy string `json:"triggeredBy,omitempty"`
}

// RunResult is the outcome of RunConnector.
type RunResult struct {
	Run         *Run   `json:"run"`
	Success     bool   `json:"success"`
	DryRun      bool   `json:"dryRun,omitempty"`
	CircuitOpen bool   `json:"circuitOpen,omitempty"`
	TicketID    string `json:"ticketId,omitempty"`
}

// BatchItem is one connector's entry in a BatchResult.
type BatchItem struct {
	ConnectorID string     `json:"connectorId"`
	Result      *RunResult `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Cancelled   bool       `json:"cancelled,omitempty"` // batch context ended before it started
}

// BatchResult summarises a scheduled ingestion round. Items keep the
// order of the due list.
type BatchResult struct {
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Partial   int         `json:"partial"`
	Failed    int         `json:"failed"`
	Rejected  int         `json:"rejected"`
	Cancelled int         `json:"cancelled"`
	Items     []BatchItem `json:"items"`
}
