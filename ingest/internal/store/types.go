package store

import "time"

// Partnership states of a source.
const (
	PartnershipNone    = "none"
	PartnershipPending = "pending"
	PartnershipActive  = "active"
)

// Source is a registry entry for an external data provider.
type Source struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	URL               string    `json:"url"`
	LicenseTerms      string    `json:"licenseTerms"`
	AccessType        string    `json:"accessType"`
	Cadence           string    `json:"cadence"`
	ReliabilityTier   string    `json:"reliabilityTier"`
	Active            bool      `json:"active"`
	AutomationAllowed bool      `json:"automationAllowed"`
	PartnershipStatus string    `json:"partnershipStatus"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Connector types.
const (
	TypeAPIRest   = "api_rest"
	TypeWebScrape = "web_scrape"
	TypeCSV       = "csv_download"
	TypePDF       = "pdf_download"
)

// Connector statuses.
const (
	StatusActive   = "active"
	StatusPaused   = "paused"
	StatusDisabled = "disabled"
)

// Connector is a configured adapter for one source.
type Connector struct {
	ID                      string     `json:"id"`
	SourceID                string     `json:"sourceId"`
	Name                    string     `json:"name"`
	Type                    string     `json:"type"`
	ConfigJSON              string     `json:"config"`
	Cadence                 string     `json:"cadence"`
	Status                  string     `json:"status"`
	LastRunID               string     `json:"lastRunId,omitempty"`
	LastRunAt               *time.Time `json:"lastRunAt,omitempty"`
	LastSuccessAt           *time.Time `json:"lastSuccessAt,omitempty"`
	ConsecutiveFailures     int        `json:"consecutiveFailures"`
	LicenseAllowsAutomation bool       `json:"licenseAllowsAutomation"`
	RequiresPartnership     bool       `json:"requiresPartnership"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

// Run statuses. A run is pending only when it was never persisted
// (dry runs).
const (
	RunPending = "pending"
	RunRunning = "running"
	RunSuccess = "success"
	RunPartial = "partial"
	RunFailed  = "failed"
)

// Run triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerAPI      = "api"
	TriggerMCP      = "mcp"
)

// RunError is one classified failure recorded against a run.
type RunError struct {
	Class     string `json:"class"`
	Message   string `json:"message"`
	Item      string `json:"item,omitempty"`
	Retryable bool   `json:"retryable"`
}

// Run is one execution of a connector.
type Run struct {
	ID             string     `json:"id"`
	SourceID       string     `json:"sourceId"`
	ConnectorID    string     `json:"connectorId"`
	ConnectorName  string     `json:"connectorName"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	Status         string     `json:"status"`
	RecordsFetched int        `json:"recordsFetched"`
	RecordsCreated int        `json:"recordsCreated"`
	RecordsUpdated int        `json:"recordsUpdated"`
	RecordsSkipped int        `json:"recordsSkipped"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	Errors         []RunError `json:"errors"`
	Warnings       []string   `json:"warnings"`
	TriggeredBy    string     `json:"triggeredBy"`
}
