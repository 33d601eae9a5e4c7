package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/datatrack/ingest"
	"github.com/hazyhaar/datatrack/observability"
)

// seedFile declares sources and their connectors.
//
//	sources:
//	  - id: insee
//	    name: INSEE
//	    cadence: monthly
//	    active: true
//	    automation_allowed: true
//	    connectors:
//	      - id: insee-cpi
//	        type: api_rest
//	        config: {url: "https://…/{indicator}", indicators: [CPI]}
type seedFile struct {
	Sources []seedSource `yaml:"sources"`
}

type seedSource struct {
	ID                string          `yaml:"id"`
	Name              string          `yaml:"name"`
	URL               string          `yaml:"url"`
	LicenseTerms      string          `yaml:"license_terms"`
	AccessType        string          `yaml:"access_type"`
	Cadence           string          `yaml:"cadence"`
	ReliabilityTier   string          `yaml:"reliability_tier"`
	Active            bool            `yaml:"active"`
	AutomationAllowed bool            `yaml:"automation_allowed"`
	PartnershipStatus string          `yaml:"partnership_status"`
	Connectors        []seedConnector `yaml:"connectors"`
}

type seedConnector struct {
	ID                  string         `yaml:"id"`
	Name                string         `yaml:"name"`
	Type                string         `yaml:"type"`
	Cadence             string         `yaml:"cadence"`
	Status              string         `yaml:"status"`
	RequiresPartnership bool           `yaml:"requires_partnership"`
	Config              map[string]any `yaml:"config"`
}

// seedSummary counts what a seed file registered.
type seedSummary struct {
	Sources    int `json:"sources"`
	Connectors int `json:"connectors"`
}

func loadSeed(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &f, nil
}

// seed registers every source and connector of f. Registration is an
// upsert, so seeding the same file twice is harmless. The first invalid
// entry stops the seed.
func (a *app) seed(ctx context.Context, f *seedFile) (*seedSummary, error) {
	var sum seedSummary
	for _, s := range f.Sources {
		src := &ingest.Source{
			ID:                s.ID,
			Name:              s.Name,
			URL:               s.URL,
			LicenseTerms:      s.LicenseTerms,
			AccessType:        s.AccessType,
			Cadence:           s.Cadence,
			ReliabilityTier:   s.ReliabilityTier,
			Active:            s.Active,
			AutomationAllowed: s.AutomationAllowed,
			PartnershipStatus: s.PartnershipStatus,
		}
		if err := a.ingest.RegisterSource(ctx, src); err != nil {
			return &sum, fmt.Errorf("source %s: %w", s.ID, err)
		}
		sum.Sources++

		for _, c := range s.Connectors {
			cfgJSON, err := json.Marshal(c.Config)
			if err != nil {
				return &sum, fmt.Errorf("connector %s: %w", c.ID, err)
			}
			if c.Config == nil {
				cfgJSON = []byte("{}")
			}
			cadence := c.Cadence
			if cadence == "" {
				cadence = s.Cadence
			}
			conn := &ingest.Connector{
				ID:                      c.ID,
				SourceID:                s.ID,
				Name:                    c.Name,
				Type:                    c.Type,
				ConfigJSON:              string(cfgJSON),
				Cadence:                 cadence,
				Status:                  c.Status,
				LicenseAllowsAutomation: s.AutomationAllowed,
				RequiresPartnership:     c.RequiresPartnership,
			}
			if err := a.ingest.RegisterConnector(ctx, conn); err != nil {
				return &sum, fmt.Errorf("connector %s: %w", c.ID, err)
			}
			a.events.LogEvent(ctx, observability.BusinessEvent{
				EventType:   observability.EventConnectorSeeded,
				ServiceName: "ingest",
				EntityType:  "connector",
				EntityID:    c.ID,
				Action:      "seed",
				Details:     map[string]string{"source": s.ID, "type": c.Type},
				Success:     true,
			})
			sum.Connectors++
		}
	}
	return &sum, nil
}
