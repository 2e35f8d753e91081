package sdk

import "time"

// Log is one record to ingest. Timestamp nil means server-assigned.
type Log struct {
	Timestamp  *time.Time             `json:"timestamp,omitempty"`
	Service    string                 `json:"service"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	SpanID     string                 `json:"span_id,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// IngestResult is the server's acknowledgement of a batch.
type IngestResult struct {
	Accepted int      `json:"accepted"`
	IDs      []string `json:"ids"`
}

// Threshold overrides one rule for this tenant. Nil fields keep the
// rule's defaults.
type Threshold struct {
	Level          *string `json:"level,omitempty"`
	EmailEnabled   *bool   `json:"emailEnabled,omitempty"`
	WebhookEnabled *bool   `json:"webhookEnabled,omitempty"`
}

// Rule is one detection rule as listed by the catalog.
type Rule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Level       string   `json:"level"`
	Status      string   `json:"status"`
	Tags        []string `json:"tags,omitempty"`
}

// Pack is a detection pack with the tenant's activation state.
type Pack struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Category   string               `json:"category"`
	Version    string               `json:"version"`
	Rules      []Rule               `json:"rules"`
	Enabled    bool                 `json:"enabled"`
	Thresholds map[string]Threshold `json:"thresholds,omitempty"`
}

// Incident groups correlated detection events.
type Incident struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id,omitempty"`
	RuleFamily       string     `json:"rule_family"`
	Status           string     `json:"status"`
	Severity         string     `json:"severity"`
	DetectionCount   int        `json:"detection_count"`
	AffectedServices []string   `json:"affected_services"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

// APIError is the server's structured error response.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    string `json:"code"`
}

func (e *APIError) Error() string {
	return "logtide-sdk: " + e.Code + ": " + e.Message
}
