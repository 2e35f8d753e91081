package core

import "time"

// LogLevel is the severity of a single log record.
// Ordering: debug < info < warn < error < critical.
type LogLevel string

const (
	LevelDebug    LogLevel = "debug"
	LevelInfo     LogLevel = "info"
	LevelWarn     LogLevel = "warn"
	LevelError    LogLevel = "error"
	LevelCritical LogLevel = "critical"
)

var logLevelWeights = map[LogLevel]int{
	LevelDebug:    1,
	LevelInfo:     2,
	LevelWarn:     3,
	LevelError:    4,
	LevelCritical: 5,
}

// Weight returns the ordinal weight of the level, 0 if unknown.
func (l LogLevel) Weight() int {
	return logLevelWeights[l]
}

// Valid reports whether the level is one of the known set.
func (l LogLevel) Valid() bool {
	_, ok := logLevelWeights[l]
	return ok
}

// Severity is the detection severity assigned by a rule or an override.
// Ordering: critical=5, high=4, medium=3, low=2, informational=1.
type Severity string

const (
	SeverityInformational Severity = "informational"
	SeverityLow           Severity = "low"
	SeverityMedium        Severity = "medium"
	SeverityHigh          Severity = "high"
	SeverityCritical      Severity = "critical"
)

var severityWeights = map[Severity]int{
	SeverityInformational: 1,
	SeverityLow:           2,
	SeverityMedium:        3,
	SeverityHigh:          4,
	SeverityCritical:      5,
}

// Weight returns the ordinal weight of the severity, 0 if unknown.
func (s Severity) Weight() int {
	return severityWeights[s]
}

// Valid reports whether the severity is one of the known set.
func (s Severity) Valid() bool {
	_, ok := severityWeights[s]
	return ok
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Weight() > a.Weight() {
		return b
	}
	return a
}

// LogRecord is one structured event ingested into the store.
// Immutable once written; ordered by timestamp within (tenant, project).
type LogRecord struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenant_id"`
	ProjectID  string                 `json:"project_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Service    string                 `json:"service"`
	Level      LogLevel               `json:"level"`
	Message    string                 `json:"message"`
	SpanID     string                 `json:"span_id,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// RuleStatus is the maturity of a detection rule. Rules in deprecated or
// unsupported status are loaded but never evaluated.
type RuleStatus string

const (
	RuleStatusExperimental RuleStatus = "experimental"
	RuleStatusTest         RuleStatus = "test"
	RuleStatusStable       RuleStatus = "stable"
	RuleStatusDeprecated   RuleStatus = "deprecated"
	RuleStatusUnsupported  RuleStatus = "unsupported"
)

// Evaluable reports whether rules with this status participate in scans.
func (s RuleStatus) Evaluable() bool {
	return s != RuleStatusDeprecated && s != RuleStatusUnsupported
}

// LogSource selects which logs a rule applies to. Every provided field
// must equal the log's corresponding attribute; empty fields are wildcards.
type LogSource struct {
	Product  string `json:"product,omitempty"`
	Service  string `json:"service,omitempty"`
	Category string `json:"category,omitempty"`
}

// Detection is a Sigma-style detection expression: named selections plus
// a textual condition over them.
type Detection struct {
	// Selections maps selection name to a conjunction of field predicates.
	// Field names may carry suffix operators: |contains, |startswith, |endswith.
	// Predicate values are scalars or lists (list = any-match).
	Selections map[string]map[string]interface{} `json:"selections"`
	Condition  string                            `json:"condition"`
}

// DetectionRule is an immutable pattern with an assigned severity,
// versioned by the pack that ships it.
type DetectionRule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	LogSource   LogSource  `json:"logsource"`
	Detection   Detection  `json:"detection"`
	Level       Severity   `json:"level"`
	Status      RuleStatus `json:"status"`
	Tags        []string   `json:"tags,omitempty"`
	References  []string   `json:"references,omitempty"`
}

// PackCategory classifies a detection pack.
type PackCategory string

const (
	PackCategoryReliability PackCategory = "reliability"
	PackCategorySecurity    PackCategory = "security"
	PackCategoryDatabase    PackCategory = "database"
	PackCategoryBusiness    PackCategory = "business"
)

// DetectionPack is a named bundle of rules shipped with the binary.
// The set of packs is static at runtime.
type DetectionPack struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category PackCategory    `json:"category"`
	Icon     string          `json:"icon,omitempty"`
	Author   string          `json:"author,omitempty"`
	Version  string          `json:"version"`
	Rules    []DetectionRule `json:"rules"`
}

// ThresholdOverride narrows or relabels a single rule for one tenant.
// A nil field means "keep the rule's default".
type ThresholdOverride struct {
	Level          *Severity `json:"level,omitempty"`
	EmailEnabled   *bool     `json:"emailEnabled,omitempty"`
	WebhookEnabled *bool     `json:"webhookEnabled,omitempty"`
}

// PackActivation is the per-(tenant, pack) activation state. Exactly one
// row exists per pair; Enabled=false suppresses the whole pack.
type PackActivation struct {
	TenantID    string                       `json:"tenant_id"`
	PackID      string                       `json:"pack_id"`
	Enabled     bool                         `json:"enabled"`
	Thresholds  map[string]ThresholdOverride `json:"thresholds,omitempty"`
	ActivatedAt time.Time                    `json:"activated_at"`
	UpdatedAt   time.Time                    `json:"updated_at"`
}

// DetectionEvent is a single rule-match occurrence tied to one log.
// Append-only; always references a log in the same tenant/project.
type DetectionEvent struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ProjectID string    `json:"project_id,omitempty"`
	RuleID    string    `json:"rule_id"`
	LogID     string    `json:"log_id"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Excerpt   string    `json:"excerpt"`
}

// IncidentStatus is the lifecycle state of an incident.
// open → investigating → resolved|false_positive; terminal states are
// never reopened by new detection events.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentFalsePositive IncidentStatus = "false_positive"
)

// Terminal reports whether the status ends the incident lifecycle.
func (s IncidentStatus) Terminal() bool {
	return s == IncidentResolved || s == IncidentFalsePositive
}

// Incident groups related detection events.
type Incident struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenant_id"`
	ProjectID        string         `json:"project_id,omitempty"`
	RuleFamily       string         `json:"rule_family"`
	Status           IncidentStatus `json:"status"`
	Severity         Severity       `json:"severity"`
	DetectionCount   int            `json:"detection_count"`
	AffectedServices []string       `json:"affected_services"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
}
