// Package detection is the Sigma-style rule engine: a static catalog of
// detection packs, per-tenant activation state, and the evaluator that
// turns ingested logs into detection events.
package detection

import (
	"github.com/logtide-dev/logtide/internal/core"
)

// Catalog is the static, process-lifetime set of detection packs.
type Catalog struct {
	packs []core.DetectionPack
	byID  map[string]*core.DetectionPack
}

// NewCatalog builds the catalog from the built-in packs.
func NewCatalog() *Catalog {
	return newCatalogWith(builtinPacks())
}

func newCatalogWith(packs []core.DetectionPack) *Catalog {
	c := &Catalog{
		packs: packs,
		byID:  make(map[string]*core.DetectionPack, len(packs)),
	}
	for i := range c.packs {
		c.byID[c.packs[i].ID] = &c.packs[i]
	}
	return c
}

// ListPacks returns all packs in shipment order.
func (c *Catalog) ListPacks() []core.DetectionPack {
	return c.packs
}

// GetPackByID returns a pack, or nil when unknown.
func (c *Catalog) GetPackByID(id string) *core.DetectionPack {
	return c.byID[id]
}

// builtinPacks is the initial shipment. Rule order within a pack is the
// evaluation order.
func builtinPacks() []core.DetectionPack {
	return []core.DetectionPack{
		{
			ID:       "startup-reliability",
			Name:     "Startup Reliability",
			Category: core.PackCategoryReliability,
			Icon:     "shield-check",
			Author:   "logtide",
			Version:  "1.2.0",
			Rules: []core.DetectionRule{
				{
					ID:          "critical-errors",
					Name:        "Critical Errors",
					Description: "Any log at critical level",
					Detection: core.Detection{
						Selections: map[string]map[string]interface{}{
							"selection": {"level": "critical"},
						},
						Condition: "selection",
					},
					Level:  core.SeverityCritical,
					Status: core.RuleStatusStable,
					Tags:   []string{"reliability"},
				},
				{
					ID:          "oom-crashes",
					Name:        "Out-Of-Memory Crashes",
					Description: "Heap exhaustion and OOM-killer signatures",
					Detection: core.Detection{
						Selections: map[string]map[string]interface{}{
							"selection": {
								"message|contains": []interface{}{"OOM", "out of memory", "heap space", "memory limit exceeded"},
							},
						},
						Condition: "selection",
					},
					Level:  core.SeverityCritical,
					Status: core.RuleStatusStable,
					Tags:   []string{"reliability", "memory"},
				},
				{
					ID:          "high-error-rate",
					Name:        "High Error Rate",
					Description: "Logs at error level",
					Detection: core.Detection{
						Selections: map[string]map[string]interface{}{
							"selection": {"level": "error"},
						},
						Condition: "selection",
					},
					Level:  core.SeverityHigh,
					Status: core.RuleStatusStable,
					Tags:   []string{"reliability"},
				},
				{
					ID:          "panic-stacktrace",
					Name:        "Panic With Stacktrace",
					Description: "Runtime panics and unhandled exceptions",
					Detection: core.Detection{
						Selections: map[string]map[string]interface{}{
							"panic":     {"message|contains": []interface{}{"panic:", "fatal error:"}},
							"stack":     {"message|contains": "goroutine "},
							"exception": {"message|contains": []interface{}{"unhandled exception", "stack trace"}},
						},
						Condition: "panic or (stack and not exception) or exception",
					},
					Level:  core.SeverityHigh,
					Status: core.RuleStatusExperimental,
					Tags:   []string{"reliability", "crash"},
				},
			},
		},
		{
			ID:       "auth-security",
			Name:     "Auth & Security",
			Category: core.PackCategorySecurity,
			Icon:     "lock",
			Author:   "logtide",
			Version:  "1.4.1",
			Rules: []core.DetectionRule{
				{
					ID:          "failed-login-attempts",
					Name:        "Failed Login Attempts",
					Description: "Authentication failures on the auth service",
					LogSource:   core.LogSource{Service: "auth"},
					Detection: core.Detection{
						Selections: map[string]map[string]interface{}{
							"selection": {
								"message|contains": []interface{}{"failed login", "authentication failed", "invalid credentials"},
							},
						},
						Condition: "selection",
					},
					Level:  core.SeverityMedium,
					Status: core.RuleStatusStable,
					Tags:   []string{"security", "attack.credential_access"},
				},
				{
					ID:          "brute-force-burst",
					Name:        "Brute Force Burst",
					Description: "Rapid repeated login failures from one origin",
					LogSource:   core.LogSource{Service: "auth"},
					Detection: core.Detection{
						Selections: map[string]map[string]interface{}{
							"burst":   {"message|contains": "too many attempts"},
							"lockout": {"message|contains": "account locked"},
						},
						Condition: "1 of them",
					},
					Level:  core.SeverityHigh,
					Status: core.RuleStatusStable,
					Tags:   []string{"security", "attack.brute_force"},
				},
				{
					ID:          "token-expired-spike",
					Name:        "Expired Token Spike",
					Description: "Requests carrying expired or revoked tokens",
					Detection: core.Detection{
						Selections: map[string]map[string]interface{}{
							"expired": {"message|contains": []interface{}{"token expired", "jwt expired"}},
							"revoked": {"message|contains": "token revoked"},
						},
						Condition: "expired or revoked",
					},
					Level:  core.SeverityLow,
					Status: core.RuleStatusStable,
					Tags:   []string{"security"},
				},
				{
					ID:          "privilege-escalation",
					Name:        "Privilege Escalation Attempt",
					Description: "Role or permission elevation outside admin flows",
					Detection: core.Detection{
						Selections: map[string]map[string]interface{}{
							"selection": {
								"message|contains": []interface{}{"permission denied", "unauthorized role change", "sudo"},
								"level":            []interface{}{"warn", "error", "critical"},
							},
						},
						Condition: "selection",
					},
					Level:  core.SeverityHigh,
					Status: core.RuleStatusExperimental,
					Tags:   []string{"security", "attack.privilege_escalation"},
				},
			},
		},
		{
			ID:       "database-health",
			Name:     "Database Health",
			Category: core.PackCategoryDatabase,
			Icon:     "database",
			Author:   "logtide",
			Version:  "1.1.0",
			Rules: []core.DetectionRule{
				{
					ID:          "db-connection-failures",
					Name:        "Database Connection Failures",
					Description: "Connection refused, reset, or pool exhaustion",
					Detection: core.Detection{
						Selections: map[string]map[string]interface{}{
							"selection": {
								"message|contains": []interface{}{"connection refused", "connection reset", "pool exhausted", "too many connections"},
							},
						},
						Condition: "selection",
					},
					Level:  core.SeverityHigh,
					Status: core.RuleStatusStable,
					Tags:   []string{"database"},
				},
				{
					ID:          "slow-query",
					Name:        "Slow Query",
					Description: "Statements flagged slow by the driver or ORM",
					Detection: core.Detection{
						Selections: map[string]map[string]interface{}{
							"selection": {"message|contains": []interface{}{"slow query", "query took"}},
						},
						Condition: "selection",
					},
					Level:  core.SeverityMedium,
					Status: core.RuleStatusStable,
					Tags:   []string{"database", "performance"},
				},
				{
					ID:          "deadlock-detected",
					Name:        "Deadlock Detected",
					Description: "Transaction deadlocks reported by the database",
					Detection: core.Detection{
						Selections: map[string]map[string]interface{}{
							"selection": {"message|contains": "deadlock"},
						},
						Condition: "selection",
					},
					Level:  core.SeverityHigh,
					Status: core.RuleStatusStable,
					Tags:   []string{"database"},
				},
			},
		},
		{
			ID:       "payment-billing",
			Name:     "Payment & Billing",
			Category: core.PackCategoryBusiness,
			Icon:     "credit-card",
			Author:   "logtide",
			Version:  "1.0.2",
			Rules: []core.DetectionRule{
				{
					ID:          "payment-failures",
					Name:        "Payment Failures",
					Description: "Declined charges and gateway errors",
					Detection: core.Detection{
						Selections: map[string]map[string]interface{}{
							"selection": {
								"message|contains": []interface{}{"payment failed", "card declined", "charge failed"},
							},
						},
						Condition: "selection",
					},
					Level:  core.SeverityHigh,
					Status: core.RuleStatusStable,
					Tags:   []string{"business", "payments"},
				},
				{
					ID:          "webhook-signature-mismatch",
					Name:        "Webhook Signature Mismatch",
					Description: "Billing provider callbacks failing verification",
					Detection: core.Detection{
						Selections: map[string]map[string]interface{}{
							"selection": {"message|contains": []interface{}{"signature mismatch", "invalid webhook signature"}},
						},
						Condition: "selection",
					},
					Level:  core.SeverityMedium,
					Status: core.RuleStatusStable,
					Tags:   []string{"business", "payments"},
				},
				{
					ID:          "refund-spike",
					Name:        "Refund Spike",
					Description: "Unusual volume of refunds issued",
					Detection: core.Detection{
						Selections: map[string]map[string]interface{}{
							"selection": {"message|contains": "refund issued"},
						},
						Condition: "selection",
					},
					Level:  core.SeverityInformational,
					Status: core.RuleStatusExperimental,
					Tags:   []string{"business"},
				},
			},
		},
	}
}
