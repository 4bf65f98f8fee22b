// Package alerts evaluates user-defined rules against the live aircraft
// picture and fires history rows, fan-out events, webhooks, and
// notifications when a rule matches.
package alerts

import (
	"strconv"
	"time"

	"github.com/skyfeeder/skyfeeder/pkg/adsb"
)

// Priority classifies how a fired alert is surfaced downstream.
type Priority string

const (
	PriorityInfo     Priority = "info"
	PriorityWarning  Priority = "warning"
	PriorityCritical Priority = "critical"
)

// Visibility controls who can see a rule.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
	VisibilityPublic  Visibility = "public"
)

// Condition is one (field, operator, value) predicate.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// ConditionGroup combines its conditions with one logic operator.
// An empty Logic means AND.
type ConditionGroup struct {
	Logic      string      `json:"logic,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// ConditionTree combines groups with a top-level logic operator. An
// empty tree matches everything.
type ConditionTree struct {
	Logic  string           `json:"logic,omitempty"`
	Groups []ConditionGroup `json:"groups,omitempty"`
}

// Rule is one user-defined alert rule. A rule matches an aircraft iff
// both its simple predicate (if set) and its condition tree (if set)
// evaluate true; a rule with neither matches every aircraft.
type Rule struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Owner      string     `json:"owner,omitempty"`
	Visibility Visibility `json:"visibility"`
	Enabled    bool       `json:"enabled"`
	Priority   Priority   `json:"priority"`

	// Simple predicate; empty Field means no simple predicate.
	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    string `json:"value,omitempty"`

	// Conditions is the optional condition-group tree.
	Conditions *ConditionTree `json:"conditions,omitempty"`

	// StartsAt and ExpiresAt bound when the rule is active. Either may
	// be nil for an open-ended window.
	StartsAt  *time.Time `json:"starts_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// CooldownSeconds throttles repeated fires per (rule, ICAO).
	CooldownSeconds int `json:"cooldown_seconds"`

	// WebhookURL, when set, receives a POST on every fire.
	WebhookURL string `json:"api_url,omitempty"`

	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HistoryEntry is one append-only record of a rule fire.
type HistoryEntry struct {
	ID           int64             `json:"id"`
	RuleID       int64             `json:"rule_id"`
	RuleName     string            `json:"rule_name"`
	ICAO         string            `json:"icao"`
	Callsign     string            `json:"callsign,omitempty"`
	Message      string            `json:"message"`
	Priority     Priority          `json:"priority"`
	Aircraft     *adsb.Observation `json:"aircraft,omitempty"`
	TriggeredAt  time.Time         `json:"triggered_at"`
	Acknowledged bool              `json:"acknowledged"`
}

// Candidate pairs an observation with its derived values for rule
// evaluation.
type Candidate struct {
	Observation *adsb.Observation
	DistanceNM  *float64
}

// fieldValue maps a logical rule field to the candidate's concrete
// value in string form. The second return is false when the aircraft
// has no value for the field; a missing value compares false under
// every operator, including neq.
func fieldValue(c *Candidate, field string) (string, bool) {
	obs := c.Observation
	switch field {
	case "icao":
		return obs.ICAO, obs.ICAO != ""
	case "callsign":
		return obs.Callsign, obs.Callsign != ""
	case "squawk":
		return obs.Squawk, obs.Squawk != ""
	case "altitude":
		return formatFloat(obs.BaroAltitude)
	case "distance":
		return formatFloat(c.DistanceNM)
	case "speed":
		return formatFloat(obs.GroundSpeed)
	case "vertical_rate":
		return formatFloat(obs.VerticalRate)
	case "type":
		return obs.Type, obs.Type != ""
	case "category":
		return obs.Category, obs.Category != ""
	case "military":
		return strconv.FormatBool(obs.Military), true
	}
	return "", false
}

func formatFloat(f *float64) (string, bool) {
	if f == nil {
		return "", false
	}
	return strconv.FormatFloat(*f, 'f', -1, 64), true
}
