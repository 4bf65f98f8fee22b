package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skyfeeder/skyfeeder/internal/monitoring"
)

// Store persists rules and fire history.
type Store interface {
	ListAlertRules(ctx context.Context) ([]*Rule, error)
	CreateAlertRule(ctx context.Context, r *Rule) (int64, error)
	UpdateAlertRule(ctx context.Context, r *Rule) error
	DeleteAlertRule(ctx context.Context, id int64) error
	TouchAlertRule(ctx context.Context, id int64, triggeredAt time.Time) error
	AppendAlertHistory(ctx context.Context, entry *HistoryEntry) (int64, error)
}

// Publisher delivers fired alerts to fan-out subscribers.
type Publisher interface {
	Publish(topic, event string, payload interface{})
}

// Notifier pushes operator notifications for fired rules.
type Notifier interface {
	NotifyAlert(key, title, body string, priority Priority)
}

// compiledCondition is one predicate with its operator-specific parts
// resolved ahead of evaluation.
type compiledCondition struct {
	field string
	op    string
	value string
	num   float64
	numOK bool
	re    *regexp.Regexp
}

type compiledGroup struct {
	or    bool
	conds []compiledCondition
}

type compiledRule struct {
	rule     *Rule
	simple   *compiledCondition
	treeOr   bool
	groups   []compiledGroup
	cooldown time.Duration
}

// ruleSnapshot is the immutable compiled rule set. Readers never lock;
// the snapshot is swapped atomically and rebuilt lazily after CRUD.
type ruleSnapshot struct {
	rules []*compiledRule
}

// Engine evaluates the rule set against candidates and handles all fire
// side effects.
type Engine struct {
	store    Store
	pub      Publisher
	notifier Notifier
	webhook  *http.Client

	snapshot atomic.Pointer[ruleSnapshot]

	mu        sync.Mutex
	cooldowns map[string]time.Time
}

// NewEngine creates an engine. pub and notifier may be nil.
func NewEngine(store Store, pub Publisher, notifier Notifier) *Engine {
	return &Engine{
		store:     store,
		pub:       pub,
		notifier:  notifier,
		webhook:   &http.Client{Timeout: 10 * time.Second},
		cooldowns: make(map[string]time.Time),
	}
}

// Invalidate drops the compiled snapshot; the next evaluation rebuilds
// it from the store.
func (e *Engine) Invalidate() {
	e.snapshot.Store(nil)
}

// ListRules returns the persisted rule set.
func (e *Engine) ListRules(ctx context.Context) ([]*Rule, error) {
	return e.store.ListAlertRules(ctx)
}

// AddRule validates, persists, and activates a new rule.
func (e *Engine) AddRule(ctx context.Context, r *Rule) (int64, error) {
	if _, err := compileRule(r); err != nil {
		return 0, fmt.Errorf("invalid alert rule: %w", err)
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	id, err := e.store.CreateAlertRule(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("failed to create alert rule: %w", err)
	}
	r.ID = id
	e.Invalidate()
	return id, nil
}

// UpdateRule validates and persists a rule change.
func (e *Engine) UpdateRule(ctx context.Context, r *Rule) error {
	if _, err := compileRule(r); err != nil {
		return fmt.Errorf("invalid alert rule: %w", err)
	}
	r.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateAlertRule(ctx, r); err != nil {
		return fmt.Errorf("failed to update alert rule: %w", err)
	}
	e.Invalidate()
	return nil
}

// DeleteRule removes a rule.
func (e *Engine) DeleteRule(ctx context.Context, id int64) error {
	if err := e.store.DeleteAlertRule(ctx, id); err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}
	e.Invalidate()
	return nil
}

// CheckAlerts evaluates every enabled rule against every candidate and
// fires at most one history row per (rule, ICAO) within the rule's
// cooldown. Returns the fired entries.
func (e *Engine) CheckAlerts(ctx context.Context, candidates []*Candidate, now time.Time) []*HistoryEntry {
	snap, err := e.currentSnapshot(ctx)
	if err != nil {
		log.Printf("Failed to load alert rules: %v", err)
		return nil
	}

	var fired []*HistoryEntry
	for _, cr := range snap.rules {
		if !cr.active(now) {
			continue
		}
		for _, cand := range candidates {
			if cand.Observation == nil || cand.Observation.ICAO == "" {
				continue
			}
			if !cr.matches(cand) {
				continue
			}
			if !e.allowFire(cr, cand.Observation.ICAO, now) {
				continue
			}
			fired = append(fired, e.fire(ctx, cr, cand, now))
		}
	}
	return fired
}

// currentSnapshot returns the compiled rule set, rebuilding it when a
// CRUD operation has invalidated it.
func (e *Engine) currentSnapshot(ctx context.Context) (*ruleSnapshot, error) {
	if snap := e.snapshot.Load(); snap != nil {
		return snap, nil
	}

	rules, err := e.store.ListAlertRules(ctx)
	if err != nil {
		return nil, err
	}

	snap := &ruleSnapshot{}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		cr, err := compileRule(r)
		if err != nil {
			// Bad rows edited out of band are skipped, not fatal.
			log.Printf("⚠ Skipping alert rule %d (%s): %v", r.ID, r.Name, err)
			continue
		}
		snap.rules = append(snap.rules, cr)
	}

	e.snapshot.Store(snap)
	monitoring.Debugf("compiled %d alert rules", len(snap.rules))
	return snap, nil
}

// compileRule resolves regexes and numeric thresholds ahead of
// evaluation.
func compileRule(r *Rule) (*compiledRule, error) {
	cr := &compiledRule{
		rule:     r,
		cooldown: time.Duration(r.CooldownSeconds) * time.Second,
	}

	if r.Field != "" {
		cond, err := compileCondition(Condition{Field: r.Field, Operator: r.Operator, Value: r.Value})
		if err != nil {
			return nil, err
		}
		cr.simple = &cond
	}

	if r.Conditions != nil {
		cr.treeOr = strings.EqualFold(r.Conditions.Logic, "OR")
		for _, g := range r.Conditions.Groups {
			cg := compiledGroup{or: strings.EqualFold(g.Logic, "OR")}
			for _, c := range g.Conditions {
				cond, err := compileCondition(c)
				if err != nil {
					return nil, err
				}
				cg.conds = append(cg.conds, cond)
			}
			cr.groups = append(cr.groups, cg)
		}
	}
	return cr, nil
}

func compileCondition(c Condition) (compiledCondition, error) {
	cc := compiledCondition{field: c.Field, op: strings.ToLower(c.Operator), value: c.Value}

	switch cc.op {
	case "eq", "neq", "contains", "startswith", "endswith":
	case "lt", "le", "gt", "ge":
		if num, err := strconv.ParseFloat(c.Value, 64); err == nil {
			cc.num = num
			cc.numOK = true
		}
	case "regex":
		re, err := regexp.Compile("(?i)" + c.Value)
		if err != nil {
			return cc, fmt.Errorf("bad regex %q: %w", c.Value, err)
		}
		cc.re = re
	default:
		return cc, fmt.Errorf("unknown operator %q", c.Operator)
	}
	return cc, nil
}

// active reports whether now falls inside the rule's schedule window.
func (cr *compiledRule) active(now time.Time) bool {
	r := cr.rule
	if r.StartsAt != nil && now.Before(*r.StartsAt) {
		return false
	}
	if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return false
	}
	return true
}

// matches requires both the simple predicate and the condition tree,
// when present, to hold.
func (cr *compiledRule) matches(cand *Candidate) bool {
	if cr.simple != nil && !cr.simple.match(cand) {
		return false
	}
	return cr.matchTree(cand)
}

// matchTree evaluates the condition-group tree. An empty tree and empty
// groups evaluate true.
func (cr *compiledRule) matchTree(cand *Candidate) bool {
	if len(cr.groups) == 0 {
		return true
	}
	for _, g := range cr.groups {
		ok := g.match(cand)
		if cr.treeOr && ok {
			return true
		}
		if !cr.treeOr && !ok {
			return false
		}
	}
	return !cr.treeOr
}

func (g *compiledGroup) match(cand *Candidate) bool {
	if len(g.conds) == 0 {
		return true
	}
	for _, c := range g.conds {
		ok := c.match(cand)
		if g.or && ok {
			return true
		}
		if !g.or && !ok {
			return false
		}
	}
	return !g.or
}

func (c *compiledCondition) match(cand *Candidate) bool {
	raw, present := fieldValue(cand, c.field)
	if !present {
		return false
	}

	switch c.op {
	case "eq":
		return strings.EqualFold(raw, c.value)
	case "neq":
		return !strings.EqualFold(raw, c.value)
	case "lt", "le", "gt", "ge":
		if !c.numOK {
			return false
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return false
		}
		switch c.op {
		case "lt":
			return f < c.num
		case "le":
			return f <= c.num
		case "gt":
			return f > c.num
		case "ge":
			return f >= c.num
		}
	case "contains":
		return strings.Contains(strings.ToLower(raw), strings.ToLower(c.value))
	case "startswith":
		return strings.HasPrefix(strings.ToLower(raw), strings.ToLower(c.value))
	case "endswith":
		return strings.HasSuffix(strings.ToLower(raw), strings.ToLower(c.value))
	case "regex":
		return c.re.MatchString(raw)
	}
	return false
}

// allowFire consults and installs the (rule, ICAO) cooldown entry.
func (e *Engine) allowFire(cr *compiledRule, icao string, now time.Time) bool {
	key := strconv.FormatInt(cr.rule.ID, 10) + ":" + icao

	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.cooldowns[key]; ok && now.Sub(last) < cr.cooldown {
		return false
	}
	e.cooldowns[key] = now
	return true
}

// fire performs all side effects of one rule trigger.
func (e *Engine) fire(ctx context.Context, cr *compiledRule, cand *Candidate, now time.Time) *HistoryEntry {
	r := cr.rule
	obs := cand.Observation

	name := obs.Callsign
	if name == "" {
		name = obs.ICAO
	}

	entry := &HistoryEntry{
		RuleID:      r.ID,
		RuleName:    r.Name,
		ICAO:        obs.ICAO,
		Callsign:    obs.Callsign,
		Message:     fmt.Sprintf("Alert %q triggered by %s", r.Name, name),
		Priority:    r.Priority,
		Aircraft:    obs,
		TriggeredAt: now,
	}

	monitoring.AlertsFired.WithLabelValues(string(r.Priority)).Inc()
	log.Printf("✓ Alert rule %q fired for %s", r.Name, name)

	if id, err := e.store.AppendAlertHistory(ctx, entry); err != nil {
		log.Printf("Failed to persist alert history for rule %d: %v", r.ID, err)
		monitoring.StoreErrors.WithLabelValues("alert_history").Inc()
	} else {
		entry.ID = id
	}
	if err := e.store.TouchAlertRule(ctx, r.ID, now); err != nil {
		monitoring.Debugf("failed to touch alert rule %d: %v", r.ID, err)
	}

	if e.pub != nil {
		e.pub.Publish("alerts", "triggered", entry)
	}
	if r.WebhookURL != "" {
		go e.postWebhook(r.WebhookURL, entry)
	}
	if e.notifier != nil {
		e.notifier.NotifyAlert("alert:"+strconv.FormatInt(r.ID, 10)+":"+obs.ICAO,
			"Alert: "+r.Name, entry.Message, r.Priority)
	}
	return entry
}

// postWebhook delivers one fire to the rule's webhook. Fire-and-forget:
// failures are logged, never retried.
func (e *Engine) postWebhook(url string, entry *HistoryEntry) {
	payload := map[string]interface{}{
		"rule_name":     entry.RuleName,
		"message":       entry.Message,
		"priority":      entry.Priority,
		"icao":          entry.ICAO,
		"callsign":      entry.Callsign,
		"aircraft_data": entry.Aircraft,
		"triggered_at":  entry.TriggeredAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to encode webhook payload for rule %q: %v", entry.RuleName, err)
		return
	}

	resp, err := e.webhook.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("Webhook POST failed for rule %q: %v", entry.RuleName, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("Webhook POST for rule %q returned status %d", entry.RuleName, resp.StatusCode)
	}
}

// PruneCooldowns drops cooldown entries whose rule window has long
// passed. Called by the pipeline sweeper.
func (e *Engine) PruneCooldowns(now time.Time, maxAge time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	pruned := 0
	for key, at := range e.cooldowns {
		if now.Sub(at) > maxAge {
			delete(e.cooldowns, key)
			pruned++
		}
	}
	return pruned
}
