// Package notify pushes operator notifications to Apprise-style
// endpoints with per-key cooldowns so a persisting condition does not
// flood the operator's phone.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skyfeeder/skyfeeder/internal/alerts"
	"github.com/skyfeeder/skyfeeder/internal/monitoring"
	"github.com/skyfeeder/skyfeeder/internal/safety"
	"github.com/skyfeeder/skyfeeder/pkg/config"
)

// Notification types understood by Apprise.
const (
	TypeInfo    = "info"
	TypeWarning = "warning"
	TypeFailure = "failure"
)

// payload is the body posted to each endpoint.
type payload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	NotifyType string `json:"notify_type"`
}

// Log is the append-only per-send record sink. May be left unset.
type Log interface {
	AppendNotification(ctx context.Context, eventKey, title, notifyType, outcome string) error
}

// Service delivers notifications. Sends are asynchronous and rate
// limited; delivery failure is logged and counted, never propagated.
type Service struct {
	cfg     config.NotificationConfig
	urls    []string
	client  *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	sendLog  Log
	lastSent map[string]time.Time
	cooldown time.Duration
}

// NewService creates a notification service. Non-HTTP notifier URLs
// (telegram://, pushover://, ...) are expected to point at an Apprise
// gateway; only http(s) endpoints are delivered to directly, the rest
// are logged and skipped at startup.
func NewService(cfg config.NotificationConfig) *Service {
	var urls []string
	for _, u := range cfg.AppriseURLs {
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			urls = append(urls, u)
			continue
		}
		log.Printf("⚠ Skipping notifier URL with unsupported scheme: %s", u)
	}

	return &Service{
		cfg:      cfg,
		urls:     urls,
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 5),
		lastSent: make(map[string]time.Time),
		cooldown: time.Duration(cfg.CooldownSeconds) * time.Second,
	}
}

// Send pushes one notification for the given event key, subject to the
// per-key cooldown. Fire-and-forget.
func (s *Service) Send(key, title, body, notifyType string) {
	if !s.cfg.Enabled || len(s.urls) == 0 {
		return
	}
	if !s.allow(key, time.Now()) {
		monitoring.NotificationsSent.WithLabelValues("suppressed").Inc()
		monitoring.Debugf("notification %q suppressed by cooldown", key)
		return
	}
	go s.deliver(key, title, body, notifyType)
}

// SetLog attaches the per-send log sink. Safe to call while deliveries
// are in flight.
func (s *Service) SetLog(l Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLog = l
}

func (s *Service) logSink() Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLog
}

// allow consults and installs the cooldown entry for one key.
func (s *Service) allow(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastSent[key]; ok && now.Sub(last) < s.cooldown {
		return false
	}
	s.lastSent[key] = now
	return true
}

func (s *Service) deliver(key, title, body, notifyType string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.limiter.Wait(ctx); err != nil {
		s.record(ctx, key, title, notifyType, "failed")
		return
	}

	encoded, err := json.Marshal(payload{Title: title, Body: body, NotifyType: notifyType})
	if err != nil {
		s.record(ctx, key, title, notifyType, "failed")
		return
	}

	for _, url := range s.urls {
		resp, err := s.client.Post(url, "application/json", bytes.NewReader(encoded))
		if err != nil {
			log.Printf("Notification POST to %s failed: %v", url, err)
			s.record(ctx, key, title, notifyType, "failed")
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Printf("Notification POST to %s returned status %d", url, resp.StatusCode)
			s.record(ctx, key, title, notifyType, "failed")
			continue
		}
		s.record(ctx, key, title, notifyType, "sent")
	}
}

// record counts the outcome and appends the per-send log row.
func (s *Service) record(ctx context.Context, key, title, notifyType, outcome string) {
	monitoring.NotificationsSent.WithLabelValues(outcome).Inc()
	if sink := s.logSink(); sink != nil {
		if err := sink.AppendNotification(ctx, key, title, notifyType, outcome); err != nil {
			monitoring.Debugf("failed to log notification %q: %v", key, err)
		}
	}
}

// Notify delivers a safety event notification, mapping severity to the
// Apprise notify_type.
func (s *Service) Notify(key, title, body string, severity safety.Severity) {
	s.Send(key, title, body, severityType(severity))
}

// NotifyAlert delivers an alert-rule notification.
func (s *Service) NotifyAlert(key, title, body string, priority alerts.Priority) {
	notifyType := TypeInfo
	switch priority {
	case alerts.PriorityCritical:
		notifyType = TypeFailure
	case alerts.PriorityWarning:
		notifyType = TypeWarning
	}
	s.Send(key, title, body, notifyType)
}

func severityType(severity safety.Severity) string {
	switch severity {
	case safety.SeverityCritical:
		return TypeFailure
	case safety.SeverityWarning:
		return TypeWarning
	default:
		return TypeInfo
	}
}

// Reset clears the cooldown table. Used by tests and the stats surface.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSent = make(map[string]time.Time)
}
