package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skyfeeder/skyfeeder/internal/alerts"
	"github.com/skyfeeder/skyfeeder/internal/safety"
	"github.com/skyfeeder/skyfeeder/pkg/config"
)

func waitFor(t *testing.T, deadline time.Duration, cond func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition never met")
}

func TestSendDeliversPayload(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		json.NewDecoder(r.Body).Decode(&p)
		got.Store(p)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(config.NotificationConfig{
		Enabled:         true,
		AppriseURLs:     []string{server.URL},
		CooldownSeconds: 300,
	})

	svc.Send("test-key", "Test Title", "Test Body", TypeWarning)

	waitFor(t, 5*time.Second, func() bool { return got.Load() != nil })
	p := got.Load().(payload)
	if p.Title != "Test Title" || p.Body != "Test Body" || p.NotifyType != "warning" {
		t.Errorf("Unexpected payload: %+v", p)
	}
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	var count atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(config.NotificationConfig{
		Enabled:         true,
		AppriseURLs:     []string{server.URL},
		CooldownSeconds: 300,
	})

	for i := 0; i < 5; i++ {
		svc.Send("same-key", "Title", "Body", TypeInfo)
	}
	svc.Send("other-key", "Title", "Body", TypeInfo)

	waitFor(t, 5*time.Second, func() bool { return count.Load() == 2 })
	time.Sleep(50 * time.Millisecond)
	if count.Load() != 2 {
		t.Errorf("Expected 2 deliveries (one per key), got %d", count.Load())
	}
}

func TestDisabledServiceSendsNothing(t *testing.T) {
	var count atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
	}))
	defer server.Close()

	svc := NewService(config.NotificationConfig{
		Enabled:     false,
		AppriseURLs: []string{server.URL},
	})
	svc.Send("key", "Title", "Body", TypeInfo)

	time.Sleep(100 * time.Millisecond)
	if count.Load() != 0 {
		t.Errorf("Expected no deliveries when disabled, got %d", count.Load())
	}
}

func TestNonHTTPURLsSkipped(t *testing.T) {
	svc := NewService(config.NotificationConfig{
		Enabled:     true,
		AppriseURLs: []string{"telegram://token@chat", "https://gateway.example/notify"},
	})
	if len(svc.urls) != 1 {
		t.Errorf("Expected only the http(s) endpoint kept, got %v", svc.urls)
	}
}

// memLog records appended notification rows.
type memLog struct {
	rows atomic.Int64
}

func (m *memLog) AppendNotification(ctx context.Context, eventKey, title, notifyType, outcome string) error {
	m.rows.Add(1)
	return nil
}

// TestSetLogDuringDelivery verifies the log sink can be swapped while a
// delivery goroutine is running and the outcome row still lands.
func TestSetLogDuringDelivery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(config.NotificationConfig{
		Enabled:         true,
		AppriseURLs:     []string{server.URL},
		CooldownSeconds: 300,
	})

	sink := &memLog{}
	svc.Send("log-key", "Title", "Body", TypeInfo)
	svc.SetLog(sink)
	svc.Send("log-key-2", "Title", "Body", TypeInfo)

	waitFor(t, 5*time.Second, func() bool { return sink.rows.Load() >= 1 })
}

func TestSeverityMapping(t *testing.T) {
	tests := []struct {
		severity safety.Severity
		expected string
	}{
		{safety.SeverityCritical, TypeFailure},
		{safety.SeverityWarning, TypeWarning},
		{safety.SeverityLow, TypeInfo},
	}
	for _, tt := range tests {
		if got := severityType(tt.severity); got != tt.expected {
			t.Errorf("Severity %s: expected %s, got %s", tt.severity, tt.expected, got)
		}
	}
}

func TestAlertPriorityMapping(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		json.NewDecoder(r.Body).Decode(&p)
		got.Store(p)
	}))
	defer server.Close()

	svc := NewService(config.NotificationConfig{
		Enabled:         true,
		AppriseURLs:     []string{server.URL},
		CooldownSeconds: 300,
	})
	svc.NotifyAlert("alert:1:A12345", "Alert", "fired", alerts.PriorityCritical)

	waitFor(t, 5*time.Second, func() bool { return got.Load() != nil })
	if p := got.Load().(payload); p.NotifyType != TypeFailure {
		t.Errorf("Expected critical priority mapped to failure, got %s", p.NotifyType)
	}
}
