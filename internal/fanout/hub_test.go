package fanout

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/skyfeeder/skyfeeder/pkg/adsb"
)

func floatPtr(f float64) *float64 { return &f }

// drain collects every frame currently queued for a client.
func drain(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case frame, ok := <-c.Receive():
			if !ok {
				return out
			}
			var env Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				t.Fatalf("Bad frame: %v", err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestPublishRouting(t *testing.T) {
	hub := NewHub()
	safetyClient := hub.Join([]string{TopicSafety})
	acarsClient := hub.Join([]string{TopicAcars})
	defer safetyClient.Close()
	defer acarsClient.Close()

	hub.Publish(TopicSafety, "event", map[string]string{"id": "x"})

	if got := drain(t, safetyClient); len(got) != 1 || got[0].Topic != TopicSafety {
		t.Errorf("Expected 1 safety frame, got %v", got)
	}
	if got := drain(t, acarsClient); len(got) != 0 {
		t.Errorf("Expected no frames for the acars client, got %d", len(got))
	}
}

func TestWildcardJoinsEveryTopic(t *testing.T) {
	hub := NewHub()
	c := hub.Join([]string{TopicAll})
	defer c.Close()

	hub.Publish(TopicSafety, "event", nil)
	hub.Publish(TopicAlerts, "triggered", nil)
	hub.Publish(TopicAcars, "message", nil)

	if got := drain(t, c); len(got) != 3 {
		t.Errorf("Expected 3 frames on wildcard client, got %d", len(got))
	}
}

func TestAcarsSubTopic(t *testing.T) {
	hub := NewHub()
	all := hub.Join([]string{TopicAcars})
	one := hub.Join([]string{"acars/A12345"})
	defer all.Close()
	defer one.Close()

	hub.Publish("acars/A12345", "message", nil)
	hub.Publish("acars/B99999", "message", nil)

	if got := drain(t, all); len(got) != 2 {
		t.Errorf("Expected base subscriber to see both sub-topic frames, got %d", len(got))
	}
	if got := drain(t, one); len(got) != 1 {
		t.Errorf("Expected filtered subscriber to see 1 frame, got %d", len(got))
	}
}

func TestSnapshotOnSubscribe(t *testing.T) {
	hub := NewHub()
	hub.SetSnapshot(TopicAircraft, func() interface{} {
		return []string{"A12345", "B99999"}
	})

	c := hub.Join([]string{TopicAircraft})
	defer c.Close()

	got := drain(t, c)
	if len(got) != 1 || got[0].Event != "snapshot" {
		t.Fatalf("Expected a snapshot frame on subscribe, got %v", got)
	}
}

func TestUnknownTopicIgnored(t *testing.T) {
	hub := NewHub()
	c := hub.Join([]string{"bogus", TopicSafety})
	defer c.Close()

	if len(c.Topics()) != 1 {
		t.Errorf("Expected only the valid topic joined, got %v", c.Topics())
	}
}

func TestSlowClientDropped(t *testing.T) {
	hub := NewHub()
	slow := hub.Join([]string{TopicSafety})

	// Never drained: the queue fills, then the next publish drops it.
	for i := 0; i <= sendBuffer; i++ {
		hub.Publish(TopicSafety, "event", i)
	}

	if hub.ClientCount() != 0 {
		t.Errorf("Expected slow client dropped, still %d attached", hub.ClientCount())
	}
	// The frame channel closes on drop.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-slow.Receive():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Expected the dropped client's channel to close")
		}
	}
}

func TestCloseDetaches(t *testing.T) {
	hub := NewHub()
	c := hub.Join([]string{TopicSafety})
	c.Close()
	c.Close() // idempotent

	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients after close, got %d", hub.ClientCount())
	}
}

func TestBroadcastCycle(t *testing.T) {
	hub := NewHub()
	aircraft := hub.Join([]string{TopicAircraft})
	positions := hub.Join([]string{TopicPositions})
	stats := hub.Join([]string{TopicStats})
	defer aircraft.Close()
	defer positions.Close()
	defer stats.Close()

	lat, lon := 47.5, -122.3
	obs := &adsb.Observation{ICAO: "A12345", Latitude: &lat, Longitude: &lon, BaroAltitude: floatPtr(10000)}

	cycle := &Cycle{
		New:       []*adsb.Observation{obs},
		Removed:   []string{"B99999"},
		Positions: []*PositionDelta{deltaOf(obs)},
		Count:     1,
	}
	if err := hub.BroadcastCycle(context.Background(), cycle); err != nil {
		t.Fatalf("BroadcastCycle failed: %v", err)
	}

	events := make(map[string]int)
	for _, env := range drain(t, aircraft) {
		events[env.Event]++
	}
	if events["new"] != 1 || events["remove"] != 1 || events["heartbeat"] != 1 {
		t.Errorf("Unexpected aircraft events: %v", events)
	}
	if got := drain(t, positions); len(got) != 1 || got[0].Event != "update" {
		t.Errorf("Expected 1 positions update, got %v", got)
	}
	if got := drain(t, stats); len(got) != 1 || got[0].Event != "cycle" {
		t.Errorf("Expected 1 stats frame, got %v", got)
	} else if data := got[0].Data.(map[string]interface{}); data["aircraft"].(float64) != 1 {
		t.Errorf("Expected stats aircraft 1, got %v", data["aircraft"])
	}
}

func TestBroadcastEmptyCycle(t *testing.T) {
	hub := NewHub()
	c := hub.Join([]string{TopicAircraft})
	defer c.Close()

	differ := NewDiffer()
	differ.Next([]*adsb.Observation{{ICAO: "A12345"}})

	// A feed outage yields an empty cycle: heartbeat only, count 0,
	// and crucially no removals.
	cycle := differ.Next(nil)
	if err := hub.BroadcastCycle(context.Background(), cycle); err != nil {
		t.Fatalf("BroadcastCycle failed: %v", err)
	}

	got := drain(t, c)
	if len(got) != 1 || got[0].Event != "heartbeat" {
		t.Fatalf("Expected only a heartbeat, got %v", got)
	}
	data := got[0].Data.(map[string]interface{})
	if data["count"].(float64) != 0 {
		t.Errorf("Expected heartbeat count 0, got %v", data["count"])
	}
}
