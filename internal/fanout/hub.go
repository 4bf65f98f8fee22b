// Package fanout delivers server-side events to connected subscribers.
// The hub is transport-agnostic: subscribers receive pre-encoded frames
// over a buffered channel, and the websocket layer drains that channel.
package fanout

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/skyfeeder/skyfeeder/internal/monitoring"
)

// Topics a subscriber can join. TopicAll expands to every real topic.
const (
	TopicAircraft  = "aircraft"
	TopicPositions = "positions"
	TopicAirspace  = "airspace"
	TopicSafety    = "safety"
	TopicAlerts    = "alerts"
	TopicAcars     = "acars"
	TopicAudio     = "audio"
	TopicStats     = "stats"
	TopicAll       = "all"
)

var realTopics = []string{
	TopicAircraft, TopicPositions, TopicAirspace, TopicSafety,
	TopicAlerts, TopicAcars, TopicAudio, TopicStats,
}

// sendBuffer is the per-client queue depth. A client whose queue is
// full when a frame arrives is dropped rather than blocking publish.
const sendBuffer = 256

// Envelope is the wire frame delivered to subscribers.
type Envelope struct {
	Topic     string      `json:"topic"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Client is one subscriber's view of the hub. The transport layer reads
// frames from Receive and calls Close when the connection ends.
type Client struct {
	id     uint64
	topics map[string]bool
	send   chan []byte

	hub       *Hub
	closeOnce sync.Once
}

// Receive returns the frame stream. The channel closes when the client
// is dropped or closed.
func (c *Client) Receive() <-chan []byte {
	return c.send
}

// Topics returns the topics this client joined.
func (c *Client) Topics() []string {
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// Close detaches the client from the hub.
func (c *Client) Close() {
	c.hub.drop(c)
}

// Hub routes published events to subscribed clients. ACARS sub-topics
// of the form "acars/<icao>" are matched by their "acars" prefix.
type Hub struct {
	mu        sync.RWMutex
	clients   map[uint64]*Client
	nextID    uint64
	snapshots map[string]func() interface{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[uint64]*Client),
		snapshots: make(map[string]func() interface{}),
	}
}

// SetSnapshot registers the provider called to seed new subscribers of
// one topic.
func (h *Hub) SetSnapshot(topic string, fn func() interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots[topic] = fn
}

// Join attaches a new client subscribed to the given topics. Unknown
// topic names are ignored; "all" joins every real topic. Topics with a
// registered snapshot provider deliver a snapshot frame immediately.
func (h *Hub) Join(topics []string) *Client {
	joined := make(map[string]bool)
	for _, t := range topics {
		if t == TopicAll {
			for _, rt := range realTopics {
				joined[rt] = true
			}
			continue
		}
		if validTopic(t) {
			joined[t] = true
		}
	}

	h.mu.Lock()
	h.nextID++
	c := &Client{
		id:     h.nextID,
		topics: joined,
		send:   make(chan []byte, sendBuffer),
		hub:    h,
	}
	h.clients[c.id] = c

	var seeds []Envelope
	for topic := range joined {
		if fn, ok := h.snapshots[topic]; ok {
			seeds = append(seeds, Envelope{
				Topic: topic, Event: "snapshot", Data: fn(), Timestamp: time.Now().UTC(),
			})
		}
	}
	h.mu.Unlock()

	for i := range seeds {
		if frame, err := json.Marshal(&seeds[i]); err == nil {
			c.send <- frame
		}
	}

	monitoring.FanoutClients.Set(float64(h.ClientCount()))
	return c
}

func validTopic(t string) bool {
	for _, rt := range realTopics {
		if t == rt {
			return true
		}
	}
	return strings.HasPrefix(t, TopicAcars+"/")
}

// drop detaches one client and closes its frame stream.
func (h *Hub) drop(c *Client) {
	c.closeOnce.Do(func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		close(c.send)
		monitoring.FanoutClients.Set(float64(h.ClientCount()))
	})
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish encodes one event and queues it to every subscribed client.
// A client whose queue is full is dropped; publish never blocks.
func (h *Hub) Publish(topic, event string, payload interface{}) {
	frame, err := json.Marshal(&Envelope{
		Topic: topic, Event: event, Data: payload, Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("Failed to encode fan-out event %s:%s: %v", topic, event, err)
		return
	}

	// Sub-topics like "acars/A12345" also reach plain "acars"
	// subscribers.
	base := topic
	if i := strings.IndexByte(topic, '/'); i > 0 {
		base = topic[:i]
	}

	var slow []*Client
	h.mu.RLock()
	for _, c := range h.clients {
		if !c.topics[topic] && !c.topics[base] {
			continue
		}
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Printf("⚠ Dropping slow fan-out client %d (queue full)", c.id)
		monitoring.FanoutDropped.Inc()
		h.drop(c)
	}
	monitoring.FanoutPublished.WithLabelValues(base).Inc()
}
