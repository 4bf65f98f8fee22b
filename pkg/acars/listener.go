package acars

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/skyfeeder/skyfeeder/internal/monitoring"
)

// Store persists accepted messages. Implementations must tolerate being
// called concurrently.
type Store interface {
	AppendAcarsMessage(ctx context.Context, msg *Message) error
}

// Publisher delivers accepted messages to fan-out subscribers.
type Publisher interface {
	Publish(topic, event string, payload interface{})
}

// Service runs the full ingest path for one or both decoder ports:
// normalize, deduplicate, enrich, buffer, persist, publish.
type Service struct {
	store Store
	pub   Publisher
	dedup *Deduper
	stats *Stats
	ring  *Ring
}

// NewService creates an ingest service. store and pub may be nil; the
// corresponding step is skipped.
func NewService(store Store, pub Publisher) *Service {
	return &Service{
		store: store,
		pub:   pub,
		dedup: NewDeduper(),
		stats: NewStats(),
		ring:  NewRing(ringCapacity),
	}
}

// HandleDatagram processes one raw datagram. Malformed datagrams count as
// errors and return nil; duplicates count and return nil. The accepted
// message is returned for tests and callers that chain further work.
func (s *Service) HandleDatagram(ctx context.Context, data []byte, source Source) *Message {
	msg, err := Normalize(data, source, time.Now().UTC())
	if err != nil {
		s.stats.RecordError(source)
		monitoring.AcarsErrors.WithLabelValues(string(source)).Inc()
		monitoring.Debugf("acars_drop source=%s err=%v", source, err)
		return nil
	}

	if s.dedup.IsDuplicate(msg) {
		s.stats.RecordDuplicate(msg.Source)
		monitoring.AcarsDuplicates.WithLabelValues(string(msg.Source)).Inc()
		return nil
	}

	Enrich(msg)

	s.stats.RecordMessage(msg)
	monitoring.AcarsMessages.WithLabelValues(string(msg.Source)).Inc()
	s.ring.Push(msg)

	if s.store != nil {
		if err := s.store.AppendAcarsMessage(ctx, msg); err != nil {
			log.Printf("Failed to store ACARS message: %v", err)
			monitoring.StoreErrors.WithLabelValues("acars_append").Inc()
		}
	}

	if s.pub != nil {
		// Base-topic subscribers receive sub-topic frames through the
		// hub's prefix match, so each message is published exactly once.
		topic := "acars"
		if msg.ICAO != "" {
			topic = "acars/" + msg.ICAO
		}
		s.pub.Publish(topic, "message", msg)
	}

	return msg
}

// Listen binds a UDP port and processes datagrams until the context is
// cancelled. One listener per decoder port.
func (s *Service) Listen(ctx context.Context, port int, source Source) error {
	addr := net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp", &addr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP port %d: %w", port, err)
	}
	defer conn.Close()

	log.Printf("✓ ACARS listener started source=%s port=%d", source, port)

	// Closing the connection unblocks the read loop on cancellation.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 16384)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("ACARS listener stopped source=%s", source)
				return nil
			}
			// Transient read errors are logged and the loop continues.
			log.Printf("ACARS read error source=%s: %v", source, err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.HandleDatagram(ctx, data, source)
	}
}

// Recent returns up to limit recent messages, newest first.
func (s *Service) Recent(limit int) []*Message {
	return s.ring.Recent(limit)
}

// StatsSnapshot returns the current ingest statistics.
func (s *Service) StatsSnapshot() Snapshot {
	return s.stats.Snapshot()
}
