// Package acars ingests ACARS and VDL Mode 2 datagrams from local decoders
// (acarsdec on UDP 5550, dumpvdl2 on UDP 5555), normalizes them into a
// common record shape, deduplicates, enriches, and hands them downstream.
package acars

import (
	"fmt"
	"time"
)

// Source identifies the decoder a message arrived from.
type Source string

const (
	// SourceACARS is classic VHF ACARS from acarsdec (UDP 5550).
	SourceACARS Source = "acars"

	// SourceVDLM2 is VDL Mode 2 from dumpvdl2 (UDP 5555).
	SourceVDLM2 Source = "vdlm2"
)

// Message is the normalized, source-agnostic ACARS record.
type Message struct {
	// Source is the decoder channel the message arrived on.
	Source Source `json:"source"`

	// Timestamp is the ingest time with sub-second precision.
	Timestamp time.Time `json:"timestamp"`

	// FrequencyMHz is the radio frequency in MHz (0 if unknown or
	// outside the 100-200 MHz aviation band).
	FrequencyMHz float64 `json:"frequency_mhz"`

	// Channel is the decoder channel number (flat ACARS only).
	Channel int `json:"channel"`

	// ICAO is the aircraft address as 6 uppercase hex characters, when
	// the decoder provided one.
	ICAO string `json:"icao"`

	// Registration is the tail number with dots stripped.
	Registration string `json:"registration"`

	// Callsign is the flight identifier, trimmed.
	Callsign string `json:"callsign"`

	// Label is the 2-character ACARS message label.
	Label string `json:"label"`

	// BlockID, MessageNumber, Ack and Mode are ACARS link-layer fields.
	BlockID       string `json:"block_id"`
	MessageNumber string `json:"message_number"`
	Ack           string `json:"ack"`
	Mode          string `json:"mode"`

	// Text is the decoded message body.
	Text string `json:"text"`

	// SignalLevel is the receiver signal level in dB.
	SignalLevel float64 `json:"signal_level"`

	// ErrorCount is the decoder's bit-error count.
	ErrorCount int `json:"error_count"`

	// GroundStation is the receiving ground-station identifier.
	GroundStation string `json:"ground_station"`

	// DecodedFields holds enrichment output: airline, label name, OOOI
	// event type, extracted coordinates, weather type, airport codes.
	DecodedFields map[string]interface{} `json:"decoded_fields,omitempty"`
}

// DedupKey is the content hash used by the deduplicator: timestamp rounded
// to whole seconds, ICAO, label, and the first 50 characters of the text.
func (m *Message) DedupKey() string {
	text := m.Text
	if len(text) > 50 {
		text = text[:50]
	}
	return fmt.Sprintf("%d|%s|%s|%s", m.Timestamp.Unix(), m.ICAO, m.Label, text)
}
