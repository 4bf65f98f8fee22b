package acars

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned for datagrams that are not valid JSON.
var ErrInvalidJSON = errors.New("datagram is not valid JSON")

// ErrEmptyMessage is returned when a datagram parses but carries nothing
// usable (no label, no text, no aircraft identity).
var ErrEmptyMessage = errors.New("datagram carries no usable fields")

// Normalize converts one raw datagram into the common Message shape.
// Flat acarsdec JSON, flat VDL2 JSON, and nested dumpvdl2 JSON (payload
// path vdl2.avlc.acars) are all accepted; the wire shape is treated as a
// permissive tree and narrowed exactly once here.
func Normalize(data []byte, source Source, now time.Time) (*Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	root := gjson.ParseBytes(data)

	var msg *Message
	if root.Get("vdl2.avlc.acars").Exists() {
		msg = normalizeNested(root)
	} else {
		msg = normalizeFlat(root, source)
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	if msg.ICAO == "" && msg.Registration == "" && msg.Label == "" && msg.Text == "" {
		return nil, ErrEmptyMessage
	}

	return msg, nil
}

// normalizeFlat handles the acarsdec shape and flat VDL2 JSON. The two
// differ only in how the aircraft address is encoded: acarsdec sends a hex
// string, flat VDL2 sends an integer address.
func normalizeFlat(root gjson.Result, source Source) *Message {
	msg := &Message{Source: source}

	// Aircraft address: icao / hex / icao_hex, string or integer.
	for _, key := range []string{"icao", "hex", "icao_hex"} {
		v := root.Get(key)
		if !v.Exists() {
			continue
		}
		if v.Type == gjson.Number {
			msg.ICAO = fmt.Sprintf("%06X", int64(v.Num))
		} else if s := strings.TrimSpace(v.String()); s != "" {
			msg.ICAO = strings.ToUpper(s)
		}
		if msg.ICAO != "" {
			break
		}
	}

	msg.Registration = cleanRegistration(root.Get("tail").String())
	msg.Callsign = strings.TrimSpace(root.Get("flight").String())
	msg.Label = root.Get("label").String()
	msg.Text = root.Get("text").String()
	msg.BlockID = root.Get("block_id").String()
	msg.MessageNumber = root.Get("msgno").String()
	msg.Mode = root.Get("mode").String()
	msg.GroundStation = root.Get("station_id").String()
	msg.Channel = int(root.Get("channel").Int())
	msg.ErrorCount = int(root.Get("error").Int())
	msg.SignalLevel = root.Get("level").Float()
	msg.FrequencyMHz = normalizeFrequency(root.Get("freq").Float())

	// acarsdec encodes "no ack" as boolean false.
	if ack := root.Get("ack"); ack.Exists() && ack.Type == gjson.String {
		msg.Ack = ack.String()
	}

	if ts := root.Get("timestamp").Float(); ts > 0 {
		msg.Timestamp = unixSeconds(ts)
	}

	return msg
}

// normalizeNested handles the dumpvdl2 shape, where the ACARS payload is
// nested at vdl2.avlc.acars and radio metadata lives on the vdl2 object.
func normalizeNested(root gjson.Result) *Message {
	vdl2 := root.Get("vdl2")
	inner := vdl2.Get("avlc.acars")

	msg := &Message{
		Source:       SourceVDLM2,
		ICAO:         strings.ToUpper(strings.TrimSpace(vdl2.Get("avlc.src.addr").String())),
		Registration: cleanRegistration(inner.Get("reg").String()),
		Callsign:     strings.TrimSpace(inner.Get("flight").String()),
		Label:        inner.Get("label").String(),
		Text:         inner.Get("msg_text").String(),
		BlockID:      inner.Get("blk_id").String(),
		MessageNumber: inner.Get("msg_num").String(),
		Ack:           inner.Get("ack").String(),
		Mode:          inner.Get("mode").String(),
		GroundStation: vdl2.Get("station").String(),
		SignalLevel:   vdl2.Get("sig_level").Float(),
		FrequencyMHz:  normalizeFrequency(vdl2.Get("freq").Float()),
	}

	if sec := vdl2.Get("t.sec").Int(); sec > 0 {
		usec := vdl2.Get("t.usec").Int()
		msg.Timestamp = time.Unix(sec, usec*1000).UTC()
	}

	return msg
}

// normalizeFrequency maps a raw frequency value to MHz. Values above 1000
// are Hz and get divided down; anything outside the 100-200 MHz aviation
// band is rejected as 0.
func normalizeFrequency(f float64) float64 {
	if f <= 0 {
		return 0
	}
	if f > 1000 {
		f = f / 1e6
	}
	if f < 100 || f > 200 {
		return 0
	}
	return f
}

// cleanRegistration strips the leading dot dumpvdl2 pads registrations
// with, plus any embedded dots.
func cleanRegistration(reg string) string {
	return strings.ReplaceAll(strings.TrimSpace(reg), ".", "")
}

// unixSeconds converts fractional Unix seconds to a time.Time.
func unixSeconds(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
