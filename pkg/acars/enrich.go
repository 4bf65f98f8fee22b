package acars

import (
	"regexp"
	"strconv"
	"strings"
)

// airlinesICAO maps 3-letter ICAO airline designators to airline names.
var airlinesICAO = map[string]string{
	"AAL": "American Airlines",
	"ACA": "Air Canada",
	"AFR": "Air France",
	"ASA": "Alaska Airlines",
	"BAW": "British Airways",
	"CPA": "Cathay Pacific",
	"DAL": "Delta Air Lines",
	"DLH": "Lufthansa",
	"EJA": "NetJets",
	"FDX": "FedEx Express",
	"FFT": "Frontier Airlines",
	"GTI": "Atlas Air",
	"HAL": "Hawaiian Airlines",
	"JBU": "JetBlue Airways",
	"KAL": "Korean Air",
	"KLM": "KLM Royal Dutch Airlines",
	"NKS": "Spirit Airlines",
	"QXE": "Horizon Air",
	"SKW": "SkyWest Airlines",
	"SWA": "Southwest Airlines",
	"UAL": "United Airlines",
	"UPS": "UPS Airlines",
	"VIR": "Virgin Atlantic",
	"WJA": "WestJet",
}

// airlinesIATA maps 2-letter IATA codes to airline names, used as a
// fallback when the callsign does not carry an ICAO prefix.
var airlinesIATA = map[string]string{
	"AA": "American Airlines",
	"AC": "Air Canada",
	"AF": "Air France",
	"AS": "Alaska Airlines",
	"B6": "JetBlue Airways",
	"BA": "British Airways",
	"DL": "Delta Air Lines",
	"F9": "Frontier Airlines",
	"HA": "Hawaiian Airlines",
	"KE": "Korean Air",
	"KL": "KLM Royal Dutch Airlines",
	"LH": "Lufthansa",
	"NK": "Spirit Airlines",
	"OO": "SkyWest Airlines",
	"QX": "Horizon Air",
	"UA": "United Airlines",
	"WN": "Southwest Airlines",
	"WS": "WestJet",
}

// icaoRegionPrefixes is the set of leading letters a 4-letter ICAO airport
// code can start with. Tokens outside this set are never airport codes.
var icaoRegionPrefixes = map[byte]bool{
	'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true,
	'G': true, 'H': true, 'K': true, 'L': true, 'M': true, 'N': true,
	'O': true, 'P': true, 'R': true, 'S': true, 'T': true, 'U': true,
	'V': true, 'W': true, 'Y': true, 'Z': true,
}

// airportStopwords are common 4-letter English words in message bodies
// that would otherwise pass the region-prefix filter.
var airportStopwords = map[string]bool{
	"ABLE": true, "ALSO": true, "AREA": true, "BACK": true, "BASE": true,
	"CALL": true, "CODE": true, "CREW": true, "DATA": true, "DOOR": true,
	"DOWN": true, "EACH": true, "FREE": true, "FROM": true, "FUEL": true,
	"GATE": true, "GOOD": true, "HAVE": true, "HOLD": true, "INFO": true,
	"LAND": true, "LAST": true, "LEFT": true, "LINE": true, "MAIN": true,
	"MORE": true, "NEED": true, "NEXT": true, "ONLY": true, "OPEN": true,
	"OVER": true, "PAGE": true, "PLAN": true, "SEND": true, "SOON": true,
	"TEMP": true, "TEXT": true, "THAT": true, "THEN": true, "THIS": true,
	"TIME": true, "TURB": true, "WHEN": true, "WILL": true, "WIND": true,
	"WITH": true, "ZERO": true,
}

var (
	// posHemisphereRe matches hemisphere-first coordinates in either
	// decimal degrees ("N47.329 W122.183") or DDMM.m ("N4719.7 W12211.0").
	posHemisphereRe = regexp.MustCompile(`([NS])\s?(\d{1,4}(?:\.\d+)?)[,\s/]*([EW])\s?(\d{1,5}(?:\.\d+)?)`)

	// airportTokenRe matches candidate 4-letter uppercase tokens.
	airportTokenRe = regexp.MustCompile(`\b[A-Z]{4}\b`)
)

// Enrich populates DecodedFields on a normalized message: airline from the
// callsign prefix, label name, and label-family text analysis (OOOI,
// position reports, H1 FMS traffic, weather, airport codes). Enrichment is
// pure; it never fails and never mutates the normalized fields.
func Enrich(msg *Message) {
	fields := make(map[string]interface{})

	if airline := airlineFromCallsign(msg.Callsign); airline != "" {
		fields["airline"] = airline
	}
	if name := LabelName(msg.Label); name != "" {
		fields["label_name"] = name
	}

	if event, ok := oooiEvents[msg.Label]; ok {
		fields["event_type"] = event
	} else if msg.Label == "80" {
		// Label 80 downlinks carry OOOI phases in the body.
		if event := oooiFromText(msg.Text); event != "" {
			fields["event_type"] = event
		}
	}

	switch {
	case msg.Label == "H1":
		enrichH1(msg.Text, fields)
	case weatherLabels[msg.Label]:
		fields["msg_type"] = "weather"
		fields["weather_type"] = weatherType(msg.Text)
	}

	// Position reports appear across many label families; extract
	// opportunistically whenever the body looks like it carries one.
	if lat, lon, ok := extractPosition(msg.Text); ok {
		fields["latitude"] = lat
		fields["longitude"] = lon
	}

	if airports := extractAirports(msg.Text); len(airports) > 0 {
		fields["airports"] = airports
	}

	if len(fields) > 0 {
		msg.DecodedFields = fields
	}
}

// airlineFromCallsign resolves the operating airline from a callsign
// prefix: 3-letter ICAO designator first, 2-letter IATA as fallback.
func airlineFromCallsign(callsign string) string {
	cs := strings.ToUpper(strings.TrimSpace(callsign))
	if len(cs) >= 3 {
		if name, ok := airlinesICAO[cs[:3]]; ok {
			return name
		}
	}
	if len(cs) >= 2 {
		if name, ok := airlinesIATA[cs[:2]]; ok {
			return name
		}
	}
	return ""
}

// oooiFromText scans a message body for an OOOI phase keyword.
func oooiFromText(text string) string {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "OUT"):
		return "out"
	case strings.Contains(upper, "OFF"):
		return "off"
	case strings.Contains(upper, "ON"):
		return "on"
	case strings.Contains(upper, "IN"):
		return "in"
	}
	return ""
}

// enrichH1 classifies H1 (FMS) traffic: FPN flight plans and POS position
// reports are the two shapes worth tagging.
func enrichH1(text string, fields map[string]interface{}) {
	switch {
	case strings.HasPrefix(text, "FPN") || strings.Contains(text, "/FPN"):
		fields["msg_type"] = "flight_plan"
	case strings.Contains(text, "POS"):
		fields["msg_type"] = "position_report"
	}
}

// weatherType classifies a weather message body by product keyword.
func weatherType(text string) string {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "METAR"):
		return "metar"
	case strings.Contains(upper, "TAF"):
		return "taf"
	case strings.Contains(upper, "ATIS"):
		return "atis"
	}
	return "weather"
}

// extractPosition pulls a latitude/longitude pair out of free text.
// Handles hemisphere-prefixed decimal degrees and DDMM.m minute formats;
// values with a degree part above the axis bound are treated as DDMM.m.
func extractPosition(text string) (lat, lon float64, ok bool) {
	m := posHemisphereRe.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}

	latVal, err1 := strconv.ParseFloat(m[2], 64)
	lonVal, err2 := strconv.ParseFloat(m[4], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}

	lat = coordinateDegrees(latVal, 90)
	lon = coordinateDegrees(lonVal, 180)
	if lat < 0 || lon < 0 {
		return 0, 0, false
	}

	if m[1] == "S" {
		lat = -lat
	}
	if m[3] == "W" {
		lon = -lon
	}
	return lat, lon, true
}

// coordinateDegrees converts a raw coordinate value to decimal degrees.
// Values beyond the axis bound are interpreted as DDMM.m (degrees*100 +
// minutes). Returns -1 when the value cannot be a coordinate at all.
func coordinateDegrees(v, bound float64) float64 {
	if v <= bound {
		return v
	}
	deg := float64(int(v / 100))
	min := v - deg*100
	if deg > bound || min >= 60 {
		return -1
	}
	return deg + min/60
}

// extractAirports pulls candidate ICAO airport codes from free text,
// filtered by region prefix and the English stopword list.
func extractAirports(text string) []string {
	tokens := airportTokenRe.FindAllString(text, -1)
	if len(tokens) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var airports []string
	for _, tok := range tokens {
		if !icaoRegionPrefixes[tok[0]] || airportStopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		airports = append(airports, tok)
	}
	return airports
}
