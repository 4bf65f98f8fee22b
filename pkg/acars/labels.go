package acars

// labelNames maps common ACARS message labels to human-readable names.
// The dictionary is not exhaustive; unknown labels simply stay unnamed.
var labelNames = map[string]string{
	"00": "Emergency Situation",
	"10": "Out Report (OOOI)",
	"11": "Off Report (OOOI)",
	"12": "On Report (OOOI)",
	"13": "In Report (OOOI)",
	"15": "Position Report",
	"16": "Position Report (navigation)",
	"17": "ETA Report",
	"20": "Oil Status",
	"21": "Position/Fuel Report",
	"22": "Position Report",
	"2S": "Weather Request Response",
	"30": "Free Text (crew)",
	"32": "Cabin Message",
	"33": "Fuel Status",
	"34": "Maintenance Message",
	"36": "Free Text (flight deck)",
	"37": "Departure Delay",
	"3F": "Dedicated Transceiver Advisory",
	"44": "Position Report (waypoint)",
	"45": "Flight Plan Data",
	"4A": "Dispatch Message",
	"51": "Ground GMT Request",
	"52": "Ground UTC Update",
	"54": "Voice Go-Ahead",
	"57": "Alternate Aircrew Message",
	"5U": "Weather Request",
	"5Z": "Airline Designated Downlink",
	"7A": "Engine Performance Report",
	"80": "Aircraft Addressed Downlink (OOOI)",
	"83": "Airline Defined Message",
	"85": "Weather Observation Report",
	"88": "Out of Service Report",
	"A1": "Deliver Oceanic Clearance",
	"A6": "ATC Request Response",
	"B1": "Request Oceanic Clearance",
	"B6": "ATC Request",
	"B9": "ATS Facilities Notification",
	"C1": "Uplink To Cockpit Printer",
	"H1": "Message To/From Terminal (FMS)",
	"H2": "Meteorological Report",
	"Q0": "ACARS Link Test",
	"Q1": "Departure/Arrival Report",
	"Q2": "ETA Report",
	"QA": "Out/Fuel Report",
	"QB": "Off Report",
	"QC": "On Report",
	"QD": "In/Fuel Report",
	"QE": "Out/Fuel Destination Report",
	"QF": "Off/Destination Report",
	"SA": "Media Advisory",
	"SQ": "Squitter Message",
	"_d": "No Message (channel test)",
}

// oooiEvents maps OOOI labels to their flight-phase event type.
var oooiEvents = map[string]string{
	"10": "out",
	"11": "off",
	"12": "on",
	"13": "in",
}

// weatherLabels is the set of labels whose body carries weather products.
var weatherLabels = map[string]bool{
	"QA": true, "QB": true, "QC": true, "QD": true, "QE": true, "QF": true,
	"Q0": true, "Q1": true, "Q2": true,
}

// LabelName returns the human-readable name of an ACARS label, or "" when
// the label is not in the dictionary.
func LabelName(label string) string {
	return labelNames[label]
}
