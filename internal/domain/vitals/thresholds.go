package vitals

import (
	"fmt"
	"strings"
)

// Severity drives the colour a display uses for a vital value.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityUnknown  Severity = "unknown"
)

// band is an inclusive range. Values inside normal are normal, values inside
// warning (but outside normal) are warnings, anything else is critical.
type band struct{ lo, hi float64 }

func (b band) contains(x float64) bool { return x >= b.lo && x <= b.hi }

type threshold struct {
	normal  band
	warning band
}

// Adult reference ranges.
var thresholds = map[Column]threshold{
	ColHeartRate:       {normal: band{60, 100}, warning: band{50, 120}},
	ColRespiratoryRate: {normal: band{12, 20}, warning: band{8, 24}},
	ColTemperature:     {normal: band{36.0, 37.5}, warning: band{35.0, 38.9}},
	ColSpO2:            {normal: band{95, 100}, warning: band{90, 100}},
	ColEtCO2:           {normal: band{35, 45}, warning: band{30, 50}},
}

// Classify returns the display severity of a raw value. Blood pressure is
// opaque and never parsed. Columns without reference ranges are unknown. A
// parse failure yields SeverityUnknown together with the parse error, which
// callers log and otherwise ignore.
func Classify(col Column, raw string) (Severity, error) {
	if col == ColBloodPressure {
		return SeverityUnknown, nil
	}
	th, ok := thresholds[col]
	if !ok {
		return SeverityUnknown, nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SeverityUnknown, nil
	}
	x, err := ParseNumber(raw)
	if err != nil {
		return SeverityUnknown, fmt.Errorf("parse %s value %q: %w", col, raw, err)
	}
	switch {
	case th.normal.contains(x):
		return SeverityNormal, nil
	case th.warning.contains(x):
		return SeverityWarning, nil
	default:
		return SeverityCritical, nil
	}
}
