package vitals

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	v "github.com/go-ozzo/ozzo-validation/v4"
)

// Column is the physical column name of a standard vital sign. The same
// column names are used by the baseline and the timeline node tables.
type Column string

const (
	ColBloodPressure   Column = "blood_pressure"
	ColHeartRate       Column = "heart_rate"
	ColRespiratoryRate Column = "respiratory_rate"
	ColTemperature     Column = "temperature"
	ColSpO2            Column = "spo2"
	ColFiO2            Column = "fio2"
	ColO2Flow          Column = "o2_flow"
	ColEtCO2           Column = "etco2"
)

// Columns lists the standard vital columns in display order.
var Columns = []Column{
	ColBloodPressure, ColHeartRate, ColRespiratoryRate, ColTemperature,
	ColSpO2, ColFiO2, ColO2Flow, ColEtCO2,
}

// Canonical labels as shown to authors.
const (
	LabelBloodPressure   = "PA"
	LabelHeartRate       = "FC"
	LabelRespiratoryRate = "RR"
	LabelTemperature     = "T"
	LabelSpO2            = "SpO2"
	LabelFiO2            = "FiO2"
	LabelO2Flow          = "LitriO2"
	LabelEtCO2           = "EtCO2"
)

var labelColumns = map[string]Column{
	LabelBloodPressure:   ColBloodPressure,
	LabelHeartRate:       ColHeartRate,
	LabelRespiratoryRate: ColRespiratoryRate,
	LabelTemperature:     ColTemperature,
	LabelSpO2:            ColSpO2,
	LabelFiO2:            ColFiO2,
	LabelO2Flow:          ColO2Flow,
	LabelEtCO2:           ColEtCO2,
}

var columnLabels = map[Column]string{}

// headerIndex serves workbook headers only. Keys are lower-cased with spaces
// removed.
var headerIndex = map[string]Column{
	"fr":          ColRespiratoryRate,
	"temp":        ColTemperature,
	"temperatura": ColTemperature,
	"spo₂":        ColSpO2,
	"fio₂":        ColFiO2,
	"litrio₂":     ColO2Flow,
	"o2flow":      ColO2Flow,
	"etco₂":       ColEtCO2,
}

func init() {
	for label, col := range labelColumns {
		columnLabels[col] = label
		headerIndex[headerKey(label)] = col
		headerIndex[headerKey(string(col))] = col
	}
}

func headerKey(label string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(label), " ", ""))
}

// Lookup resolves one of the eight canonical labels to its column. Matching
// is exact apart from surrounding spaces; any other label, "fc" or "Temp"
// included, names an additional parameter.
func Lookup(label string) (Column, bool) {
	col, ok := labelColumns[strings.TrimSpace(label)]
	return col, ok
}

// LookupHeader resolves a workbook column header. It is case-insensitive and
// also accepts column names and common aliases.
func LookupHeader(header string) (Column, bool) {
	col, ok := headerIndex[headerKey(header)]
	return col, ok
}

// Label returns the canonical label of a column.
func (c Column) Label() string {
	return columnLabels[c]
}

// IsInteger reports whether the column stores whole numbers.
func (c Column) IsInteger() bool {
	switch c {
	case ColHeartRate, ColRespiratoryRate, ColSpO2, ColFiO2, ColEtCO2:
		return true
	}
	return false
}

// ParseValue converts a raw edit into the typed value stored in col. An empty
// string yields nil (value cleared). The returned error is a validation.Errors
// keyed by the column name when the raw value violates the ParameterSet rules.
func ParseValue(col Column, raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var value interface{}
	switch {
	case col == ColBloodPressure:
		value = raw
	case col.IsInteger():
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, v.Errors{string(col): errors.New("must be an integer")}
		}
		value = i
	case col == ColTemperature || col == ColO2Flow:
		f, err := ParseNumber(raw)
		if err != nil {
			return nil, v.Errors{string(col): err}
		}
		if col == ColTemperature {
			f = RoundTemperature(f)
		}
		value = f
	default:
		return nil, fmt.Errorf("unknown vital column %q", col)
	}

	var ps ParameterSet
	ps.Set(col, value)
	if err := ps.Validate(); err != nil {
		return nil, err
	}
	return value, nil
}

// ParseNumber parses a decimal that may use a comma separator. NaN and the
// infinities are rejected.
func ParseNumber(raw string) (float64, error) {
	f, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(raw), ",", ".", 1), 64)
	if err != nil {
		return 0, errors.New("must be a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	return f, nil
}
