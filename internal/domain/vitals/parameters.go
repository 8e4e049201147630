package vitals

import (
	"errors"
	"math"
	"regexp"

	v "github.com/go-ozzo/ozzo-validation/v4"
)

var bloodPressurePattern = regexp.MustCompile(`^\s*\d+\s*/\s*\d+\s*$`)

var errNotFinite = errors.New("must be a finite number")

// finite rejects NaN and infinite float values. Nil pointers pass.
var finite = v.By(func(value interface{}) error {
	x, isNil := v.Indirect(value)
	if isNil {
		return nil
	}
	if f, ok := x.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return errNotFinite
	}
	return nil
})

// ParameterSet holds the eight standard vital signs shared by the baseline
// state and every timeline node. A nil pointer (or an empty blood pressure)
// means the value has not been recorded.
type ParameterSet struct {
	BloodPressure   string   `db:"blood_pressure" json:"blood_pressure,omitempty"`
	HeartRate       *int     `db:"heart_rate" json:"heart_rate,omitempty"`
	RespiratoryRate *int     `db:"respiratory_rate" json:"respiratory_rate,omitempty"`
	Temperature     *float64 `db:"temperature" json:"temperature,omitempty"`
	SpO2            *int     `db:"spo2" json:"spo2,omitempty"`
	FiO2            *int     `db:"fio2" json:"fio2,omitempty"`
	O2Flow          *float64 `db:"o2_flow" json:"o2_flow,omitempty"`
	EtCO2           *int     `db:"etco2" json:"etco2,omitempty"`
}

// Validate checks the set without side effects. The returned error, when
// not nil, is a validation.Errors keyed by JSON field name.
func (p ParameterSet) Validate() error {
	return v.ValidateStruct(&p,
		v.Field(&p.BloodPressure, v.Match(bloodPressurePattern).Error("must be in the form systolic/diastolic")),
		v.Field(&p.HeartRate, v.Min(0)),
		v.Field(&p.RespiratoryRate, v.Min(0)),
		v.Field(&p.Temperature, finite),
		v.Field(&p.SpO2, v.Min(0), v.Max(100)),
		v.Field(&p.FiO2, v.Min(0), v.Max(100)),
		v.Field(&p.O2Flow, finite, v.Min(0.0)),
		v.Field(&p.EtCO2, v.Min(0)),
	)
}

// Normalize rounds the temperature to one decimal place.
func (p *ParameterSet) Normalize() {
	if p.Temperature != nil {
		t := RoundTemperature(*p.Temperature)
		p.Temperature = &t
	}
}

// RoundTemperature applies round(value*10)/10.
func RoundTemperature(t float64) float64 {
	return math.Round(t*10) / 10
}

// Clone returns a copy that shares no pointers with p.
func (p ParameterSet) Clone() ParameterSet {
	out := p
	out.HeartRate = cloneInt(p.HeartRate)
	out.RespiratoryRate = cloneInt(p.RespiratoryRate)
	out.Temperature = cloneFloat(p.Temperature)
	out.SpO2 = cloneInt(p.SpO2)
	out.FiO2 = cloneInt(p.FiO2)
	out.O2Flow = cloneFloat(p.O2Flow)
	out.EtCO2 = cloneInt(p.EtCO2)
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Get returns the typed value stored for a canonical column, or nil when the
// value is not recorded.
func (p ParameterSet) Get(col Column) interface{} {
	switch col {
	case ColBloodPressure:
		if p.BloodPressure == "" {
			return nil
		}
		return p.BloodPressure
	case ColHeartRate:
		return intVal(p.HeartRate)
	case ColRespiratoryRate:
		return intVal(p.RespiratoryRate)
	case ColTemperature:
		return floatVal(p.Temperature)
	case ColSpO2:
		return intVal(p.SpO2)
	case ColFiO2:
		return intVal(p.FiO2)
	case ColO2Flow:
		return floatVal(p.O2Flow)
	case ColEtCO2:
		return intVal(p.EtCO2)
	}
	return nil
}

// Set stores a value produced by ParseValue into the matching field. A nil
// value clears the field.
func (p *ParameterSet) Set(col Column, value interface{}) {
	switch col {
	case ColBloodPressure:
		s, _ := value.(string)
		p.BloodPressure = s
	case ColHeartRate:
		p.HeartRate = intPtr(value)
	case ColRespiratoryRate:
		p.RespiratoryRate = intPtr(value)
	case ColTemperature:
		p.Temperature = floatPtr(value)
	case ColSpO2:
		p.SpO2 = intPtr(value)
	case ColFiO2:
		p.FiO2 = intPtr(value)
	case ColO2Flow:
		p.O2Flow = floatPtr(value)
	case ColEtCO2:
		p.EtCO2 = intPtr(value)
	}
}

func intVal(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func floatVal(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(value interface{}) *int {
	i, ok := value.(int)
	if !ok {
		return nil
	}
	return &i
}

func floatPtr(value interface{}) *float64 {
	f, ok := value.(float64)
	if !ok {
		return nil
	}
	return &f
}
