package vitals

import (
	"errors"
	"math"
	"math/rand"
	"regexp"
	"testing"

	v "github.com/go-ozzo/ozzo-validation/v4"
)

func ptrInt(i int) *int            { return &i }
func ptrFloat(f float64) *float64 { return &f }

func TestValidate_EmptySet(t *testing.T) {
	if err := (ParameterSet{}).Validate(); err != nil {
		t.Fatalf("empty set should be valid: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		set   ParameterSet
		field string
	}{
		{"negative heart rate", ParameterSet{HeartRate: ptrInt(-1)}, "heart_rate"},
		{"negative respiratory rate", ParameterSet{RespiratoryRate: ptrInt(-4)}, "respiratory_rate"},
		{"negative o2 flow", ParameterSet{O2Flow: ptrFloat(-0.5)}, "o2_flow"},
		{"negative etco2", ParameterSet{EtCO2: ptrInt(-1)}, "etco2"},
		{"spo2 above 100", ParameterSet{SpO2: ptrInt(101)}, "spo2"},
		{"spo2 negative", ParameterSet{SpO2: ptrInt(-1)}, "spo2"},
		{"fio2 above 100", ParameterSet{FiO2: ptrInt(150)}, "fio2"},
		{"malformed blood pressure", ParameterSet{BloodPressure: "120-80"}, "blood_pressure"},
		{"blood pressure text", ParameterSet{BloodPressure: "high"}, "blood_pressure"},
		{"blood pressure missing diastolic", ParameterSet{BloodPressure: "120/"}, "blood_pressure"},
		{"temperature NaN", ParameterSet{Temperature: ptrFloat(math.NaN())}, "temperature"},
		{"temperature infinite", ParameterSet{Temperature: ptrFloat(math.Inf(-1))}, "temperature"},
		{"o2 flow infinite", ParameterSet{O2Flow: ptrFloat(math.Inf(1))}, "o2_flow"},
		{"o2 flow NaN", ParameterSet{O2Flow: ptrFloat(math.NaN())}, "o2_flow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.set.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var errs v.Errors
			if !errors.As(err, &errs) {
				t.Fatalf("expected validation.Errors, got %T", err)
			}
			if _, ok := errs[tt.field]; !ok {
				t.Errorf("expected error on %q, got %v", tt.field, errs)
			}
		})
	}
}

func TestValidate_Accepts(t *testing.T) {
	sets := []ParameterSet{
		{BloodPressure: "120/80"},
		{BloodPressure: " 90 / 60 "},
		{HeartRate: ptrInt(0), RespiratoryRate: ptrInt(0), EtCO2: ptrInt(0), O2Flow: ptrFloat(0)},
		{SpO2: ptrInt(0), FiO2: ptrInt(100)},
		{SpO2: ptrInt(100), FiO2: ptrInt(21), Temperature: ptrFloat(-1)},
	}
	for i, s := range sets {
		if err := s.Validate(); err != nil {
			t.Errorf("set %d should be valid: %v", i, err)
		}
	}
}

// Validate rejects exactly when one of the documented conditions holds.
func TestValidate_MatchesPredicate(t *testing.T) {
	bpRe := regexp.MustCompile(`^\s*\d+\s*/\s*\d+\s*$`)
	bps := []string{"", "120/80", "80 / 40", "abc", "120/", "/80", "120-80", "1/2/3"}
	rng := rand.New(rand.NewSource(7))
	pick := func(lo, hi int) *int {
		if rng.Intn(5) == 0 {
			return nil
		}
		n := lo + rng.Intn(hi-lo+1)
		return &n
	}
	pickF := func() *float64 {
		if rng.Intn(5) == 0 {
			return nil
		}
		f := rng.Float64()*20 - 5
		return &f
	}
	neg := func(p *int) bool { return p != nil && *p < 0 }
	negF := func(p *float64) bool { return p != nil && *p < 0 }
	outPct := func(p *int) bool { return p != nil && (*p < 0 || *p > 100) }

	for i := 0; i < 2000; i++ {
		s := ParameterSet{
			BloodPressure:   bps[rng.Intn(len(bps))],
			HeartRate:       pick(-10, 200),
			RespiratoryRate: pick(-10, 60),
			Temperature:     pickF(),
			SpO2:            pick(-10, 120),
			FiO2:            pick(-10, 120),
			O2Flow:          pickF(),
			EtCO2:           pick(-10, 80),
		}
		want := neg(s.HeartRate) || neg(s.RespiratoryRate) || negF(s.O2Flow) || neg(s.EtCO2) ||
			outPct(s.SpO2) || outPct(s.FiO2) ||
			(s.BloodPressure != "" && !bpRe.MatchString(s.BloodPressure))
		got := s.Validate() != nil
		if got != want {
			t.Fatalf("iteration %d: Validate rejected=%v, want %v for %+v", i, got, want, s)
		}
	}
}

func TestNormalize_RoundsTemperature(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{36.47, 36.5},
		{36.44, 36.4},
		{37.0, 37.0},
		{38.25, 38.3},
	}
	for _, tt := range tests {
		s := ParameterSet{Temperature: ptrFloat(tt.in)}
		s.Normalize()
		if *s.Temperature != tt.want {
			t.Errorf("Normalize(%v) = %v, want %v", tt.in, *s.Temperature, tt.want)
		}
	}

	var empty ParameterSet
	empty.Normalize()
	if empty.Temperature != nil {
		t.Error("expected nil temperature to stay nil")
	}
}

func TestGetSet_RoundTrip(t *testing.T) {
	var s ParameterSet
	s.Set(ColHeartRate, 90)
	s.Set(ColTemperature, 36.6)
	s.Set(ColBloodPressure, "110/70")

	if got := s.Get(ColHeartRate); got != 90 {
		t.Errorf("heart rate = %v", got)
	}
	if got := s.Get(ColTemperature); got != 36.6 {
		t.Errorf("temperature = %v", got)
	}
	if got := s.Get(ColBloodPressure); got != "110/70" {
		t.Errorf("blood pressure = %v", got)
	}
	if got := s.Get(ColSpO2); got != nil {
		t.Errorf("expected nil spo2, got %v", got)
	}

	s.Set(ColHeartRate, nil)
	if s.HeartRate != nil {
		t.Error("expected heart rate cleared")
	}
}

func TestClone_SharesNoPointers(t *testing.T) {
	p := ParameterSet{BloodPressure: "120/80", HeartRate: ptrInt(80), Temperature: ptrFloat(36.6), O2Flow: ptrFloat(2)}
	c := p.Clone()
	*c.HeartRate = 1
	*c.Temperature = 1
	*c.O2Flow = 1
	if *p.HeartRate != 80 || *p.Temperature != 36.6 || *p.O2Flow != 2 {
		t.Errorf("clone mutation leaked into original: %+v", p)
	}
	if c.BloodPressure != "120/80" || c.SpO2 != nil {
		t.Errorf("unexpected clone %+v", c)
	}
}
