package dynamo

import (
	"math"
	"testing"
)

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		state State
		valid bool
	}{
		{"empty", State{}, true},
		{"normal", State{1.0, 2.0, 3.0}, true},
		{"trace", State{1e-40, 1e5}, true},
		{"with NaN", State{1.0, math.NaN()}, false},
		{"with +Inf", State{1.0, math.Inf(1)}, false},
		{"with -Inf", State{1.0, math.Inf(-1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestState_SumMin(t *testing.T) {
	s := State{0.4, 0.4, 0.1, 0.1}
	if got := s.Sum(); math.Abs(got-1.0) > 1e-15 {
		t.Errorf("Sum() = %v, want 1", got)
	}
	if got := s.Min(); got != 0.1 {
		t.Errorf("Min() = %v, want 0.1", got)
	}
	if got := (State{}).Min(); got != 0 {
		t.Errorf("Min() of empty = %v, want 0", got)
	}
}

func TestState_ClampFloor(t *testing.T) {
	s := State{1.0, -1e-30, 1e-45, 1e-40}
	n := s.ClampFloor(1e-40)
	if n != 2 {
		t.Errorf("ClampFloor touched %d entries, want 2", n)
	}
	for i, v := range s {
		if v < 1e-40 {
			t.Errorf("s[%d] = %e below floor", i, v)
		}
	}
	if s[0] != 1.0 {
		t.Errorf("ClampFloor changed an entry above the floor: %v", s[0])
	}
}

func TestParams_GetSet(t *testing.T) {
	p := DefaultParams()

	p.Set("tgas", 42)
	if p.Tgas != 42 {
		t.Errorf("Set(tgas) did not write the field, got %v", p.Tgas)
	}
	if v, ok := p.Get("tgas"); !ok || v != 42 {
		t.Errorf("Get(tgas) = %v, %v", v, ok)
	}

	p.Set("sticking_h", 0.3)
	if v, ok := p.Get("sticking_h"); !ok || v != 0.3 {
		t.Errorf("Get(sticking_h) = %v, %v", v, ok)
	}
	if _, ok := p.Get("missing"); ok {
		t.Error("Get(missing) reported ok")
	}
}

func TestParams_CloneIndependentExtra(t *testing.T) {
	p := DefaultParams()
	p.Set("eff", 1)
	c := p.Clone()
	c.Set("eff", 2)
	if p.Extra["eff"] != 1 {
		t.Error("Clone shares the Extra map")
	}
}
