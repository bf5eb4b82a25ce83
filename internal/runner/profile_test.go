package runner

import (
	"testing"
	"time"
)

func TestRateProfileRamp(t *testing.T) {
	p := newRateProfile([]LoadPattern{{
		Type:     LoadPatternTypeRamp,
		FromRPS:  10,
		ToRPS:    110,
		Duration: 10 * time.Second,
	}})
	if p == nil {
		t.Fatal("expected profile")
	}
	if p.length != 10*time.Second {
		t.Fatalf("length = %s", p.length)
	}
	got, ok := p.at(5 * time.Second)
	if !ok || got != 60 {
		t.Fatalf("at(5s) = %f, %v; want 60, true", got, ok)
	}
}

func TestRateProfileStepsThenSpike(t *testing.T) {
	p := newRateProfile([]LoadPattern{
		{
			Type: LoadPatternTypeStep,
			Steps: []LoadStep{
				{RPS: 50, Duration: time.Second},
				{RPS: 0, Duration: 0},
				{RPS: 100, Duration: 2 * time.Second},
			},
		},
		{Type: LoadPatternTypeSpike, RPS: 500, Duration: 500 * time.Millisecond},
	})
	if p == nil {
		t.Fatal("expected profile")
	}
	if len(p.stages) != 3 {
		t.Fatalf("stages = %d, want 3 (zero-length step skipped)", len(p.stages))
	}
	if p.peak != 500 {
		t.Fatalf("peak = %f", p.peak)
	}
	tests := []struct {
		at   time.Duration
		want float64
	}{
		{0, 50},
		{1500 * time.Millisecond, 100},
		{3200 * time.Millisecond, 500},
	}
	for _, tt := range tests {
		got, ok := p.at(tt.at)
		if !ok || got != tt.want {
			t.Errorf("at(%s) = %f, %v; want %f", tt.at, got, ok, tt.want)
		}
	}
}

func TestRateProfileEnds(t *testing.T) {
	p := newRateProfile([]LoadPattern{{Type: LoadPatternTypeSpike, RPS: 100, Duration: time.Second}})
	if _, ok := p.at(time.Second); ok {
		t.Fatal("expected no rate once the profile is over")
	}
	if newRateProfile(nil) != nil {
		t.Fatal("empty patterns should give no profile")
	}
	var none *rateProfile
	if _, ok := none.at(0); ok {
		t.Fatal("nil profile has no rate")
	}
}
