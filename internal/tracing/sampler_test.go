package tracing

import (
	"strings"
	"testing"
)

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate    float64
		want    string
		wantErr bool
	}{
		{0, "AlwaysOffSampler", false},
		{1, "AlwaysOnSampler", false},
		{0.25, "TraceIDRatioBased{0.25}", false},
		{-0.1, "", true},
		{1.01, "", true},
	}
	for _, tt := range tests {
		s, err := newSampler(tt.rate)
		if tt.wantErr {
			if err == nil {
				t.Errorf("newSampler(%g) should fail", tt.rate)
			}
			continue
		}
		if err != nil {
			t.Fatalf("newSampler(%g): %v", tt.rate, err)
		}
		if !strings.HasPrefix(s.Description(), tt.want) {
			t.Errorf("newSampler(%g) = %s, want %s", tt.rate, s.Description(), tt.want)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "b", "c"); got != "b" {
		t.Errorf("firstNonEmpty = %q, want b", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Errorf("firstNonEmpty = %q, want empty", got)
	}
}
