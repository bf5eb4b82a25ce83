package properties

import (
	"reflect"
	"testing"
	"time"
)

func TestTypedGetters(t *testing.T) {
	p := Properties{
		"windowSize": "4",
		"correction": "1.5",
		"filter":     "true",
		"period":     "1500",
		"timeout":    "2s",
		"histogram":  "1, 10,100",
		"blank":      "  ",
	}

	if v, err := p.Int("windowSize", 0); err != nil || v != 4 {
		t.Fatalf("Int = %d, %v", v, err)
	}
	if v, err := p.Float("correction", 0); err != nil || v != 1.5 {
		t.Fatalf("Float = %v, %v", v, err)
	}
	if v, err := p.Bool("filter", false); err != nil || !v {
		t.Fatalf("Bool = %v, %v", v, err)
	}
	if v, err := p.Duration("period", 0); err != nil || v != 1500*time.Millisecond {
		t.Fatalf("Duration(ms) = %v, %v", v, err)
	}
	if v, err := p.Duration("timeout", 0); err != nil || v != 2*time.Second {
		t.Fatalf("Duration = %v, %v", v, err)
	}
	if v, err := p.Floats("histogram"); err != nil || !reflect.DeepEqual(v, []float64{1, 10, 100}) {
		t.Fatalf("Floats = %v, %v", v, err)
	}
	if v := p.String("blank", "def"); v != "def" {
		t.Fatalf("String(blank) = %q", v)
	}
	if v, _ := p.Int64("missing", 7); v != 7 {
		t.Fatalf("Int64 default = %d", v)
	}
}

func TestInvalidValues(t *testing.T) {
	p := Properties{"n": "abc"}
	if _, err := p.Int("n", 1); err == nil {
		t.Fatal("expected error for non-numeric int")
	}
	if _, err := p.Bool("n", false); err == nil {
		t.Fatal("expected error for non-boolean")
	}
	if _, err := p.Duration("n", 0); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestUnknown(t *testing.T) {
	p := Properties{"a": "1", "b": "2", "c": "3"}
	got := p.Unknown("a", "c")
	if !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("Unknown = %v", got)
	}
}
