package measurement

import (
	"errors"
	"testing"
	"time"
)

func TestUnitUnmeasured(t *testing.T) {
	u := New(7)
	if u.Iteration() != 7 {
		t.Fatalf("Iteration() = %d", u.Iteration())
	}
	if u.LastTime() != Unmeasured {
		t.Fatalf("LastTime() = %v, want %v", u.LastTime(), Unmeasured)
	}
	if u.TotalTime() != 0 {
		t.Fatalf("TotalTime() = %v, want 0", u.TotalTime())
	}
	if u.IsMeasured() {
		t.Fatal("unit should not be measured")
	}
	if !u.StartedAfter(time.Now()) {
		t.Fatal("unstarted units are never stragglers")
	}
	u.StopMeasure()
	if u.IsMeasured() {
		t.Fatal("stop without start must not record an interval")
	}
}

func TestUnitMultipleIntervals(t *testing.T) {
	u := New(0)
	u.Record(10 * time.Millisecond)
	u.Record(30 * time.Millisecond)

	if got := u.TotalTime(); got != 40 {
		t.Fatalf("TotalTime() = %v, want 40", got)
	}
	if got := u.LastTime(); got != 30 {
		t.Fatalf("LastTime() = %v, want 30", got)
	}
}

func TestUnitStartStop(t *testing.T) {
	before := time.Now()
	u := New(0)
	u.StartMeasure()
	time.Sleep(2 * time.Millisecond)
	u.StopMeasure()

	if !u.IsMeasured() || u.LastTime() <= 0 {
		t.Fatalf("expected a positive measurement, got %v", u.LastTime())
	}
	if !u.StartedAfter(before) {
		t.Fatal("unit started after the reference time")
	}
	if u.StartedAfter(time.Now().Add(time.Hour)) {
		t.Fatal("unit did not start after a future reference")
	}
}

func TestUnitResults(t *testing.T) {
	u := New(0)
	u.AppendResult("avg", 1.0)
	u.AppendResult("avg", 2.0)
	if v, _ := u.Result("avg"); v != 2.0 {
		t.Fatalf("last write should win, got %v", v)
	}

	copied := u.Results()
	copied["avg"] = 99.0
	if v, _ := u.Result("avg"); v != 2.0 {
		t.Fatal("Results() must return a copy")
	}

	u.SetFailure(errors.New("boom"))
	if v, _ := u.Result(FailuresResult); v != int64(1) {
		t.Fatalf("Failures = %v", v)
	}
	if v, _ := u.Result(ErrorResult); v != "boom" {
		t.Fatalf("Error = %v", v)
	}
	u.SetFailure(nil)
	if v, _ := u.Result(FailuresResult); v != int64(0) {
		t.Fatalf("Failures = %v", v)
	}
	if _, ok := u.Result(ErrorResult); ok {
		t.Fatal("Error should be cleared on success")
	}
}

func TestBuilderAndString(t *testing.T) {
	m := NewBuilder(10, 61*time.Second, 99).
		SetDefault(Quantity{Value: 10.5, Unit: "ms"}).
		Set("Average", 49.5).
		Set("it", "100").
		Set("tmp", 1).
		Remove("tmp").
		Build()

	if m.Percentage() != 10 || m.Iteration() != 99 || m.Time() != 61*time.Second {
		t.Fatalf("unexpected header fields: %+v", m)
	}
	want := "[0:01:01][100 iterations][10%] [Result => 10.5 ms] [Average => 49.5] [it => 100]"
	if got := m.String(); got != want {
		t.Fatalf("String() =\n%q\nwant\n%q", got, want)
	}
	if keys := m.Keys(); len(keys) != 3 || keys[0] != DefaultResult {
		t.Fatalf("Keys() = %v", keys)
	}
	if f, ok := m.Float(DefaultResult); !ok || f != 10.5 {
		t.Fatalf("Float(Result) = %v, %v", f, ok)
	}
	if _, ok := m.Float("it"); ok {
		t.Fatal("string result is not numeric")
	}
}

func TestMeasurementJSON(t *testing.T) {
	m := NewBuilder(50, 1500*time.Millisecond, 4).
		SetDefault(Quantity{Value: 2, Unit: "ms"}).
		Build()
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Percentage int64              `json:"percentage"`
		Time       int64              `json:"time"`
		Iteration  int64              `json:"iteration"`
		Results    map[string]float64 `json:"results"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Percentage != 50 || decoded.Time != 1500 || decoded.Iteration != 4 || decoded.Results[DefaultResult] != 2 {
		t.Fatalf("unexpected json: %s", raw)
	}
}

func TestFormatClock(t *testing.T) {
	tests := map[time.Duration]string{
		0:                          "0:00:00",
		59 * time.Second:           "0:00:59",
		time.Hour + 2*time.Minute:  "1:02:00",
		25*time.Hour + time.Second: "25:00:01",
		1500 * time.Millisecond:    "0:00:01",
	}
	for in, want := range tests {
		if got := FormatClock(in); got != want {
			t.Errorf("FormatClock(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestToFloat(t *testing.T) {
	cases := []any{int(3), int32(3), int64(3), uint8(3), float32(3), 3.0, Quantity{Value: 3}, 3 * time.Millisecond}
	for _, c := range cases {
		if v, ok := ToFloat(c); !ok || v != 3 {
			t.Errorf("ToFloat(%T) = %v, %v", c, v, ok)
		}
	}
	if _, ok := ToFloat("3"); ok {
		t.Error("strings are not numeric")
	}
}
