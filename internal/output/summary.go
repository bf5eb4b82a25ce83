package output

import (
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/reporter"
	"github.com/torosent/crankreport/internal/runinfo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Summary is the end-of-run view of every reporter's accumulated results.
type Summary struct {
	RunID      string                              `json:"runId"`
	Duration   string                              `json:"duration"`
	RunTime    time.Duration                       `json:"runTimeNs"`
	Iterations int64                               `json:"iterations"`
	Reporters  []string                            `json:"-"`
	Results    map[string]*measurement.Measurement `json:"reporters"`
}

// BuildSummary snapshots each reporter at its last counted iteration.
// Reporters that cannot produce a snapshot are left out.
func BuildSummary(ri *runinfo.RunInfo, reporters []*reporter.Reporter) Summary {
	s := Summary{
		RunID:      ri.ID().String(),
		Duration:   ri.Duration().String(),
		RunTime:    ri.RunTime(),
		Iterations: ri.Iteration() + 1,
		Results:    make(map[string]*measurement.Measurement, len(reporters)),
	}
	for _, rep := range reporters {
		m, err := rep.Snapshot(rep.Iteration())
		if err != nil {
			continue
		}
		s.Reporters = append(s.Reporters, rep.Name())
		s.Results[rep.Name()] = m
	}
	return s
}

// PrintSummary outputs a human-readable summary report.
func PrintSummary(w io.Writer, s Summary) {
	fmt.Fprintln(w, "\n--- Run Results ---")
	fmt.Fprintf(w, "Run:               %s\n", s.RunID)
	fmt.Fprintf(w, "Planned:           %s\n", s.Duration)
	fmt.Fprintf(w, "Run Time:          %s\n", measurement.FormatClock(s.RunTime))
	fmt.Fprintf(w, "Iterations:        %d\n", s.Iterations)
	for _, name := range s.Reporters {
		m := s.Results[name]
		fmt.Fprintf(w, "\n%s:\n", name)
		for _, k := range m.Keys() {
			v, _ := m.Get(k)
			fmt.Fprintf(w, "  %-17s%v\n", k+":", v)
		}
	}
}

// PrintJSONSummary outputs a JSON-formatted summary.
func PrintJSONSummary(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
