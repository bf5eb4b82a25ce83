package destination

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/properties"
	"github.com/torosent/crankreport/internal/reporter"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonLine struct {
	Run        string         `json:"run,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Time       int64          `json:"time"`
	Iteration  int64          `json:"iteration"`
	Percentage int64          `json:"percentage"`
	Results    map[string]any `json:"results"`
}

// JSONL appends one JSON document per measurement. A path of "-" writes to
// standard output.
type JSONL struct {
	name  string
	path  string
	runID string
	out   io.Writer
	now   func() time.Time

	mu   sync.Mutex
	file *os.File
	enc  *jsoniter.Encoder
}

func NewJSONL(name, path, runID string, stdout io.Writer) *JSONL {
	return &JSONL{name: name, path: path, runID: runID, out: stdout, now: time.Now}
}

func newJSONLFromProperties(name string, p properties.Properties, env Env) (reporter.Destination, error) {
	return NewJSONL(name, p.String("path", "-"), env.RunID, env.stdout()), nil
}

func (d *JSONL) Name() string { return d.name }

func (d *JSONL) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enc != nil {
		return nil
	}
	w := d.out
	if d.path != "-" {
		f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open jsonl file: %w", err)
		}
		d.file, w = f, f
	}
	d.enc = json.NewEncoder(w)
	return nil
}

func (d *JSONL) Report(m *measurement.Measurement) error {
	line := jsonLine{
		Run:        d.runID,
		Timestamp:  d.now().UTC(),
		Time:       m.Time().Milliseconds(),
		Iteration:  m.Iteration(),
		Percentage: m.Percentage(),
		Results:    m.Results(),
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enc == nil {
		return fmt.Errorf("jsonl destination %s is not open", d.name)
	}
	return d.enc.Encode(line)
}

func (d *JSONL) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enc = nil
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
