package destination

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/properties"
	"github.com/torosent/crankreport/internal/reporter"
)

// AppendStrategy decides what happens when the CSV file already exists.
type AppendStrategy string

const (
	// AppendRename writes to the first free name.N.csv next to the file.
	AppendRename AppendStrategy = "rename"
	// AppendOverwrite truncates the existing file.
	AppendOverwrite AppendStrategy = "overwrite"
	// AppendForce appends to the existing file without a new header.
	AppendForce AppendStrategy = "append"
)

// ErrFileLocked is returned by Open when another process writes the file.
var ErrFileLocked = errors.New("csv file is locked by another writer")

type CSVConfig struct {
	Path           string
	Delimiter      rune
	AppendStrategy AppendStrategy
	SkipHeader     bool
	CRLF           bool
}

// CSV writes one row per measurement. Columns are fixed by the first
// measurement: Time, Iterations, Result (when present), then every other
// result in publication order.
type CSV struct {
	name   string
	cfg    CSVConfig
	logger *zap.Logger

	mu         sync.Mutex
	path       string
	file       *os.File
	w          *csv.Writer
	lock       *flock.Flock
	columns    []string
	withDef    bool
	skipHeader bool
}

func NewCSV(name string, cfg CSVConfig, logger *zap.Logger) (*CSV, error) {
	if cfg.Path == "" {
		return nil, errors.New("csv path is required")
	}
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ';'
	}
	switch cfg.AppendStrategy {
	case "":
		cfg.AppendStrategy = AppendRename
	case AppendRename, AppendOverwrite, AppendForce:
	default:
		return nil, fmt.Errorf("unknown append strategy %q", cfg.AppendStrategy)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSV{name: name, cfg: cfg, logger: logger}, nil
}

func newCSVFromProperties(name string, p properties.Properties, env Env) (reporter.Destination, error) {
	cfg := CSVConfig{
		Path:           p.String("path", fmt.Sprintf("crankreport-results-%d.csv", time.Now().Unix())),
		AppendStrategy: AppendStrategy(strings.ToLower(p.String("appendStrategy", string(AppendRename)))),
	}
	if delim := p.String("delimiter", ";"); delim != "" {
		r, size := utf8.DecodeRuneInString(delim)
		if size != len(delim) {
			return nil, fmt.Errorf("property delimiter: must be a single character, got %q", delim)
		}
		cfg.Delimiter = r
	}
	var err error
	if cfg.SkipHeader, err = p.Bool("skipHeader", false); err != nil {
		return nil, err
	}
	if cfg.CRLF, err = p.Bool("crlf", false); err != nil {
		return nil, err
	}
	d, err := NewCSV(name, cfg, env.logger())
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *CSV) Name() string { return d.name }

// Path returns the file actually written, which differs from the configured
// path under the rename strategy. It is empty before Open.
func (d *CSV) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

func (d *CSV) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		return nil
	}

	path := d.cfg.Path
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if _, err := os.Stat(path); err == nil {
		switch d.cfg.AppendStrategy {
		case AppendRename:
			path = freeName(path)
		case AppendOverwrite:
			flags |= os.O_TRUNC
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create csv directory: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrFileLocked, path)
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return fmt.Errorf("open csv file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		_ = lock.Unlock()
		return err
	}

	d.path, d.file, d.lock = path, f, lock
	d.w = csv.NewWriter(f)
	d.w.Comma = d.cfg.Delimiter
	d.w.UseCRLF = d.cfg.CRLF
	d.columns = nil
	// An existing, non-empty file already carries its header.
	d.skipHeader = d.cfg.SkipHeader || info.Size() > 0
	d.logger.Debug("csv destination opened", zap.String("destination", d.name), zap.String("path", path))
	return nil
}

// freeName returns base.N.ext for the smallest N that does not exist.
func freeName(path string) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := stem + "." + strconv.Itoa(i) + ext
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

func (d *CSV) Report(m *measurement.Measurement) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w == nil {
		return fmt.Errorf("csv destination %s is not open", d.name)
	}

	if d.columns == nil {
		_, d.withDef = m.Get(measurement.DefaultResult)
		d.columns = []string{}
		for _, k := range m.Keys() {
			if k != measurement.DefaultResult {
				d.columns = append(d.columns, k)
			}
		}
		if !d.skipHeader {
			header := []string{"Time", "Iterations"}
			if d.withDef {
				header = append(header, measurement.DefaultResult)
			}
			if err := d.w.Write(append(header, d.columns...)); err != nil {
				return err
			}
		}
	}

	row := []string{measurement.FormatClock(m.Time()), strconv.FormatInt(m.Iteration()+1, 10)}
	if d.withDef {
		row = append(row, formatValue(m.Default()))
	}
	for _, k := range d.columns {
		v, _ := m.Get(k)
		row = append(row, formatValue(v))
	}
	if err := d.w.Write(row); err != nil {
		return err
	}
	d.w.Flush()
	return d.w.Error()
}

func (d *CSV) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	d.w.Flush()
	errs := []error{d.w.Error(), d.file.Close(), d.lock.Unlock()}
	_ = os.Remove(d.lock.Path())
	d.file, d.w, d.lock = nil, nil, nil
	return errors.Join(errs...)
}
