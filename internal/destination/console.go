package destination

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/properties"
	"github.com/torosent/crankreport/internal/reporter"
)

// ColorMode controls whether the console destination emits ANSI colours.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

var colorNames = map[string]color.Attribute{
	"black":   color.FgBlack,
	"red":     color.FgRed,
	"green":   color.FgGreen,
	"yellow":  color.FgYellow,
	"blue":    color.FgBlue,
	"magenta": color.FgMagenta,
	"cyan":    color.FgCyan,
	"white":   color.FgWhite,
}

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	Prefix     string
	Foreground string
	Background string
	Color      ColorMode
}

// Console prints one line per measurement.
type Console struct {
	name string
	cfg  ConsoleConfig
	w    io.Writer
	c    *color.Color

	mu sync.Mutex
}

func NewConsole(name string, w io.Writer, cfg ConsoleConfig) (*Console, error) {
	var attrs []color.Attribute
	if cfg.Foreground != "" {
		a, ok := colorNames[strings.ToLower(cfg.Foreground)]
		if !ok {
			return nil, fmt.Errorf("unknown foreground colour %q", cfg.Foreground)
		}
		attrs = append(attrs, a)
	}
	if cfg.Background != "" {
		a, ok := colorNames[strings.ToLower(cfg.Background)]
		if !ok {
			return nil, fmt.Errorf("unknown background colour %q", cfg.Background)
		}
		// Background attributes sit 10 above their foreground counterparts.
		attrs = append(attrs, a+10)
	}

	d := &Console{name: name, cfg: cfg, w: w}
	if len(attrs) > 0 {
		d.c = color.New(attrs...)
		switch cfg.Color {
		case ColorAlways:
			d.c.EnableColor()
		case ColorNever:
			d.c.DisableColor()
		default:
			if !isTerminal(w) {
				d.c.DisableColor()
			}
		}
	}
	return d, nil
}

func newConsoleFromProperties(name string, p properties.Properties, env Env) (reporter.Destination, error) {
	cfg := ConsoleConfig{
		Prefix:     p.String("prefix", ""),
		Foreground: p.String("foreground", ""),
		Background: p.String("background", ""),
		Color:      ColorMode(strings.ToLower(p.String("color", string(ColorAuto)))),
	}
	switch cfg.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return nil, fmt.Errorf("property color: unsupported value %q", cfg.Color)
	}
	d, err := NewConsole(name, env.stdout(), cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (d *Console) Name() string { return d.name }

func (d *Console) Open() error { return nil }

func (d *Console) Report(m *measurement.Measurement) error {
	line := d.cfg.Prefix + m.String()
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.c != nil {
		_, err = d.c.Fprintln(d.w, line)
	} else {
		_, err = fmt.Fprintln(d.w, line)
	}
	return err
}

func (d *Console) Close() error { return nil }
