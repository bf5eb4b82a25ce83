package reporter

import (
	"errors"
	"fmt"
	"time"

	"github.com/torosent/crankreport/internal/measurement"
)

// Destination receives published measurements. Open and Close bracket the
// owning reporter's Start and Stop. Report runs synchronously on the
// goroutine that crossed the boundary, so slow destinations should buffer.
type Destination interface {
	Open() error
	Report(m *measurement.Measurement) error
	Close() error
}

// Named destinations provide a label for log output.
type Named interface {
	Name() string
}

// Controller is the run-level control surface a reporter may act on, such as
// the warm-up reporter resetting the run. Stop may block until in-flight
// reports drain, so it must not be called synchronously from a Report path.
type Controller interface {
	Reset()
	Stop() error
}

// MinTimePeriod is the shortest TIME period a destination may be bound to.
const MinTimePeriod = 500 * time.Millisecond

var (
	ErrNoRunInfo              = errors.New("reporter has no run info attached")
	ErrNotStarted             = errors.New("reporter is not running")
	ErrNoPeriods              = errors.New("destination needs at least one period")
	ErrPeriodTooShort         = fmt.Errorf("time period is shorter than %s", MinTimePeriod)
	ErrDestinationsNotAllowed = errors.New("reporter does not publish to destinations")
	ErrUnknownType            = errors.New("unknown reporter type")
)

func destinationName(d Destination) string {
	if n, ok := d.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", d)
}
