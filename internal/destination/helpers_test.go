package destination

import (
	"time"

	"github.com/torosent/crankreport/internal/measurement"
)

func sample(iteration int64, pct int64, avg float64) *measurement.Measurement {
	return measurement.NewBuilder(pct, 61*time.Second, iteration).
		SetDefault(measurement.Quantity{Value: 12.5, Unit: "ms"}).
		Set("Average", measurement.Quantity{Value: avg, Unit: "ms"}).
		Set("threads", 4).
		Set("warmUp", false).
		Build()
}
