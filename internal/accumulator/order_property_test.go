package accumulator

import (
	"math"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func fold(acc Accumulator, values []float64) Accumulator {
	for _, v := range values {
		_ = acc.Add(v)
	}
	return acc
}

func shuffled(values []float64, seed int64) []float64 {
	out := append([]float64(nil), values...)
	rand.New(rand.NewSource(seed)).Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func closeEnough(a, b any) bool {
	fa, oka := a.(float64)
	fb, okb := b.(float64)
	if !oka || !okb {
		return a == b
	}
	return math.Abs(fa-fb) <= 1e-6+1e-9*math.Abs(fa)
}

func TestFoldOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	makers := map[string]func() Accumulator{
		"average": func() Accumulator { return NewAverage() },
		"min":     func() Accumulator { return NewMin() },
		"max":     func() Accumulator { return NewMax() },
		"sum":     func() Accumulator { return NewSum() },
	}
	for name, mk := range makers {
		mk := mk
		properties.Property(name+" is independent of fold order", prop.ForAll(
			func(values []float64, seed int64) bool {
				return closeEnough(fold(mk(), values).Result(), fold(mk(), shuffled(values, seed)).Result())
			},
			gen.SliceOfN(50, gen.Float64Range(-1e6, 1e6)),
			gen.Int64(),
		))
	}

	properties.Property("histogram percentiles are independent of fold order", prop.ForAll(
		func(values []float64, seed int64, p float64) bool {
			a := fold(NewHistogram(10, 100, 500), values).(*Histogram)
			b := fold(NewHistogram(10, 100, 500), shuffled(values, seed)).(*Histogram)
			pa, _ := a.Percentile(p)
			pb, _ := b.Percentile(p)
			return math.Abs(pa-pb) < 1e-9
		},
		gen.SliceOfN(100, gen.Float64Range(0, 1000)),
		gen.Int64(),
		gen.Float64Range(0, 100),
	))

	properties.Property("histogram merge is commutative", prop.ForAll(
		func(left, right []float64) bool {
			ab := fold(NewHistogram(10, 100), left).(*Histogram)
			_ = ab.Merge(fold(NewHistogram(10, 100), right).(*Histogram))
			ba := fold(NewHistogram(10, 100), right).(*Histogram)
			_ = ba.Merge(fold(NewHistogram(10, 100), left).(*Histogram))
			for _, p := range []float64{10, 50, 90, 99, 100} {
				x, _ := ab.Percentile(p)
				y, _ := ba.Percentile(p)
				if math.Abs(x-y) > 1e-9 {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(30, gen.Float64Range(0, 200)),
		gen.SliceOfN(30, gen.Float64Range(0, 200)),
	))

	properties.TestingRun(t)
}
