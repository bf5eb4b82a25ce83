package period

import (
	"fmt"
	"math"
	"sync/atomic"
)

const exhausted = math.MaxInt64

// Bound binds a Period to a destination and tracks the progress value at
// which the next publication is due. The cursor is a single atomic; Observe
// advances it with compare-and-swap so each boundary crossing is claimed by
// exactly one caller, regardless of the order in which progress values arrive.
type Bound[T comparable] struct {
	period  Period
	binding T
	next    atomic.Int64
}

func NewBound[T comparable](p Period, binding T) *Bound[T] {
	b := &Bound[T]{period: p, binding: binding}
	b.Reset()
	return b
}

func (b *Bound[T]) Period() Period { return b.period }

func (b *Bound[T]) Binding() T { return b.binding }

// Next returns the progress value at which the next regular publication is
// due, or false once the final boundary has fired.
func (b *Bound[T]) Next() (int64, bool) {
	n := b.next.Load()
	return n, n != exhausted
}

// Reset rewinds the cursor to the first boundary.
func (b *Bound[T]) Reset() {
	b.next.Store(b.first())
}

// Observe reports whether progress crosses the next boundary. Progress is a
// 0-based iteration index, elapsed milliseconds or a whole percentage,
// depending on the period type. With final set the call fires unless the final
// boundary already fired, and no later call fires until Reset.
func (b *Bound[T]) Observe(progress int64, final bool) bool {
	for {
		n := b.next.Load()
		if n == exhausted {
			return false
		}
		var upd int64
		switch {
		case final:
			upd = exhausted
		case progress < n:
			return false
		default:
			upd = b.after(progress)
		}
		if b.next.CompareAndSwap(n, upd) {
			return true
		}
	}
}

func (b *Bound[T]) first() int64 {
	switch b.period.Type {
	case Time:
		return b.period.Value
	case Percentage:
		if b.period.Value <= 50 {
			return 0
		}
		return b.period.Value
	default:
		return 0
	}
}

// after returns the first boundary strictly beyond progress.
func (b *Bound[T]) after(progress int64) int64 {
	v := b.period.Value
	if v <= 0 {
		v = 1
	}
	if b.period.Type == Iteration {
		// Index i closes the block of i+1 iterations.
		return ((progress+1)/v+1)*v - 1
	}
	return (progress/v + 1) * v
}

func (b *Bound[T]) String() string {
	return fmt.Sprintf("%v@%s", b.binding, b.period)
}
