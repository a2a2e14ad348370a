package frame

import "math"

// Series is an immutable float column. Operations return new series of the
// same length; NaN marks missing values and propagates through arithmetic.
type Series struct {
	name string
	vals []float64
}

// NewSeries builds a series over the given values. The slice is retained.
func NewSeries(name string, vals []float64) *Series {
	return &Series{name: name, vals: vals}
}

// Name returns the column name.
func (s *Series) Name() string { return s.name }

// Len returns the number of values.
func (s *Series) Len() int { return len(s.vals) }

// Values returns the underlying slice. Callers must not mutate it.
func (s *Series) Values() []float64 { return s.vals }

// At returns the value at i. Negative indices count from the end.
func (s *Series) At(i int) (float64, error) {
	if i < 0 {
		i += len(s.vals)
	}
	if i < 0 || i >= len(s.vals) {
		return 0, ErrIndexOutOfRange
	}
	return s.vals[i], nil
}

// Last returns the final value. ok is false only when the series is empty;
// a trailing NaN is returned as is.
func (s *Series) Last() (float64, bool) {
	if len(s.vals) == 0 {
		return 0, false
	}
	return s.vals[len(s.vals)-1], true
}

// Slice returns the values in [from, to), clamped to the series bounds.
func (s *Series) Slice(from, to int) []float64 {
	if from < 0 {
		from += len(s.vals)
	}
	if to < 0 {
		to += len(s.vals)
	}
	if from < 0 {
		from = 0
	}
	if to > len(s.vals) {
		to = len(s.vals)
	}
	if from >= to {
		return nil
	}
	return s.vals[from:to]
}

// Tail returns a series over the last n values, clamped.
func (s *Series) Tail(n int) *Series {
	if n < 0 {
		n = 0
	}
	if n > len(s.vals) {
		n = len(s.vals)
	}
	return &Series{name: s.name, vals: s.vals[len(s.vals)-n:]}
}

// Map applies f to every value.
func (s *Series) Map(f func(float64) float64) *Series {
	vals := make([]float64, len(s.vals))
	for i, v := range s.vals {
		vals[i] = f(v)
	}
	return &Series{name: s.name, vals: vals}
}

// Zip applies f pairwise against another series of the same length.
func (s *Series) Zip(other *Series, f func(a, b float64) float64) (*Series, error) {
	if other.Len() != s.Len() {
		return nil, ErrLengthMismatch
	}
	vals := make([]float64, len(s.vals))
	for i := range s.vals {
		vals[i] = f(s.vals[i], other.vals[i])
	}
	return &Series{name: s.name, vals: vals}, nil
}

// MapBool applies a predicate to every value.
func (s *Series) MapBool(f func(float64) bool) *BoolSeries {
	vals := make([]bool, len(s.vals))
	for i, v := range s.vals {
		vals[i] = f(v)
	}
	return &BoolSeries{name: s.name, vals: vals}
}

// ZipBool applies a pairwise predicate against another series of the same
// length.
func (s *Series) ZipBool(other *Series, f func(a, b float64) bool) (*BoolSeries, error) {
	if other.Len() != s.Len() {
		return nil, ErrLengthMismatch
	}
	vals := make([]bool, len(s.vals))
	for i := range s.vals {
		vals[i] = f(s.vals[i], other.vals[i])
	}
	return &BoolSeries{name: s.name, vals: vals}, nil
}

// Shift moves values by n positions: positive n shifts toward the end and
// fills the head with NaN, negative n shifts toward the start and fills the
// tail.
func (s *Series) Shift(n int) *Series {
	vals := make([]float64, len(s.vals))
	for i := range vals {
		src := i - n
		if src < 0 || src >= len(s.vals) {
			vals[i] = math.NaN()
		} else {
			vals[i] = s.vals[src]
		}
	}
	return &Series{name: s.name, vals: vals}
}

// Diff returns s - s.Shift(n).
func (s *Series) Diff(n int) *Series {
	shifted := s.Shift(n)
	out, _ := s.Zip(shifted, func(a, b float64) float64 { return a - b })
	return out
}

// PctChange returns (s - s.Shift(n)) / s.Shift(n).
func (s *Series) PctChange(n int) *Series {
	shifted := s.Shift(n)
	out, _ := s.Zip(shifted, func(a, b float64) float64 { return (a - b) / b })
	return out
}

// CumSum returns the running sum.
func (s *Series) CumSum() *Series {
	vals := make([]float64, len(s.vals))
	sum := 0.0
	for i, v := range s.vals {
		sum += v
		vals[i] = sum
	}
	return &Series{name: s.name, vals: vals}
}

// Rolling returns a rolling window view. Results carry NaN until a full
// window is available, matching pandas with min_periods equal to the window.
func (s *Series) Rolling(window int) Rolling {
	return Rolling{s: s, window: window}
}

// Rolling computes windowed aggregates over a series.
type Rolling struct {
	s      *Series
	window int
}

func (r Rolling) aggregate(f func(window []float64) float64) *Series {
	n := r.s.Len()
	vals := make([]float64, n)
	if r.window <= 0 {
		for i := range vals {
			vals[i] = math.NaN()
		}
		return &Series{name: r.s.name, vals: vals}
	}
	for i := 0; i < n; i++ {
		if i < r.window-1 {
			vals[i] = math.NaN()
			continue
		}
		vals[i] = f(r.s.vals[i-r.window+1 : i+1])
	}
	return &Series{name: r.s.name, vals: vals}
}

// Sum returns the rolling sum.
func (r Rolling) Sum() *Series {
	return r.aggregate(func(w []float64) float64 {
		sum := 0.0
		for _, v := range w {
			sum += v
		}
		return sum
	})
}

// Mean returns the rolling mean.
func (r Rolling) Mean() *Series {
	return r.aggregate(func(w []float64) float64 {
		sum := 0.0
		for _, v := range w {
			sum += v
		}
		return sum / float64(len(w))
	})
}

// Std returns the rolling sample standard deviation (ddof 1, as pandas).
func (r Rolling) Std() *Series {
	return r.aggregate(func(w []float64) float64 {
		if len(w) < 2 {
			return math.NaN()
		}
		mean := 0.0
		for _, v := range w {
			mean += v
		}
		mean /= float64(len(w))
		sumSq := 0.0
		for _, v := range w {
			d := v - mean
			sumSq += d * d
		}
		return math.Sqrt(sumSq / float64(len(w)-1))
	})
}

// Min returns the rolling minimum.
func (r Rolling) Min() *Series {
	return r.aggregate(func(w []float64) float64 {
		out := w[0]
		for _, v := range w[1:] {
			out = math.Min(out, v)
		}
		return out
	})
}

// Max returns the rolling maximum.
func (r Rolling) Max() *Series {
	return r.aggregate(func(w []float64) float64 {
		out := w[0]
		for _, v := range w[1:] {
			out = math.Max(out, v)
		}
		return out
	})
}

// BoolSeries is the result of elementwise comparisons.
type BoolSeries struct {
	name string
	vals []bool
}

// NewBoolSeries builds a bool series over the given values.
func NewBoolSeries(name string, vals []bool) *BoolSeries {
	return &BoolSeries{name: name, vals: vals}
}

// Name returns the column name.
func (b *BoolSeries) Name() string { return b.name }

// Len returns the number of values.
func (b *BoolSeries) Len() int { return len(b.vals) }

// Values returns the underlying slice. Callers must not mutate it.
func (b *BoolSeries) Values() []bool { return b.vals }

// At returns the value at i. Negative indices count from the end.
func (b *BoolSeries) At(i int) (bool, error) {
	if i < 0 {
		i += len(b.vals)
	}
	if i < 0 || i >= len(b.vals) {
		return false, ErrIndexOutOfRange
	}
	return b.vals[i], nil
}

// Last returns the final value, false ok when empty.
func (b *BoolSeries) Last() (bool, bool) {
	if len(b.vals) == 0 {
		return false, false
	}
	return b.vals[len(b.vals)-1], true
}

// And returns the elementwise conjunction.
func (b *BoolSeries) And(other *BoolSeries) (*BoolSeries, error) {
	return b.zip(other, func(x, y bool) bool { return x && y })
}

// Or returns the elementwise disjunction.
func (b *BoolSeries) Or(other *BoolSeries) (*BoolSeries, error) {
	return b.zip(other, func(x, y bool) bool { return x || y })
}

// Not returns the elementwise negation.
func (b *BoolSeries) Not() *BoolSeries {
	vals := make([]bool, len(b.vals))
	for i, v := range b.vals {
		vals[i] = !v
	}
	return &BoolSeries{name: b.name, vals: vals}
}

// Any reports whether any value is true.
func (b *BoolSeries) Any() bool {
	for _, v := range b.vals {
		if v {
			return true
		}
	}
	return false
}

// All reports whether every value is true.
func (b *BoolSeries) All() bool {
	for _, v := range b.vals {
		if !v {
			return false
		}
	}
	return true
}

func (b *BoolSeries) zip(other *BoolSeries, f func(x, y bool) bool) (*BoolSeries, error) {
	if other.Len() != b.Len() {
		return nil, ErrLengthMismatch
	}
	vals := make([]bool, len(b.vals))
	for i := range b.vals {
		vals[i] = f(b.vals[i], other.vals[i])
	}
	return &BoolSeries{name: b.name, vals: vals}, nil
}
