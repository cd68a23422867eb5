// Package series keeps ordered samples together with the symmetric percent
// change between consecutive samples.
package series

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSample   = errors.New("invalid sample")
	ErrInvalidArgument = errors.New("invalid argument")
)

// sums closer to zero than this leave the derivative unavailable
var zeroSumEpsilon = decimal.New(1, -12)

var two = decimal.NewFromInt(2)

type Sample struct {
	Time  time.Time
	Value decimal.Decimal
}

// DerivativeSample is the normalized rate between a sample and its
// predecessor. Valid is false when the rate could not be computed.
type DerivativeSample struct {
	Time  time.Time
	Rate  decimal.Decimal
	Valid bool
}

type Option func(*TimeSeries)

func WithClock(now func() time.Time) Option {
	return func(ts *TimeSeries) {
		if now != nil {
			ts.now = now
		}
	}
}

// TimeSeries holds len(samples)-1 derivative samples at all times (zero when
// empty).
type TimeSeries struct {
	samples     []Sample
	derivatives []DerivativeSample
	now         func() time.Time
}

func New(opts ...Option) *TimeSeries {
	ts := &TimeSeries{now: time.Now}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

func (ts *TimeSeries) Append(value decimal.Decimal) (*TimeSeries, error) {
	stamp := ts.now()
	if n := len(ts.samples); n > 0 {
		ts.derivatives = append(ts.derivatives, derivative(stamp, ts.samples[n-1].Value, value))
	}
	ts.samples = append(ts.samples, Sample{Time: stamp, Value: value})
	return ts, nil
}

func derivative(stamp time.Time, prev, cur decimal.Decimal) DerivativeSample {
	sum := cur.Add(prev)
	if sum.Abs().LessThan(zeroSumEpsilon) {
		return DerivativeSample{Time: stamp}
	}
	rate := two.Mul(cur.Sub(prev)).Div(sum)
	return DerivativeSample{Time: stamp, Rate: rate, Valid: true}
}

// Derivative averages the valid rates among the last n derivative samples.
func (ts *TimeSeries) Derivative(lastN int) (decimal.Decimal, bool) {
	if lastN <= 0 || len(ts.derivatives) == 0 {
		return decimal.Zero, false
	}
	start := len(ts.derivatives) - lastN
	if start < 0 {
		start = 0
	}
	sum := decimal.Zero
	count := 0
	for _, d := range ts.derivatives[start:] {
		if !d.Valid {
			continue
		}
		sum = sum.Add(d.Rate)
		count++
	}
	if count == 0 {
		return decimal.Zero, false
	}
	return sum.Div(decimal.NewFromInt(int64(count))), true
}

// TruncateFront drops the oldest n samples and the matching derivative
// samples.
func (ts *TimeSeries) TruncateFront(n int) error {
	if n < 0 || n > len(ts.samples) {
		return fmt.Errorf("%w: truncate %d of %d samples", ErrInvalidArgument, n, len(ts.samples))
	}
	ts.samples = append([]Sample(nil), ts.samples[n:]...)
	drop := n
	if drop > len(ts.derivatives) {
		drop = len(ts.derivatives)
	}
	ts.derivatives = append([]DerivativeSample(nil), ts.derivatives[drop:]...)
	return nil
}

func (ts *TimeSeries) Latest() (Sample, bool) {
	if len(ts.samples) == 0 {
		return Sample{}, false
	}
	return ts.samples[len(ts.samples)-1], true
}

func (ts *TimeSeries) LatestDerivative() (DerivativeSample, bool) {
	if len(ts.derivatives) == 0 {
		return DerivativeSample{}, false
	}
	return ts.derivatives[len(ts.derivatives)-1], true
}

func (ts *TimeSeries) Len() int {
	return len(ts.samples)
}

func (ts *TimeSeries) Samples() []Sample {
	out := make([]Sample, len(ts.samples))
	copy(out, ts.samples)
	return out
}

func (ts *TimeSeries) Derivatives() []DerivativeSample {
	out := make([]DerivativeSample, len(ts.derivatives))
	copy(out, ts.derivatives)
	return out
}
