// Package trend classifies a stream of midpoints as bull, bear or undecided
// by counting the signs of recent derivatives.
package trend

import (
	"errors"
	"fmt"
	"log/slog"

	"hodlbot/internal/money"
	"hodlbot/internal/series"
)

type Classification string

const (
	Undecided Classification = "undecided"
	Bull      Classification = "bull"
	Bear      Classification = "bear"
)

var ErrInvalidConfig = errors.New("invalid trend config")

type Config struct {
	BullPeriods int `yaml:"bull_periods"`
	BullTrend   int `yaml:"bull_trend"`
	BearPeriods int `yaml:"bear_periods"`
	BearTrend   int `yaml:"bear_trend"`
}

func (c Config) Validate() error {
	if c.BullPeriods <= 0 || c.BearPeriods <= 0 {
		return fmt.Errorf("%w: periods must be positive", ErrInvalidConfig)
	}
	if c.BullTrend <= 0 || c.BullTrend > c.BullPeriods {
		return fmt.Errorf("%w: bull_trend %d outside 1..%d", ErrInvalidConfig, c.BullTrend, c.BullPeriods)
	}
	if c.BearTrend <= 0 || c.BearTrend > c.BearPeriods {
		return fmt.Errorf("%w: bear_trend %d outside 1..%d", ErrInvalidConfig, c.BearTrend, c.BearPeriods)
	}
	return nil
}

func (c Config) window() int {
	return max(c.BullPeriods, c.BearPeriods)
}

// Counts are the signed derivative counts behind the last classification.
type Counts struct {
	Bull int
	Bear int
}

// Detector owns its midpoint series; nothing else appends to it.
type Detector struct {
	cfg    Config
	prices *series.MoneyTimeSeries
	counts Counts
	log    *slog.Logger
}

func New(cfg Config, quote money.Currency, logger *slog.Logger, opts ...series.Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		cfg:    cfg,
		prices: series.NewMoney(quote, opts...),
		log:    logger,
	}, nil
}

// Observe appends a midpoint and classifies the window. Errors are only
// returned for samples that cannot belong to the series.
func (d *Detector) Observe(midpoint money.Money) (Classification, error) {
	if _, err := d.prices.Append(midpoint); err != nil {
		return Undecided, err
	}
	if d.prices.Len() < 2 {
		d.counts = Counts{}
		return Undecided, nil
	}

	ts := d.prices.Series()
	if excess := len(ts.Derivatives()) - d.cfg.window(); excess > 0 {
		if err := d.prices.TruncateFront(excess); err != nil {
			return Undecided, err
		}
	}

	var counts Counts
	for _, ds := range ts.Derivatives() {
		if !ds.Valid {
			continue
		}
		switch ds.Rate.Sign() {
		case 1:
			counts.Bull++
		case -1:
			counts.Bear++
		}
	}
	d.counts = counts

	class := Undecided
	switch {
	case counts.Bull >= d.cfg.BullTrend:
		class = Bull
	case counts.Bear >= d.cfg.BearTrend:
		class = Bear
	}
	d.log.Debug("trend observed", "midpoint", midpoint.String(), "bull", counts.Bull, "bear", counts.Bear, "class", class)
	return class, nil
}

func (d *Detector) Counts() Counts {
	return d.counts
}

// Window returns the derivative samples currently considered.
func (d *Detector) Window() []series.DerivativeSample {
	return d.prices.Series().Derivatives()
}

func (d *Detector) Samples() int {
	return d.prices.Len()
}
