package series

import (
	"fmt"

	"hodlbot/internal/money"
)

// MoneyTimeSeries only accepts samples in its own currency.
type MoneyTimeSeries struct {
	currency money.Currency
	series   *TimeSeries
}

func NewMoney(currency money.Currency, opts ...Option) *MoneyTimeSeries {
	return &MoneyTimeSeries{currency: currency, series: New(opts...)}
}

func (m *MoneyTimeSeries) Currency() money.Currency {
	return m.currency
}

func (m *MoneyTimeSeries) Append(value money.Money) (*MoneyTimeSeries, error) {
	if !value.IsValid() {
		return m, fmt.Errorf("%w: absent amount", ErrInvalidSample)
	}
	if value.Currency != m.currency {
		return m, fmt.Errorf("%w: series in %s, sample in %s", money.ErrCurrencyMismatch, m.currency, value.Currency)
	}
	if _, err := m.series.Append(value.Amount); err != nil {
		return m, err
	}
	return m, nil
}

func (m *MoneyTimeSeries) Latest() (money.Money, bool) {
	s, ok := m.series.Latest()
	if !ok {
		return money.Money{}, false
	}
	return money.New(s.Value, m.currency), true
}

// Series exposes the underlying numeric series.
func (m *MoneyTimeSeries) Series() *TimeSeries {
	return m.series
}

func (m *MoneyTimeSeries) Len() int {
	return m.series.Len()
}

func (m *MoneyTimeSeries) TruncateFront(n int) error {
	return m.series.TruncateFront(n)
}
