// Package money holds currency-tagged decimal amounts and balance sheets.
package money

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrCurrencyMismatch = errors.New("currency mismatch")

type Currency string

// Money is an exact decimal amount in a single currency. The zero value has
// no currency and stands for an absent amount.
type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

func New(amount decimal.Decimal, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

func Zero(currency Currency) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

func Parse(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return New(d, currency), nil
}

func MustParse(amount string, currency Currency) Money {
	m, err := Parse(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) IsValid() bool {
	return m.Currency != ""
}

func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

func (m Money) Sign() int {
	return m.Amount.Sign()
}

func (m Money) sameCurrency(o Money) error {
	if m.Currency != o.Currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	return nil
}

func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return New(m.Amount.Add(o.Amount), m.Currency), nil
}

func (m Money) Sub(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return New(m.Amount.Sub(o.Amount), m.Currency), nil
}

// Cmp compares two amounts of the same currency.
func (m Money) Cmp(o Money) (int, error) {
	if err := m.sameCurrency(o); err != nil {
		return 0, err
	}
	return m.Amount.Cmp(o.Amount), nil
}

func (m Money) Mul(f decimal.Decimal) Money {
	return New(m.Amount.Mul(f), m.Currency)
}

func (m Money) Div(f decimal.Decimal) Money {
	return New(m.Amount.Div(f), m.Currency)
}

func (m Money) Neg() Money {
	return New(m.Amount.Neg(), m.Currency)
}

func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}

func (m Money) String() string {
	if !m.IsValid() {
		return "<none>"
	}
	return m.Amount.String() + " " + string(m.Currency)
}

// Balances maps each currency to a signed amount.
type Balances map[Currency]Money

func (b Balances) Get(c Currency) (Money, bool) {
	m, ok := b[c]
	return m, ok
}

// Credit adds amount to the balance of its own currency.
func (b Balances) Credit(amount Money) {
	cur, ok := b[amount.Currency]
	if !ok {
		cur = Zero(amount.Currency)
	}
	b[amount.Currency] = New(cur.Amount.Add(amount.Amount), amount.Currency)
}

func (b Balances) Debit(amount Money) {
	b.Credit(amount.Neg())
}

func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Sub returns b minus o for every currency present in either side.
func (b Balances) Sub(o Balances) Balances {
	out := b.Clone()
	for _, v := range o {
		out.Debit(v)
	}
	return out
}

// Equal treats a missing currency and a zero balance as the same.
func (b Balances) Equal(o Balances) bool {
	for k, v := range b {
		if !v.Amount.Equal(o.amountOf(k)) {
			return false
		}
	}
	for k, v := range o {
		if !v.Amount.Equal(b.amountOf(k)) {
			return false
		}
	}
	return true
}

func (b Balances) amountOf(c Currency) decimal.Decimal {
	if m, ok := b[c]; ok {
		return m.Amount
	}
	return decimal.Zero
}

func (b Balances) String() string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, b[Currency(k)].String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
