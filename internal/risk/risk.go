package risk

import (
	"errors"
	"fmt"
	"log/slog"

	"hodlbot/internal/money"
)

var (
	ErrKillSwitch   = errors.New("kill_switch_enabled")
	ErrVolumeTooLow = errors.New("volume_too_low")
	ErrMaxNotional  = errors.New("max_notional_exceeded")
)

// Intent is an order about to be sent to the venue.
type Intent struct {
	Bid    bool
	Volume money.Money
	Price  money.Money
}

type Limits struct {
	MinOrderSize money.Money
	// MaxNotional caps quote spent per bid; the zero value disables the cap.
	MaxNotional money.Money
	KillSwitch  bool
}

type Gate struct {
	Logger *slog.Logger
}

func (g Gate) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func (g Gate) Evaluate(intent Intent, limits Limits) error {
	log := g.logger()
	notional := intent.Price.Mul(intent.Volume.Amount)

	if limits.KillSwitch {
		log.Info("risk rejected", "reason", "kill_switch_enabled")
		return ErrKillSwitch
	}
	if limits.MinOrderSize.IsValid() {
		cmp, err := intent.Volume.Cmp(limits.MinOrderSize)
		if err != nil {
			return fmt.Errorf("compare volume to minimum order size: %w", err)
		}
		if cmp <= 0 {
			log.Warn("risk rejected", "reason", "volume_too_low", "volume", intent.Volume.String(), "min", limits.MinOrderSize.String())
			return fmt.Errorf("%w: %s <= %s", ErrVolumeTooLow, intent.Volume, limits.MinOrderSize)
		}
	}
	if intent.Bid && limits.MaxNotional.IsValid() && !limits.MaxNotional.IsZero() {
		cmp, err := notional.Cmp(limits.MaxNotional)
		if err != nil {
			return fmt.Errorf("compare notional to limit: %w", err)
		}
		if cmp > 0 {
			log.Info("risk rejected", "reason", "max_notional_exceeded", "notional", notional.String(), "max", limits.MaxNotional.String())
			return fmt.Errorf("%w: %s > %s", ErrMaxNotional, notional, limits.MaxNotional)
		}
	}

	log.Debug("risk approved", "bid", intent.Bid, "volume", intent.Volume.String(), "notional", notional.String())
	return nil
}
