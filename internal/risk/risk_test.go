package risk

import (
	"errors"
	"testing"

	"hodlbot/internal/money"
)

func TestGateRejectsKillSwitch(t *testing.T) {
	gate := Gate{}
	intent := Intent{Bid: true, Volume: money.MustParse("1", "BTC"), Price: money.MustParse("100", "EUR")}
	limits := Limits{KillSwitch: true}

	if err := gate.Evaluate(intent, limits); !errors.Is(err, ErrKillSwitch) {
		t.Fatalf("expected kill switch rejection, got %v", err)
	}
}

func TestGateRejectsVolumeAtMinimum(t *testing.T) {
	gate := Gate{}
	intent := Intent{Bid: true, Volume: money.MustParse("0.001", "BTC"), Price: money.MustParse("100", "EUR")}
	limits := Limits{MinOrderSize: money.MustParse("0.001", "BTC")}

	if err := gate.Evaluate(intent, limits); !errors.Is(err, ErrVolumeTooLow) {
		t.Fatalf("expected volume too low, got %v", err)
	}
}

func TestGateRejectsMaxNotional(t *testing.T) {
	gate := Gate{}
	intent := Intent{Bid: true, Volume: money.MustParse("2", "BTC"), Price: money.MustParse("100", "EUR")}
	limits := Limits{
		MinOrderSize: money.MustParse("0.001", "BTC"),
		MaxNotional:  money.MustParse("150", "EUR"),
	}

	if err := gate.Evaluate(intent, limits); !errors.Is(err, ErrMaxNotional) {
		t.Fatalf("expected max notional rejection, got %v", err)
	}
}

func TestGateIgnoresNotionalOnAsk(t *testing.T) {
	gate := Gate{}
	intent := Intent{Bid: false, Volume: money.MustParse("2", "BTC"), Price: money.MustParse("100", "EUR")}
	limits := Limits{
		MinOrderSize: money.MustParse("0.001", "BTC"),
		MaxNotional:  money.MustParse("150", "EUR"),
	}

	if err := gate.Evaluate(intent, limits); err != nil {
		t.Fatalf("expected approval, got %v", err)
	}
}

func TestGateApprovesValidBid(t *testing.T) {
	gate := Gate{}
	intent := Intent{Bid: true, Volume: money.MustParse("0.005", "BTC"), Price: money.MustParse("20000", "EUR")}
	limits := Limits{
		MinOrderSize: money.MustParse("0.001", "BTC"),
		MaxNotional:  money.MustParse("500", "EUR"),
	}

	if err := gate.Evaluate(intent, limits); err != nil {
		t.Fatalf("expected approval, got %v", err)
	}
}

func TestGateFailsOnMismatchedMinimum(t *testing.T) {
	gate := Gate{}
	intent := Intent{Bid: true, Volume: money.MustParse("1", "BTC"), Price: money.MustParse("100", "EUR")}
	limits := Limits{MinOrderSize: money.MustParse("0.001", "ETH")}

	if err := gate.Evaluate(intent, limits); !errors.Is(err, money.ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}
}
