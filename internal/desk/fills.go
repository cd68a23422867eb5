package desk

import (
	"log/slog"
	"math/rand"
	"sort"
)

// FillSource decides which open orders count as filled on a tick.
type FillSource interface {
	Fills(open []Order, reported FillSet) []string
}

type FillFunc func(open []Order, reported FillSet) []string

func (f FillFunc) Fills(open []Order, reported FillSet) []string {
	return f(open, reported)
}

// VenueFills trusts the fills the venue reported.
type VenueFills struct{}

func (VenueFills) Fills(_ []Order, reported FillSet) []string {
	ids := make([]string, 0, len(reported))
	for id := range reported {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SimulatedFills flips a coin for every open order on every tick. It is a
// placeholder for dry runs, not a fill model.
type SimulatedFills struct {
	rng         *rand.Rand
	probability float64
	log         *slog.Logger
}

func NewSimulatedFills(seed int64, probability float64, logger *slog.Logger) *SimulatedFills {
	if probability <= 0 || probability > 1 {
		probability = 0.5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedFills{
		rng:         rand.New(rand.NewSource(seed)),
		probability: probability,
		log:         logger,
	}
}

func (s *SimulatedFills) Fills(open []Order, reported FillSet) []string {
	ids := VenueFills{}.Fills(nil, reported)
	for _, o := range open {
		if reported.Has(o.ID) {
			continue
		}
		if s.rng.Float64() < s.probability {
			s.log.Warn("simulating order fill", "order", o.String())
			ids = append(ids, o.ID)
		}
	}
	return ids
}
