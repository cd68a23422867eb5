package engine

import (
	"context"
	"log/slog"

	"hodlbot/internal/desk"
	"hodlbot/internal/venue"
)

// confirmFills treats every order the desk still believes open but the venue
// no longer lists as filled. Orders cancelled by the desk are already
// closed there, so only genuine venue-side completions end up here.
func confirmFills(ctx context.Context, gw venue.Gateway, current desk.OrderSet, confirmed desk.FillSet, logger *slog.Logger) desk.FillSet {
	if confirmed == nil {
		confirmed = desk.FillSet{}
	}
	if len(current) == 0 {
		return confirmed
	}
	ids, err := gw.OpenOrders(ctx)
	if err != nil {
		logger.Warn("reconcile open orders failed", "error", err)
		return confirmed
	}
	resting := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		resting[id] = struct{}{}
	}
	for id := range current {
		if _, ok := resting[id]; ok {
			continue
		}
		if !confirmed.Has(id) {
			logger.Info("order no longer resting on venue", "order_id", id)
		}
		confirmed[id] = struct{}{}
	}
	return confirmed
}
