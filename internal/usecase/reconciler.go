package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
)

// Reconciler aligns locally persisted position state with exchange-reported
// ground truth. It runs exactly once at startup, before the coordinator
// accepts its first tick, so a restart mid-trade never double-opens.
type Reconciler struct {
	exchange domain.Exchange
	trades   domain.TradeRepository
	halt     *HaltGuard
	logger   *zap.Logger
}

func NewReconciler(exchange domain.Exchange, trades domain.TradeRepository, halt *HaltGuard, logger *zap.Logger) *Reconciler {
	return &Reconciler{exchange: exchange, trades: trades, halt: halt, logger: logger}
}

// Reconcile compares exchange positions against the local open-position
// record and returns the confirmed open position, if any.
//
// An exchange position with no matching local record is never adopted: the
// bot cannot know its stop or target, and fabricating risk metadata for an
// unknown entry would be unsafe. It raises a halt and leaves resolution to
// the operator. A local open position the exchange no longer shows gets the
// same treatment - the close happened while the process was down and its
// outcome is unknown.
func (r *Reconciler) Reconcile(ctx context.Context) (*domain.Position, error) {
	r.logger.Info("reconciling state with exchange")

	exPositions, err := r.exchange.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching exchange positions: %w", err)
	}

	local, err := r.trades.GetOpenPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading local open position: %w", err)
	}

	matched := false
	for _, ep := range exPositions {
		if ep.Qty == 0 {
			continue
		}
		direction := domain.DirectionLong
		if ep.Qty < 0 {
			direction = domain.DirectionShort
		}
		if local != nil && local.Symbol == ep.Symbol && local.Direction == direction {
			r.logger.Info("local position matches exchange",
				zap.String("symbol", ep.Symbol),
				zap.String("direction", string(direction)),
				zap.Float64("qty", ep.Qty))
			matched = true
			continue
		}
		r.logger.Error("UNRECONCILED POSITION on exchange with no local record",
			zap.String("symbol", ep.Symbol),
			zap.Float64("qty", ep.Qty),
			zap.Float64("entry_price", ep.EntryPrice))
		r.halt.Raise(ctx, fmt.Sprintf("UNRECONCILED_POSITION: exchange holds %s %.8f with no local record", ep.Symbol, ep.Qty))
	}

	if local != nil && !matched {
		r.logger.Error("local open position not found on exchange",
			zap.String("symbol", local.Symbol),
			zap.String("position", local.ID))
		r.halt.Raise(ctx, fmt.Sprintf("UNRECONCILED_POSITION: local %s position %s absent on exchange", local.Symbol, local.ID))
	}

	if matched {
		return local, nil
	}
	return nil, nil
}
