package engine

import (
	"context"
	"errors"
	"fmt"

	"futures-rollover-bot/internal/broker"
	"futures-rollover-bot/internal/catalog"
	"futures-rollover-bot/internal/credentials"
	"futures-rollover-bot/internal/models"
	"futures-rollover-bot/internal/queue"
	"futures-rollover-bot/internal/registry"
	"go.uber.org/zap"
)

// Engine failures specific to job execution.
var (
	ErrStrategyStopped   = errors.New("engine: strategy is stopped")
	ErrInstrumentChanged = errors.New("engine: strategy instrument changed since the rollover was queued")
)

// Order tags recorded against broker orders for traceability.
const (
	tagRolloverClose = "rollover_close"
	tagRolloverOpen  = "rollover_open"
)

// Engine executes trade and rollover jobs against the broker and propagates
// the results back into the strategy registry. It holds no mutable state of
// its own: every job resolves its collaborators fresh.
type Engine struct {
	registry    *registry.Registry
	catalog     *catalog.Catalog
	credentials *credentials.Store
	logger      *zap.Logger
}

// NewEngine creates an execution engine.
func NewEngine(reg *registry.Registry, cat *catalog.Catalog, creds *credentials.Store, logger *zap.Logger) *Engine {
	return &Engine{
		registry:    reg,
		catalog:     cat,
		credentials: creds,
		logger:      logger.Named("engine"),
	}
}

// asJobError maps resolution failures to permanent job errors: retrying
// cannot make a missing strategy or a deactivated credential come back.
// Transport-level failures stay retryable.
func asJobError(err error) error {
	switch {
	case errors.Is(err, registry.ErrStrategyNotFound),
		errors.Is(err, credentials.ErrStrategyNotFound),
		errors.Is(err, credentials.ErrBrokerNotFound),
		errors.Is(err, credentials.ErrBrokerInactive),
		errors.Is(err, credentials.ErrUnsupportedBroker),
		errors.Is(err, catalog.ErrInstrumentNotFound),
		errors.Is(err, catalog.ErrNoNextContract),
		errors.Is(err, broker.ErrInvalidCredentials),
		errors.Is(err, broker.ErrAuthFailed):
		return queue.Permanent(err)
	default:
		return err
	}
}

// HandleTrade executes one trade job: a single market order for the
// strategy's current instrument.
func (e *Engine) HandleTrade(ctx context.Context, job *models.Job) error {
	payload, err := queue.DecodeTradePayload(job.Payload)
	if err != nil {
		return queue.Permanent(err)
	}

	l := e.logger.With(
		zap.String("job_id", job.ID),
		zap.Uint("strategy_id", payload.StrategyID),
		zap.String("side", payload.Side),
		zap.Int("qty", payload.Qty))

	strategy, err := e.registry.Get(payload.StrategyID)
	if err != nil {
		return asJobError(err)
	}
	if strategy.Status != models.StrategyStatusRunning {
		return queue.Permanent(ErrStrategyStopped)
	}

	instrument, err := e.catalog.Get(strategy.InstrumentID)
	if err != nil {
		return asJobError(err)
	}

	adapter, err := e.credentials.Resolve(ctx, strategy.ID)
	if err != nil {
		return asJobError(err)
	}

	resp, err := adapter.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   instrument.BrokerSymbol,
		Qty:      payload.Qty,
		Side:     payload.Side,
		OrderTag: fmt.Sprintf("strategy_%d", strategy.ID),
	})
	if err != nil {
		return err // transport failure, retryable
	}
	if !resp.Success {
		// The broker's rejection is deterministic for the same inputs.
		return queue.Permanent(fmt.Errorf("order rejected by broker: %s (code %d)", resp.Message, resp.Code))
	}

	job.Result = resp.OrderID
	l.Info("Trade executed",
		zap.String("symbol", instrument.BrokerSymbol),
		zap.String("order_id", resp.OrderID))
	return nil
}

// HandleRollover migrates a strategy's open positions from its current
// contract to the next one in the chain. Sequence: resolve next contract,
// fetch and filter positions, close legs, reopen legs on the new symbol, and
// only then update the strategy record. A crash mid-way leaves the strategy
// pointing at the old contract, which is stale but consistent.
func (e *Engine) HandleRollover(ctx context.Context, job *models.Job) error {
	payload, err := queue.DecodeRolloverPayload(job.Payload)
	if err != nil {
		return queue.Permanent(err)
	}

	l := e.logger.With(
		zap.String("job_id", job.ID),
		zap.Uint("strategy_id", payload.StrategyID))

	strategy, err := e.registry.Get(payload.StrategyID)
	if err != nil {
		return asJobError(err)
	}
	if payload.InstrumentID != 0 && strategy.InstrumentID != payload.InstrumentID {
		// Another rollover already advanced this strategy.
		return queue.Permanent(ErrInstrumentChanged)
	}

	current, err := e.catalog.Get(strategy.InstrumentID)
	if err != nil {
		return asJobError(err)
	}

	// Resolve the next contract before touching anything. Chain exhaustion
	// aborts here with strategy and positions untouched.
	next, err := e.catalog.FindNextContract(strategy.InstrumentID)
	if err != nil {
		return asJobError(err)
	}
	l.Info("Next contract resolved",
		zap.String("current", current.BrokerSymbol),
		zap.String("next", next.BrokerSymbol))

	adapter, err := e.credentials.Resolve(ctx, strategy.ID)
	if err != nil {
		return asJobError(err)
	}

	positions, err := adapter.GetOpenPositions(ctx)
	if err != nil {
		return err // retryable
	}

	var matched []broker.Position
	for _, pos := range positions {
		if pos.Symbol == current.BrokerSymbol {
			matched = append(matched, pos)
		}
	}

	if len(matched) == 0 {
		// Nothing to migrate. The scheduled rollover still ran, so the
		// rollover date is consumed, but the instrument stays put.
		l.Info("No open positions to migrate, clearing rollover date")
		if err := e.registry.ClearRollover(strategy.ID); err != nil {
			return asJobError(err)
		}
		return nil
	}

	e.closePositions(ctx, adapter, matched, l)
	e.reopenPositions(ctx, adapter, matched, next.BrokerSymbol, l)

	if err := e.registry.AdvanceInstrument(strategy.ID, next.ID); err != nil {
		return asJobError(err)
	}
	l.Info("Rollover completed",
		zap.Int("legs", len(matched)),
		zap.Uint("new_instrument_id", next.ID))
	return nil
}

// closePositions places a reversing order for each open leg. A failed close
// is logged and skipped: one stuck leg must not block the others, and a
// placed brokerage order cannot be compensated anyway.
func (e *Engine) closePositions(ctx context.Context, adapter broker.Broker, positions []broker.Position, l *zap.Logger) {
	for _, pos := range positions {
		closeSide := broker.SideSell
		if pos.Side == broker.SideSell {
			closeSide = broker.SideBuy
		}

		resp, err := adapter.PlaceOrder(ctx, broker.OrderRequest{
			Symbol:      pos.Symbol,
			Qty:         pos.Qty,
			Side:        closeSide,
			ProductType: broker.ProductMargin,
			OrderTag:    tagRolloverClose,
		})
		if err != nil {
			l.Error("Failed to close position", zap.String("symbol", pos.Symbol), zap.Error(err))
			continue
		}
		if !resp.Success {
			l.Error("Close order rejected",
				zap.String("symbol", pos.Symbol),
				zap.Int("code", resp.Code),
				zap.String("message", resp.Message))
			continue
		}
		l.Info("Position closed",
			zap.String("symbol", pos.Symbol),
			zap.Int("qty", pos.Qty),
			zap.String("order_id", resp.OrderID))
	}
}

// reopenPositions re-establishes each original leg (original side and qty)
// against the new contract's symbol, best-effort per leg.
func (e *Engine) reopenPositions(ctx context.Context, adapter broker.Broker, positions []broker.Position, newSymbol string, l *zap.Logger) {
	for _, pos := range positions {
		resp, err := adapter.PlaceOrder(ctx, broker.OrderRequest{
			Symbol:      newSymbol,
			Qty:         pos.Qty,
			Side:        pos.Side,
			ProductType: broker.ProductMargin,
			OrderTag:    tagRolloverOpen,
		})
		if err != nil {
			l.Error("Failed to reopen position", zap.String("symbol", newSymbol), zap.Error(err))
			continue
		}
		if !resp.Success {
			l.Error("Reopen order rejected",
				zap.String("symbol", newSymbol),
				zap.Int("code", resp.Code),
				zap.String("message", resp.Message))
			continue
		}
		l.Info("Position reopened",
			zap.String("symbol", newSymbol),
			zap.Int("qty", pos.Qty),
			zap.String("order_id", resp.OrderID))
	}
}
