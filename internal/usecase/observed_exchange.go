package usecase

import (
	"context"
	"time"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
)

// ObservedExchange decorates a gateway so every call outcome and latency
// flows into the safety supervisor's rolling window. The orchestrator and
// coordinator only ever see this wrapper.
type ObservedExchange struct {
	inner  domain.Exchange
	safety *SafetySupervisor
}

func NewObservedExchange(inner domain.Exchange, safety *SafetySupervisor) *ObservedExchange {
	return &ObservedExchange{inner: inner, safety: safety}
}

func (o *ObservedExchange) record(start time.Time, err error) {
	o.safety.RecordAPICall(err == nil, time.Since(start))
}

func (o *ObservedExchange) SetLeverageAndIsolation(ctx context.Context, symbol string) error {
	start := time.Now()
	err := o.inner.SetLeverageAndIsolation(ctx, symbol)
	o.record(start, err)
	return err
}

func (o *ObservedExchange) SubmitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64, clientID string, reduceOnly bool) (*domain.OrderAck, error) {
	start := time.Now()
	ack, err := o.inner.SubmitMarketOrder(ctx, symbol, side, qty, clientID, reduceOnly)
	o.record(start, err)
	return ack, err
}

func (o *ObservedExchange) SubmitStopOrder(ctx context.Context, symbol string, side domain.OrderSide, stopPrice, qty float64, clientID string) (*domain.OrderAck, error) {
	start := time.Now()
	ack, err := o.inner.SubmitStopOrder(ctx, symbol, side, stopPrice, qty, clientID)
	o.record(start, err)
	return ack, err
}

func (o *ObservedExchange) SubmitLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, price, qty float64, clientID string) (*domain.OrderAck, error) {
	start := time.Now()
	ack, err := o.inner.SubmitLimitOrder(ctx, symbol, side, price, qty, clientID)
	o.record(start, err)
	return ack, err
}

func (o *ObservedExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	start := time.Now()
	err := o.inner.CancelAllOrders(ctx, symbol)
	o.record(start, err)
	return err
}

func (o *ObservedExchange) GetPositionState(ctx context.Context, symbol string) (*domain.PositionState, error) {
	start := time.Now()
	ps, err := o.inner.GetPositionState(ctx, symbol)
	o.record(start, err)
	return ps, err
}

func (o *ObservedExchange) GetOpenPositions(ctx context.Context) ([]*domain.PositionState, error) {
	start := time.Now()
	ps, err := o.inner.GetOpenPositions(ctx)
	o.record(start, err)
	return ps, err
}

func (o *ObservedExchange) GetAccountEquity(ctx context.Context) (*domain.AccountEquity, error) {
	start := time.Now()
	eq, err := o.inner.GetAccountEquity(ctx)
	o.record(start, err)
	return eq, err
}

func (o *ObservedExchange) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	start := time.Now()
	rate, err := o.inner.GetFundingRate(ctx, symbol)
	o.record(start, err)
	return rate, err
}

func (o *ObservedExchange) GetInstrumentPrecision(ctx context.Context, symbol string) (*domain.Precision, error) {
	start := time.Now()
	p, err := o.inner.GetInstrumentPrecision(ctx, symbol)
	o.record(start, err)
	return p, err
}

func (o *ObservedExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	start := time.Now()
	c, err := o.inner.GetCandles(ctx, symbol, interval, limit)
	o.record(start, err)
	return c, err
}

func (o *ObservedExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	start := time.Now()
	p, err := o.inner.GetCurrentPrice(ctx, symbol)
	o.record(start, err)
	return p, err
}
