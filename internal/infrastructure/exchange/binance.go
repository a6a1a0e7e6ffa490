package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
)

// Binance error codes tolerated as "already configured".
const (
	codeNoNeedToChangeMarginType = -4046
	codeMultiAssetsMarginMode    = -4168
)

// BinanceFutures is the USD-M perpetual gateway. All order submissions carry
// the caller's client order id so retries are idempotent on the venue side.
type BinanceFutures struct {
	client *futures.Client
	logger *zap.Logger
}

func NewBinanceFutures(apiKey, secretKey string, testnet bool, logger *zap.Logger) *BinanceFutures {
	futures.UseTestnet = testnet
	return &BinanceFutures{
		client: futures.NewClient(apiKey, secretKey),
		logger: logger,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// tolerableConfigError reports whether err means the account is already in
// the requested leverage or margin configuration.
func tolerableConfigError(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeNoNeedToChangeMarginType || apiErr.Code == codeMultiAssetsMarginMode
	}
	return false
}

// SetLeverageAndIsolation forces 1x isolated margin on the symbol before any
// order is placed on it.
func (b *BinanceFutures) SetLeverageAndIsolation(ctx context.Context, symbol string) error {
	if _, err := b.client.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(1).
		Do(ctx); err != nil {
		return fmt.Errorf("setting leverage for %s: %w", symbol, err)
	}

	err := b.client.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(futures.MarginTypeIsolated).
		Do(ctx)
	if err != nil && !tolerableConfigError(err) {
		return fmt.Errorf("setting isolated margin for %s: %w", symbol, err)
	}

	return nil
}

func ackFromResponse(res *futures.CreateOrderResponse) *domain.OrderAck {
	return &domain.OrderAck{
		OrderID:       strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Status:        string(res.Status),
		AvgPrice:      parseFloat(res.AvgPrice),
		ExecutedQty:   parseFloat(res.ExecutedQuantity),
	}
}

func (b *BinanceFutures) SubmitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64, clientID string, reduceOnly bool) (*domain.OrderAck, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatFloat(qty)).
		NewClientOrderID(clientID).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("market %s %s: %w", side, symbol, err)
	}

	b.logger.Debug("market order accepted",
		zap.String("symbol", symbol),
		zap.String("client_id", clientID),
		zap.String("status", string(res.Status)),
		zap.String("avg_price", res.AvgPrice))
	return ackFromResponse(res), nil
}

// SubmitStopOrder places a reduce-only STOP_MARKET protective order.
func (b *BinanceFutures) SubmitStopOrder(ctx context.Context, symbol string, side domain.OrderSide, stopPrice, qty float64, clientID string) (*domain.OrderAck, error) {
	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatFloat(stopPrice)).
		Quantity(formatFloat(qty)).
		ReduceOnly(true).
		WorkingType(futures.WorkingTypeContractPrice).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("stop %s %s @ %s: %w", side, symbol, formatFloat(stopPrice), err)
	}
	return ackFromResponse(res), nil
}

// SubmitLimitOrder places a reduce-only GTC limit order, used as the
// take-profit leg.
func (b *BinanceFutures) SubmitLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, price, qty float64, clientID string) (*domain.OrderAck, error) {
	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeLimit).
		Price(formatFloat(price)).
		Quantity(formatFloat(qty)).
		TimeInForce(futures.TimeInForceTypeGTC).
		ReduceOnly(true).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("limit %s %s @ %s: %w", side, symbol, formatFloat(price), err)
	}
	return ackFromResponse(res), nil
}

func (b *BinanceFutures) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return fmt.Errorf("cancel all orders for %s: %w", symbol, err)
	}
	return nil
}

func positionStateFromRisk(pr *futures.PositionRisk) *domain.PositionState {
	leverage, _ := strconv.Atoi(pr.Leverage)
	return &domain.PositionState{
		Symbol:        pr.Symbol,
		Qty:           parseFloat(pr.PositionAmt),
		EntryPrice:    parseFloat(pr.EntryPrice),
		Leverage:      leverage,
		MarginType:    pr.MarginType,
		UnrealizedPnL: parseFloat(pr.UnRealizedProfit),
	}
}

func (b *BinanceFutures) GetPositionState(ctx context.Context, symbol string) (*domain.PositionState, error) {
	risks, err := b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("position risk for %s: %w", symbol, err)
	}
	for _, pr := range risks {
		if pr.Symbol == symbol {
			return positionStateFromRisk(pr), nil
		}
	}
	return &domain.PositionState{Symbol: symbol}, nil
}

func (b *BinanceFutures) GetOpenPositions(ctx context.Context) ([]*domain.PositionState, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("position risk: %w", err)
	}

	var open []*domain.PositionState
	for _, pr := range risks {
		if parseFloat(pr.PositionAmt) == 0 {
			continue
		}
		open = append(open, positionStateFromRisk(pr))
	}
	return open, nil
}

func (b *BinanceFutures) GetAccountEquity(ctx context.Context) (*domain.AccountEquity, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	return &domain.AccountEquity{
		Total:     parseFloat(account.TotalMarginBalance),
		Available: parseFloat(account.AvailableBalance),
	}, nil
}

func (b *BinanceFutures) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	indexes, err := b.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("premium index for %s: %w", symbol, err)
	}
	if len(indexes) == 0 {
		return 0, fmt.Errorf("no premium index for %s", symbol)
	}
	return parseFloat(indexes[0].LastFundingRate), nil
}

func (b *BinanceFutures) GetInstrumentPrecision(ctx context.Context, symbol string) (*domain.Precision, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		prec := &domain.Precision{}
		if pf := s.PriceFilter(); pf != nil {
			prec.TickSize = parseFloat(pf.TickSize)
		}
		if lf := s.LotSizeFilter(); lf != nil {
			prec.StepSize = parseFloat(lf.StepSize)
		}
		if prec.TickSize == 0 || prec.StepSize == 0 {
			return nil, fmt.Errorf("incomplete filters for %s", symbol)
		}
		return prec, nil
	}
	return nil, fmt.Errorf("symbol %s not in exchange info", symbol)
}

func (b *BinanceFutures) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}

	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, domain.Candle{
			Time:   k.OpenTime,
			Open:   parseFloat(k.Open),
			High:   parseFloat(k.High),
			Low:    parseFloat(k.Low),
			Close:  parseFloat(k.Close),
			Volume: parseFloat(k.Volume),
		})
	}
	return candles, nil
}

func (b *BinanceFutures) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("price for %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return parseFloat(prices[0].Price), nil
}
