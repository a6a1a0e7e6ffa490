// Package notify delivers operator alerts over Telegram. Delivery is best
// effort: a failed send is logged and dropped, never propagated into the
// trading path.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
)

const sendTimeout = 10 * time.Second

type Telegram struct {
	botToken string
	chatID   string
	client   *http.Client
	logger   *zap.Logger
}

// NewTelegram builds the notifier. With empty credentials it becomes a no-op,
// which keeps local runs quiet without conditional wiring in main.
func NewTelegram(botToken, chatID string, logger *zap.Logger) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: sendTimeout},
		logger:   logger,
	}
}

func (t *Telegram) enabled() bool {
	return t.botToken != "" && t.chatID != ""
}

func (t *Telegram) send(ctx context.Context, text string) {
	if !t.enabled() {
		return
	}

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	form := url.Values{
		"chat_id": {t.chatID},
		"text":    {text},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		t.logger.Warn("building telegram request failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("telegram send failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("telegram rejected message", zap.Int("status", resp.StatusCode))
	}
}

func (t *Telegram) TradeOpened(ctx context.Context, plan *domain.TradePlan) {
	t.send(ctx, fmt.Sprintf(
		"OPENED %s %s\nentry %.4f qty %.4f\nstop %.4f target %.4f\nrisk %.2f USDT%s",
		plan.Direction, plan.Symbol,
		plan.EntryPrice, plan.Qty,
		plan.StopPrice, plan.TargetPrice,
		plan.RiskAmount,
		constrainedSuffix(plan)))
}

func constrainedSuffix(plan *domain.TradePlan) string {
	if plan.CapitalConstrained {
		return "\n(capital constrained)"
	}
	return ""
}

func (t *Telegram) TradeClosed(ctx context.Context, pos *domain.Position) {
	t.send(ctx, fmt.Sprintf(
		"CLOSED %s %s [%s]\nentry %.4f exit %.4f\npnl %.2f USDT",
		pos.Direction, pos.Symbol, pos.ExitReason,
		pos.EntryPrice, pos.ExitPrice,
		pos.RealizedPnL))
}

func (t *Telegram) Halted(ctx context.Context, reason string) {
	t.send(ctx, "SYSTEM HALT\n"+reason+"\n\nManual reset required.")
}
