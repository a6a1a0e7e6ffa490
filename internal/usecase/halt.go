package usecase

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
	"github.com/vitos/crypto_momentum_bot/internal/metrics"
)

// HaltGuard is the single accessor for the process-wide halt flag. Every
// component reads and raises halts through it; the flag is mirrored to
// durable storage so a restart comes back halted.
type HaltGuard struct {
	state    domain.SystemStateRepository
	notifier domain.Notifier
	logger   *zap.Logger

	mu     sync.RWMutex
	halted bool
	reason string
}

func NewHaltGuard(state domain.SystemStateRepository, notifier domain.Notifier, logger *zap.Logger) *HaltGuard {
	return &HaltGuard{state: state, notifier: notifier, logger: logger}
}

// Load restores the persisted halt state; called once at startup before the
// first cycle.
func (h *HaltGuard) Load(ctx context.Context) error {
	hs, err := h.state.GetHaltState(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.halted = hs.Halted
	h.reason = hs.Reason
	h.mu.Unlock()
	if hs.Halted {
		h.logger.Warn("starting in halted state", zap.String("reason", hs.Reason))
		metrics.HaltFlag.Set(1)
	}
	return nil
}

// Halted reports the current flag and the reason that raised it.
func (h *HaltGuard) Halted() (bool, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.halted, h.reason
}

// Raise sets the halt unconditionally. Idempotent: a second raise keeps the
// first reason. The alert and the durable write are both best-effort; the
// in-memory flag is authoritative for the running process.
func (h *HaltGuard) Raise(ctx context.Context, reason string) {
	h.mu.Lock()
	if h.halted {
		h.mu.Unlock()
		return
	}
	h.halted = true
	h.reason = reason
	h.mu.Unlock()

	h.logger.Error("SYSTEM HALT", zap.String("reason", reason))
	metrics.HaltFlag.Set(1)

	if err := h.state.SetHalt(ctx, reason); err != nil {
		h.logger.Error("failed to persist halt state", zap.Error(err))
	}
	if h.notifier != nil {
		h.notifier.Halted(ctx, reason)
	}
}

// Reset clears the halt. Operator-only, exposed through the web API.
func (h *HaltGuard) Reset(ctx context.Context) error {
	if err := h.state.ClearHalt(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.halted = false
	h.reason = ""
	h.mu.Unlock()
	metrics.HaltFlag.Set(0)
	h.logger.Warn("halt cleared by operator")
	return nil
}
