package domain

import (
	"errors"
	"time"
)

// HaltState is the process-wide circuit state. Once set it is cleared only by
// an explicit operator reset.
type HaltState struct {
	Halted   bool
	Reason   string
	HaltedAt time.Time
}

// CooldownState tracks consecutive losing closes. The core reads it to gate
// new entries but never mutates it; a policy layer owns updates.
type CooldownState struct {
	Active            bool
	ConsecutiveLosses int
	ReleaseAfter      time.Time
}

var (
	// ErrHalted is returned when the system refuses new entries because a
	// halt is in effect.
	ErrHalted = errors.New("system halted")

	// ErrPositionSlotTaken is returned by the storage layer when a second
	// non-terminal position would be created.
	ErrPositionSlotTaken = errors.New("open position slot already claimed")

	// ErrNoActiveBundle marks an instrument with no active parameter bundle;
	// the instrument is skipped for the cycle.
	ErrNoActiveBundle = errors.New("no active parameter bundle")
)
