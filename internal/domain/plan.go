package domain

import "time"

type PlanStatus string

const (
	PlanPlanned   PlanStatus = "PLANNED"
	PlanSubmitted PlanStatus = "SUBMITTED"
	PlanFilled    PlanStatus = "FILLED"
	PlanFailed    PlanStatus = "FAILED"
	PlanCancelled PlanStatus = "CANCELLED"
)

// TradePlan is a fully specified trade derived from a selected signal.
// Immutable once FILLED or FAILED.
type TradePlan struct {
	ID           string
	InstrumentID string
	Symbol       string
	BundleID     string
	Direction    Direction

	EntryPrice  float64
	StopPrice   float64
	TargetPrice float64
	Qty         float64

	RValue             float64 // stop distance in price units
	RiskAmount         float64 // realised risk at stop
	MarginRequired     float64
	CapitalConstrained bool
	EquityTotal        float64
	EquityAvailable    float64

	Status        PlanStatus
	FailureReason string
	CreatedAt     time.Time
}

type OrderRole string

const (
	RoleEntry OrderRole = "ENTRY"
	RoleStop  OrderRole = "STOP"
	RoleTP    OrderRole = "TP"
	RoleClose OrderRole = "CLOSE"
)

// OrderEvent is the durable per-order record; the orchestrator writes one row
// before and after each exchange submission so a restart can be reconciled
// instead of re-submitting blind.
type OrderEvent struct {
	ID              int64
	TradePlanID     string
	Role            OrderRole
	ClientOrderID   string
	ExchangeOrderID string
	EventType       string // SUBMITTED, ACK, REJECTED, FILL, CANCELLED, ERROR
	Price           float64
	Qty             float64
	At              time.Time
	Note            string
}
