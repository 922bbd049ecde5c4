package domain

import (
	"fmt"
	"time"
)

// PositionStatus is the lifecycle state of a tracked position.
type PositionStatus string

const (
	StatusOpen    PositionStatus = "open"
	StatusPending PositionStatus = "pending"
	StatusClosed  PositionStatus = "closed"
)

// ExitReason explains why a position was (or should be) closed.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
)

// Position represents a user's tracked holding of a token, from buy to sell.
//
// The derived fields (CurrentValue, PnLPercent, PnLValue) are always updated
// together through ApplyPrice so the value = amount * price invariant holds.
type Position struct {
	ID           string
	UserID       string
	TokenAddress string
	TokenSymbol  string
	TokenName    string
	Chain        string

	EntryPrice   float64
	CurrentPrice float64
	Amount       float64
	EntryValue   float64
	CurrentValue float64
	PnLPercent   float64
	PnLValue     float64

	ProfitTakePercent float64
	StopLossPercent   float64

	Status     PositionStatus
	ExitReason *ExitReason
	ExitPrice  *float64
	ExitTxID   *string

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// PnLPercentAt returns the unrealized profit/loss percent at the given price.
func (p *Position) PnLPercentAt(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// ApplyPrice recomputes the price-derived fields from a fresh quote. All four
// fields change in one step; callers must never set them individually.
func (p *Position) ApplyPrice(price float64, at time.Time) {
	p.CurrentPrice = price
	p.CurrentValue = p.Amount * price
	p.PnLPercent = p.PnLPercentAt(price)
	p.PnLValue = p.CurrentValue - p.EntryValue
	p.UpdatedAt = at
}

// Close transitions the position to its terminal state. Only open or pending
// positions can be closed; a closed position is immutable.
func (p *Position) Close(reason ExitReason, exitPrice float64, txID string, at time.Time) error {
	if p.Status == StatusClosed {
		return fmt.Errorf("position %s is already closed", p.ID)
	}
	p.ApplyPrice(exitPrice, at)
	p.Status = StatusClosed
	p.ExitReason = &reason
	p.ExitPrice = &exitPrice
	p.ExitTxID = &txID
	p.ClosedAt = &at
	return nil
}

// IsOpen reports whether the position is still being monitored.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}
