package engine

import "github.com/maxkarpets/exitwatch/internal/domain"

// Action is the outcome of evaluating a position against a fresh price.
type Action string

const (
	ActionHold       Action = "hold"
	ActionTakeProfit Action = "take_profit"
	ActionStopLoss   Action = "stop_loss"
)

// Decision is the evaluator's verdict for one position in one cycle.
type Decision struct {
	PositionID string
	Action     Action
	ShouldExit bool
	Reason     domain.ExitReason
	PnLPercent float64
}

// Evaluate applies the position's own profit-take and stop-loss bands to the
// current price. Pure function, no I/O.
//
// Take-profit is checked before stop-loss, and both comparisons are
// inclusive: a price landing exactly on a threshold triggers the exit.
func Evaluate(pos *domain.Position, currentPrice float64) Decision {
	pnl := pos.PnLPercentAt(currentPrice)

	decision := Decision{
		PositionID: pos.ID,
		Action:     ActionHold,
		PnLPercent: pnl,
	}

	switch {
	case pnl >= pos.ProfitTakePercent:
		decision.Action = ActionTakeProfit
		decision.ShouldExit = true
		decision.Reason = domain.ExitTakeProfit
	case pnl <= -pos.StopLossPercent:
		decision.Action = ActionStopLoss
		decision.ShouldExit = true
		decision.Reason = domain.ExitStopLoss
	}
	return decision
}
