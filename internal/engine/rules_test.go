package engine

import (
	"testing"

	"github.com/maxkarpets/exitwatch/internal/domain"
	"github.com/stretchr/testify/assert"
)

func testPosition() *domain.Position {
	return &domain.Position{
		ID:                "pos-1",
		EntryPrice:        1.00,
		ProfitTakePercent: 50,
		StopLossPercent:   20,
		Status:            domain.StatusOpen,
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		price      float64
		wantAction Action
		wantPnL    float64
	}{
		{"take profit above band", 1.55, ActionTakeProfit, 55},
		{"stop loss below band", 0.79, ActionStopLoss, -21},
		{"hold inside band", 1.10, ActionHold, 10},
		{"take profit exactly at threshold", 1.50, ActionTakeProfit, 50},
		{"stop loss exactly at threshold", 0.80, ActionStopLoss, -20},
		{"hold just under take profit", 1.4999, ActionHold, 49.99},
		{"hold just above stop loss", 0.8001, ActionHold, -19.99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := Evaluate(testPosition(), tt.price)

			assert.Equal(t, tt.wantAction, decision.Action)
			assert.InDelta(t, tt.wantPnL, decision.PnLPercent, 1e-6)
			assert.Equal(t, tt.wantAction != ActionHold, decision.ShouldExit)
		})
	}
}

func TestEvaluate_TakeProfitCheckedFirst(t *testing.T) {
	// Degenerate thresholds where both conditions are satisfiable: the
	// take-profit check must win because it runs first.
	pos := testPosition()
	pos.ProfitTakePercent = -10
	pos.StopLossPercent = -20 // stop-loss band at pnl <= +20

	decision := Evaluate(pos, 1.05) // pnl = +5, satisfies both
	assert.Equal(t, ActionTakeProfit, decision.Action)
	assert.Equal(t, domain.ExitTakeProfit, decision.Reason)
}

func TestEvaluate_PerPositionThresholds(t *testing.T) {
	tight := testPosition()
	tight.ProfitTakePercent = 5

	wide := testPosition()
	wide.ProfitTakePercent = 500

	assert.Equal(t, ActionTakeProfit, Evaluate(tight, 1.10).Action)
	assert.Equal(t, ActionHold, Evaluate(wide, 1.10).Action)
}
