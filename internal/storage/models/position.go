package models

import (
	"time"

	"github.com/maxkarpets/exitwatch/internal/domain"
)

// Position is the persisted row behind domain.Position.
type Position struct {
	ID           string `gorm:"primaryKey;type:uuid"`
	UserID       string `gorm:"index;not null"`
	TokenAddress string `gorm:"index;not null"`
	TokenSymbol  string
	TokenName    string
	Chain        string `gorm:"default:solana"`

	EntryPrice   float64
	CurrentPrice float64
	Amount       float64
	EntryValue   float64
	CurrentValue float64
	PnLPercent   float64 `gorm:"column:pnl_percent"`
	PnLValue     float64 `gorm:"column:pnl_value"`

	ProfitTakePercent float64
	StopLossPercent   float64

	Status     string `gorm:"index;default:open"`
	ExitReason *string
	ExitPrice  *float64
	ExitTxID   *string `gorm:"column:exit_tx_id"`

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

func (Position) TableName() string {
	return "positions"
}

// ToDomain converts the row into the engine's model.
func (p *Position) ToDomain() *domain.Position {
	pos := &domain.Position{
		ID:                p.ID,
		UserID:            p.UserID,
		TokenAddress:      p.TokenAddress,
		TokenSymbol:       p.TokenSymbol,
		TokenName:         p.TokenName,
		Chain:             p.Chain,
		EntryPrice:        p.EntryPrice,
		CurrentPrice:      p.CurrentPrice,
		Amount:            p.Amount,
		EntryValue:        p.EntryValue,
		CurrentValue:      p.CurrentValue,
		PnLPercent:        p.PnLPercent,
		PnLValue:          p.PnLValue,
		ProfitTakePercent: p.ProfitTakePercent,
		StopLossPercent:   p.StopLossPercent,
		Status:            domain.PositionStatus(p.Status),
		ExitPrice:         p.ExitPrice,
		ExitTxID:          p.ExitTxID,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
		ClosedAt:          p.ClosedAt,
	}
	if p.ExitReason != nil {
		reason := domain.ExitReason(*p.ExitReason)
		pos.ExitReason = &reason
	}
	return pos
}

// APIConfig is one upstream endpoint configuration row: a price source kind,
// the trade API, or the primary RPC.
type APIConfig struct {
	ID      uint   `gorm:"primaryKey"`
	Kind    string `gorm:"uniqueIndex;not null"`
	BaseURL string
	APIKey  string
	Enabled bool `gorm:"default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (APIConfig) TableName() string {
	return "api_configs"
}

// Reserved non-price-source kinds in api_configs.
const (
	KindTradeAPI   = "trade_api"
	KindPrimaryRPC = "rpc_primary"
)
