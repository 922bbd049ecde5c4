package storage

import (
	"context"
	"time"

	"github.com/maxkarpets/exitwatch/internal/domain"
	"github.com/maxkarpets/exitwatch/internal/pricing"
)

// PricePatch is a staged update of one position's price-derived fields. The
// four fields always travel together so a position never ends up with a
// current_value that disagrees with amount * current_price.
type PricePatch struct {
	PositionID   string
	CurrentPrice float64
	CurrentValue float64
	PnLPercent   float64
	PnLValue     float64
	UpdatedAt    time.Time
}

// CloseRecord carries the exit fields written when a position is closed. The
// price-derived fields travel with it because an executed exit skips the
// batched price patch; the close is the final write.
type CloseRecord struct {
	Reason       domain.ExitReason
	ExitPrice    float64
	ExitTxID     string
	CurrentValue float64
	PnLPercent   float64
	PnLValue     float64
	ClosedAt     time.Time
}

// PositionStore is the engine's view of the persisted position table. The
// engine is the sole writer of the price, value, PnL and exit fields.
type PositionStore interface {
	// ListOpen returns the user's open positions, optionally narrowed to an
	// explicit id set.
	ListOpen(ctx context.Context, userID string, ids []string) ([]*domain.Position, error)

	// ApplyPricePatches writes staged price updates. Closed positions are
	// left untouched; individual patch failures do not abort the rest.
	ApplyPricePatches(ctx context.Context, patches []PricePatch) error

	// ClaimForExit atomically moves an open position to pending, reporting
	// whether this caller won the claim. A false result means another
	// invocation is already selling the position.
	ClaimForExit(ctx context.Context, positionID string) (bool, error)

	// Release returns a pending position to open after a failed execution.
	Release(ctx context.Context, positionID string) error

	// Close transitions a pending position to closed with its exit fields.
	Close(ctx context.Context, positionID string, rec CloseRecord) error
}

// TradeAPIConfig is the configured trade-execution endpoint.
type TradeAPIConfig struct {
	BaseURL string
	APIKey  string
	Enabled bool
}

// APIConfigStore supplies per-kind upstream configuration. A kind with no
// enabled row is treated as unavailable.
type APIConfigStore interface {
	EnabledPriceSources(ctx context.Context) ([]pricing.SourceConfig, error)
	TradeAPI(ctx context.Context) (*TradeAPIConfig, error)
	PrimaryRPC(ctx context.Context) (string, error)
}

// Storage aggregates the persistence surface the service wires at startup.
type Storage interface {
	PositionStore
	APIConfigStore
	RunMigrations() error
	CloseDB() error
}
