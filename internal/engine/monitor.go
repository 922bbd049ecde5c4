package engine

import (
	"context"
	"time"

	"github.com/maxkarpets/exitwatch/internal/domain"
	"github.com/maxkarpets/exitwatch/internal/pricing"
	"github.com/maxkarpets/exitwatch/internal/storage"
	"go.uber.org/zap"
)

// errPriceUnavailable is the exact per-position error surfaced to clients
// when no source produced a price this cycle.
const errPriceUnavailable = "Could not fetch current price"

// PriceFetcher resolves a token's current USD price.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, tokenAddress, chain string) (*pricing.PriceSample, error)
}

// Seller executes a sell and returns the transaction identifier.
type Seller interface {
	Sell(ctx context.Context, pos *domain.Position, reason domain.ExitReason) (string, error)
}

// ExitRecorder receives every executed exit, after the position is closed.
type ExitRecorder interface {
	RecordExit(pos *domain.Position, reason domain.ExitReason, exitPrice float64, txID string, at time.Time)
}

// Request scopes one monitoring cycle.
type Request struct {
	UserID       string
	PositionIDs  []string
	ExecuteExits bool
}

// Result is the outcome for a single position in one cycle.
type Result struct {
	PositionID  string             `json:"positionId"`
	TokenSymbol string             `json:"tokenSymbol,omitempty"`
	Action      Action             `json:"action"`
	PnLPercent  float64            `json:"pnlPercent"`
	Price       float64            `json:"price,omitempty"`
	PriceSource pricing.SourceKind `json:"priceSource,omitempty"`
	Executed    bool               `json:"executed"`
	TxID        string             `json:"txId,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Summary aggregates a cycle's per-position outcomes.
type Summary struct {
	Total      int `json:"total"`
	Holding    int `json:"holding"`
	TakeProfit int `json:"takeProfit"`
	StopLoss   int `json:"stopLoss"`
	Executed   int `json:"executed"`
}

// Report is the full outcome of one monitoring cycle.
type Report struct {
	Results   []Result `json:"results"`
	Summary   Summary  `json:"summary"`
	Timestamp string   `json:"timestamp"`
}

// Monitor drives the exit cycle: load open positions, price each one,
// evaluate its bands, and optionally execute triggered exits.
type Monitor struct {
	store    storage.PositionStore
	prices   PriceFetcher
	executor Seller
	audit    ExitRecorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewMonitor(store storage.PositionStore, prices PriceFetcher, executor Seller, logger *zap.Logger) *Monitor {
	return &Monitor{
		store:    store,
		prices:   prices,
		executor: executor,
		logger:   logger.Named("monitor"),
		now:      time.Now,
	}
}

// SetExitRecorder attaches an optional audit sink for executed exits.
func (m *Monitor) SetExitRecorder(rec ExitRecorder) {
	m.audit = rec
}

// Run executes one monitoring cycle. Positions are processed sequentially;
// one position's failure never aborts the rest of the batch. Reads happen
// per position, writes of price-derived fields are batched into one pass at
// the end so a partial cycle cannot leave half the batch stale-marked fresh.
func (m *Monitor) Run(ctx context.Context, req Request) (*Report, error) {
	positions, err := m.store.ListOpen(ctx, req.UserID, req.PositionIDs)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Results:   make([]Result, 0, len(positions)),
		Timestamp: m.now().UTC().Format(time.RFC3339),
	}
	report.Summary.Total = len(positions)

	patches := make([]storage.PricePatch, 0, len(positions))
	for _, pos := range positions {
		result, patch := m.processPosition(ctx, pos, req.ExecuteExits)
		report.Results = append(report.Results, result)
		if patch != nil {
			patches = append(patches, *patch)
		}

		switch result.Action {
		case ActionTakeProfit:
			report.Summary.TakeProfit++
		case ActionStopLoss:
			report.Summary.StopLoss++
		default:
			report.Summary.Holding++
		}
		if result.Executed {
			report.Summary.Executed++
		}
	}

	if len(patches) > 0 {
		if err := m.store.ApplyPricePatches(ctx, patches); err != nil {
			m.logger.Error("Failed to persist price updates", zap.Error(err))
		}
	}

	m.logger.Info("Monitoring cycle complete",
		zap.String("user_id", req.UserID),
		zap.Int("total", report.Summary.Total),
		zap.Int("take_profit", report.Summary.TakeProfit),
		zap.Int("stop_loss", report.Summary.StopLoss),
		zap.Int("executed", report.Summary.Executed))
	return report, nil
}

// processPosition prices and evaluates one position, executing its exit when
// triggered and requested. A nil patch means the stored fields stay untouched.
func (m *Monitor) processPosition(ctx context.Context, pos *domain.Position, execute bool) (Result, *storage.PricePatch) {
	result := Result{
		PositionID:  pos.ID,
		TokenSymbol: pos.TokenSymbol,
		Action:      ActionHold,
	}

	sample, err := m.prices.FetchPrice(ctx, pos.TokenAddress, pos.Chain)
	if err != nil {
		m.logger.Warn("Price unavailable, holding position",
			zap.String("position_id", pos.ID),
			zap.String("token", pos.TokenAddress),
			zap.Error(err))
		result.PnLPercent = pos.PnLPercent
		result.Error = errPriceUnavailable
		return result, nil
	}

	now := m.now().UTC()
	pos.ApplyPrice(sample.PriceUSD, now)
	patch := &storage.PricePatch{
		PositionID:   pos.ID,
		CurrentPrice: pos.CurrentPrice,
		CurrentValue: pos.CurrentValue,
		PnLPercent:   pos.PnLPercent,
		PnLValue:     pos.PnLValue,
		UpdatedAt:    now,
	}

	decision := Evaluate(pos, sample.PriceUSD)
	result.Action = decision.Action
	result.PnLPercent = decision.PnLPercent
	result.Price = sample.PriceUSD
	result.PriceSource = sample.Source

	if !decision.ShouldExit || !execute {
		return result, patch
	}

	claimed, err := m.store.ClaimForExit(ctx, pos.ID)
	if err != nil {
		result.Error = "Failed to claim position: " + err.Error()
		return result, patch
	}
	if !claimed {
		m.logger.Info("Position already claimed by another cycle",
			zap.String("position_id", pos.ID))
		result.Error = "Position is already being exited"
		return result, patch
	}

	txID, err := m.executor.Sell(ctx, pos, decision.Reason)
	if err != nil {
		m.logger.Error("Exit execution failed, releasing position",
			zap.String("position_id", pos.ID),
			zap.String("reason", string(decision.Reason)),
			zap.Error(err))
		if relErr := m.store.Release(ctx, pos.ID); relErr != nil {
			m.logger.Error("Failed to release claimed position",
				zap.String("position_id", pos.ID), zap.Error(relErr))
		}
		result.Error = "Exit execution failed: " + err.Error()
		return result, patch
	}

	closedAt := m.now().UTC()
	if err := m.store.Close(ctx, pos.ID, storage.CloseRecord{
		Reason:       decision.Reason,
		ExitPrice:    sample.PriceUSD,
		ExitTxID:     txID,
		CurrentValue: pos.CurrentValue,
		PnLPercent:   pos.PnLPercent,
		PnLValue:     pos.PnLValue,
		ClosedAt:     closedAt,
	}); err != nil {
		m.logger.Error("Sell succeeded but close failed",
			zap.String("position_id", pos.ID),
			zap.String("tx_id", txID),
			zap.Error(err))
		result.Error = "Position sold but not recorded as closed: " + err.Error()
		result.Executed = true
		result.TxID = txID
		return result, patch
	}

	if err := pos.Close(decision.Reason, sample.PriceUSD, txID, closedAt); err != nil {
		m.logger.Warn("Domain close rejected",
			zap.String("position_id", pos.ID), zap.Error(err))
	}

	if m.audit != nil {
		m.audit.RecordExit(pos, decision.Reason, sample.PriceUSD, txID, closedAt)
	}

	m.logger.Info("Position exited",
		zap.String("position_id", pos.ID),
		zap.String("reason", string(decision.Reason)),
		zap.Float64("pnl_percent", decision.PnLPercent),
		zap.String("tx_id", txID))

	result.Executed = true
	result.TxID = txID
	// The close already wrote the terminal fields; a trailing price patch
	// would race it and is skipped for executed exits.
	return result, nil
}
