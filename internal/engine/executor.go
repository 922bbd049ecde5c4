package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/maxkarpets/exitwatch/internal/domain"
	"github.com/maxkarpets/exitwatch/internal/storage"
	"go.uber.org/zap"
)

// sellRequest is the fixed payload shape the trade-execution API expects.
type sellRequest struct {
	TokenAddress string  `json:"tokenAddress"`
	Chain        string  `json:"chain"`
	Action       string  `json:"action"`
	Amount       float64 `json:"amount"`
	Slippage     float64 `json:"slippage"`
	Reason       string  `json:"reason"`
	PositionID   string  `json:"positionId"`
}

type sellResponse struct {
	TxID      string `json:"txId"`
	Signature string `json:"signature"`
}

// TradeExecutor realizes exits through the external trade-execution API.
// One bounded call per sell, no retries: retry policy belongs to the caller.
type TradeExecutor struct {
	client   *resty.Client
	apiKey   string
	slippage float64
	logger   *zap.Logger
}

// NewTradeExecutor builds an executor for the configured endpoint. The
// slippage tolerance is widened for exits so a sell is not lost to a moving
// market after its threshold fired.
func NewTradeExecutor(cfg storage.TradeAPIConfig, slippage float64, timeout time.Duration, logger *zap.Logger) *TradeExecutor {
	return &TradeExecutor{
		client: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(timeout),
		apiKey:   cfg.APIKey,
		slippage: slippage,
		logger:   logger.Named("trade_executor"),
	}
}

// Sell issues one sell order for the position's full held amount. A non-2xx
// response is a failure carrying the response body as detail; a 2xx response
// yields the transaction id, or "pending" when the API omits it.
func (e *TradeExecutor) Sell(ctx context.Context, pos *domain.Position, reason domain.ExitReason) (string, error) {
	payload := sellRequest{
		TokenAddress: pos.TokenAddress,
		Chain:        pos.Chain,
		Action:       "sell",
		Amount:       pos.Amount,
		Slippage:     e.slippage,
		Reason:       string(reason),
		PositionID:   pos.ID,
	}

	req := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload)
	if e.apiKey != "" {
		req.SetHeader("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := req.Post("/trade")
	if err != nil {
		return "", fmt.Errorf("trade request failed: %w", err)
	}
	if resp.StatusCode()/100 != 2 {
		return "", fmt.Errorf("trade API status %d: %s", resp.StatusCode(), resp.Body())
	}

	var body sellResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		e.logger.Warn("Unparseable trade API response, treating tx as pending",
			zap.String("position_id", pos.ID))
		return "pending", nil
	}

	txID := body.TxID
	if txID == "" {
		txID = body.Signature
	}
	if txID == "" {
		txID = "pending"
	}

	e.logger.Info("Sell executed",
		zap.String("position_id", pos.ID),
		zap.String("reason", string(reason)),
		zap.String("tx_id", txID))
	return txID, nil
}
