package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxkarpets/exitwatch/internal/engine"
	"github.com/maxkarpets/exitwatch/internal/fees"
	"github.com/maxkarpets/exitwatch/internal/logger"
	"github.com/maxkarpets/exitwatch/internal/rpcpool"
	"go.uber.org/zap"
)

// MonitorRunner runs one exit-monitoring cycle.
type MonitorRunner interface {
	Run(ctx context.Context, req engine.Request) (*engine.Report, error)
}

// BalanceGetter reads a wallet's lamport balance through the RPC chain.
type BalanceGetter interface {
	GetBalance(ctx context.Context, primary, address string) (uint64, error)
}

// FeeProvider serves the current priority fee estimate.
type FeeProvider interface {
	Refresh(ctx context.Context) *fees.Estimate
}

// RPCConfigSource resolves the user-configured primary RPC endpoint.
type RPCConfigSource interface {
	PrimaryRPC(ctx context.Context) (string, error)
}

// Handlers bundles the API endpoints and their dependencies.
type Handlers struct {
	monitor   MonitorRunner
	balances  BalanceGetter
	feeSource FeeProvider
	rpcConfig RPCConfigSource
	logger    *zap.Logger
}

func NewHandlers(monitor MonitorRunner, balances BalanceGetter, feeSource FeeProvider, rpcConfig RPCConfigSource, zapLogger *zap.Logger) *Handlers {
	return &Handlers{
		monitor:   monitor,
		balances:  balances,
		feeSource: feeSource,
		rpcConfig: rpcConfig,
		logger:    zapLogger.Named("handlers"),
	}
}

type monitorRequest struct {
	UserID       string   `json:"userId"`
	PositionIDs  []string `json:"positionIds,omitempty"`
	ExecuteExits bool     `json:"executeExits"`
}

// Monitor triggers one monitoring cycle for the caller's positions.
// Per-position failures ride inside the 200 response body; only a malformed
// request or a batch-level failure is non-2xx.
func (h *Handlers) Monitor(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.WithRequest(h.logger)

	var req monitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	report, err := h.monitor.Run(r.Context(), engine.Request{
		UserID:       req.UserID,
		PositionIDs:  req.PositionIDs,
		ExecuteExits: req.ExecuteExits,
	})
	if err != nil {
		reqLog.Error("Monitoring cycle failed",
			zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	reqLog.Info("Monitor request served",
		zap.String("user_id", req.UserID),
		zap.Int("total", report.Summary.Total),
		zap.Int("executed", report.Summary.Executed))
	writeJSON(w, http.StatusOK, report)
}

type balanceResponse struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
}

// Balance returns the lamport balance of the address in the URL, read through
// the RPC fallback chain.
func (h *Handlers) Balance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	primary, err := h.rpcConfig.PrimaryRPC(r.Context())
	if err != nil {
		h.logger.Error("Failed to load primary RPC config", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	lamports, err := h.balances.GetBalance(r.Context(), primary, address)
	if err != nil {
		switch {
		case errors.Is(err, rpcpool.ErrAllRateLimited):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, rpcpool.ErrNoEndpoints):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.logger.Warn("Balance lookup failed",
				zap.String("address", address), zap.Error(err))
			writeError(w, http.StatusBadRequest, "could not read balance")
		}
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Address: address, Lamports: lamports})
}

// Fees returns the current priority fee estimate, refreshing it when the
// cooldown window has elapsed.
func (h *Handlers) Fees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.feeSource.Refresh(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
