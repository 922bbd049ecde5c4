package rpcpool

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"
)

// rateLimitCode is the application-level code Solana RPC providers return
// alongside HTTP 429 style throttling.
const rateLimitCode = 429

// BalanceReader reads native balances through an ordered fallback chain of
// RPC endpoints. Each candidate gets exactly one attempt per call; there is
// no per-endpoint retry or backoff.
type BalanceReader struct {
	fallbacks []string
	timeout   time.Duration
	logger    *zap.Logger

	// newClient is swappable in tests.
	newClient func(endpoint string) *rpc.Client
}

func NewBalanceReader(fallbacks []string, timeout time.Duration, logger *zap.Logger) *BalanceReader {
	return &BalanceReader{
		fallbacks: fallbacks,
		timeout:   timeout,
		logger:    logger.Named("balance_reader"),
		newClient: rpc.New,
	}
}

// Candidates builds the endpoint order for one call: the caller's primary
// first, then the fixed fallback list with the primary deduplicated.
func (r *BalanceReader) Candidates(primary string) []string {
	var out []string
	if primary != "" {
		out = append(out, primary)
	}
	for _, url := range r.fallbacks {
		if url == primary {
			continue
		}
		out = append(out, url)
	}
	return out
}

// GetBalance returns the lamport balance of address, trying each candidate
// endpoint in order. If every candidate fails with a rate-limit shaped error
// the raised error is ErrAllRateLimited; otherwise the last endpoint's error
// is returned unchanged.
func (r *BalanceReader) GetBalance(ctx context.Context, primary, address string) (uint64, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, err
	}

	candidates := r.Candidates(primary)
	if len(candidates) == 0 {
		return 0, ErrNoEndpoints
	}

	var lastErr error
	allRateLimited := true

	for _, endpoint := range candidates {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		result, err := r.newClient(endpoint).GetBalance(callCtx, pubkey, rpc.CommitmentConfirmed)
		cancel()

		if err == nil {
			return result.Value, nil
		}

		rateLimited := isRateLimited(err)
		if !rateLimited {
			allRateLimited = false
		}
		lastErr = err

		r.logger.Warn("RPC balance attempt failed",
			zap.String("endpoint", endpoint),
			zap.Bool("rate_limited", rateLimited),
			zap.Error(&Error{Err: err, Endpoint: endpoint, Method: "getBalance"}))
	}

	if allRateLimited {
		return 0, ErrAllRateLimited
	}
	return 0, lastErr
}

// isRateLimited classifies an endpoint failure as throttling. Providers are
// inconsistent here: some answer with a JSON-RPC error code, others with a
// bare 429 or a message substring.
func isRateLimited(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == rateLimitCode || rpcErr.Code == -32429 {
			return true
		}
		return containsRateLimitText(rpcErr.Message)
	}
	return containsRateLimitText(err.Error())
}

func containsRateLimitText(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "429")
}
