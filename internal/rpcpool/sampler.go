package rpcpool

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// FeeSampler reads recent per-transaction prioritization fees from the first
// responsive endpoint in the fallback list. It shares the one-attempt-per-
// endpoint chain shape with BalanceReader.
type FeeSampler struct {
	fallbacks []string
	timeout   time.Duration
	logger    *zap.Logger

	newClient func(endpoint string) *rpc.Client
}

func NewFeeSampler(fallbacks []string, timeout time.Duration, logger *zap.Logger) *FeeSampler {
	return &FeeSampler{
		fallbacks: fallbacks,
		timeout:   timeout,
		logger:    logger.Named("fee_sampler"),
		newClient: rpc.New,
	}
}

// RecentFees returns raw fee samples in micro-lamports per compute unit.
// Zero-fee samples are passed through; the estimator filters them.
func (s *FeeSampler) RecentFees(ctx context.Context) ([]uint64, error) {
	if len(s.fallbacks) == 0 {
		return nil, ErrNoEndpoints
	}

	var lastErr error
	for _, endpoint := range s.fallbacks {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		results, err := s.newClient(endpoint).GetRecentPrioritizationFees(callCtx, nil)
		cancel()

		if err != nil {
			lastErr = err
			s.logger.Warn("Prioritization fee sample attempt failed",
				zap.String("endpoint", endpoint),
				zap.Error(&Error{Err: err, Endpoint: endpoint, Method: "getRecentPrioritizationFees"}))
			continue
		}

		fees := make([]uint64, 0, len(results))
		for _, res := range results {
			fees = append(fees, res.PrioritizationFee)
		}
		return fees, nil
	}
	return nil, lastErr
}
