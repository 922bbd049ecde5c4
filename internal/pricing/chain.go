package pricing

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrPriceNotFound means every enabled source was tried and none produced a
// usable price. Callers skip the token for this cycle; it is not fatal.
var ErrPriceNotFound = errors.New("price not found on any source")

// priorityOrder fixes the order sources are tried in. Sources missing from a
// configuration set are simply absent from the walk.
var priorityOrder = []SourceKind{KindDexScreener, KindBirdeye, KindJupiter}

// Chain queries price sources in priority order and returns the first usable
// quote. Unlike the RPC balance reader it never aggregates: the first success
// short-circuits the walk.
type Chain struct {
	sources []Source
	logger  *zap.Logger
}

// NewChain builds the oracle chain from configuration rows. Disabled rows and
// key-requiring rows without a key are dropped here, so FetchPrice only ever
// walks usable sources.
func NewChain(configs []SourceConfig, timeout time.Duration, logger *zap.Logger) (*Chain, error) {
	byKind := make(map[SourceKind]SourceConfig, len(configs))
	for _, cfg := range configs {
		byKind[cfg.Kind] = cfg
	}

	chain := &Chain{logger: logger.Named("price_chain")}
	for _, kind := range priorityOrder {
		cfg, ok := byKind[kind]
		if !ok || !cfg.Enabled {
			continue
		}
		if requiresAPIKey(kind) && cfg.APIKey == "" {
			chain.logger.Warn("Price source skipped: missing API key",
				zap.String("source", string(kind)))
			continue
		}
		src, err := NewSource(cfg, timeout, logger)
		if err != nil {
			return nil, err
		}
		chain.sources = append(chain.sources, src)
	}
	return chain, nil
}

// FetchPrice walks the enabled sources and returns the first usable price.
// Per-source failures are logged and swallowed; ErrPriceNotFound is returned
// only after every source has been tried.
func (c *Chain) FetchPrice(ctx context.Context, tokenAddress, chainTag string) (*PriceSample, error) {
	for _, src := range c.sources {
		sample, err := src.Fetch(ctx, tokenAddress, chainTag)
		if err != nil {
			c.logger.Warn("Price source failed",
				zap.String("source", string(src.Kind())),
				zap.String("token", tokenAddress),
				zap.Error(err))
			continue
		}
		c.logger.Debug("Price fetched",
			zap.String("source", string(src.Kind())),
			zap.String("token", tokenAddress),
			zap.Float64("price_usd", sample.PriceUSD))
		return sample, nil
	}
	return nil, ErrPriceNotFound
}

// SourceCount returns how many sources survived configuration filtering.
func (c *Chain) SourceCount() int {
	return len(c.sources)
}
