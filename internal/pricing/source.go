package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// SourceKind identifies one of the supported price source APIs. The set is
// closed: adding a source means adding a variant here plus its adapter.
type SourceKind string

const (
	KindDexScreener SourceKind = "dexscreener"
	KindBirdeye     SourceKind = "birdeye"
	KindJupiter     SourceKind = "jupiter"
)

// SourceConfig is one row from the API configuration store.
type SourceConfig struct {
	Kind    SourceKind
	BaseURL string
	APIKey  string
	Enabled bool
}

// PriceSample is a single quote from one source. It is ephemeral; the
// evaluator consumes it immediately and nothing persists it.
type PriceSample struct {
	TokenAddress string
	PriceUSD     float64
	Change24h    *float64
	Source       SourceKind
	FetchedAt    time.Time
}

// ErrNoPrice means a source answered but its body carried no usable price.
// Transport failures and shape deviations both collapse into this.
var ErrNoPrice = errors.New("no usable price in source response")

// Source fetches a price for one token from one upstream API.
type Source interface {
	Kind() SourceKind
	Fetch(ctx context.Context, tokenAddress, chain string) (*PriceSample, error)
}

// NewSource builds the adapter for a configured source kind.
func NewSource(cfg SourceConfig, timeout time.Duration, logger *zap.Logger) (Source, error) {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout)

	switch cfg.Kind {
	case KindDexScreener:
		return &dexScreenerSource{client: client, logger: logger.Named("dexscreener")}, nil
	case KindBirdeye:
		return &birdeyeSource{client: client, apiKey: cfg.APIKey, logger: logger.Named("birdeye")}, nil
	case KindJupiter:
		return &jupiterSource{client: client, logger: logger.Named("jupiter")}, nil
	default:
		return nil, fmt.Errorf("unknown price source kind: %s", cfg.Kind)
	}
}

type dexScreenerSource struct {
	client *resty.Client
	logger *zap.Logger
}

func (s *dexScreenerSource) Kind() SourceKind { return KindDexScreener }

func (s *dexScreenerSource) Fetch(ctx context.Context, tokenAddress, _ string) (*PriceSample, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		Get("/latest/dex/tokens/" + tokenAddress)
	if err != nil {
		return nil, fmt.Errorf("dexscreener request failed: %w", err)
	}
	if resp.StatusCode()/100 != 2 {
		return nil, fmt.Errorf("dexscreener status %d: %w", resp.StatusCode(), ErrNoPrice)
	}

	var body struct {
		Pairs []struct {
			PriceUsd    string `json:"priceUsd"`
			PriceChange struct {
				H24 *float64 `json:"h24"`
			} `json:"priceChange"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, ErrNoPrice
	}
	if len(body.Pairs) == 0 {
		return nil, ErrNoPrice
	}

	price, err := strconv.ParseFloat(body.Pairs[0].PriceUsd, 64)
	if err != nil || price <= 0 {
		return nil, ErrNoPrice
	}

	return &PriceSample{
		TokenAddress: tokenAddress,
		PriceUSD:     price,
		Change24h:    body.Pairs[0].PriceChange.H24,
		Source:       KindDexScreener,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

type birdeyeSource struct {
	client *resty.Client
	apiKey string
	logger *zap.Logger
}

func (s *birdeyeSource) Kind() SourceKind { return KindBirdeye }

func (s *birdeyeSource) Fetch(ctx context.Context, tokenAddress, chain string) (*PriceSample, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("X-API-KEY", s.apiKey).
		SetHeader("x-chain", chain).
		SetQueryParam("address", tokenAddress).
		Get("/defi/price")
	if err != nil {
		return nil, fmt.Errorf("birdeye request failed: %w", err)
	}
	if resp.StatusCode()/100 != 2 {
		return nil, fmt.Errorf("birdeye status %d: %w", resp.StatusCode(), ErrNoPrice)
	}

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Value          float64  `json:"value"`
			PriceChange24h *float64 `json:"priceChange24h"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, ErrNoPrice
	}
	if !body.Success || body.Data.Value <= 0 {
		return nil, ErrNoPrice
	}

	return &PriceSample{
		TokenAddress: tokenAddress,
		PriceUSD:     body.Data.Value,
		Change24h:    body.Data.PriceChange24h,
		Source:       KindBirdeye,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

type jupiterSource struct {
	client *resty.Client
	logger *zap.Logger
}

func (s *jupiterSource) Kind() SourceKind { return KindJupiter }

func (s *jupiterSource) Fetch(ctx context.Context, tokenAddress, _ string) (*PriceSample, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("ids", tokenAddress).
		Get("/price/v2")
	if err != nil {
		return nil, fmt.Errorf("jupiter request failed: %w", err)
	}
	if resp.StatusCode()/100 != 2 {
		return nil, fmt.Errorf("jupiter status %d: %w", resp.StatusCode(), ErrNoPrice)
	}

	var body struct {
		Data map[string]struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, ErrNoPrice
	}

	entry, ok := body.Data[tokenAddress]
	if !ok {
		return nil, ErrNoPrice
	}
	price, err := strconv.ParseFloat(entry.Price, 64)
	if err != nil || price <= 0 {
		return nil, ErrNoPrice
	}

	return &PriceSample{
		TokenAddress: tokenAddress,
		PriceUSD:     price,
		Source:       KindJupiter,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

// requiresAPIKey reports whether a kind cannot be queried anonymously.
func requiresAPIKey(kind SourceKind) bool {
	return kind == KindBirdeye
}
