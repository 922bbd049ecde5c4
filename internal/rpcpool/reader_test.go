package rpcpool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testAddress = "So11111111111111111111111111111111111111112"

func newRPCServer(t *testing.T, hits *atomic.Int32, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

const (
	balanceOKBody = `{"jsonrpc":"2.0","result":{"context":{"slot":100},"value":2500000},"id":1}`
	rateLimitBody = `{"jsonrpc":"2.0","error":{"code":429,"message":"Too many requests"},"id":1}`
	genericErr    = `{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid param: WrongSize"},"id":1}`
)

func newReader(t *testing.T, fallbacks []string) *BalanceReader {
	t.Helper()
	return NewBalanceReader(fallbacks, 2*time.Second, zaptest.NewLogger(t))
}

func TestBalanceReader_PrimaryFirst(t *testing.T) {
	var fallbackHits atomic.Int32
	primary := newRPCServer(t, nil, balanceOKBody)
	defer primary.Close()
	fallback := newRPCServer(t, &fallbackHits, balanceOKBody)
	defer fallback.Close()

	reader := newReader(t, []string{fallback.URL})

	balance, err := reader.GetBalance(context.Background(), primary.URL, testAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500000), balance)
	assert.Equal(t, int32(0), fallbackHits.Load())
}

func TestBalanceReader_FallsThroughOnFailure(t *testing.T) {
	primary := newRPCServer(t, nil, rateLimitBody)
	defer primary.Close()
	fallback := newRPCServer(t, nil, balanceOKBody)
	defer fallback.Close()

	reader := newReader(t, []string{fallback.URL})

	balance, err := reader.GetBalance(context.Background(), primary.URL, testAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500000), balance)
}

func TestBalanceReader_AllRateLimited(t *testing.T) {
	a := newRPCServer(t, nil, rateLimitBody)
	defer a.Close()
	b := newRPCServer(t, nil, rateLimitBody)
	defer b.Close()

	reader := newReader(t, []string{b.URL})

	_, err := reader.GetBalance(context.Background(), a.URL, testAddress)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllRateLimited)
	assert.Equal(t, "All RPCs rate limited", err.Error())
}

func TestBalanceReader_MixedErrorsReturnLast(t *testing.T) {
	a := newRPCServer(t, nil, rateLimitBody)
	defer a.Close()
	b := newRPCServer(t, nil, genericErr)
	defer b.Close()

	reader := newReader(t, []string{b.URL})

	_, err := reader.GetBalance(context.Background(), a.URL, testAddress)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAllRateLimited)

	var rpcErr *jsonrpc.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, "Invalid param: WrongSize", rpcErr.Message)
}

func TestBalanceReader_Candidates(t *testing.T) {
	reader := newReader(t, []string{"https://a.example", "https://b.example"})

	// Primary first, duplicates removed.
	assert.Equal(t,
		[]string{"https://a.example", "https://b.example"},
		reader.Candidates("https://a.example"))

	assert.Equal(t,
		[]string{"https://c.example", "https://a.example", "https://b.example"},
		reader.Candidates("https://c.example"))

	assert.Equal(t,
		[]string{"https://a.example", "https://b.example"},
		reader.Candidates(""))
}

func TestBalanceReader_InvalidAddress(t *testing.T) {
	reader := newReader(t, []string{"https://a.example"})
	_, err := reader.GetBalance(context.Background(), "", "not-base58-!!!")
	assert.Error(t, err)
}

func TestBalanceReader_NoEndpoints(t *testing.T) {
	reader := newReader(t, nil)
	_, err := reader.GetBalance(context.Background(), "", testAddress)
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"code 429", &jsonrpc.RPCError{Code: 429, Message: "slow down"}, true},
		{"code -32429", &jsonrpc.RPCError{Code: -32429, Message: "throttled"}, true},
		{"message substring", &jsonrpc.RPCError{Code: -32000, Message: "Rate limit exceeded"}, true},
		{"generic rpc error", &jsonrpc.RPCError{Code: -32602, Message: "Invalid param"}, false},
		{"transport 429", errors.New("unexpected status code: 429"), true},
		{"transport other", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRateLimited(tt.err))
		})
	}
}

func TestFeeSampler_RecentFees(t *testing.T) {
	srv := newRPCServer(t, nil, `{"jsonrpc":"2.0","result":[`+
		`{"slot":100,"prioritizationFee":0},`+
		`{"slot":101,"prioritizationFee":1500},`+
		`{"slot":102,"prioritizationFee":800}],"id":1}`)
	defer srv.Close()

	sampler := NewFeeSampler([]string{srv.URL}, 2*time.Second, zaptest.NewLogger(t))

	fees, err := sampler.RecentFees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1500, 800}, fees)
}

func TestFeeSampler_FallsThrough(t *testing.T) {
	bad := newRPCServer(t, nil, rateLimitBody)
	defer bad.Close()
	good := newRPCServer(t, nil, `{"jsonrpc":"2.0","result":[{"slot":1,"prioritizationFee":42}],"id":1}`)
	defer good.Close()

	sampler := NewFeeSampler([]string{bad.URL, good.URL}, 2*time.Second, zaptest.NewLogger(t))

	fees, err := sampler.RecentFees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, fees)
}
