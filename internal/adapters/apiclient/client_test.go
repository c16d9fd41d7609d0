package apiclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/auctionbets/internal/adapters/httpapi"
	"github.com/alejandrodnm/auctionbets/internal/adapters/ledger"
	"github.com/alejandrodnm/auctionbets/internal/application/engine"
	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	operator = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	painting = common.HexToAddress("0x000000000000000000000000000000000000f00d")
)

type testClock struct{ now atomic.Int64 }

func (c *testClock) Now() time.Time { return time.Unix(0, c.now.Load()).UTC() }
func (c *testClock) Advance(d time.Duration) { c.now.Add(int64(d)) }

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine, *ledger.Memory, *testClock) {
	t.Helper()
	clock := &testClock{}
	clock.now.Store(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixNano())

	l := ledger.NewMemory(common.HexToAddress("0x00000000000000000000000000000000000000c0"))
	eng := engine.New(engine.Config{Operator: operator, Now: clock.Now}, l, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httpapi.NewServer(httpapi.Config{Now: clock.Now}, eng, nil, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, eng, l, clock
}

func TestClient_BuyAndClaim(t *testing.T) {
	ctx := context.Background()
	ts, eng, l, clock := newTestServer(t)

	_, err := eng.ConfigureSubject(ctx, operator, painting, clock.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = eng.CreateMarket(ctx, operator, painting, uint256.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, l.Mint(alice, uint256.NewInt(100)))
	l.Approve(alice, uint256.NewInt(100))

	c := New(Config{BaseURL: ts.URL + "/", Caller: alice})

	op, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, operator, op)

	preview, err := c.PreviewBuy(ctx, 1, domain.SideYes, uint256.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, "133", preview.SharesOut)

	trade, err := c.Buy(ctx, 1, domain.SideYes, uint256.NewInt(100), uint256.NewInt(133))
	require.NoError(t, err)
	assert.Equal(t, "133", trade.SharesOut)
	assert.Equal(t, "750000000000000000", trade.AvgPrice)

	m, err := c.Market(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "100", m.YesPool)

	quote, err := c.Quote(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "1.0000", quote.YesProbability)

	clock.Advance(2 * time.Hour)
	_, err = eng.SetClearingPrice(ctx, operator, painting, uint256.NewInt(1000))
	require.NoError(t, err)
	_, err = eng.ResolveOne(ctx, operator, 1)
	require.NoError(t, err)

	payout, err := c.Claim(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), payout.Uint64())

	events, err := c.Events(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 6)
	assert.Equal(t, string(domain.EventPayoutClaimed), events[5].Kind)
}

func TestClient_APIErrorCarriesCategory(t *testing.T) {
	ctx := context.Background()
	ts, _, _, _ := newTestServer(t)
	c := New(Config{BaseURL: ts.URL, Caller: alice})

	_, err := c.Market(ctx, 42)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.True(t, IsCategory(err, domain.CategoryLifecycle))

	_, err = c.Buy(ctx, 1, domain.SideYes, uint256.NewInt(0), nil)
	assert.True(t, IsCategory(err, domain.CategoryEconomic))

	_, err = c.WithCaller(common.Address{}).Claim(ctx, 1)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestClient_RetriesOnlyIdempotentRequests(t *testing.T) {
	var gets, posts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if gets.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":7,"outcome":"UNDECIDED"}`)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Caller: alice})
	c.backoff = time.Millisecond

	m, err := c.Market(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), m.ID)
	assert.Equal(t, int32(3), gets.Load())

	_, err = c.Claim(context.Background(), 7)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, int32(1), posts.Load())
}

func TestClient_RetriesRateLimitedPost(t *testing.T) {
	var posts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if posts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"payout":"42"}`)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Caller: alice})
	c.backoff = time.Millisecond

	payout, err := c.Claim(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), payout.Uint64())
	assert.Equal(t, int32(2), posts.Load())
}
