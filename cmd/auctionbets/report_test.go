package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/auctionbets/config"
	"github.com/alejandrodnm/auctionbets/internal/adapters/ledger"
	"github.com/alejandrodnm/auctionbets/internal/adapters/storage"
	"github.com/alejandrodnm/auctionbets/internal/application/engine"
	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReport_ReadsPersistedBook(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "book.db")
	operator := common.HexToAddress("0x00000000000000000000000000000000000000a0")
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	painting := common.HexToAddress("0x000000000000000000000000000000000000f00d")

	store, err := storage.NewSQLiteStorage(dsn)
	require.NoError(t, err)
	l := ledger.NewMemory(common.HexToAddress(config.DefaultCustody))
	require.NoError(t, l.Mint(alice, uint256.NewInt(100)))
	l.Approve(alice, uint256.NewInt(100))

	eng := engine.New(engine.Config{Operator: operator}, l, store)
	_, err = eng.ConfigureSubject(ctx, operator, painting, time.Now().Add(time.Hour))
	require.NoError(t, err)
	id, err := eng.CreateMarket(ctx, operator, painting, uint256.NewInt(1000))
	require.NoError(t, err)
	_, err = eng.Buy(ctx, alice, id, domain.SideYes, uint256.NewInt(100), uint256.NewInt(0))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	cfg := &config.Config{Storage: config.StorageConfig{DSN: dsn}}
	var out bytes.Buffer
	require.NoError(t, runReport(ctx, cfg, &out))

	text := out.String()
	assert.Contains(t, text, "Market #1 positions")
	assert.Contains(t, text, "Markets: 1 (open 1, YES 0, NO 0)")
	assert.Contains(t, text, "Last 3 events")
	assert.Contains(t, text, string(domain.EventSharesBought))
}

func TestRunReport_EmptyStore(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{DSN: filepath.Join(t.TempDir(), "empty.db")}}
	var out bytes.Buffer
	require.NoError(t, runReport(context.Background(), cfg, &out))
	assert.Contains(t, out.String(), "No markets yet.")
}
