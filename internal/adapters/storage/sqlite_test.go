package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/auctionbets/internal/adapters/storage"
	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	painting = common.HexToAddress("0x000000000000000000000000000000000000f00d")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func openMemory(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStorage_EmptySnapshot(t *testing.T) {
	db := openMemory(t)

	snap, err := db.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Subjects)
	assert.Empty(t, snap.Markets)
	assert.Empty(t, snap.Positions)
	assert.Zero(t, snap.LastSeq)
}

func TestSQLiteStorage_SnapshotRoundTrip(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sub := domain.SubjectConfig{Subject: painting, Deadline: now.Add(time.Hour), ConfiguredAt: now}
	require.NoError(t, db.SaveSubject(ctx, sub))

	// Montos que no caben en 64 bits.
	big := domain.MustAmount("123456789012345678901234567890")
	m := domain.NewMarket(1, painting, big, now)
	require.NoError(t, db.SaveMarket(ctx, m))

	m.YesPool.SetUint64(100)
	m.YesShares.SetUint64(133)
	require.NoError(t, db.SaveMarket(ctx, m))

	p := domain.Position{MarketID: 1, Account: alice}
	p.YesShares.SetUint64(133)
	p.Staked.SetUint64(100)
	require.NoError(t, db.SavePosition(ctx, p))

	// El precio se fija después: upsert sobre la misma fila.
	sub.PriceSet = true
	sub.ClearingPrice = *uint256.NewInt(1500)
	sub.PriceSetAt = now.Add(2 * time.Hour)
	require.NoError(t, db.SaveSubject(ctx, sub))

	snap, err := db.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Subjects, 1)
	require.Len(t, snap.Markets, 1)
	require.Len(t, snap.Positions, 1)

	assert.Equal(t, sub, snap.Subjects[0])
	assert.Equal(t, m, snap.Markets[0])
	assert.Equal(t, p, snap.Positions[0])
	assert.Equal(t, "123456789012345678901234567890", snap.Markets[0].Threshold.Dec())
}

func TestSQLiteStorage_EventJournal(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev := domain.Event{
		ID:        "0b6f1c9e-1111-4c4c-9a9a-000000000001",
		Seq:       1,
		Kind:      domain.EventSubjectResolved,
		At:        at,
		Subject:   painting,
		Price:     *uint256.NewInt(250),
		MarketIDs: []uint64{1, 3},
	}
	require.NoError(t, db.AppendEvent(ctx, ev))

	buy := domain.Event{
		ID: "0b6f1c9e-1111-4c4c-9a9a-000000000002", Seq: 2, Kind: domain.EventSharesBought,
		At: at, Caller: alice, MarketID: 1, Side: domain.SideYes,
		Amount: *uint256.NewInt(100), Shares: *uint256.NewInt(133),
	}
	require.NoError(t, db.AppendEvent(ctx, buy))

	// seq duplicado
	assert.Error(t, db.AppendEvent(ctx, buy))

	events, err := db.LoadEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ev, events[0])
	assert.Equal(t, buy.Shares, events[1].Shares)
	assert.Nil(t, events[1].MarketIDs)

	tail, err := db.LoadEvents(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(2), tail[0].Seq)

	snap, err := db.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.LastSeq)
}

func TestSQLiteStorage_PendingTransfers(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	in := domain.PendingTransfer{
		TxHash:    common.HexToHash("0x01"),
		Direction: domain.TransferIn,
		MarketID:  1,
		Account:   alice,
		Amount:    *uint256.NewInt(100),
		Side:      domain.SideYes,
		Shares:    *uint256.NewInt(133),
		At:        now,
	}
	out := domain.PendingTransfer{
		TxHash:    common.HexToHash("0x02"),
		Direction: domain.TransferOut,
		MarketID:  1,
		Account:   alice,
		Amount:    *uint256.NewInt(200),
		Side:      domain.SideYes,
		At:        now.Add(time.Minute),
	}
	require.NoError(t, db.SavePendingTransfer(ctx, in))
	require.NoError(t, db.SavePendingTransfer(ctx, out))
	require.NoError(t, db.SavePendingTransfer(ctx, out), "saving twice is idempotent")

	snap, err := db.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Pending, 2)
	assert.Equal(t, in, snap.Pending[0])
	assert.Equal(t, out, snap.Pending[1])

	require.NoError(t, db.DeletePendingTransfer(ctx, in.TxHash))
	snap, err = db.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, out.TxHash, snap.Pending[0].TxHash)
}

func TestSQLiteStorage_EventTxHash(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	hash := common.HexToHash("0xbeef")

	require.NoError(t, db.AppendEvent(ctx, domain.Event{Seq: 1, ID: "a", Kind: domain.EventSharesBought}))
	require.NoError(t, db.AppendEvent(ctx, domain.Event{Seq: 2, ID: "b", Kind: domain.EventTransferPending, TxHash: hash}))

	events, err := db.LoadEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, common.Hash{}, events[0].TxHash)
	assert.Equal(t, hash, events[1].TxHash)
}
