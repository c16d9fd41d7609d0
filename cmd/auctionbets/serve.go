package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/auctionbets/config"
	"github.com/alejandrodnm/auctionbets/internal/adapters/httpapi"
	"github.com/alejandrodnm/auctionbets/internal/adapters/ledger"
	"github.com/alejandrodnm/auctionbets/internal/adapters/onchain"
	"github.com/alejandrodnm/auctionbets/internal/adapters/storage"
	"github.com/alejandrodnm/auctionbets/internal/application/engine"
	"github.com/alejandrodnm/auctionbets/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// runServe levanta el motor restaurado desde SQLite, la API y el hub de eventos.
func runServe(ctx context.Context, cfg *config.Config) error {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage %q: %w", cfg.Storage.DSN, err)
	}
	defer store.Close()

	led, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}

	minStake, err := cfg.MinStake()
	if err != nil {
		return err
	}

	logger := slog.Default()
	hub := httpapi.NewHub(logger)
	eng := engine.New(engine.Config{Operator: cfg.Operator(), MinStake: *minStake}, led, store, hub)

	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := eng.Restore(ctx, snap); err != nil {
		return fmt.Errorf("restore book: %w", err)
	}
	slog.Info("book restored",
		"subjects", len(snap.Subjects),
		"markets", len(snap.Markets),
		"positions", len(snap.Positions),
		"pending_transfers", len(snap.Pending),
		"last_seq", snap.LastSeq,
	)

	srv := httpapi.NewServer(httpapi.Config{
		Port:        cfg.API.Port,
		APIKey:      cfg.API.APIKey,
		CORSOrigins: cfg.API.CORSOrigins,
		RatePerSec:  cfg.API.RPS,
		Burst:       cfg.API.Burst,
	}, eng, hub, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(srv.Start)
	if _, ok := led.(ports.TransferChecker); ok {
		g.Go(func() error {
			reconcileLoop(gctx, eng, cfg.Operator(), cfg.ReconcileInterval())
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// reconcileLoop cierra periódicamente las transferencias que quedaron sin
// receipt, empezando por las restauradas del snapshot.
func reconcileLoop(ctx context.Context, eng *engine.Engine, operator common.Address, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		done, err := eng.Reconcile(ctx, operator)
		if err != nil {
			slog.Warn("reconcile failed", "err", err)
		} else if len(done) > 0 {
			slog.Info("transfers reconciled", "count", len(done))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// openLedger construye el ledger según ledger.mode.
func openLedger(ctx context.Context, cfg *config.Config) (ports.Ledger, error) {
	switch cfg.Ledger.Mode {
	case config.LedgerERC20:
		l, err := onchain.DialERC20Ledger(ctx, cfg.Ledger.RPCURL, onchain.ERC20Config{
			Token:          common.HexToAddress(cfg.Ledger.Token),
			PrivateKeyHex:  cfg.Ledger.PrivateKey,
			ChainID:        cfg.Ledger.ChainID,
			RPCPerSec:      cfg.Ledger.RPS,
			ReceiptTimeout: cfg.ReceiptTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("dial erc20 ledger: %w", err)
		}
		slog.Info("erc20 ledger ready", "token", cfg.Ledger.Token, "custody", l.Custody().Hex())
		return l, nil

	default:
		l := ledger.NewMemory(common.HexToAddress(cfg.Ledger.Custody))
		for addr, amount := range cfg.Ledger.Seed {
			v, err := uint256.FromDecimal(amount)
			if err != nil {
				return nil, fmt.Errorf("ledger.seed[%s]: %w", addr, err)
			}
			account := common.HexToAddress(addr)
			if err := l.Mint(account, v); err != nil {
				return nil, fmt.Errorf("ledger.seed[%s]: %w", addr, err)
			}
			l.Approve(account, v)
		}
		slog.Warn("memory ledger in use: balances are not persisted across restarts",
			"custody", cfg.Ledger.Custody,
			"seeded_accounts", len(cfg.Ledger.Seed),
		)
		return l, nil
	}
}
