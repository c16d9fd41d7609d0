package main

import (
	"context"
	"fmt"
	"io"

	"github.com/alejandrodnm/auctionbets/config"
	"github.com/alejandrodnm/auctionbets/internal/adapters/notify"
	"github.com/alejandrodnm/auctionbets/internal/adapters/storage"
	"github.com/alejandrodnm/auctionbets/internal/domain"
)

const reportRecentEvents = 20

// runReport imprime el libro persistido sin levantar el motor.
func runReport(ctx context.Context, cfg *config.Config, out io.Writer) error {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage %q: %w", cfg.Storage.DSN, err)
	}
	defer store.Close()

	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	console := notify.NewConsoleWriter(out)
	console.SetDecimals(cfg.Ledger.Decimals)

	if len(snap.Markets) == 0 {
		fmt.Fprintln(out, "No markets yet.")
	} else {
		console.PrintMarkets(snap.Markets)
	}
	byMarket := make(map[uint64][]domain.Position)
	for _, p := range snap.Positions {
		byMarket[p.MarketID] = append(byMarket[p.MarketID], p)
	}
	for _, m := range snap.Markets {
		if positions := byMarket[m.ID]; len(positions) > 0 {
			fmt.Fprintf(out, "\nMarket #%d positions\n", m.ID)
			console.PrintPositions(m, positions)
		}
	}
	console.PrintSummary(snap)

	var since uint64
	if snap.LastSeq > reportRecentEvents {
		since = snap.LastSeq - reportRecentEvents
	}
	events, err := store.LoadEvents(ctx, since, reportRecentEvents)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	if len(events) > 0 {
		fmt.Fprintf(out, "\nLast %d events\n", len(events))
		for _, e := range events {
			if err := console.Publish(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}
