package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/holiman/uint256"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
)

// Console implementa ports.EventSink y además imprime reportes del libro.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	decimals int32 // decimales del token de colateral; 0 = unidades base
	quiet    bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(decimals int32, quiet bool) *Console {
	return &Console{out: os.Stdout, decimals: decimals, quiet: quiet}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// SetDecimals cambia los decimales con los que se muestran los montos.
func (c *Console) SetDecimals(decimals int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decimals = decimals
}

// Publish imprime una línea compacta por evento.
func (c *Console) Publish(_ context.Context, e domain.Event) error {
	if c.quiet {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] #%d %-18s", e.At.Format("15:04:05"), e.Seq, e.Kind)
	switch e.Kind {
	case domain.EventSubjectConfigured:
		fmt.Fprintf(&sb, " subject=%s deadline=%s", short(e.Subject.Hex()), e.Deadline.Format("2006-01-02 15:04:05"))
	case domain.EventMarketCreated:
		fmt.Fprintf(&sb, " market=%d subject=%s threshold=%s", e.MarketID, short(e.Subject.Hex()), c.amount(&e.Threshold))
	case domain.EventSharesBought:
		fmt.Fprintf(&sb, " market=%d %s %s in=%s shares=%s avg=%s",
			e.MarketID, short(e.Caller.Hex()), e.Side, c.amount(&e.Amount), c.amount(&e.Shares), Percent(&e.Price))
	case domain.EventClearingPriceSet:
		fmt.Fprintf(&sb, " subject=%s price=%s", short(e.Subject.Hex()), c.amount(&e.Price))
	case domain.EventMarketResolved:
		fmt.Fprintf(&sb, " market=%d outcome=%s (price %s vs threshold %s)",
			e.MarketID, e.Outcome, c.amount(&e.Price), c.amount(&e.Threshold))
	case domain.EventSubjectResolved:
		fmt.Fprintf(&sb, " subject=%s markets=%v", short(e.Subject.Hex()), e.MarketIDs)
	case domain.EventPayoutClaimed:
		fmt.Fprintf(&sb, " market=%d %s payout=%s", e.MarketID, short(e.Caller.Hex()), c.amount(&e.Amount))
	case domain.EventTransferPending, domain.EventTransferConfirmed, domain.EventTransferFailed:
		fmt.Fprintf(&sb, " market=%d %s amount=%s tx=%s", e.MarketID, short(e.Caller.Hex()), c.amount(&e.Amount), short(e.TxHash.Hex()))
	}
	_, err := fmt.Fprintln(c.out, sb.String())
	return err
}

// PrintMarkets imprime la tabla de mercados con su cotización implícita.
func (c *Console) PrintMarkets(markets []domain.Market) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(markets) == 0 {
		fmt.Fprintln(c.out, "no markets")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Subject", "Threshold", "YES pool", "NO pool", "YES", "NO", "Outcome")
	for _, m := range markets {
		yes, no := "-", "-"
		if q, err := domain.QuotePools(m); err == nil {
			yes, no = Percent(&q.Yes), Percent(&q.No)
		}
		table.Append(
			fmt.Sprintf("%d", m.ID),
			short(m.Subject.Hex()),
			c.amount(&m.Threshold),
			c.amount(&m.YesPool),
			c.amount(&m.NoPool),
			yes,
			no,
			string(m.Outcome),
		)
	}
	table.Render()
}

// PrintPositions imprime las posiciones de un mercado.
func (c *Console) PrintPositions(m domain.Market, positions []domain.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\nMarket %d — %s\n", m.ID, m.Outcome)
	if len(positions) == 0 {
		fmt.Fprintln(c.out, "  no positions")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Account", "Staked", "YES shares", "NO shares", "Claimed", "Payout")
	for _, p := range positions {
		claimed := ""
		if p.Claimed {
			claimed = "yes"
		}
		table.Append(
			short(p.Account.Hex()),
			c.amount(&p.Staked),
			c.amount(&p.YesShares),
			c.amount(&p.NoShares),
			claimed,
			c.amount(&p.Payout),
		)
	}
	table.Render()
}

// PrintSummary imprime totales del libro: mercados por estado y colateral en pools.
func (c *Console) PrintSummary(snap domain.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var open, yes, no int
	locked := new(uint256.Int)
	for _, m := range snap.Markets {
		switch m.Outcome {
		case domain.OutcomeYes:
			yes++
		case domain.OutcomeNo:
			no++
		default:
			open++
		}
		locked.Add(locked, m.TotalPool())
	}
	paid := new(uint256.Int)
	for _, p := range snap.Positions {
		paid.Add(paid, &p.Payout)
	}

	fmt.Fprintf(c.out, "\nSubjects: %d | Markets: %d (open %d, YES %d, NO %d) | Positions: %d\n",
		len(snap.Subjects), len(snap.Markets), open, yes, no, len(snap.Positions))
	fmt.Fprintf(c.out, "Pooled: %s | Paid out: %s | Last event: #%d\n",
		c.amount(locked), c.amount(paid), snap.LastSeq)
}

// amount formatea un monto en unidades del token.
func (c *Console) amount(v *uint256.Int) string {
	return FormatUnits(v, c.decimals)
}

// FormatUnits convierte unidades base a decimal con el número de decimales del token.
func FormatUnits(v *uint256.Int, decimals int32) string {
	return decimal.NewFromBigInt(v.ToBig(), -decimals).String()
}

// Percent formatea un precio en punto fijo (1e18 = 100%) como porcentaje.
func Percent(price *uint256.Int) string {
	d := decimal.NewFromBigInt(price.ToBig(), -domain.UnitDecimals).Shift(2)
	return d.StringFixed(2) + "%"
}

func short(hex string) string {
	if len(hex) <= 12 {
		return hex
	}
	return hex[:6] + "…" + hex[len(hex)-4:]
}
