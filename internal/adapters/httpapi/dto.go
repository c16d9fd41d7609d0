package httpapi

import (
	"time"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Montos y precios viajan como strings decimales: uint256 no cabe en un
// número JSON sin perder precisión.

type subjectDTO struct {
	Subject       string     `json:"subject"`
	Deadline      time.Time  `json:"deadline"`
	TradingOpen   bool       `json:"trading_open"`
	PriceSet      bool       `json:"price_set"`
	ClearingPrice string     `json:"clearing_price,omitempty"`
	ConfiguredAt  time.Time  `json:"configured_at"`
	PriceSetAt    *time.Time `json:"price_set_at,omitempty"`
}

func toSubjectDTO(s domain.SubjectConfig, now time.Time) subjectDTO {
	dto := subjectDTO{
		Subject:      s.Subject.Hex(),
		Deadline:     s.Deadline,
		TradingOpen:  s.TradingOpen(now),
		PriceSet:     s.PriceSet,
		ConfiguredAt: s.ConfiguredAt,
	}
	if s.PriceSet {
		dto.ClearingPrice = s.ClearingPrice.Dec()
		dto.PriceSetAt = timePtr(s.PriceSetAt)
	}
	return dto
}

type marketDTO struct {
	ID         uint64     `json:"id"`
	Subject    string     `json:"subject"`
	Threshold  string     `json:"threshold"`
	YesPool    string     `json:"yes_pool"`
	NoPool     string     `json:"no_pool"`
	TotalPool  string     `json:"total_pool"`
	YesShares  string     `json:"yes_shares"`
	NoShares   string     `json:"no_shares"`
	Outcome    string     `json:"outcome"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func toMarketDTO(m domain.Market) marketDTO {
	return marketDTO{
		ID:         m.ID,
		Subject:    m.Subject.Hex(),
		Threshold:  m.Threshold.Dec(),
		YesPool:    m.YesPool.Dec(),
		NoPool:     m.NoPool.Dec(),
		TotalPool:  m.TotalPool().Dec(),
		YesShares:  m.YesShares.Dec(),
		NoShares:   m.NoShares.Dec(),
		Outcome:    string(m.Outcome),
		CreatedAt:  m.CreatedAt,
		ResolvedAt: timePtr(m.ResolvedAt),
	}
}

type quoteDTO struct {
	MarketID       uint64 `json:"market_id"`
	Yes            string `json:"yes"`
	No             string `json:"no"`
	YesProbability string `json:"yes_probability"`
	NoProbability  string `json:"no_probability"`
}

func toQuoteDTO(id uint64, q domain.PoolQuote) quoteDTO {
	return quoteDTO{
		MarketID:       id,
		Yes:            q.Yes.Dec(),
		No:             q.No.Dec(),
		YesProbability: probability(&q.Yes),
		NoProbability:  probability(&q.No),
	}
}

type tradeDTO struct {
	MarketID  uint64 `json:"market_id"`
	Side      string `json:"side"`
	AmountIn  string `json:"amount_in"`
	P0        string `json:"p0"`
	P1        string `json:"p1"`
	AvgPrice  string `json:"avg_price"`
	SharesOut string `json:"shares_out"`
	PendingTx string `json:"pending_tx,omitempty"`
}

func toTradeDTO(id uint64, q domain.TradeQuote) tradeDTO {
	return tradeDTO{
		MarketID:  id,
		Side:      string(q.Side),
		AmountIn:  q.AmountIn.Dec(),
		P0:        q.P0.Dec(),
		P1:        q.P1.Dec(),
		AvgPrice:  q.AvgPrice.Dec(),
		SharesOut: q.SharesOut.Dec(),
	}
}

type positionDTO struct {
	MarketID  uint64     `json:"market_id"`
	Account   string     `json:"account"`
	YesShares string     `json:"yes_shares"`
	NoShares  string     `json:"no_shares"`
	Staked    string     `json:"staked"`
	Claimed   bool       `json:"claimed"`
	Payout    string     `json:"payout"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

func toPositionDTO(p domain.Position) positionDTO {
	return positionDTO{
		MarketID:  p.MarketID,
		Account:   p.Account.Hex(),
		YesShares: p.YesShares.Dec(),
		NoShares:  p.NoShares.Dec(),
		Staked:    p.Staked.Dec(),
		Claimed:   p.Claimed,
		Payout:    p.Payout.Dec(),
		ClaimedAt: timePtr(p.ClaimedAt),
	}
}

type eventDTO struct {
	ID        string     `json:"id"`
	Seq       uint64     `json:"seq"`
	Kind      string     `json:"kind"`
	At        time.Time  `json:"at"`
	Caller    string     `json:"caller"`
	Subject   string     `json:"subject,omitempty"`
	MarketID  uint64     `json:"market_id,omitempty"`
	Side      string     `json:"side,omitempty"`
	Amount    string     `json:"amount,omitempty"`
	Shares    string     `json:"shares,omitempty"`
	Price     string     `json:"price,omitempty"`
	Threshold string     `json:"threshold,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	MarketIDs []uint64   `json:"market_ids,omitempty"`
	TxHash    string     `json:"tx_hash,omitempty"`
}

func toEventDTO(e domain.Event) eventDTO {
	dto := eventDTO{
		ID:        e.ID,
		Seq:       e.Seq,
		Kind:      string(e.Kind),
		At:        e.At,
		Caller:    e.Caller.Hex(),
		MarketID:  e.MarketID,
		Side:      string(e.Side),
		Amount:    nonZero(&e.Amount),
		Shares:    nonZero(&e.Shares),
		Price:     nonZero(&e.Price),
		Threshold: nonZero(&e.Threshold),
		Outcome:   string(e.Outcome),
		Deadline:  timePtr(e.Deadline),
		MarketIDs: e.MarketIDs,
	}
	if e.Subject != (common.Address{}) {
		dto.Subject = e.Subject.Hex()
	}
	if e.TxHash != (common.Hash{}) {
		dto.TxHash = e.TxHash.Hex()
	}
	return dto
}

type pendingTransferDTO struct {
	TxHash    string    `json:"tx_hash"`
	Direction string    `json:"direction"`
	MarketID  uint64    `json:"market_id"`
	Account   string    `json:"account"`
	Amount    string    `json:"amount"`
	Side      string    `json:"side"`
	Shares    string    `json:"shares,omitempty"`
	At        time.Time `json:"at"`
}

func toPendingTransferDTO(t domain.PendingTransfer) pendingTransferDTO {
	return pendingTransferDTO{
		TxHash:    t.TxHash.Hex(),
		Direction: string(t.Direction),
		MarketID:  t.MarketID,
		Account:   t.Account.Hex(),
		Amount:    t.Amount.Dec(),
		Side:      string(t.Side),
		Shares:    nonZero(&t.Shares),
		At:        t.At,
	}
}

type reconciledDTO struct {
	pendingTransferDTO
	Status string `json:"status"`
}

// --- requests ---

type configureRequest struct {
	Subject  string    `json:"subject"`
	Deadline time.Time `json:"deadline"`
}

type priceRequest struct {
	Price string `json:"price"`
}

type createMarketRequest struct {
	Subject   string `json:"subject"`
	Threshold string `json:"threshold"`
}

type buyRequest struct {
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	MinSharesOut string `json:"min_shares_out"`
}

// --- helpers ---

// probability expresa un precio escalado por U como fracción con 4 decimales.
func probability(price *uint256.Int) string {
	return decimal.NewFromBigInt(price.ToBig(), -domain.UnitDecimals).StringFixed(4)
}

func nonZero(v *uint256.Int) string {
	if v.IsZero() {
		return ""
	}
	return v.Dec()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
