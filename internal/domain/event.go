package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind identifica la operación que produjo un evento.
type EventKind string

const (
	EventSubjectConfigured EventKind = "SUBJECT_CONFIGURED"
	EventMarketCreated     EventKind = "MARKET_CREATED"
	EventSharesBought      EventKind = "SHARES_BOUGHT"
	EventClearingPriceSet  EventKind = "CLEARING_PRICE_SET"
	EventMarketResolved    EventKind = "MARKET_RESOLVED"
	EventSubjectResolved   EventKind = "SUBJECT_RESOLVED"
	EventPayoutClaimed     EventKind = "PAYOUT_CLAIMED"
	EventTransferPending   EventKind = "TRANSFER_PENDING"
	EventTransferConfirmed EventKind = "TRANSFER_CONFIRMED"
	EventTransferFailed    EventKind = "TRANSFER_FAILED"
)

// Event es el registro estructurado de una operación confirmada.
// Solo se rellenan los campos que aplican a Kind.
type Event struct {
	ID        string
	Seq       uint64
	Kind      EventKind
	At        time.Time
	Caller    common.Address
	Subject   common.Address
	MarketID  uint64
	Side      Side
	Amount    uint256.Int // amountIn en compras, payout en claims
	Shares    uint256.Int
	Price     uint256.Int // precio de cierre, o avgPrice en compras
	Threshold uint256.Int
	Outcome   Outcome
	Deadline  time.Time
	MarketIDs []uint64 // mercados resueltos por un SUBJECT_RESOLVED
	TxHash    common.Hash // eventos TRANSFER_*
}
