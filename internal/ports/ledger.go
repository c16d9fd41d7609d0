package ports

import (
	"context"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Ledger es el servicio custodial del activo de liquidación.
// El motor solo mueve fondos entre la cuenta de un participante y su custodia.
//
// Un error que envuelve domain.ErrTransferPending (como
// *domain.PendingTransferError) significa que la transferencia salió y puede
// ejecutarse. Cualquier otro error garantiza que no se movió nada.
type Ledger interface {
	// TransferIn mueve amount desde from hacia la custodia del motor.
	// Requiere allowance previo de from; falla si allowance o balance no alcanzan.
	TransferIn(ctx context.Context, from common.Address, amount *uint256.Int) error

	// TransferOut mueve amount desde la custodia del motor hacia to.
	TransferOut(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// TransferChecker lo implementan los ledgers que pueden dejar transferencias
// pendientes; el motor lo usa para reconciliarlas.
type TransferChecker interface {
	TransferStatus(ctx context.Context, txHash common.Hash) (domain.TransferStatus, error)
}
