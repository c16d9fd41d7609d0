package ports

import (
	"context"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// BookStorage persiste el estado del motor y su journal de eventos.
type BookStorage interface {
	SaveSubject(ctx context.Context, s domain.SubjectConfig) error
	SaveMarket(ctx context.Context, m domain.Market) error
	SavePosition(ctx context.Context, p domain.Position) error

	// SavePendingTransfer registra una transferencia sin confirmar;
	// DeletePendingTransfer la borra una vez reconciliada.
	SavePendingTransfer(ctx context.Context, t domain.PendingTransfer) error
	DeletePendingTransfer(ctx context.Context, txHash common.Hash) error

	// AppendEvent agrega un evento al journal; los eventos nunca se reescriben.
	AppendEvent(ctx context.Context, e domain.Event) error

	// LoadSnapshot devuelve el libro completo persistido, para Restore.
	LoadSnapshot(ctx context.Context) (domain.Snapshot, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
