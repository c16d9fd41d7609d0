package ports

import (
	"context"

	"github.com/alejandrodnm/auctionbets/internal/domain"
)

// EventSink recibe cada evento después de que su operación se confirmó.
// Un error del sink no deshace la operación.
type EventSink interface {
	Publish(ctx context.Context, e domain.Event) error
}
