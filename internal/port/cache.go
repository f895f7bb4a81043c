package port

import (
	"context"

	"venue-matching-service/internal/domain"
)

type Cache interface {
	SetSnapshot(ctx context.Context, venue string, snap *domain.BookSnapshot) error
	GetSnapshot(ctx context.Context, venue string) (*domain.BookSnapshot, error)
	Invalidate(ctx context.Context, venue string) error
}
