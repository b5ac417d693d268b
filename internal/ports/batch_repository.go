package ports

import (
	"context"

	"github.com/bnema/gmail-fleet/internal/domain"
)

type BatchRepository interface {
	GetByID(ctx context.Context, id domain.BatchID) (domain.Batch, error)
	List(ctx context.Context) ([]domain.Batch, error)
	Save(ctx context.Context, batch domain.Batch) error
	Remove(ctx context.Context, id domain.BatchID) error
}
