package toml

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBatchRepository(t *testing.T) *BatchRepository {
	t.Helper()

	config := viper.New()
	config.Set("batches.path", filepath.Join(t.TempDir(), "batches.toml"))

	repo, err := NewBatchRepository(config)
	require.NoError(t, err)
	return repo
}

func TestBatchRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestBatchRepository(t)

	batch := domain.Batch{
		ID:            "triage",
		Name:          "triage",
		Members:       []domain.AccountID{"a@x.test", "b@x.test"},
		Actions:       []domain.ActionID{"archive", "star"},
		MaxConcurrent: 5,
		SearchTerms:   "promo; sale, digest",
		UpdatedAt:     time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Save(context.Background(), batch))

	got, err := repo.GetByID(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch, got)

	batches, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 1)
}

func TestBatchRepositorySaveUpdatesExisting(t *testing.T) {
	t.Parallel()

	repo := newTestBatchRepository(t)
	batch := domain.Batch{ID: "b", Name: "b", Actions: []domain.ActionID{"archive"}}
	require.NoError(t, repo.Save(context.Background(), batch))

	batch.MaxConcurrent = 7
	require.NoError(t, repo.Save(context.Background(), batch))

	got, err := repo.GetByID(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 7, got.MaxConcurrent)
}

func TestBatchRepositoryMissing(t *testing.T) {
	t.Parallel()

	repo := newTestBatchRepository(t)
	_, err := repo.GetByID(context.Background(), "ghost")
	assert.True(t, errors.Is(err, domain.ErrBatchNotFound))

	err = repo.Remove(context.Background(), "ghost")
	assert.True(t, errors.Is(err, domain.ErrBatchNotFound))
}

func TestBatchRepositoryRemove(t *testing.T) {
	t.Parallel()

	repo := newTestBatchRepository(t)
	require.NoError(t, repo.Save(context.Background(), domain.Batch{ID: "b", Name: "b", Actions: []domain.ActionID{"archive"}}))
	require.NoError(t, repo.Remove(context.Background(), "b"))

	batches, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batches)
}
