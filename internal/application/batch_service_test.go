package application

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryAccounts struct {
	accounts map[domain.AccountID]domain.Account
}

func newMemoryAccounts(accs ...domain.Account) *memoryAccounts {
	m := &memoryAccounts{accounts: make(map[domain.AccountID]domain.Account)}
	for _, acc := range accs {
		m.accounts[acc.ID] = acc
	}
	return m
}

func (m *memoryAccounts) GetByID(_ context.Context, id domain.AccountID) (domain.Account, error) {
	acc, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	return acc, nil
}

func (m *memoryAccounts) List(context.Context) ([]domain.Account, error) {
	out := make([]domain.Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		out = append(out, acc)
	}
	return out, nil
}

func (m *memoryAccounts) Save(_ context.Context, account domain.Account) error {
	m.accounts[account.ID] = account
	return nil
}

func (m *memoryAccounts) Remove(_ context.Context, id domain.AccountID) error {
	if _, ok := m.accounts[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	delete(m.accounts, id)
	return nil
}

type memoryBatches struct {
	batches map[domain.BatchID]domain.Batch
}

func newMemoryBatches() *memoryBatches {
	return &memoryBatches{batches: make(map[domain.BatchID]domain.Batch)}
}

func (m *memoryBatches) GetByID(_ context.Context, id domain.BatchID) (domain.Batch, error) {
	batch, ok := m.batches[id]
	if !ok {
		return domain.Batch{}, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, id)
	}
	return batch, nil
}

func (m *memoryBatches) List(context.Context) ([]domain.Batch, error) {
	out := make([]domain.Batch, 0, len(m.batches))
	for _, batch := range m.batches {
		out = append(out, batch)
	}
	return out, nil
}

func (m *memoryBatches) Save(_ context.Context, batch domain.Batch) error {
	m.batches[batch.ID] = batch
	return nil
}

func (m *memoryBatches) Remove(_ context.Context, id domain.BatchID) error {
	delete(m.batches, id)
	return nil
}

type frozenClock struct{ now time.Time }

func (c frozenClock) Now() time.Time { return c.now }

func TestEnsureDefaultBatchCoversAllAccounts(t *testing.T) {
	t.Parallel()

	accounts := newMemoryAccounts(
		domain.Account{ID: "b@x.test"},
		domain.Account{ID: "a@x.test"},
	)
	batches := newMemoryBatches()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	service := NewBatchService(accounts, batches, frozenClock{now: now})

	batch, err := service.EnsureDefaultBatch(context.Background(), []domain.ActionID{"archive"})
	require.NoError(t, err)

	assert.Equal(t, DefaultBatchID, batch.ID)
	assert.Equal(t, []domain.AccountID{"a@x.test", "b@x.test"}, batch.Members)
	assert.Equal(t, []domain.ActionID{"archive"}, batch.Actions)
	assert.Equal(t, now, batch.UpdatedAt)

	stored, err := batches.GetByID(context.Background(), DefaultBatchID)
	require.NoError(t, err)
	assert.Equal(t, batch.Members, stored.Members)
}

func TestEnsureDefaultBatchKeepsExistingActions(t *testing.T) {
	t.Parallel()

	accounts := newMemoryAccounts(domain.Account{ID: "a@x.test"})
	batches := newMemoryBatches()
	require.NoError(t, batches.Save(context.Background(), domain.Batch{
		ID:      DefaultBatchID,
		Name:    "default",
		Actions: []domain.ActionID{"star"},
	}))

	service := NewBatchService(accounts, batches, nil)
	batch, err := service.EnsureDefaultBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.ActionID{"star"}, batch.Actions)
}

func TestSaveRejectsInvalidBatch(t *testing.T) {
	t.Parallel()

	service := NewBatchService(newMemoryAccounts(), newMemoryBatches(), nil)
	_, err := service.Save(context.Background(), domain.Batch{ID: "x", Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action")
}

func TestResolveRunBuildsRequestFromBatch(t *testing.T) {
	t.Parallel()

	accounts := newMemoryAccounts(
		domain.Account{ID: "a@x.test", Name: "a"},
		domain.Account{ID: "b@x.test", Name: "b"},
	)
	batches := newMemoryBatches()
	require.NoError(t, batches.Save(context.Background(), domain.Batch{
		ID:            "triage",
		Name:          "triage",
		Members:       []domain.AccountID{"a@x.test", "b@x.test"},
		Actions:       []domain.ActionID{"archive", "star"},
		MaxConcurrent: 4,
		SearchTerms:   "promo, sale",
	}))

	service := NewBatchService(accounts, batches, nil)
	req, err := service.ResolveRun(context.Background(), "triage")
	require.NoError(t, err)

	assert.Len(t, req.Accounts, 2)
	assert.Equal(t, []domain.ActionID{"archive", "star"}, req.Actions)
	assert.Equal(t, 4, req.MaxConcurrent)
	assert.Equal(t, "promo, sale", req.Shared[domain.SharedSearchTerms])
}

func TestResolveRunFailsOnUnknownMember(t *testing.T) {
	t.Parallel()

	batches := newMemoryBatches()
	require.NoError(t, batches.Save(context.Background(), domain.Batch{
		ID:      "triage",
		Name:    "triage",
		Members: []domain.AccountID{"ghost@x.test"},
		Actions: []domain.ActionID{"archive"},
	}))

	service := NewBatchService(newMemoryAccounts(), batches, nil)
	_, err := service.ResolveRun(context.Background(), "triage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost@x.test")
}

func TestResolveRunFailsOnEmptyBatch(t *testing.T) {
	t.Parallel()

	batches := newMemoryBatches()
	require.NoError(t, batches.Save(context.Background(), domain.Batch{
		ID:      "empty",
		Name:    "empty",
		Actions: []domain.ActionID{"archive"},
	}))

	service := NewBatchService(newMemoryAccounts(), batches, nil)
	_, err := service.ResolveRun(context.Background(), "empty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no member accounts")
}

func TestAccountServiceAddDerivesNameAndSecretRef(t *testing.T) {
	t.Parallel()

	repo := newMemoryAccounts()
	service := NewAccountService(repo)

	account, err := service.Add(context.Background(), " alice@example.com ", "")
	require.NoError(t, err)

	assert.Equal(t, domain.AccountID("alice@example.com"), account.ID)
	assert.Equal(t, "alice", account.Name)
	assert.Equal(t, account.ID.SecretKey(), account.SecretRef)

	_, err = service.Add(context.Background(), "not-an-address", "")
	require.Error(t, err)
}

func TestAccountServiceListSortsByID(t *testing.T) {
	t.Parallel()

	repo := newMemoryAccounts(
		domain.Account{ID: "c@x.test"},
		domain.Account{ID: "a@x.test"},
		domain.Account{ID: "b@x.test"},
	)
	service := NewAccountService(repo)

	accounts, err := service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, domain.AccountID("a@x.test"), accounts[0].ID)
	assert.Equal(t, domain.AccountID("c@x.test"), accounts[2].ID)
}
