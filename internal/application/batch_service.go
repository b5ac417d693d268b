package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
)

const DefaultBatchID domain.BatchID = "default"

// BatchService maintains named run configurations on top of the account
// and batch repositories.
type BatchService struct {
	accounts ports.AccountRepository
	batches  ports.BatchRepository
	clock    ports.Clock
}

func NewBatchService(accounts ports.AccountRepository, batches ports.BatchRepository, clock ports.Clock) *BatchService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &BatchService{accounts: accounts, batches: batches, clock: clock}
}

// EnsureDefaultBatch creates or updates the default batch to cover every
// registered account with the given actions.
func (s *BatchService) EnsureDefaultBatch(ctx context.Context, actions []domain.ActionID) (domain.Batch, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("list accounts: %w", err)
	}

	members := make([]domain.AccountID, 0, len(accounts))
	for _, account := range accounts {
		members = append(members, account.ID)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	batch, err := s.batches.GetByID(ctx, DefaultBatchID)
	if err != nil {
		if !errors.Is(err, domain.ErrBatchNotFound) {
			return domain.Batch{}, fmt.Errorf("load default batch: %w", err)
		}
		batch = domain.Batch{
			ID:            DefaultBatchID,
			Name:          "default",
			MaxConcurrent: domain.DefaultMaxConcurrent,
		}
	}

	batch.Members = members
	if len(actions) > 0 {
		batch.Actions = actions
	}
	batch.UpdatedAt = s.clock.Now()
	batch.NormalizeMembers()

	if err := batch.Validate(); err != nil {
		return domain.Batch{}, err
	}
	if err := s.batches.Save(ctx, batch); err != nil {
		return domain.Batch{}, fmt.Errorf("save default batch: %w", err)
	}

	return batch, nil
}

func (s *BatchService) Save(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	batch.UpdatedAt = s.clock.Now()
	batch.NormalizeMembers()
	if err := batch.Validate(); err != nil {
		return domain.Batch{}, err
	}
	if err := s.batches.Save(ctx, batch); err != nil {
		return domain.Batch{}, fmt.Errorf("save batch: %w", err)
	}
	return batch, nil
}

func (s *BatchService) Get(ctx context.Context, id domain.BatchID) (domain.Batch, error) {
	return s.batches.GetByID(ctx, id)
}

func (s *BatchService) List(ctx context.Context) ([]domain.Batch, error) {
	return s.batches.List(ctx)
}

func (s *BatchService) Remove(ctx context.Context, id domain.BatchID) error {
	return s.batches.Remove(ctx, id)
}

// ResolveRun turns a stored batch into the orchestrator's run request,
// resolving member ids against the account repository. Unknown members
// fail the resolution rather than being silently skipped.
func (s *BatchService) ResolveRun(ctx context.Context, id domain.BatchID) (RunRequest, error) {
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return RunRequest{}, err
	}
	if len(batch.Members) == 0 {
		return RunRequest{}, fmt.Errorf("batch %s has no member accounts", id)
	}

	accounts := make([]domain.Account, 0, len(batch.Members))
	for _, member := range batch.Members {
		account, err := s.accounts.GetByID(ctx, member)
		if err != nil {
			return RunRequest{}, fmt.Errorf("resolve member %s: %w", member, err)
		}
		accounts = append(accounts, account)
	}

	shared := map[string]any{}
	if terms := strings.TrimSpace(batch.SearchTerms); terms != "" {
		shared[domain.SharedSearchTerms] = terms
	}

	return RunRequest{
		Accounts:      accounts,
		Actions:       batch.Actions,
		Shared:        shared,
		MaxConcurrent: batch.Concurrency(),
	}, nil
}
