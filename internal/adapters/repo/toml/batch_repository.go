package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	batchesPathKey     = "batches.path"
	batchesConfigFile  = "batches.toml"
	batchesTempPattern = ".batches-*.toml.tmp"
)

type BatchRepository struct {
	batchesPath string
	mu          *sync.RWMutex
}

var _ ports.BatchRepository = (*BatchRepository)(nil)

func NewBatchRepository(cfg *viper.Viper) (*BatchRepository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	defaultPath := filepath.Join(homeDir, accountsConfigDir, batchesConfigFile)

	cfg.SetConfigName(configName)
	cfg.SetConfigType(configType)
	cfg.AddConfigPath(filepath.Join(homeDir, accountsConfigDir))
	cfg.SetDefault(batchesPathKey, defaultPath)

	err = cfg.ReadInConfig()
	if err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	batchesPath := cfg.GetString(batchesPathKey)
	if batchesPath == "" {
		return nil, errors.New("batches path is empty")
	}
	batchesPath, err = normalizePath(batchesPath)
	if err != nil {
		return nil, err
	}

	return &BatchRepository{batchesPath: batchesPath, mu: lockForPath(batchesPath)}, nil
}

func (r *BatchRepository) Save(ctx context.Context, batch domain.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}
	file.applyDefaults()

	encoded := toBatchSchema(batch)
	updated := false
	for i := range file.Batches {
		if file.Batches[i].ID == encoded.ID {
			file.Batches[i] = encoded
			updated = true
			break
		}
	}

	if !updated {
		file.Batches = append(file.Batches, encoded)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return r.writeSchema(file)
}

func (r *BatchRepository) GetByID(ctx context.Context, id domain.BatchID) (domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return domain.Batch{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.Batch{}, err
	}
	file.applyDefaults()

	for _, entry := range file.Batches {
		if entry.ID == string(id) {
			return fromBatchSchema(entry), nil
		}
	}

	return domain.Batch{}, domain.ErrBatchNotFound
}

func (r *BatchRepository) List(ctx context.Context) ([]domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return nil, err
	}
	file.applyDefaults()

	batches := make([]domain.Batch, 0, len(file.Batches))
	for _, entry := range file.Batches {
		batches = append(batches, fromBatchSchema(entry))
	}

	return batches, nil
}

func (r *BatchRepository) Remove(ctx context.Context, id domain.BatchID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}
	file.applyDefaults()

	kept := file.Batches[:0]
	found := false
	for _, entry := range file.Batches {
		if entry.ID == string(id) {
			found = true
			continue
		}
		kept = append(kept, entry)
	}
	if !found {
		return domain.ErrBatchNotFound
	}
	file.Batches = kept

	return r.writeSchema(file)
}

func (r *BatchRepository) readSchema() (batchesFileSchema, error) {
	data, err := os.ReadFile(r.batchesPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return batchesFileSchema{}, nil
		}
		return batchesFileSchema{}, fmt.Errorf("read batches file: %w", err)
	}

	var file batchesFileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return batchesFileSchema{}, fmt.Errorf("decode batches file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return batchesFileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func (r *BatchRepository) writeSchema(file batchesFileSchema) error {
	file.applyDefaults()
	return writeAtomically(r.batchesPath, batchesTempPattern, func() ([]byte, error) {
		data, err := toml.Marshal(file)
		if err != nil {
			return nil, fmt.Errorf("encode batches file: %w", err)
		}
		return data, nil
	})
}

func toBatchSchema(batch domain.Batch) batchSchema {
	members := make([]string, 0, len(batch.Members))
	for _, member := range batch.Members {
		members = append(members, string(member))
	}
	actions := make([]string, 0, len(batch.Actions))
	for _, action := range batch.Actions {
		actions = append(actions, string(action))
	}

	return batchSchema{
		ID:            string(batch.ID),
		Name:          batch.Name,
		Members:       members,
		Actions:       actions,
		MaxConcurrent: batch.MaxConcurrent,
		SearchTerms:   batch.SearchTerms,
		UpdatedAt:     formatTime(batch.UpdatedAt),
	}
}

func fromBatchSchema(batch batchSchema) domain.Batch {
	members := make([]domain.AccountID, 0, len(batch.Members))
	for _, member := range batch.Members {
		members = append(members, domain.AccountID(member))
	}
	actions := make([]domain.ActionID, 0, len(batch.Actions))
	for _, action := range batch.Actions {
		actions = append(actions, domain.ActionID(action))
	}

	return domain.Batch{
		ID:            domain.BatchID(batch.ID),
		Name:          batch.Name,
		Members:       members,
		Actions:       actions,
		MaxConcurrent: batch.MaxConcurrent,
		SearchTerms:   batch.SearchTerms,
		UpdatedAt:     parseTime(batch.UpdatedAt),
	}
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.Format(time.RFC3339)
}
