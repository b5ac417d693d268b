package domain

import (
	"fmt"
	"strings"
	"time"
)

type BatchID string
type ActionID string

// Batch is a named, reusable run configuration: which accounts to process,
// which actions to run on each, and how many accounts may run at once.
type Batch struct {
	ID            BatchID
	Name          string
	Members       []AccountID
	Actions       []ActionID
	MaxConcurrent int
	SearchTerms   string
	UpdatedAt     time.Time
}

const DefaultMaxConcurrent = 10

func (b Batch) Validate() error {
	if strings.TrimSpace(string(b.ID)) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if b.MaxConcurrent < 0 {
		return fmt.Errorf("max concurrent must not be negative")
	}
	if len(b.Actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}

	return nil
}

func (b *Batch) NormalizeMembers() {
	if b == nil {
		return
	}

	members := make([]AccountID, 0, len(b.Members))
	seen := make(map[AccountID]struct{}, len(b.Members))
	for _, member := range b.Members {
		trimmed := AccountID(strings.TrimSpace(string(member)))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		members = append(members, trimmed)
	}

	b.Members = members
}

func (b Batch) Concurrency() int {
	if b.MaxConcurrent <= 0 {
		return DefaultMaxConcurrent
	}
	return b.MaxConcurrent
}
