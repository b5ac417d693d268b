package domain

import (
	"strings"
	"time"
)

// Shared-context keys actions read and write during an account run.
const (
	SharedKeepOpen     = "keep_open"
	SharedSearchTerms  = "search_terms"
	SharedContactInput = "contacts"
	SharedLinkCount    = "link_count"
	SharedShortsCount  = "shorts_count"
)

// AccountTask is one account's unit of work: the ordered actions to run and
// the mutable map shared between them. It lives for exactly one account run.
type AccountTask struct {
	AccountID AccountID
	Actions   []ActionID
	Shared    map[string]any
}

func NewAccountTask(id AccountID, actions []ActionID) *AccountTask {
	return &AccountTask{
		AccountID: id,
		Actions:   append([]ActionID(nil), actions...),
		Shared:    make(map[string]any),
	}
}

func (t *AccountTask) KeepOpen() bool {
	v, ok := t.Shared[SharedKeepOpen].(bool)
	return ok && v
}

// SearchTerms splits the raw shared search input on "," into trimmed terms.
func (t *AccountTask) SearchTerms() []string {
	raw, _ := t.Shared[SharedSearchTerms].(string)
	return SplitTerms(raw, ",")
}

func SplitTerms(raw, sep string) []string {
	if raw == "" {
		return nil
	}

	var out []string
	for _, piece := range strings.Split(raw, sep) {
		piece = strings.TrimSpace(piece)
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

type AccountOutcome string

const (
	OutcomeCompleted AccountOutcome = "completed"
	OutcomeFailed    AccountOutcome = "failed"
)

// AccountResult records how one account's run ended. Err is nil for
// completed accounts; FailedActions lists actions that errored without
// failing the account.
type AccountResult struct {
	AccountID     AccountID
	Outcome       AccountOutcome
	Err           error
	FailedActions []ActionID
	KeptOpen      bool
	StartedAt     time.Time
	FinishedAt    time.Time
}

type RunSummary struct {
	RunID      string
	Total      int
	Completed  int
	Failed     int
	Results    []AccountResult
	StartedAt  time.Time
	FinishedAt time.Time
}
