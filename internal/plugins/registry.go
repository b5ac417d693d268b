// Package plugins holds the built-in account actions the pipeline can run.
// Each action is stateless; per-run data travels in the task's shared map.
package plugins

import (
	"fmt"
	"sort"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
)

type Registry struct {
	actions map[domain.ActionID]ports.Action
}

func NewRegistry() *Registry {
	r := &Registry{actions: make(map[domain.ActionID]ports.Action)}
	for _, action := range builtins() {
		r.actions[action.ID()] = action
	}
	return r
}

func builtins() []ports.Action {
	actions := []ports.Action{
		&OpenUI{},
		&ClickLinks{},
		&PlayShorts{},
		&AddContacts{},
	}
	for _, la := range labelActions() {
		actions = append(actions, la)
	}
	return actions
}

func (r *Registry) Resolve(id domain.ActionID) (ports.Action, error) {
	action, ok := r.actions[id]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", id)
	}
	return action, nil
}

// ResolveAll fails on the first unknown id so a misspelled action aborts
// the run before any browser launches.
func (r *Registry) ResolveAll(ids []domain.ActionID) ([]ports.Action, error) {
	actions := make([]ports.Action, 0, len(ids))
	for _, id := range ids {
		action, err := r.Resolve(id)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func (r *Registry) IDs() []domain.ActionID {
	ids := make([]domain.ActionID, 0, len(r.actions))
	for id := range r.actions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
