// Package persona evaluates orchestrator events into severity-tagged comments
// and routes tasks through persona phases. Both halves are stateless once
// constructed: the Router is built from the run's persona set and defaults and
// is immutable for the run's duration.
package persona

import (
	"fmt"
	"sort"

	"github.com/crewsched/crewsched/pkg/models"
)

// Router resolves phase order and per-phase permissions for tasks. Policies
// are normalized fail-closed at construction: unknown persona ids or phase
// keys reject the whole configuration rather than being ignored.
type Router struct {
	personas map[string]models.PersonaDefinition
	defaults models.PersonaDefaults
}

// NewRouter validates the persona set and defaults and returns a router.
func NewRouter(personas []models.PersonaDefinition, defaults models.PersonaDefaults) (*Router, error) {
	known := make(map[string]models.PersonaDefinition, len(personas))
	for _, p := range personas {
		if p.ID == "" {
			return nil, fmt.Errorf("persona with empty id")
		}
		if _, dup := known[p.ID]; dup {
			return nil, fmt.Errorf("persona id %q duplicated", p.ID)
		}
		known[p.ID] = p
	}
	defaults.PhaseOrder = dedupe(defaults.PhaseOrder)
	if err := validatePolicies(known, defaults.PhaseOrder, defaults.PhasePolicies); err != nil {
		return nil, fmt.Errorf("persona defaults: %w", err)
	}
	return &Router{personas: known, defaults: defaults}, nil
}

// ValidateTaskPolicy checks a task-level policy against the known persona set
// and the effective phase order, failing closed on any unknown reference.
func (r *Router) ValidateTaskPolicy(taskID string, p *models.TaskPersonaPolicy) error {
	if p == nil {
		return nil
	}
	order := dedupe(p.PhaseOrder)
	if len(order) == 0 {
		order = r.defaults.PhaseOrder
	}
	if err := validatePolicies(r.personas, order, p.PhaseOverrides); err != nil {
		return fmt.Errorf("task %s persona policy: %w", taskID, err)
	}
	for _, id := range p.DisablePersonas {
		if _, ok := r.personas[id]; !ok {
			return fmt.Errorf("task %s persona policy: disable_personas references unknown persona %q", taskID, id)
		}
	}
	return nil
}

// Personas returns the full persona set keyed by id.
func (r *Router) Personas() map[string]models.PersonaDefinition { return r.personas }

// Persona looks up one definition by id.
func (r *Router) Persona(id string) (models.PersonaDefinition, bool) {
	p, ok := r.personas[id]
	return p, ok
}

// PhaseOrder returns the task's effective phase order: its own policy's order
// when non-empty, else the global default. An empty result means the task has
// no phase concept and phase gating is disabled for it.
func (r *Router) PhaseOrder(t models.Task) []string {
	if t.PersonaPolicy != nil {
		if order := dedupe(t.PersonaPolicy.PhaseOrder); len(order) > 0 {
			return order
		}
	}
	return r.defaults.PhaseOrder
}

// CurrentPhase returns the task's current phase name and index, or ok=false
// when the task has no phase order.
func (r *Router) CurrentPhase(t models.Task) (name string, index int, ok bool) {
	order := r.PhaseOrder(t)
	if len(order) == 0 {
		return "", 0, false
	}
	idx := 0
	if t.CurrentPhaseIndex != nil {
		idx = *t.CurrentPhaseIndex
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= len(order) {
		idx = len(order) - 1
	}
	return order[idx], idx, true
}

// NextPhaseIndex returns the index after the task's current phase, or ok=false
// when the current phase is the last (or the task has no phases).
func (r *Router) NextPhaseIndex(t models.Task) (int, bool) {
	order := r.PhaseOrder(t)
	if len(order) == 0 {
		return 0, false
	}
	_, idx, _ := r.CurrentPhase(t)
	if idx+1 >= len(order) {
		return 0, false
	}
	return idx + 1, true
}

// PolicyFor merges the global phase policy with the task's override for its
// current phase (override wins key-by-key), minus disabled personas. ok=false
// means the task has no phase order and no gating applies.
func (r *Router) PolicyFor(t models.Task) (models.PhasePolicy, bool) {
	phase, _, ok := r.CurrentPhase(t)
	if !ok {
		return models.PhasePolicy{}, false
	}
	merged := r.defaults.PhasePolicies[phase]
	if t.PersonaPolicy != nil {
		if over, exists := t.PersonaPolicy.PhaseOverrides[phase]; exists {
			if over.ActivePersonas != nil {
				merged.ActivePersonas = over.ActivePersonas
			}
			if over.ExecutorPersonas != nil {
				merged.ExecutorPersonas = over.ExecutorPersonas
			}
			if over.StateTransitionPersonas != nil {
				merged.StateTransitionPersonas = over.StateTransitionPersonas
			}
		}
	}
	disabled := map[string]bool{}
	if t.PersonaPolicy != nil {
		for _, id := range t.PersonaPolicy.DisablePersonas {
			disabled[id] = true
		}
	}
	merged.ActivePersonas = without(merged.ActivePersonas, disabled)
	merged.ExecutorPersonas = without(merged.ExecutorPersonas, disabled)
	merged.StateTransitionPersonas = without(merged.StateTransitionPersonas, disabled)
	return merged, true
}

// CanExecute reports whether subjectID may execute the task in its current
// phase. Tasks without a phase order accept any enabled persona, and any
// subject at all when subjectID is not a known persona (teammate mode).
func (r *Router) CanExecute(subjectID string, t models.Task) bool {
	pol, ok := r.PolicyFor(t)
	if !ok {
		if p, known := r.personas[subjectID]; known {
			return p.Enabled
		}
		return true
	}
	return contains(pol.ExecutorPersonas, subjectID)
}

// CanTransition reports whether personaID may escalate or block-stop the task
// in its current phase. Unconditional when the task has no phase order.
func (r *Router) CanTransition(personaID string, t models.Task) bool {
	pol, ok := r.PolicyFor(t)
	if !ok {
		return true
	}
	return contains(pol.StateTransitionPersonas, personaID)
}

// ActiveFor returns the enabled personas active for the task's current phase.
// With no phase order every enabled persona is active.
func (r *Router) ActiveFor(t models.Task) []models.PersonaDefinition {
	pol, gated := r.PolicyFor(t)
	var out []models.PersonaDefinition
	for _, id := range sortedIDs(r.personas) {
		p := r.personas[id]
		if !p.Enabled {
			continue
		}
		if gated && pol.ActivePersonas != nil && !contains(pol.ActivePersonas, id) {
			continue
		}
		if t.PersonaPolicy != nil && contains(t.PersonaPolicy.DisablePersonas, id) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// EnabledPersonas returns every enabled persona sorted by id.
func (r *Router) EnabledPersonas() []models.PersonaDefinition {
	var out []models.PersonaDefinition
	for _, id := range sortedIDs(r.personas) {
		if p := r.personas[id]; p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

func validatePolicies(known map[string]models.PersonaDefinition, order []string, policies map[string]models.PhasePolicy) error {
	phases := make(map[string]bool, len(order))
	for _, ph := range order {
		phases[ph] = true
	}
	for phase, pol := range policies {
		if !phases[phase] {
			return fmt.Errorf("phase %q not in phase_order", phase)
		}
		for _, list := range [][]string{pol.ActivePersonas, pol.ExecutorPersonas, pol.StateTransitionPersonas} {
			for _, id := range list {
				if _, ok := known[id]; !ok {
					return fmt.Errorf("phase %q references unknown persona %q", phase, id)
				}
			}
		}
	}
	return nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func without(list []string, drop map[string]bool) []string {
	if list == nil || len(drop) == 0 {
		return list
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if !drop[v] {
			out = append(out, v)
		}
	}
	return out
}

func sortedIDs(personas map[string]models.PersonaDefinition) []string {
	ids := make([]string, 0, len(personas))
	for id := range personas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
