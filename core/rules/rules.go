// Package rules is the gate's evaluator layer: named, stage-tagged,
// severity-tagged checks over a candidate modification. Rules are pure
// functions of their input; the registry owns ordering, uniqueness, and
// enablement.
package rules

import (
	"fmt"
	"sync"

	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

// Input is everything an evaluator may look at: the immutable candidate
// context and, for post-modification rules, the telemetry observed while the
// change ran in the trial sandbox.
type Input struct {
	Modification schemamod.ModificationContext
	Runtime      *schemamod.RuntimeObservation
}

// Rule is a single evaluator. Implementations must be stateless; the same
// input must always produce the same result.
type Rule interface {
	Name() string
	Stage() schemamod.RuleStage
	Severity() schemamod.Severity
	Evaluate(input Input) schemamod.RuleResult
}

type funcRule struct {
	name     string
	stage    schemamod.RuleStage
	severity schemamod.Severity
	eval     func(input Input) schemamod.RuleResult
}

func (r *funcRule) Name() string                      { return r.name }
func (r *funcRule) Stage() schemamod.RuleStage        { return r.stage }
func (r *funcRule) Severity() schemamod.Severity      { return r.severity }
func (r *funcRule) Evaluate(in Input) schemamod.RuleResult {
	result := r.eval(in)
	if result.Severity == "" {
		result.Severity = r.severity
	}
	return result
}

// New wraps a plain function as a Rule.
func New(name string, stage schemamod.RuleStage, severity schemamod.Severity, eval func(Input) schemamod.RuleResult) Rule {
	return &funcRule{name: name, stage: stage, severity: severity, eval: eval}
}

type registered struct {
	rule    Rule
	enabled bool
}

// Registry holds rules per stage in registration order. Registering a name
// that already exists in the stage replaces the rule in place, keeping its
// position and re-enabling it.
type Registry struct {
	mu     sync.RWMutex
	stages map[schemamod.RuleStage][]*registered
}

func NewRegistry() *Registry {
	return &Registry{stages: map[schemamod.RuleStage][]*registered{}}
}

// Add registers or replaces a rule within its stage.
func (r *Registry) Add(rule Rule) error {
	if rule == nil || rule.Name() == "" {
		return fmt.Errorf("rule with a non-empty name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.stages[rule.Stage()]
	for _, entry := range entries {
		if entry.rule.Name() == rule.Name() {
			entry.rule = rule
			entry.enabled = true
			return nil
		}
	}
	r.stages[rule.Stage()] = append(entries, &registered{rule: rule, enabled: true})
	return nil
}

// Remove unregisters a rule by name; reports whether it existed.
func (r *Registry) Remove(stage schemamod.RuleStage, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.stages[stage]
	for i, entry := range entries {
		if entry.rule.Name() == name {
			r.stages[stage] = append(entries[:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// SetEnabled toggles a rule without unregistering it.
func (r *Registry) SetEnabled(stage schemamod.RuleStage, name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.stages[stage] {
		if entry.rule.Name() == name {
			entry.enabled = enabled
			return true
		}
	}
	return false
}

// Enabled returns the enabled rules of a stage in registration order.
func (r *Registry) Enabled(stage schemamod.RuleStage) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Rule
	for _, entry := range r.stages[stage] {
		if entry.enabled {
			out = append(out, entry.rule)
		}
	}
	return out
}

// Names returns every registered rule name of a stage, enabled or not.
func (r *Registry) Names(stage schemamod.RuleStage) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, entry := range r.stages[stage] {
		names = append(names, entry.rule.Name())
	}
	return names
}
