package planner

import (
	"encoding/json"

	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/state"
)

// Direction is forward (apply) or backward (unapply)
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

func (d Direction) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// TransactionMode controls how the executor scopes transactions
type TransactionMode int

const (
	// PerMigration opens one transaction per atomic entry; non-atomic
	// entries run outside a transaction
	PerMigration TransactionMode = iota
	// WholePlan runs every entry inside a single transaction
	WholePlan
)

func (m TransactionMode) String() string {
	if m == WholePlan {
		return "whole_plan"
	}
	return "per_migration"
}

func (m TransactionMode) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

// PlanEntry is one migration to apply or unapply
type PlanEntry struct {
	Migration *migration.Migration `json:"-"`
	Direction Direction            `json:"direction"`
	Atomic    bool                 `json:"atomic"`
	// Fake entries are recorded or unrecorded without touching the schema
	Fake         bool `json:"fake"`
	StateOnly    bool `json:"state_only"`
	DatabaseOnly bool `json:"database_only"`
	// Operations to execute, in order. For backward entries these are the
	// inverses of the migration's operations.
	Operations []migration.Operation `json:"-"`
	// Before is the project state the entry's first operation runs against
	Before *state.ProjectState `json:"-"`
}

func (e *PlanEntry) Key() migration.Key { return e.Migration.Key() }

// TouchesSchema reports whether the executor sends operations to the editor
func (e *PlanEntry) TouchesSchema() bool { return !e.Fake && !e.StateOnly }

// Records reports whether the executor updates the ledger
func (e *PlanEntry) Records() bool { return !e.DatabaseOnly }

func (e *PlanEntry) MarshalJSON() ([]byte, error) {
	type alias PlanEntry
	steps := make([]string, len(e.Operations))
	for i, op := range e.Operations {
		steps[i] = op.Describe()
	}
	return json.Marshal(struct {
		Migration string `json:"migration"`
		*alias
		Steps []string `json:"steps"`
	}{e.Key().String(), (*alias)(e), steps})
}

// MigrationPlan is the ordered list of entries the executor runs
type MigrationPlan struct {
	Direction Direction       `json:"direction"`
	Mode      TransactionMode `json:"transaction_mode"`
	Entries   []*PlanEntry    `json:"entries"`
	// After is the project state once every entry has run
	After *state.ProjectState `json:"-"`
}

// Keys returns the entries' migration keys in execution order
func (p *MigrationPlan) Keys() []migration.Key {
	keys := make([]migration.Key, len(p.Entries))
	for i, e := range p.Entries {
		keys[i] = e.Key()
	}
	return keys
}

func (p *MigrationPlan) IsEmpty() bool { return len(p.Entries) == 0 }
