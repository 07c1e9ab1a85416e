package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/planner"
	"github.com/lockplane/migrator/internal/recorder"
	"github.com/lockplane/migrator/internal/state"
)

// Failure describes where a plan stopped
type Failure struct {
	Migration migration.Key
	// OperationIndex is the 0-based index of the failing operation, or -1
	// when the failure happened outside the operations (transaction
	// handling or ledger update)
	OperationIndex int
	Operation      string
	Err            error
	// PartiallyApplied is set when a non-atomic migration left some of its
	// operations in the database
	PartiallyApplied  bool
	AppliedOperations int
}

// Result lists what a run committed and where it stopped
type Result struct {
	Committed []migration.Key
	Failed    *Failure
}

// ExecutionError is returned by Run when a plan stops early
type ExecutionError struct {
	Committed []migration.Key
	Failure   *Failure
}

func (e *ExecutionError) Error() string {
	f := e.Failure
	if f.OperationIndex < 0 {
		return fmt.Sprintf("migration %s failed: %v", f.Migration, f.Err)
	}
	return fmt.Sprintf("migration %s failed at operation %d (%s): %v", f.Migration, f.OperationIndex, f.Operation, f.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Failure.Err }

// Executor runs migration plans through a SchemaEditor and records them
type Executor struct {
	Editor   SchemaEditor
	Recorder Recorder
	Logger   *zap.Logger
}

func New(editor SchemaEditor, rec Recorder, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{Editor: editor, Recorder: rec, Logger: logger}
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Run executes plan entry by entry and stops at the first failure. In
// PerMigration mode atomic entries run in their own transaction together
// with their ledger update; non-atomic entries run without one and may be
// left partially applied. In WholePlan mode every entry shares one
// transaction and nothing is committed unless all succeed.
func (e *Executor) Run(ctx context.Context, plan *planner.MigrationPlan) (*Result, error) {
	if plan.Mode == planner.WholePlan && !plan.IsEmpty() {
		return e.runWholePlan(ctx, plan)
	}

	result := &Result{}
	for _, entry := range plan.Entries {
		if f := e.runEntry(ctx, entry); f != nil {
			result.Failed = f
			return result, &ExecutionError{Committed: result.Committed, Failure: f}
		}
		result.Committed = append(result.Committed, entry.Key())
		e.logger().Info("Migration committed",
			zap.String("migration", entry.Key().String()),
			zap.Stringer("direction", entry.Direction),
			zap.Bool("fake", entry.Fake))
	}
	return result, nil
}

func (e *Executor) runEntry(ctx context.Context, entry *planner.PlanEntry) *Failure {
	log := e.logger().With(
		zap.String("migration", entry.Key().String()),
		zap.Stringer("direction", entry.Direction),
		zap.Bool("atomic", entry.Atomic))

	txe, canTx := e.Editor.(TransactionalEditor)
	if !entry.TouchesSchema() || !entry.Atomic || !canTx {
		if entry.TouchesSchema() && entry.Atomic {
			log.Warn("Editor cannot open transactions, running atomic migration without one")
		}
		n, err := e.apply(ctx, e.Editor, entry, log)
		if err != nil {
			return e.failure(log, entry, n, err, n)
		}
		if err := e.record(ctx, e.Recorder, entry); err != nil {
			return e.failure(log, entry, -1, err, n)
		}
		return nil
	}

	tx, err := txe.Begin(ctx)
	if err != nil {
		return e.failure(log, entry, -1, err, 0)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("Failed to roll back migration", zap.Error(rbErr))
			}
		}
	}()

	n, err := e.apply(ctx, tx, entry, log)
	if err != nil {
		return e.failure(log, entry, n, err, 0)
	}
	if err := e.record(ctx, e.recorderIn(tx), entry); err != nil {
		return e.failure(log, entry, -1, err, 0)
	}
	if err := tx.Commit(); err != nil {
		return e.failure(log, entry, -1, fmt.Errorf("failed to commit: %w", err), 0)
	}
	committed = true
	return nil
}

func (e *Executor) runWholePlan(ctx context.Context, plan *planner.MigrationPlan) (*Result, error) {
	result := &Result{}
	first := plan.Entries[0]
	log := e.logger().With(zap.Stringer("direction", plan.Direction), zap.Int("migrations", len(plan.Entries)))

	fail := func(f *Failure) (*Result, error) {
		result.Failed = f
		return result, &ExecutionError{Failure: f}
	}

	txe, ok := e.Editor.(TransactionalEditor)
	if !ok {
		return fail(e.failure(log, first, -1, errors.New("editor cannot open transactions"), 0))
	}
	tx, err := txe.Begin(ctx)
	if err != nil {
		return fail(e.failure(log, first, -1, err, 0))
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("Failed to roll back plan", zap.Error(rbErr))
			}
		}
	}()

	rec := e.recorderIn(tx)
	for _, entry := range plan.Entries {
		entryLog := log.With(zap.String("migration", entry.Key().String()))
		n, err := e.apply(ctx, tx, entry, entryLog)
		if err != nil {
			return fail(e.failure(entryLog, entry, n, err, 0))
		}
		if err := e.record(ctx, rec, entry); err != nil {
			return fail(e.failure(entryLog, entry, -1, err, 0))
		}
	}
	if err := tx.Commit(); err != nil {
		last := plan.Entries[len(plan.Entries)-1]
		return fail(e.failure(log, last, -1, fmt.Errorf("failed to commit: %w", err), 0))
	}
	committed = true
	result.Committed = plan.Keys()
	log.Info("Plan committed")
	return result, nil
}

// apply runs entry's operations and returns how many succeeded
func (e *Executor) apply(ctx context.Context, ed SchemaEditor, entry *planner.PlanEntry, log *zap.Logger) (int, error) {
	if !entry.TouchesSchema() {
		return 0, nil
	}
	s := state.NewProjectState()
	if entry.Before != nil {
		s = entry.Before.Clone()
	}
	for i, op := range entry.Operations {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := ed.Execute(ctx, op, s); err != nil {
			return i, err
		}
		if err := op.StateForwards(s); err != nil {
			return i, err
		}
		log.Debug("Applied operation", zap.Int("index", i), zap.String("operation", op.Describe()))
	}
	return len(entry.Operations), nil
}

func (e *Executor) record(ctx context.Context, rec Recorder, entry *planner.PlanEntry) error {
	if !entry.Records() || rec == nil {
		return nil
	}
	if entry.Direction == planner.Backward {
		return rec.Unrecord(ctx, entry.Key())
	}
	return rec.Record(ctx, entry.Key())
}

// recorderIn binds a SQL recorder to the editor's transaction so the ledger
// row commits with the schema change
func (e *Executor) recorderIn(tx EditorTx) Recorder {
	sqlRec, ok := e.Recorder.(*recorder.SQLRecorder)
	if !ok {
		return e.Recorder
	}
	if t, ok := tx.(interface{ SQLTx() *sql.Tx }); ok {
		return sqlRec.WithTx(t.SQLTx())
	}
	return e.Recorder
}

func (e *Executor) failure(log *zap.Logger, entry *planner.PlanEntry, index int, err error, applied int) *Failure {
	f := &Failure{
		Migration:         entry.Key(),
		OperationIndex:    index,
		Err:               err,
		PartiallyApplied:  applied > 0 && applied < len(entry.Operations),
		AppliedOperations: applied,
	}
	if index >= 0 && index < len(entry.Operations) {
		f.Operation = entry.Operations[index].Describe()
	}
	log.Error("Migration failed",
		zap.Int("index", index),
		zap.String("operation", f.Operation),
		zap.Bool("partially_applied", f.PartiallyApplied),
		zap.Error(err))
	return f
}

// Statement is one rendered statement of a dry run
type Statement struct {
	Migration   migration.Key `json:"migration"`
	Operation   string        `json:"operation"`
	Description string        `json:"description"`
	SQL         string        `json:"sql"`
}

// DryRun renders the SQL Run would execute for plan without touching the
// database
func (e *Executor) DryRun(ctx context.Context, plan *planner.MigrationPlan) ([]Statement, error) {
	r, ok := e.Editor.(Renderer)
	if !ok {
		return nil, errors.New("editor cannot render SQL")
	}
	var out []Statement
	for _, entry := range plan.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.TouchesSchema() {
			continue
		}
		s := state.NewProjectState()
		if entry.Before != nil {
			s = entry.Before.Clone()
		}
		for i, op := range entry.Operations {
			steps, err := r.RenderSteps(op, s)
			if err != nil {
				return nil, fmt.Errorf("failed to render operation %d of %s: %w", i, entry.Key(), err)
			}
			for _, step := range steps {
				for _, stmt := range step.SQL {
					out = append(out, Statement{
						Migration:   entry.Key(),
						Operation:   op.Describe(),
						Description: step.Description,
						SQL:         stmt,
					})
				}
			}
			if err := op.StateForwards(s); err != nil {
				return nil, fmt.Errorf("failed to apply operation %d of %s: %w", i, entry.Key(), err)
			}
		}
	}
	return out, nil
}
