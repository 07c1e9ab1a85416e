package multiphase

import (
	"errors"
	"strings"
	"testing"

	"github.com/lockplane/migrator/database"
	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/state"
)

func usersState() *state.ProjectState {
	users := state.NewModelState("accounts", "User",
		state.NewField("id", "bigint", false).WithParam(state.ParamPrimaryKey, "true"),
		state.NewField("email", "varchar", false),
		state.NewField("age", "integer", true))
	users.Indexes = map[string]database.Index{
		"accounts_user_email_idx": {Name: "accounts_user_email_idx", Columns: []string{"email"}},
	}
	s := state.NewProjectState()
	s.AddModel(users)
	return s
}

// assertEquivalent checks that running every phase reaches the same state as op
func assertEquivalent(t *testing.T, before *state.ProjectState, op migration.Operation, plan *Plan) {
	t.Helper()
	want := before.Clone()
	if err := op.StateForwards(want); err != nil {
		t.Fatalf("Failed to apply operation: %v", err)
	}
	got := before.Clone()
	for _, m := range plan.Migrations() {
		if err := migration.Apply(got, m); err != nil {
			t.Fatalf("Failed to apply phase %s: %v", m.Key(), err)
		}
	}
	if !got.Equal(want) {
		t.Error("Expected phases to reach the same state as the original operation")
	}
}

func assertChained(t *testing.T, plan *Plan, first []migration.Key) {
	t.Helper()
	for i, p := range plan.Phases {
		if p.Number != i+1 {
			t.Errorf("Expected phase number %d, got %d", i+1, p.Number)
		}
		deps := p.Migration.Dependencies
		if i == 0 {
			if len(deps) != len(first) {
				t.Errorf("Expected first phase dependencies %v, got %v", first, deps)
			}
			continue
		}
		prev := plan.Phases[i-1].Migration.Key()
		if len(deps) != 1 || deps[0] != prev {
			t.Errorf("Phase %d: expected dependency on %s, got %v", p.Number, prev, deps)
		}
	}
}

func TestDetect(t *testing.T) {
	before := usersState()
	tests := []struct {
		name    string
		op      migration.Operation
		pattern string
	}{
		{"not null without default", &migration.AddField{App: "accounts", Model: "User", Field: state.NewField("name", "text", false)}, PatternNotNullColumn},
		{"not null with default", &migration.AddField{App: "accounts", Model: "User", Field: state.NewField("name", "text", false).WithParam(state.ParamDefault, "''")}, ""},
		{"nullable", &migration.AddField{App: "accounts", Model: "User", Field: state.NewField("name", "text", true)}, ""},
		{"rename", &migration.RenameField{App: "accounts", Model: "User", OldName: "email", NewName: "email_address"}, PatternExpandContract},
		{"type change", &migration.AlterField{App: "accounts", Model: "User", Field: state.NewField("age", "bigint", true)}, PatternTypeChange},
		{"nullability only", &migration.AlterField{App: "accounts", Model: "User", Field: state.NewField("age", "integer", false)}, ""},
		{"drop table", &migration.DeleteModel{App: "accounts", Name: "User"}, PatternDeprecation},
		{"unknown model", &migration.DeleteModel{App: "accounts", Name: "Ghost"}, ""},
		{"create table", &migration.CreateModel{App: "accounts", Name: "Team"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.op, before); got != tt.pattern {
				t.Errorf("Expected pattern %q, got %q", tt.pattern, got)
			}
		})
	}
}

func TestIsRisky(t *testing.T) {
	before := usersState()
	if !IsRisky(&migration.RenameField{App: "accounts", Model: "User", OldName: "email", NewName: "mail"}, before) {
		t.Error("Expected column rename to be risky")
	}
	if IsRisky(&migration.AddField{App: "accounts", Model: "User", Field: state.NewField("bio", "text", true)}, before) {
		t.Error("Expected nullable column to be safe")
	}
}

func TestSplitNotNullColumn(t *testing.T) {
	before := usersState()
	op := &migration.AddField{App: "accounts", Model: "User", Field: state.NewField("name", "text", false)}

	_, err := Split(op, before, Options{BaseName: "0005_user_name"})
	if !errors.Is(err, apperrors.ErrInvalidMigration) {
		t.Fatalf("Expected ErrInvalidMigration without a backfill, got %v", err)
	}

	deps := []migration.Key{{AppLabel: "accounts", Name: "0004_previous"}}
	plan, err := Split(op, before, Options{BaseName: "0005_user_name", Dependencies: deps, Backfill: "''"})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if plan.Pattern != PatternNotNullColumn || len(plan.Phases) != 3 {
		t.Fatalf("Expected 3 not_null_column phases, got %s with %d", plan.Pattern, len(plan.Phases))
	}
	assertChained(t, plan, deps)

	first := plan.Phases[0].Migration
	if first.Name != "0005_user_name_phase1_add_nullable" {
		t.Errorf("Expected phase migration name, got %s", first.Name)
	}
	if add := first.Operations[0].(*migration.AddField); !add.Field.Nullable {
		t.Error("Expected the column to be added as nullable")
	}
	backfill := plan.Phases[1].Migration.Operations[0].(*migration.RunSQL)
	if !strings.Contains(backfill.SQL[0], `UPDATE "accounts_user" SET "name" = ''`) {
		t.Errorf("Unexpected backfill SQL: %s", backfill.SQL[0])
	}
	if !strings.Contains(plan.Phases[2].LockImpact, "ACCESS EXCLUSIVE") {
		t.Errorf("Expected lock impact on SET NOT NULL, got %s", plan.Phases[2].LockImpact)
	}
	assertEquivalent(t, before, op, plan)
}

func TestSplitExpandContract(t *testing.T) {
	before := usersState()
	op := &migration.RenameField{App: "accounts", Model: "User", OldName: "email", NewName: "email_address"}

	plan, err := Split(op, before, Options{BaseName: "0006_rename_email"})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(plan.Phases) != 3 {
		t.Fatalf("Expected 3 phases, got %d", len(plan.Phases))
	}
	assertChained(t, plan, nil)

	if n := len(plan.Phases[1].Migration.Operations); n != 0 {
		t.Errorf("Expected migrate_reads to be code only, got %d operations", n)
	}
	if plan.Phases[1].LockImpact != "None" {
		t.Errorf("Expected no lock for code-only phase, got %s", plan.Phases[1].LockImpact)
	}
	contract := plan.Phases[2].Migration.Operations
	if contract[0].Kind() != migration.KindRemoveIndex || contract[1].Kind() != migration.KindAddIndex {
		t.Errorf("Expected the index to move before the column is dropped, got %s, %s", contract[0].Kind(), contract[1].Kind())
	}
	assertEquivalent(t, before, op, plan)
}

func TestSplitTypeChange(t *testing.T) {
	before := usersState()
	op := &migration.AlterField{App: "accounts", Model: "User", Field: state.NewField("age", "bigint", true)}

	plan, err := Split(op, before, Options{BaseName: "0007_age_bigint"})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(plan.Phases) != 4 {
		t.Fatalf("Expected 4 phases, got %d", len(plan.Phases))
	}
	backfill := plan.Phases[1].Migration.Operations[0].(*migration.RunSQL)
	if !strings.Contains(backfill.SQL[0], `CAST("age" AS bigint)`) {
		t.Errorf("Expected default cast conversion, got %s", backfill.SQL[0])
	}
	assertChained(t, plan, nil)
	assertEquivalent(t, before, op, plan)

	custom, err := Split(op, before, Options{BaseName: "0007_age_bigint", Backfill: `"age"::bigint`})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if sql := custom.Phases[1].Migration.Operations[0].(*migration.RunSQL).SQL[0]; !strings.Contains(sql, `"age"::bigint`) {
		t.Errorf("Expected custom conversion, got %s", sql)
	}
}

func TestSplitTypeChangeRebuildsIndexes(t *testing.T) {
	before := usersState()
	op := &migration.AlterField{App: "accounts", Model: "User", Field: state.NewField("email", "text", false)}

	plan, err := Split(op, before, Options{BaseName: "0008_email_text"})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	contract := plan.Phases[3].Migration.Operations
	if first := contract[0].Kind(); first != migration.KindRemoveIndex {
		t.Errorf("Expected the index to be dropped before the column, got %s", first)
	}
	if last := contract[len(contract)-1].Kind(); last != migration.KindAddIndex {
		t.Errorf("Expected the index to be rebuilt after the rename, got %s", last)
	}
	assertEquivalent(t, before, op, plan)
}

func TestSplitDeprecation(t *testing.T) {
	before := usersState()
	op := &migration.DeleteModel{App: "accounts", Name: "User"}

	plan, err := Split(op, before, Options{BaseName: "0008_drop_user"})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(plan.Phases) != 2 {
		t.Fatalf("Expected 2 phases, got %d", len(plan.Phases))
	}
	rename, ok := plan.Phases[0].Migration.Operations[0].(*migration.RenameModel)
	if !ok || rename.NewName != "UserDeprecated" {
		t.Errorf("Expected rename to UserDeprecated, got %v", plan.Phases[0].Migration.Operations)
	}
	assertEquivalent(t, before, op, plan)

	explicit := usersState()
	m, _ := explicit.GetModel("accounts", "User")
	m.Table = "users"
	plan, err = Split(op, explicit, Options{BaseName: "0008_drop_user"})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if n := len(plan.Phases[0].Migration.Operations); n != 0 {
		t.Errorf("Expected no rename for an explicit table name, got %d operations", n)
	}
	assertEquivalent(t, explicit, op, plan)
}

func TestSplitRejectsSafeOperations(t *testing.T) {
	op := &migration.AddField{App: "accounts", Model: "User", Field: state.NewField("bio", "text", true)}
	if _, err := Split(op, usersState(), Options{BaseName: "x"}); !errors.Is(err, apperrors.ErrInvalidMigration) {
		t.Errorf("Expected ErrInvalidMigration, got %v", err)
	}
	rename := &migration.RenameField{App: "accounts", Model: "User", OldName: "email", NewName: "mail"}
	if _, err := Split(rename, usersState(), Options{}); !errors.Is(err, apperrors.ErrInvalidMigration) {
		t.Errorf("Expected ErrInvalidMigration without a base name, got %v", err)
	}
}
