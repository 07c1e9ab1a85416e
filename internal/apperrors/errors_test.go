package apperrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{&NodeNotFoundError{Message: "missing parent", Node: "blog.0001"}, ErrNodeNotFound},
		{&NodeNotFoundError{Message: "missing parent", Node: "blog.0001"}, ErrDependency},
		{&CircularDependencyError{Cycle: []string{"a.1", "b.1", "a.1"}}, ErrCircularDependency},
		{&InvalidMigrationError{Key: "a.1", Reason: "empty name"}, ErrInvalidMigration},
		{&IrreversibleError{Operation: "RunSQL"}, ErrIrreversible},
		{&DuplicateOperationsError{Existing: "a.1"}, ErrDuplicateOperations},
		{&ForeignKeyViolationError{Table: "users"}, ErrForeignKeyViolation},
		{&PathTraversalError{Label: "app label", Value: "..", Reason: "parent directory"}, ErrPathTraversal},
		{&NotFoundError{Kind: "migration", Name: "a.1"}, ErrNotFound},
	}

	for _, tt := range tests {
		wrapped := fmt.Errorf("failed to do thing: %w", tt.err)
		if !errors.Is(wrapped, tt.sentinel) {
			t.Errorf("Expected %T to match %v", tt.err, tt.sentinel)
		}
		if errors.Is(wrapped, ErrConflict) {
			t.Errorf("Expected %T not to match ErrConflict", tt.err)
		}
	}
}

func TestCircularDependencyMessage(t *testing.T) {
	err := &CircularDependencyError{Cycle: []string{"a.0001", "b.0001", "a.0001"}}
	want := "circular dependency: a.0001 -> b.0001 -> a.0001"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}

	var target *CircularDependencyError
	if !errors.As(fmt.Errorf("wrap: %w", err), &target) || len(target.Cycle) != 3 {
		t.Error("Expected errors.As to recover the cycle")
	}
}
