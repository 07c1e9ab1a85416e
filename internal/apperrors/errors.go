package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrDependency          = errors.New("dependency error")
	ErrNodeNotFound        = errors.New("node not found")
	ErrCircularDependency  = errors.New("circular dependency")
	ErrInvalidMigration    = errors.New("invalid migration")
	ErrIrreversible        = errors.New("irreversible operation")
	ErrDuplicateOperations = errors.New("duplicate operations")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	ErrPathTraversal       = errors.New("path traversal")
)

// NodeNotFoundError is returned when a graph edge references an absent migration
type NodeNotFoundError struct {
	Message string
	Node    string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Node)
}

// Is matches ErrNodeNotFound and ErrDependency
func (e *NodeNotFoundError) Is(target error) bool {
	return target == ErrNodeNotFound || target == ErrDependency
}

// CircularDependencyError carries the offending chain, e.g. "a.0001 -> b.0001 -> a.0001"
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Cycle, " -> "))
}

func (e *CircularDependencyError) Is(target error) bool { return target == ErrCircularDependency }

// InvalidMigrationError reports malformed migration input
type InvalidMigrationError struct {
	Key    string
	Reason string
}

func (e *InvalidMigrationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid migration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid migration %s: %s", e.Key, e.Reason)
}

func (e *InvalidMigrationError) Is(target error) bool { return target == ErrInvalidMigration }

// IrreversibleError is returned when an operation has no inverse
type IrreversibleError struct {
	Migration string
	Operation string
}

func (e *IrreversibleError) Error() string {
	if e.Migration == "" {
		return fmt.Sprintf("operation %q is irreversible", e.Operation)
	}
	return fmt.Sprintf("migration %s: operation %q is irreversible", e.Migration, e.Operation)
}

func (e *IrreversibleError) Is(target error) bool { return target == ErrIrreversible }

// DuplicateOperationsError is returned when detected operations match an existing migration
type DuplicateOperationsError struct {
	Existing string
}

func (e *DuplicateOperationsError) Error() string {
	return fmt.Sprintf("operations duplicate existing migration %s", e.Existing)
}

func (e *DuplicateOperationsError) Is(target error) bool { return target == ErrDuplicateOperations }

// ForeignKeyViolationError is returned when rebuilding a table would orphan references to it
type ForeignKeyViolationError struct {
	Table        string
	ReferencedBy []string
}

func (e *ForeignKeyViolationError) Error() string {
	return fmt.Sprintf("rebuilding table %s would orphan foreign keys: %s", e.Table, strings.Join(e.ReferencedBy, ", "))
}

func (e *ForeignKeyViolationError) Is(target error) bool { return target == ErrForeignKeyViolation }

// PathTraversalError rejects a label or name that cannot be used as a path component
type PathTraversalError struct {
	Label  string
	Value  string
	Reason string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Label, e.Value, e.Reason)
}

func (e *PathTraversalError) Is(target error) bool { return target == ErrPathTraversal }

// NotFoundError names the missing thing
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
