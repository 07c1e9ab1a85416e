package autodetect

import (
	"fmt"

	"github.com/lockplane/migrator/internal/apperrors"
)

// RenameKind distinguishes model and field renames
type RenameKind string

const (
	RenameModelKind RenameKind = "model"
	RenameFieldKind RenameKind = "field"
)

// RenameCandidate is a removed/added pair similar enough to be a rename.
// Model is empty for model renames.
type RenameCandidate struct {
	Kind    RenameKind `json:"kind"`
	App     string     `json:"app"`
	Model   string     `json:"model,omitempty"`
	OldName string     `json:"old_name"`
	NewName string     `json:"new_name"`
	Score   float64    `json:"score"`
}

func (c RenameCandidate) String() string {
	if c.Kind == RenameModelKind {
		return fmt.Sprintf("model %s.%s -> %s.%s (%.2f)", c.App, c.OldName, c.App, c.NewName, c.Score)
	}
	return fmt.Sprintf("field %s.%s.%s -> %s (%.2f)", c.App, c.Model, c.OldName, c.NewName, c.Score)
}

func (c RenameCandidate) scope() string { return string(c.Kind) + ":" + c.App + "." + c.Model }

func (c RenameCandidate) sortKey() string {
	return c.scope() + ":" + c.OldName + ":" + c.NewName
}

// RenameResolver decides which candidates are real renames. Candidates
// arrive sorted by descending score; the returned subset is applied.
type RenameResolver interface {
	Resolve(candidates []RenameCandidate) ([]RenameCandidate, error)
}

// AutoResolver accepts the highest scoring candidate for each old and each
// new name, breaking ties by name
type AutoResolver struct{}

func (AutoResolver) Resolve(candidates []RenameCandidate) ([]RenameCandidate, error) {
	sorted := append([]RenameCandidate(nil), candidates...)
	sortCandidates(sorted)

	usedOld := make(map[string]bool)
	usedNew := make(map[string]bool)
	var accepted []RenameCandidate
	for _, c := range sorted {
		oldKey, newKey := c.scope()+":"+c.OldName, c.scope()+":"+c.NewName
		if usedOld[oldKey] || usedNew[newKey] {
			continue
		}
		usedOld[oldKey], usedNew[newKey] = true, true
		accepted = append(accepted, c)
	}
	return accepted, nil
}

// RejectAllResolver treats every candidate as an independent remove and add
type RejectAllResolver struct{}

func (RejectAllResolver) Resolve([]RenameCandidate) ([]RenameCandidate, error) { return nil, nil }

// checkResolution rejects decisions that were never offered or that use a
// name twice
func checkResolution(offered, accepted []RenameCandidate) error {
	known := make(map[string]bool, len(offered))
	for _, c := range offered {
		known[c.sortKey()] = true
	}
	usedOld := make(map[string]bool)
	usedNew := make(map[string]bool)
	for _, c := range accepted {
		if !known[c.sortKey()] {
			return &apperrors.InvalidMigrationError{Reason: fmt.Sprintf("resolver accepted unknown rename %s", c)}
		}
		oldKey, newKey := c.scope()+":"+c.OldName, c.scope()+":"+c.NewName
		if usedOld[oldKey] || usedNew[newKey] {
			return &apperrors.InvalidMigrationError{Reason: fmt.Sprintf("resolver accepted conflicting rename %s", c)}
		}
		usedOld[oldKey], usedNew[newKey] = true, true
	}
	return nil
}
