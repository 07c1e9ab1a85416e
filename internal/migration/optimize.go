package migration

import (
	"github.com/lockplane/migrator/database"
	"github.com/lockplane/migrator/internal/state"
)

// Optimize removes and folds redundant operations:
//   - AddField followed by RemoveField of the same field cancels both
//   - consecutive AlterField on a field collapse to the last one
//   - CreateModel followed by DeleteModel cancels both, together with any
//     operations in between that only touch that model
//   - AddField, AlterField, RemoveField, RenameField and RenameModel fold
//     into a preceding CreateModel; AlterField and RenameField fold into a
//     preceding AddField
//
// Two operations are combined only when nothing between them touches the
// models involved, and never across RunSQL. Replaying the result onto any
// state yields the same state as replaying ops.
func Optimize(ops []Operation) []Operation {
	out := append([]Operation(nil), ops...)
	for {
		next, changed := optimizeOnce(out)
		if !changed {
			return next
		}
		out = next
	}
}

func optimizeOnce(ops []Operation) ([]Operation, bool) {
	for i := range ops {
		for j := i + 1; j < len(ops); j++ {
			if result, ok := reduce(ops, i, j); ok {
				return result, true
			}
			if blocks(ops[j], ops[i]) {
				break
			}
		}
	}
	return ops, false
}

// blocks reports whether later cannot be crossed when looking for a partner of first
func blocks(later, first Operation) bool {
	if _, ok := later.(*RunSQL); ok {
		return true
	}
	if create, ok := first.(*CreateModel); ok {
		// operations confined to the new model may be cancelled with it
		self := state.ModelKey{AppLabel: create.App, Name: create.Name}
		confined := true
		for _, r := range later.References() {
			if r != self {
				confined = false
			}
		}
		if confined {
			return false
		}
	}
	return touches(later, first.References())
}

func touches(op Operation, keys []state.ModelKey) bool {
	for _, r := range op.References() {
		for _, k := range keys {
			if r == k {
				return true
			}
		}
	}
	return false
}

func independent(ops []Operation, from, to int, keys []state.ModelKey) bool {
	for k := from + 1; k < to; k++ {
		if _, ok := ops[k].(*RunSQL); ok {
			return false
		}
		if touches(ops[k], keys) {
			return false
		}
	}
	return true
}

// replace returns ops with index i set to op (dropped when nil) and index j removed
func replace(ops []Operation, i, j int, op Operation) []Operation {
	out := make([]Operation, 0, len(ops))
	for k, o := range ops {
		switch {
		case k == i:
			if op != nil {
				out = append(out, op)
			}
		case k == j:
		default:
			out = append(out, o)
		}
	}
	return out
}

func keysOf(ops ...Operation) []state.ModelKey {
	var keys []state.ModelKey
	for _, op := range ops {
		keys = append(keys, op.References()...)
	}
	return keys
}

func reduce(ops []Operation, i, j int) ([]Operation, bool) {
	first, second := ops[i], ops[j]

	switch a := first.(type) {
	case *CreateModel:
		return reduceCreateModel(ops, i, j, a, second)

	case *AddField:
		switch b := second.(type) {
		case *RemoveField:
			if b.App == a.App && b.Model == a.Model && b.Name == a.Field.Name && independent(ops, i, j, keysOf(a, b)) {
				return replace(ops, i, j, nil), true
			}
		case *AlterField:
			if b.App == a.App && b.Model == a.Model && b.Field.Name == a.Field.Name && independent(ops, i, j, keysOf(a, b)) {
				return replace(ops, i, j, &AddField{App: a.App, Model: a.Model, Field: b.Field.Clone()}), true
			}
		case *RenameField:
			if b.App == a.App && b.Model == a.Model && b.OldName == a.Field.Name && independent(ops, i, j, keysOf(a, b)) {
				return replace(ops, i, j, &AddField{App: a.App, Model: a.Model, Field: a.Field.WithName(b.NewName)}), true
			}
		}

	case *AlterField:
		if b, ok := second.(*AlterField); ok && b.App == a.App && b.Model == a.Model && b.Field.Name == a.Field.Name && independent(ops, i, j, keysOf(a, b)) {
			return replace(ops, i, j, &AlterField{App: b.App, Model: b.Model, Field: b.Field.Clone()}), true
		}
	}
	return nil, false
}

func reduceCreateModel(ops []Operation, i, j int, create *CreateModel, second Operation) ([]Operation, bool) {
	self := state.ModelKey{AppLabel: create.App, Name: create.Name}

	switch b := second.(type) {
	case *DeleteModel:
		if b.App != create.App || b.Name != create.Name {
			return nil, false
		}
		// drop everything in between that is confined to this model
		var between []int
		for k := i + 1; k < j; k++ {
			if _, ok := ops[k].(*RunSQL); ok {
				return nil, false
			}
			refs := ops[k].References()
			if !touches(ops[k], []state.ModelKey{self}) {
				continue
			}
			for _, r := range refs {
				if r != self {
					return nil, false
				}
			}
			between = append(between, k)
		}
		// something created before i may reference this model
		for k := range ops {
			if k == i || k == j || contains(between, k) {
				continue
			}
			if refersTo(ops[k], self) {
				return nil, false
			}
		}
		out := make([]Operation, 0, len(ops))
		for k, op := range ops {
			if k == i || k == j || contains(between, k) {
				continue
			}
			out = append(out, op)
		}
		return out, true

	case *AddField:
		if b.App == create.App && b.Model == create.Name && independent(ops, i, j, keysOf(create, b)) && !hasField(create, b.Field.Name) {
			folded := cloneCreate(create)
			folded.Fields = append(folded.Fields, b.Field.Clone())
			return replace(ops, i, j, folded), true
		}

	case *AlterField:
		if b.App == create.App && b.Model == create.Name && independent(ops, i, j, keysOf(create, b)) && hasField(create, b.Field.Name) {
			folded := cloneCreate(create)
			for n := range folded.Fields {
				if folded.Fields[n].Name == b.Field.Name {
					folded.Fields[n] = b.Field.Clone()
				}
			}
			return replace(ops, i, j, folded), true
		}

	case *RemoveField:
		if b.App == create.App && b.Model == create.Name && independent(ops, i, j, keysOf(create, b)) && hasField(create, b.Name) &&
			dependentOn(create.Model(), b.Name) == "" {
			folded := cloneCreate(create)
			folded.Fields = nil
			for _, f := range create.Fields {
				if f.Name != b.Name {
					folded.Fields = append(folded.Fields, f.Clone())
				}
			}
			return replace(ops, i, j, folded), true
		}

	case *RenameField:
		if b.App == create.App && b.Model == create.Name && independent(ops, i, j, keysOf(create, b)) &&
			hasField(create, b.OldName) && !hasField(create, b.NewName) {
			folded := cloneCreate(create)
			for n := range folded.Fields {
				if folded.Fields[n].Name == b.OldName {
					folded.Fields[n] = folded.Fields[n].WithName(b.NewName)
				}
			}
			for n := range folded.Indexes {
				folded.Indexes[n].Columns = replaceName(folded.Indexes[n].Columns, b.OldName, b.NewName)
			}
			for n := range folded.Constraints {
				folded.Constraints[n].Columns = replaceName(folded.Constraints[n].Columns, b.OldName, b.NewName)
			}
			return replace(ops, i, j, folded), true
		}

	case *RenameModel:
		if b.App == create.App && b.OldName == create.Name && independent(ops, i, j, keysOf(create, b)) &&
			!selfReferencing(create) && !referencedBefore(ops, i, self) {
			folded := cloneCreate(create)
			folded.Name = b.NewName
			return replace(ops, i, j, folded), true
		}
	}
	return nil, false
}

// refersTo reports whether op points at key from another model
func refersTo(op Operation, key state.ModelKey) bool {
	refs := op.References()
	for n, r := range refs {
		if r == key && n > 0 {
			return true
		}
	}
	return false
}

func referencedBefore(ops []Operation, i int, key state.ModelKey) bool {
	for k := 0; k < i; k++ {
		if refersTo(ops[k], key) {
			return true
		}
	}
	return false
}

func selfReferencing(create *CreateModel) bool {
	self := create.App + "." + create.Name
	for _, f := range create.Fields {
		if f.References() == self {
			return true
		}
	}
	table := create.Model().TableName()
	for _, c := range create.Constraints {
		if c.Kind == database.ConstraintForeignKey && c.ReferencedTable == table {
			return true
		}
	}
	return false
}

func hasField(create *CreateModel, name string) bool {
	for _, f := range create.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func cloneCreate(create *CreateModel) *CreateModel {
	out := &CreateModel{App: create.App, Name: create.Name, Table: create.Table}
	for _, f := range create.Fields {
		out.Fields = append(out.Fields, f.Clone())
	}
	for _, idx := range create.Indexes {
		idx.Columns = append([]string(nil), idx.Columns...)
		out.Indexes = append(out.Indexes, idx)
	}
	for _, c := range create.Constraints {
		out.Constraints = append(out.Constraints, c.Clone())
	}
	return out
}

func contains(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
