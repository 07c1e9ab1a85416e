package autodetect

import (
	"errors"
	"strings"
	"testing"

	"github.com/lockplane/migrator/database"
	"github.com/lockplane/migrator/internal/apperrors"
	"github.com/lockplane/migrator/internal/graph"
	"github.com/lockplane/migrator/internal/migration"
	"github.com/lockplane/migrator/internal/state"
)

type models []*state.ModelState

func (m models) DeclaredModels() []*state.ModelState { return m }

func pk() state.FieldState {
	return state.NewField("id", "bigint", false).WithParam(state.ParamPrimaryKey, "true")
}

func fk(name, target string) state.FieldState {
	return state.NewField(name, "bigint", false).WithParam(state.ParamReferences, target)
}

func stateOf(ms ...*state.ModelState) *state.ProjectState {
	s := state.NewProjectState()
	for _, m := range ms {
		s.AddModel(m)
	}
	return s
}

func kinds(ops []migration.Operation) string {
	var parts []string
	for _, op := range ops {
		parts = append(parts, string(op.Kind()))
	}
	return strings.Join(parts, ",")
}

// assertReaches applies ops to current and compares with desired
func assertReaches(t *testing.T, current *state.ProjectState, desired models, ops []migration.Operation) {
	t.Helper()
	got := current.Clone()
	if err := migration.Apply(got, migration.New("test", "auto", ops...)); err != nil {
		t.Fatalf("Failed to apply detected operations: %v", err)
	}
	if !got.Equal(stateOf(desired...)) {
		t.Error("Expected detected operations to reach the declared state")
	}
}

func TestDetectUnchanged(t *testing.T) {
	post := state.NewModelState("blog", "Post", pk(), state.NewField("title", "varchar", false))
	a := &Autodetector{Current: stateOf(post), Desired: models{post}}

	changes, err := a.Detect()
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if !changes.IsEmpty() {
		t.Errorf("Expected no operations, got %s", kinds(changes.Operations))
	}
}

func TestDetectCreatesInReferenceOrder(t *testing.T) {
	desired := models{
		state.NewModelState("blog", "Comment", pk(), fk("post", "blog.Post")),
		state.NewModelState("blog", "Post", pk(), fk("author", "blog.Author")),
		state.NewModelState("blog", "Author", pk()),
	}
	a := &Autodetector{Desired: desired}

	changes, err := a.Detect()
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	var names []string
	for _, op := range changes.Operations {
		names = append(names, op.(*migration.CreateModel).Name)
	}
	if got := strings.Join(names, ","); got != "Author,Post,Comment" {
		t.Errorf("Expected Author,Post,Comment, got %s", got)
	}
	create := changes.Operations[0].(*migration.CreateModel)
	if create.Fields[0].Name != "id" {
		t.Errorf("Expected primary key first, got %s", create.Fields[0].Name)
	}
	assertReaches(t, state.NewProjectState(), desired, changes.Operations)
}

func TestDetectFieldChanges(t *testing.T) {
	current := state.NewModelState("shop", "Item", pk(),
		state.NewField("sku", "varchar", false),
		state.NewField("price", "integer", false),
		state.NewField("legacy_code", "text", true))
	current.Indexes = map[string]database.Index{"shop_item_sku": {Name: "shop_item_sku", Columns: []string{"sku"}}}

	desired := state.NewModelState("shop", "Item", pk(),
		state.NewField("sku", "varchar", false),
		state.NewField("price", "bigint", false),
		state.NewField("stock", "integer", false).WithParam(state.ParamDefault, "0"))
	desired.Indexes = map[string]database.Index{"shop_item_sku": {Name: "shop_item_sku", Columns: []string{"sku"}, Unique: true}}
	desired.Constraints = map[string]database.Constraint{"price_positive": {Name: "price_positive", Kind: database.ConstraintCheck, Check: "price > 0"}}

	a := &Autodetector{Current: stateOf(current), Desired: models{desired}, Resolver: RejectAllResolver{}}
	changes, err := a.Detect()
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	want := "AddField,AlterField,RemoveIndex,AddIndex,AddConstraint,RemoveField"
	if got := kinds(changes.Operations); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
	assertReaches(t, stateOf(current), models{desired}, changes.Operations)
}

func TestDetectFieldRename(t *testing.T) {
	current := state.NewModelState("auth", "User", pk(), state.NewField("username", "text", false))
	desired := state.NewModelState("auth", "User", pk(), state.NewField("user_name", "text", false))

	a := &Autodetector{Current: stateOf(current), Desired: models{desired}}
	changes, err := a.Detect()
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(changes.RenameCandidates) != 1 {
		t.Fatalf("Expected 1 rename candidate, got %d", len(changes.RenameCandidates))
	}
	if got := kinds(changes.Operations); got != "RenameField" {
		t.Fatalf("Expected RenameField, got %s", got)
	}
	rename := changes.Operations[0].(*migration.RenameField)
	if rename.OldName != "username" || rename.NewName != "user_name" {
		t.Errorf("Expected username -> user_name, got %s -> %s", rename.OldName, rename.NewName)
	}
	assertReaches(t, stateOf(current), models{desired}, changes.Operations)

	a.Resolver = RejectAllResolver{}
	changes, err = a.Detect()
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if got := kinds(changes.Operations); got != "AddField,RemoveField" {
		t.Errorf("Expected AddField,RemoveField when renames are rejected, got %s", got)
	}
	if len(changes.RenameCandidates) != 1 || len(changes.Renames) != 0 {
		t.Errorf("Expected the candidate to be surfaced but not accepted")
	}
}

func TestDetectModelRename(t *testing.T) {
	article := state.NewModelState("blog", "Article", pk(),
		state.NewField("title", "varchar", false),
		state.NewField("body", "text", false))
	comment := state.NewModelState("blog", "Comment", pk(), fk("article", "blog.Article"))

	post := state.NewModelState("blog", "Post", pk(),
		state.NewField("title", "varchar", false),
		state.NewField("body", "text", false))
	newComment := state.NewModelState("blog", "Comment", pk(), fk("article", "blog.Post"))

	desired := models{post, newComment}
	a := &Autodetector{Current: stateOf(article, comment), Desired: desired}
	changes, err := a.Detect()
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if got := kinds(changes.Operations); got != "RenameModel" {
		t.Fatalf("Expected RenameModel only, got %s", got)
	}
	if len(changes.Renames) != 1 || changes.Renames[0].Kind != RenameModelKind {
		t.Errorf("Expected one accepted model rename, got %v", changes.Renames)
	}
	assertReaches(t, stateOf(article, comment), desired, changes.Operations)
}

func TestDetectDeletesReferencingModelsFirst(t *testing.T) {
	author := state.NewModelState("blog", "Author", pk())
	post := state.NewModelState("blog", "Post", pk(), fk("author", "blog.Author"))

	a := &Autodetector{Current: stateOf(author, post), Desired: models{}}
	changes, err := a.Detect()
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(changes.Operations) != 2 {
		t.Fatalf("Expected 2 operations, got %d", len(changes.Operations))
	}
	if first := changes.Operations[0].(*migration.DeleteModel); first.Name != "Post" {
		t.Errorf("Expected Post deleted first, got %s", first.Name)
	}
}

func TestDetectDuplicateOperations(t *testing.T) {
	tag := state.NewModelState("blog", "Tag", pk())
	recorded := migration.New("blog", "0002_tag", &migration.CreateModel{App: "blog", Name: "Tag", Fields: []state.FieldState{pk()}})

	a := &Autodetector{Desired: models{tag}, Recorded: []*migration.Migration{recorded}}
	_, err := a.Detect()
	if !errors.Is(err, apperrors.ErrDuplicateOperations) {
		t.Fatalf("Expected ErrDuplicateOperations, got %v", err)
	}
	var dup *apperrors.DuplicateOperationsError
	if !errors.As(err, &dup) || dup.Existing != "blog.0002_tag" {
		t.Errorf("Expected duplicate of blog.0002_tag, got %v", err)
	}
}

type fixedResolver []RenameCandidate

func (f fixedResolver) Resolve([]RenameCandidate) ([]RenameCandidate, error) { return f, nil }

func TestDetectRejectsUnknownResolution(t *testing.T) {
	current := state.NewModelState("auth", "User", pk(), state.NewField("username", "text", false))
	desired := state.NewModelState("auth", "User", pk(), state.NewField("user_name", "text", false))

	bogus := fixedResolver{{Kind: RenameFieldKind, App: "auth", Model: "User", OldName: "id", NewName: "user_name"}}
	a := &Autodetector{Current: stateOf(current), Desired: models{desired}, Resolver: bogus}
	if _, err := a.Detect(); !errors.Is(err, apperrors.ErrInvalidMigration) {
		t.Errorf("Expected ErrInvalidMigration, got %v", err)
	}
}

func TestAutoResolverPicksBestPerName(t *testing.T) {
	candidates := []RenameCandidate{
		{Kind: RenameFieldKind, App: "a", Model: "M", OldName: "x", NewName: "y1", Score: 0.85},
		{Kind: RenameFieldKind, App: "a", Model: "M", OldName: "x", NewName: "y2", Score: 0.9},
		{Kind: RenameFieldKind, App: "a", Model: "M", OldName: "z", NewName: "y2", Score: 0.9},
	}
	accepted, err := AutoResolver{}.Resolve(candidates)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(accepted) != 1 {
		t.Fatalf("Expected 1 accepted rename, got %v", accepted)
	}
	if accepted[0].OldName != "x" || accepted[0].NewName != "y2" {
		t.Errorf("Expected x -> y2 by tie-break, got %s", accepted[0])
	}
}

func TestMakeMigration(t *testing.T) {
	g, err := graph.Build([]*migration.Migration{
		migration.New("auth", "0001_initial"),
		migration.New("blog", "0001_initial"),
	}, graph.BuildOptions{})
	if err != nil {
		t.Fatalf("Failed to build graph: %v", err)
	}

	changes := &Changes{Operations: []migration.Operation{
		&migration.AddField{App: "blog", Model: "Post", Field: fk("author", "auth.User")},
		&migration.CreateModel{App: "shop", Name: "Item", Fields: []state.FieldState{pk()}},
	}}
	if got := strings.Join(changes.Apps(), ","); got != "blog,shop" {
		t.Errorf("Expected apps blog,shop, got %s", got)
	}

	m, ok := MakeMigration("blog", "0002_post_author", changes, g)
	if !ok {
		t.Fatal("Expected a migration for blog")
	}
	if len(m.Operations) != 1 || m.Initial {
		t.Errorf("Expected one non-initial operation, got %d ops initial=%v", len(m.Operations), m.Initial)
	}
	if len(m.Dependencies) != 2 || m.Dependencies[0].String() != "auth.0001_initial" || m.Dependencies[1].String() != "blog.0001_initial" {
		t.Errorf("Expected dependencies on auth and blog leaves, got %v", m.Dependencies)
	}

	shop, ok := MakeMigration("shop", "0001_initial", changes, g)
	if !ok || !shop.Initial || len(shop.Dependencies) != 0 {
		t.Errorf("Expected initial shop migration without dependencies, got %+v", shop)
	}

	if _, ok := MakeMigration("polls", "0001", changes, g); ok {
		t.Error("Expected no migration for an app without operations")
	}
}
