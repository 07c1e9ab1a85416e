package autodetect

import (
	"math"
	"testing"

	"github.com/lockplane/migrator/internal/state"
)

func TestNewSimilarityConfig(t *testing.T) {
	tests := []struct {
		name          string
		model, field  float64
		jw, lev       float64
		expectSuccess bool
	}{
		{"defaults", 0.7, 0.8, 0.7, 0.3, true},
		{"bounds", 0.45, 0.95, 0.5, 0.5, true},
		{"model too low", 0.3, 0.8, 0.7, 0.3, false},
		{"field too high", 0.7, 0.99, 0.7, 0.3, false},
		{"negative weight", 0.7, 0.8, -0.1, 1.1, false},
		{"weights do not sum", 0.7, 0.8, 0.5, 0.3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewSimilarityConfigWithWeights(tt.model, tt.field, tt.jw, tt.lev)
			if tt.expectSuccess && err != nil {
				t.Fatalf("Expected success, got %v", err)
			}
			if !tt.expectSuccess && err == nil {
				t.Fatal("Expected error")
			}
			if tt.expectSuccess && cfg.ModelThreshold() != tt.model {
				t.Errorf("Expected model threshold %v, got %v", tt.model, cfg.ModelThreshold())
			}
		})
	}
}

func TestZeroConfigUsesDefaults(t *testing.T) {
	var cfg SimilarityConfig
	if cfg.ModelThreshold() != 0.7 || cfg.FieldThreshold() != 0.8 {
		t.Errorf("Expected default thresholds, got %v/%v", cfg.ModelThreshold(), cfg.FieldThreshold())
	}
}

func TestFieldSimilarity(t *testing.T) {
	var cfg SimilarityConfig

	same := cfg.FieldSimilarity(state.NewField("email", "varchar", false), state.NewField("email", "varchar", false))
	if same != 1 {
		t.Errorf("Expected identical fields to score 1, got %v", same)
	}

	if s := cfg.FieldSimilarity(state.NewField("email", "varchar", false), state.NewField("email", "text", false)); s != 0 {
		t.Errorf("Expected type mismatch to score 0, got %v", s)
	}

	close := cfg.FieldSimilarity(state.NewField("username", "text", false), state.NewField("user_name", "text", false))
	if close < cfg.FieldThreshold() {
		t.Errorf("Expected username/user_name above threshold, got %v", close)
	}

	far := cfg.FieldSimilarity(state.NewField("created_at", "text", false), state.NewField("body", "text", false))
	if far >= cfg.FieldThreshold() {
		t.Errorf("Expected unrelated names below threshold, got %v", far)
	}

	withNull := cfg.FieldSimilarity(state.NewField("bio", "text", true), state.NewField("bios", "text", true))
	withoutNull := cfg.FieldSimilarity(state.NewField("bio", "text", true), state.NewField("bios", "text", false))
	if math.Abs(withNull-withoutNull-0.1) > 1e-9 && withNull != 1 {
		t.Errorf("Expected matching nullability to add 0.1, got %v vs %v", withNull, withoutNull)
	}
}

func TestModelSimilarity(t *testing.T) {
	var cfg SimilarityConfig
	article := state.NewModelState("blog", "Article",
		state.NewField("id", "bigint", false),
		state.NewField("title", "varchar", false),
		state.NewField("body", "text", false))
	post := state.NewModelState("blog", "Post",
		state.NewField("id", "bigint", false),
		state.NewField("title", "varchar", false),
		state.NewField("body", "text", false))
	tag := state.NewModelState("blog", "Tag",
		state.NewField("id", "bigint", false),
		state.NewField("label", "varchar", true),
		state.NewField("color", "integer", false))

	if s := cfg.ModelSimilarity(article, post); s != 1 {
		t.Errorf("Expected identical field sets to score 1, got %v", s)
	}
	if s := cfg.ModelSimilarity(article, tag); s >= cfg.ModelThreshold() {
		t.Errorf("Expected different models below threshold, got %v", s)
	}
	empty := state.NewModelState("blog", "Empty")
	if s := cfg.ModelSimilarity(empty, empty); s != 1 {
		t.Errorf("Expected two empty models to score 1, got %v", s)
	}
	if s := cfg.ModelSimilarity(empty, post); s != 0 {
		t.Errorf("Expected empty vs non-empty to score 0, got %v", s)
	}
}
