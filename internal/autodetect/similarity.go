package autodetect

import (
	"fmt"
	"math"
	"sort"

	"github.com/xrash/smetrics"

	"github.com/lockplane/migrator/internal/state"
)

const (
	minThreshold = 0.45
	maxThreshold = 0.95

	// Jaro-Winkler prefix boost applies above this score, over at most jwPrefix runes
	jwBoostThreshold = 0.7
	jwPrefix         = 4
)

// SimilarityConfig tunes rename detection. The zero value means defaults.
type SimilarityConfig struct {
	modelThreshold    float64
	fieldThreshold    float64
	jaroWinklerWeight float64
	levenshteinWeight float64
}

// DefaultSimilarityConfig returns thresholds 0.7 (models) and 0.8 (fields)
// with 70% Jaro-Winkler and 30% Levenshtein name weighting
func DefaultSimilarityConfig() SimilarityConfig {
	return SimilarityConfig{
		modelThreshold:    0.7,
		fieldThreshold:    0.8,
		jaroWinklerWeight: 0.7,
		levenshteinWeight: 0.3,
	}
}

// NewSimilarityConfig validates thresholds and uses the default weights
func NewSimilarityConfig(modelThreshold, fieldThreshold float64) (SimilarityConfig, error) {
	return NewSimilarityConfigWithWeights(modelThreshold, fieldThreshold, 0.7, 0.3)
}

// NewSimilarityConfigWithWeights validates thresholds in [0.45, 0.95] and
// weights in [0, 1] summing to 1
func NewSimilarityConfigWithWeights(modelThreshold, fieldThreshold, jaroWinklerWeight, levenshteinWeight float64) (SimilarityConfig, error) {
	if modelThreshold < minThreshold || modelThreshold > maxThreshold {
		return SimilarityConfig{}, fmt.Errorf("model_threshold must be between %.2f and %.2f, got %v", minThreshold, maxThreshold, modelThreshold)
	}
	if fieldThreshold < minThreshold || fieldThreshold > maxThreshold {
		return SimilarityConfig{}, fmt.Errorf("field_threshold must be between %.2f and %.2f, got %v", minThreshold, maxThreshold, fieldThreshold)
	}
	if jaroWinklerWeight < 0 || jaroWinklerWeight > 1 {
		return SimilarityConfig{}, fmt.Errorf("jaro_winkler_weight must be between 0 and 1, got %v", jaroWinklerWeight)
	}
	if levenshteinWeight < 0 || levenshteinWeight > 1 {
		return SimilarityConfig{}, fmt.Errorf("levenshtein_weight must be between 0 and 1, got %v", levenshteinWeight)
	}
	if sum := jaroWinklerWeight + levenshteinWeight; math.Abs(sum-1) > 0.01 {
		return SimilarityConfig{}, fmt.Errorf("jaro_winkler_weight + levenshtein_weight must sum to 1, got %v", sum)
	}
	return SimilarityConfig{
		modelThreshold:    modelThreshold,
		fieldThreshold:    fieldThreshold,
		jaroWinklerWeight: jaroWinklerWeight,
		levenshteinWeight: levenshteinWeight,
	}, nil
}

func (c SimilarityConfig) orDefault() SimilarityConfig {
	if c == (SimilarityConfig{}) {
		return DefaultSimilarityConfig()
	}
	return c
}

func (c SimilarityConfig) ModelThreshold() float64 { return c.orDefault().modelThreshold }
func (c SimilarityConfig) FieldThreshold() float64 { return c.orDefault().fieldThreshold }

// NameSimilarity blends Jaro-Winkler with normalized Levenshtein similarity
func (c SimilarityConfig) NameSimilarity(a, b string) float64 {
	c = c.orDefault()
	jw := smetrics.JaroWinkler(a, b, jwBoostThreshold, jwPrefix)

	lev := 1.0
	if maxLen := max(len(a), len(b)); maxLen > 0 {
		lev = 1 - float64(smetrics.WagnerFischer(a, b, 1, 1, 1))/float64(maxLen)
	}
	return c.jaroWinklerWeight*jw + c.levenshteinWeight*lev
}

// FieldSimilarity scores a possible field rename in [0, 1]. Fields of
// different types never match; matching nullability adds 0.1.
func (c SimilarityConfig) FieldSimilarity(from, to state.FieldState) float64 {
	if from.FieldType != to.FieldType {
		return 0
	}
	score := c.NameSimilarity(from.Name, to.Name)
	if from.Nullable == to.Nullable {
		score += 0.1
	}
	return math.Min(score, 1)
}

// ModelSimilarity greedily pairs each field of from with its best unused
// field of to and divides the total by the larger field count
func (c SimilarityConfig) ModelSimilarity(from, to *state.ModelState) float64 {
	if len(from.Fields) == 0 && len(to.Fields) == 0 {
		return 1
	}
	if len(from.Fields) == 0 || len(to.Fields) == 0 {
		return 0
	}

	toNames := to.FieldNames()
	used := make(map[string]bool, len(toNames))
	total := 0.0
	for _, fromName := range from.FieldNames() {
		best, bestName := 0.0, ""
		for _, toName := range toNames {
			if used[toName] {
				continue
			}
			if s := c.FieldSimilarity(from.Fields[fromName], to.Fields[toName]); s > best {
				best, bestName = s, toName
			}
		}
		if bestName != "" {
			used[bestName] = true
			total += best
		}
	}
	return total / float64(max(len(from.Fields), len(to.Fields)))
}

// sortCandidates orders by score descending, then by names
func sortCandidates(cs []RenameCandidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].sortKey() < cs[j].sortKey()
	})
}
