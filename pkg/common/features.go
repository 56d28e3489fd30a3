package common

import (
	"math"
	"time"
)

const (
	PersonFeatureVersion     = "person/v1"
	RepositoryFeatureVersion = "repo/v1"
)

// SkillVocabulary fixes the skill dimensions of person/v1 vectors. Changing
// it requires a new feature version.
var SkillVocabulary = []string{
	"ai",
	"blockchain",
	"backend",
	"cloud",
	"data",
	"devops",
	"frontend",
	"mobile",
	"security",
	"systems",
}

// PersonFeatureDims is the vector length of person/v1.
var PersonFeatureDims = 3 + len(SkillVocabulary)

// RepositoryFeatureDims is the vector length of repo/v1.
const RepositoryFeatureDims = 4

// FeatureVector is the versioned feature representation of a node.
type FeatureVector struct {
	NodeID     NodeID    `json:"node_id"`
	Kind       NodeKind  `json:"kind"`
	Version    string    `json:"version"`
	Values     []float32 `json:"values"`
	ComputedAt time.Time `json:"computed_at"`
}

// Cosine returns the cosine similarity of a and b. Identical vectors score 1,
// including two zero vectors. A zero vector against a non-zero one, or
// vectors of different length, score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
		}
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if same {
		return 1
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, sim))
}
