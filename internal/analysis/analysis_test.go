package analysis_test

import (
	"fmt"
	"math/rand"
	"testing"

	"suarawarga/backend/internal/analysis"
	"suarawarga/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clusterRef(id string) *string { return &id }

func candidate(id string, category models.Category, region string, tags []string, text string) analysis.Subject {
	return analysis.Subject{
		ID:             id,
		Category:       category,
		Region:         region,
		Tags:           tags,
		NormalizedText: text,
		ClusterID:      clusterRef("cluster-" + id),
	}
}

func TestDecide_Boundaries(t *testing.T) {
	tests := []struct {
		score int
		want  analysis.Decision
	}{
		{100, analysis.DecisionMustJoin},
		{80, analysis.DecisionMustJoin},
		{79, analysis.DecisionJoin},
		{60, analysis.DecisionJoin},
		{59, analysis.DecisionCreateNew},
		{40, analysis.DecisionCreateNew},
		{39, analysis.DecisionCreateNew},
		{0, analysis.DecisionCreateNew},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("score_%d", tt.score), func(t *testing.T) {
			assert.Equal(t, tt.want, analysis.Decide(tt.score))
		})
	}
}

func TestScore_EmptyWindow(t *testing.T) {
	subject := analysis.Subject{Category: models.CategoryHealth, Region: "Bandung"}

	res := analysis.Score(subject, nil)

	assert.True(t, res.ShouldCreateNew)
	assert.Nil(t, res.BestCandidate)
	assert.Equal(t, analysis.DecisionCreateNew, res.Decision)
	assert.Zero(t, res.Score)
}

func TestScore_OnlyOtherCategories(t *testing.T) {
	subject := analysis.Subject{Category: models.CategoryHealth, Region: "Bandung", Tags: []string{"puskesmas"}}
	window := []analysis.Subject{
		candidate("a", models.CategoryEducation, "Bandung", []string{"puskesmas"}, "puskesmas tutup"),
		candidate("b", models.CategoryInfrastructure, "Bandung", []string{"puskesmas"}, "puskesmas tutup"),
	}

	res := analysis.Score(subject, window)

	assert.True(t, res.ShouldCreateNew)
	assert.Nil(t, res.BestCandidate)
}

// TestScore_JakartaScenario: same category and region, exactly one shared tag.
// Score is 40+25+6 plus the content term, and the decision follows the band.
func TestScore_JakartaScenario(t *testing.T) {
	subjectText := "jalan rusak berlubang depan sekolah dasar membahayakan murid"
	tests := []struct {
		name          string
		candidateText string
	}{
		{name: "unrelated content", candidateText: "lampu penerangan padam sepanjang malam"},
		{name: "loosely related", candidateText: "jalan berlubang dekat pasar"},
		{name: "same problem", candidateText: "jalan rusak berlubang depan sekolah dasar membahayakan anak"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject := analysis.Subject{
				ID:             "new",
				Category:       models.CategoryInfrastructure,
				Region:         "Jakarta",
				Tags:           []string{"jalan-rusak", "sekolah"},
				NormalizedText: subjectText,
			}
			window := []analysis.Subject{
				candidate("old", models.CategoryInfrastructure, "Jakarta", []string{"jalan-rusak", "drainase"}, tt.candidateText),
			}

			res := analysis.Score(subject, window)

			content := analysis.ContentPoints(analysis.TextOverlap(subjectText, tt.candidateText))
			expected := 40 + 25 + 6 + content
			require.NotNil(t, res.BestCandidate)
			assert.Equal(t, expected, res.Score)
			assert.Equal(t, analysis.Breakdown{Category: 40, Location: 25, Tags: 6, Content: content}, res.Breakdown)
			assert.Equal(t, analysis.Decide(expected), res.Decision)
			assert.Equal(t, expected < 60, res.ShouldCreateNew)
		})
	}
}

func TestScore_PicksBestAndPrefersNewestOnTie(t *testing.T) {
	subject := analysis.Subject{
		ID:             "new",
		Category:       models.CategoryEnvironment,
		Region:         "Surabaya",
		Province:       "Jawa Timur",
		Tags:           []string{"sampah", "sungai", "bau"},
		NormalizedText: "sampah menumpuk di sungai menimbulkan bau",
	}
	window := []analysis.Subject{
		candidate("newest", models.CategoryEnvironment, "Sidoarjo", []string{"sampah"}, "truk sampah tidak datang"),
		candidate("twin-a", models.CategoryEnvironment, "Surabaya", []string{"sampah", "sungai", "bau"}, "sampah menumpuk di sungai menimbulkan bau"),
		candidate("twin-b", models.CategoryEnvironment, "Surabaya", []string{"sampah", "sungai", "bau"}, "sampah menumpuk di sungai menimbulkan bau"),
	}

	res := analysis.Score(subject, window)

	require.NotNil(t, res.BestCandidate)
	assert.Equal(t, "twin-a", res.BestCandidate.ID)
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, analysis.DecisionMustJoin, res.Decision)
	assert.False(t, res.ShouldCreateNew)
}

func TestScore_SkipsSelfAndUnclustered(t *testing.T) {
	subject := analysis.Subject{ID: "me", Category: models.CategoryHealth, Region: "Medan", NormalizedText: "obat habis"}
	self := candidate("me", models.CategoryHealth, "Medan", nil, "obat habis")
	unclustered := candidate("loose", models.CategoryHealth, "Medan", nil, "obat habis")
	unclustered.ClusterID = nil

	res := analysis.Score(subject, []analysis.Subject{self, unclustered})

	assert.Nil(t, res.BestCandidate)
	assert.True(t, res.ShouldCreateNew)
}

// TestScore_NeverCrossesCategories feeds random mixed windows and checks the
// category filter is absolute.
func TestScore_NeverCrossesCategories(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	regions := []string{"Jakarta", "Bandung", "Depok", "Bogor"}
	tagPool := []string{"jalan-rusak", "sekolah", "banjir", "sampah", "listrik", "air"}

	pick := func(n int) []string {
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, tagPool[rng.Intn(len(tagPool))])
		}
		return out
	}

	for iter := 0; iter < 500; iter++ {
		subject := analysis.Subject{
			ID:             "subject",
			Category:       models.Categories[rng.Intn(len(models.Categories))],
			Region:         regions[rng.Intn(len(regions))],
			Tags:           pick(3),
			NormalizedText: "banjir jalan rusak sampah",
		}
		window := make([]analysis.Subject, 0, 20)
		for i := 0; i < rng.Intn(21); i++ {
			window = append(window, candidate(
				fmt.Sprintf("c%d", i),
				models.Categories[rng.Intn(len(models.Categories))],
				regions[rng.Intn(len(regions))],
				pick(1+rng.Intn(4)),
				"banjir jalan rusak",
			))
		}

		res := analysis.Score(subject, window)

		if res.BestCandidate != nil {
			require.Equal(t, subject.Category, res.BestCandidate.Category, "iteration %d", iter)
			require.GreaterOrEqual(t, res.Score, 40)
		} else {
			require.True(t, res.ShouldCreateNew)
		}
		require.LessOrEqual(t, res.Score, 100)
	}
}

func TestLocationPoints(t *testing.T) {
	assert.Equal(t, 25, analysis.LocationPoints("Jakarta", "", "jakarta ", ""))
	assert.Equal(t, 15, analysis.LocationPoints("Depok", "Jawa Barat", "Bogor", "Jawa Barat"))
	assert.Equal(t, 0, analysis.LocationPoints("Depok", "Jawa Barat", "Medan", "Sumatera Utara"))
	assert.Equal(t, 0, analysis.LocationPoints("", "", "", ""), "blank names never match")
}

func TestTagPoints(t *testing.T) {
	a := []string{"Jalan-Rusak", "sekolah", "banjir", "sampah"}
	tests := []struct {
		b    []string
		want int
	}{
		{[]string{"jalan-rusak", "sekolah", "banjir"}, 20},
		{[]string{"jalan-rusak", "sekolah", "banjir", "sampah"}, 20},
		{[]string{"jalan-rusak", "sekolah"}, 12},
		{[]string{"sekolah", "sekolah"}, 6},
		{[]string{"listrik"}, 0},
		{nil, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, analysis.TagPoints(analysis.SharedTags(a, tt.b)), "%v", tt.b)
	}
}

func TestContentPoints(t *testing.T) {
	assert.Equal(t, 15, analysis.ContentPoints(1))
	assert.Equal(t, 15, analysis.ContentPoints(0.5))
	assert.Equal(t, 10, analysis.ContentPoints(0.3))
	assert.Equal(t, 5, analysis.ContentPoints(0.15))
	assert.Equal(t, 0, analysis.ContentPoints(0.1))
}

func TestTextOverlap(t *testing.T) {
	assert.Equal(t, 1.0, analysis.TextOverlap("Jalan rusak!", "jalan, RUSAK"))
	assert.Equal(t, 0.0, analysis.TextOverlap("", "jalan rusak"))
	assert.Equal(t, 0.0, analysis.TextOverlap("yang dan di", "the and of"), "stopwords only")
	assert.InDelta(t, 1.0/3.0, analysis.TextOverlap("jalan rusak", "jalan berlubang"), 1e-9)
}

func TestScorePair(t *testing.T) {
	a := candidate("a", models.CategoryHealth, "Medan", []string{"obat"}, "obat habis")
	b := candidate("b", models.CategoryEducation, "Medan", []string{"obat"}, "obat habis")

	_, ok := analysis.ScorePair(a, b)
	assert.False(t, ok)

	bd, ok := analysis.ScorePair(a, a)
	assert.True(t, ok)
	assert.Equal(t, 40+25+6+15, bd.Total())
}

func TestSubjectOf(t *testing.T) {
	c := &models.Complaint{ID: "x", RawText: "raw", Category: models.CategoryOther, Region: "Aceh", Tags: models.StringList{"a"}}
	s := analysis.SubjectOf(c)
	assert.Equal(t, "raw", s.NormalizedText, "falls back to raw text")
	assert.Equal(t, []string{"a"}, s.Tags)
}
