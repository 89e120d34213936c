// Package analysis scores a new complaint against recent complaints of the
// same category and recommends whether it should join an existing cluster.
//
// The rubric awards at most 100 points per candidate:
//
//	category match     40 (mandatory pre-filter)
//	location           25 same region, 15 same province only
//	tag overlap        20 for 3+, 12 for 2, 6 for 1
//	content relatedness up to 15
//
// The best candidate decides: 80 and above must join, 60-79 joins, anything
// lower starts a new cluster.
package analysis

import (
	"strings"

	"suarawarga/backend/internal/config"
	"suarawarga/backend/internal/models"
)

// Subject is the part of a complaint the scorer looks at.
type Subject struct {
	ID             string
	NormalizedText string
	Category       models.Category
	Tags           []string
	Region         string
	Province       string
	ClusterID      *string
}

// SubjectOf extracts the scoring view of a stored complaint.
func SubjectOf(c *models.Complaint) Subject {
	text := c.NormalizedText
	if text == "" {
		text = c.RawText
	}
	return Subject{
		ID:             c.ID,
		NormalizedText: text,
		Category:       c.Category,
		Tags:           c.Tags,
		Region:         c.Region,
		Province:       c.Province,
		ClusterID:      c.ClusterID,
	}
}

// Breakdown itemizes a candidate's score.
type Breakdown struct {
	Category int `json:"category"`
	Location int `json:"location"`
	Tags     int `json:"tags"`
	Content  int `json:"content"`
}

// Total is the candidate's score.
func (b Breakdown) Total() int {
	return b.Category + b.Location + b.Tags + b.Content
}

// Decision is what the assignment engine should do with the complaint.
type Decision string

const (
	DecisionMustJoin  Decision = "must_join"
	DecisionJoin      Decision = "join"
	DecisionCreateNew Decision = "create_new"
)

// Result is the scorer's recommendation. BestCandidate is nil when the
// window held no scorable candidate.
type Result struct {
	BestCandidate   *Subject  `json:"best_candidate,omitempty"`
	Score           int       `json:"score"`
	Breakdown       Breakdown `json:"breakdown"`
	Decision        Decision  `json:"decision"`
	ShouldCreateNew bool      `json:"should_create_new"`
}

// Decide maps a best-candidate score to a decision.
// Scores of 80 and above are a hard join; a weak match (below 60) never
// forces a join.
func Decide(score int) Decision {
	switch {
	case score >= config.MustJoinThreshold:
		return DecisionMustJoin
	case score >= config.JoinThreshold:
		return DecisionJoin
	default:
		return DecisionCreateNew
	}
}

// Score compares subject against candidates. Candidates are expected newest
// first; on equal scores the earlier (newer) candidate wins. Candidates of a
// different category, the subject itself and candidates that have no cluster
// to join are never recommended.
func Score(subject Subject, candidates []Subject) Result {
	best := -1
	var bestBreakdown Breakdown
	subjectTokens := tokenize(subject.NormalizedText)

	for i := range candidates {
		cand := &candidates[i]
		if cand.Category != subject.Category {
			continue
		}
		if cand.ID != "" && cand.ID == subject.ID {
			continue
		}
		if cand.ClusterID == nil {
			continue
		}
		b := scoreOne(subject, subjectTokens, cand)
		if best < 0 || b.Total() > bestBreakdown.Total() {
			best = i
			bestBreakdown = b
		}
	}

	if best < 0 {
		return Result{Decision: DecisionCreateNew, ShouldCreateNew: true}
	}

	decision := Decide(bestBreakdown.Total())
	bestCand := candidates[best]
	return Result{
		BestCandidate:   &bestCand,
		Score:           bestBreakdown.Total(),
		Breakdown:       bestBreakdown,
		Decision:        decision,
		ShouldCreateNew: decision == DecisionCreateNew,
	}
}

// ScorePair scores a single same-category pair without a decision.
// The second return is false when the categories differ.
func ScorePair(subject, candidate Subject) (Breakdown, bool) {
	if subject.Category != candidate.Category {
		return Breakdown{}, false
	}
	return scoreOne(subject, tokenize(subject.NormalizedText), &candidate), true
}

func scoreOne(subject Subject, subjectTokens map[string]struct{}, cand *Subject) Breakdown {
	return Breakdown{
		Category: config.CategoryMatchPoints,
		Location: LocationPoints(subject.Region, subject.Province, cand.Region, cand.Province),
		Tags:     TagPoints(SharedTags(subject.Tags, cand.Tags)),
		Content:  ContentPoints(Overlap(subjectTokens, tokenize(cand.NormalizedText))),
	}
}

// LocationPoints awards proximity: same city/regency, else same province.
func LocationPoints(regionA, provinceA, regionB, provinceB string) int {
	if sameName(regionA, regionB) {
		return config.SameRegionPoints
	}
	if sameName(provinceA, provinceB) {
		return config.SameProvincePoints
	}
	return 0
}

// TagPoints awards shared tags.
func TagPoints(shared int) int {
	switch {
	case shared >= 3:
		return config.TagOverlapThreePoints
	case shared == 2:
		return config.TagOverlapTwoPoints
	case shared == 1:
		return config.TagOverlapOnePoints
	default:
		return 0
	}
}

// ContentPoints turns a token overlap ratio into the coarse relatedness term.
func ContentPoints(overlap float64) int {
	for _, band := range config.ContentBands {
		if overlap >= band.MinOverlap {
			return band.Points
		}
	}
	return 0
}

// SharedTags counts distinct tags present in both sets, ignoring case.
func SharedTags(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		if n := normalizeName(t); n != "" {
			set[n] = struct{}{}
		}
	}
	shared := 0
	for _, t := range b {
		n := normalizeName(t)
		if _, ok := set[n]; ok {
			shared++
			delete(set, n)
		}
	}
	return shared
}

func sameName(a, b string) bool {
	na, nb := normalizeName(a), normalizeName(b)
	return na != "" && na == nb
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
