package config

import "time"

const (
	// Similarity rubric, points out of 100
	CategoryMatchPoints   = 40
	SameRegionPoints      = 25
	SameProvincePoints    = 15
	TagOverlapThreePoints = 20
	TagOverlapTwoPoints   = 12
	TagOverlapOnePoints   = 6
	ContentMaxPoints      = 15

	// Decision bands
	MustJoinThreshold = 80
	JoinThreshold     = 60

	// Candidate window
	CandidateWindowSize = 20

	// Classification contract
	MinTags = 3
	MaxTags = 7

	// Workflow
	SystemActorID = "system"
	AutoSeenNote  = "Viewed by reviewer"

	// Verification
	DefaultMaxAnchorAttempts = 5
	StalePendingAfter        = 30 * time.Minute
	AbandonPendingAfter      = 24 * time.Hour
	ClusterLeaseTTL          = 10 * time.Second
)

// ContentBands maps a minimum token overlap (Jaccard) to the points awarded
// for content relatedness. Checked in order; the first match wins.
var ContentBands = []struct {
	MinOverlap float64
	Points     int
}{
	{0.5, 15},
	{0.3, 10},
	{0.15, 5},
}
