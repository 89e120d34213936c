package models

import "strings"

// Category is the single topic a complaint is classified into.
type Category string

const (
	CategoryInfrastructure Category = "infrastructure"
	CategoryHealth         Category = "health"
	CategoryEducation      Category = "education"
	CategoryEnvironment    Category = "environment"
	CategorySecurity       Category = "security"
	CategoryPublicService  Category = "public_service"
	CategoryTransportation Category = "transportation"
	CategorySocial         Category = "social"
	CategoryEconomy        Category = "economy"
	CategoryOther          Category = "other"
)

// Categories lists the closed category enumeration in display order.
var Categories = []Category{
	CategoryInfrastructure,
	CategoryHealth,
	CategoryEducation,
	CategoryEnvironment,
	CategorySecurity,
	CategoryPublicService,
	CategoryTransportation,
	CategorySocial,
	CategoryEconomy,
	CategoryOther,
}

// Valid reports whether c is part of the enumeration.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory normalizes free-form input ("Public Service", "public-service")
// into a Category. ok is false when the value is not in the enumeration.
func ParseCategory(s string) (Category, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	c := Category(norm)
	return c, c.Valid()
}

// Label is a human readable form of the category.
func (c Category) Label() string {
	s := strings.ReplaceAll(string(c), "_", " ")
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// WorkflowStatus is the government review stage of a complaint.
type WorkflowStatus string

const (
	StatusUnseen              WorkflowStatus = "unseen"
	StatusSeen                WorkflowStatus = "seen"
	StatusQueuedForDiscussion WorkflowStatus = "queued_for_discussion"
	StatusDeliberated         WorkflowStatus = "deliberated"
	StatusActioned            WorkflowStatus = "actioned"
	StatusCompleted           WorkflowStatus = "completed"
)

// WorkflowStatuses lists every state, initial first and terminal last.
var WorkflowStatuses = []WorkflowStatus{
	StatusUnseen,
	StatusSeen,
	StatusQueuedForDiscussion,
	StatusDeliberated,
	StatusActioned,
	StatusCompleted,
}

func (s WorkflowStatus) Valid() bool {
	for _, known := range WorkflowStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Initial reports whether s is the state every complaint starts in.
func (s WorkflowStatus) Initial() bool { return s == StatusUnseen }

// Terminal reports whether s ends the review.
func (s WorkflowStatus) Terminal() bool { return s == StatusCompleted }

// VerificationStatus is the ledger anchoring state carried on a complaint.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationPending    VerificationStatus = "pending"
	VerificationConfirmed  VerificationStatus = "confirmed"
	VerificationFailed     VerificationStatus = "failed"
)

// RecordStatus is the state of a single submission attempt.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordConfirmed RecordStatus = "confirmed"
	RecordFailed    RecordStatus = "failed"
)

// AnchorMethod says how a fingerprint was put on the ledger.
type AnchorMethod string

const (
	AnchorContract AnchorMethod = "contract"
	AnchorTransfer AnchorMethod = "transfer"
)
