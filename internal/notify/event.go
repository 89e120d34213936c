// Package notify fans complaint events out to connected reviewer dashboards,
// across instances through Redis pub/sub.
package notify

import (
	"context"
	"time"
)

type EventType string

const (
	EventComplaintCreated    EventType = "complaint.created"
	EventStatusChanged       EventType = "complaint.status_changed"
	EventVerificationChanged EventType = "complaint.verification_changed"
	EventReportGenerated     EventType = "report.generated"
)

// Event is what reviewers receive over the live feed.
type Event struct {
	Type        EventType `json:"type"`
	ComplaintID string    `json:"complaint_id,omitempty"`
	ClusterID   string    `json:"cluster_id,omitempty"`
	ReportID    string    `json:"report_id,omitempty"`
	Category    string    `json:"category,omitempty"`
	Region      string    `json:"region,omitempty"`
	OldStatus   string    `json:"old_status,omitempty"`
	NewStatus   string    `json:"new_status,omitempty"`
	ActorID     string    `json:"actor_id,omitempty"`
	Count       int       `json:"count,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher delivers events on a best effort basis. Publish never blocks for
// long and never fails the caller's operation.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
