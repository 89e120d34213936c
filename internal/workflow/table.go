package workflow

import "suarawarga/backend/internal/models"

// TransitionTable lists, per current status, the statuses a reviewer may
// move a complaint to. The policy lives here as data; the service only
// looks it up.
type TransitionTable map[models.WorkflowStatus][]models.WorkflowStatus

// Permissive allows every status to move to any non-initial status. This is
// the behaviour reviewers rely on today and the default.
func Permissive() TransitionTable {
	t := TransitionTable{}
	for _, from := range models.WorkflowStatuses {
		for _, to := range models.WorkflowStatuses {
			if to.Initial() || to == from {
				continue
			}
			t[from] = append(t[from], to)
		}
	}
	return t
}

// Linear only allows stepping to the next status.
func Linear() TransitionTable {
	t := TransitionTable{}
	all := models.WorkflowStatuses
	for i := 0; i+1 < len(all); i++ {
		t[all[i]] = []models.WorkflowStatus{all[i+1]}
	}
	return t
}

// Allows reports whether from -> to is in the table.
func (t TransitionTable) Allows(from, to models.WorkflowStatus) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reachable reports whether any status may move to to.
func (t TransitionTable) Reachable(to models.WorkflowStatus) bool {
	for from := range t {
		if t.Allows(from, to) {
			return true
		}
	}
	return false
}
