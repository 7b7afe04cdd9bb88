package services

import (
	"strings"
	"time"

	"civicreport/models"
	"civicreport/stores"
)

// forward lists the targets reachable from each state under strict transitions.
var forward = map[models.IssueStatus][]models.IssueStatus{
	models.Reported:   {models.Assigned, models.InProgress, models.Resolved, models.Closed},
	models.Assigned:   {models.InProgress, models.Resolved, models.Closed},
	models.InProgress: {models.Resolved, models.Closed},
	models.Resolved:   {models.Closed},
	models.Closed:     {},
}

// Lifecycle governs status values and transitions. By default any admin may
// move an issue to any state; strict mode only allows forward moves.
type Lifecycle struct {
	strict bool
	now    func() time.Time
}

func NewLifecycle(strict bool) *Lifecycle {
	return &Lifecycle{strict: strict, now: time.Now}
}

// InitialStatus is the state every new issue starts in.
func (l *Lifecycle) InitialStatus() models.IssueStatus {
	return models.Reported
}

// CanTransition reports whether from -> to is allowed. Re-applying the
// current status is always allowed.
func (l *Lifecycle) CanTransition(from, to models.IssueStatus) bool {
	if from == to || !l.strict {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusChange is a requested transition.
type StatusChange struct {
	Status     string
	AssignedTo *string
	Note       string
}

// Plan checks a transition of issue by actor and returns the store update
// that applies it. It does not write anything.
func (l *Lifecycle) Plan(issue *models.Issue, change StatusChange, actor *Caller) (stores.StatusUpdate, error) {
	if err := Authorize(actor, ActionUpdateStatus, issue); err != nil {
		return stores.StatusUpdate{}, err
	}

	to, ok := models.ParseStatus(change.Status)
	if !ok {
		return stores.StatusUpdate{}, validationf("Invalid status. Must be one of: reported, assigned, in-progress, resolved, closed")
	}
	if !l.CanTransition(issue.Status, to) {
		return stores.StatusUpdate{}, validationf("Cannot move issue from " + string(issue.Status) + " to " + string(to))
	}

	now := l.now().UTC().Truncate(time.Millisecond)
	update := stores.StatusUpdate{Status: to, At: now}
	if change.AssignedTo != nil {
		assignee := strings.TrimSpace(*change.AssignedTo)
		update.AssignedTo = &assignee
	}
	if to == models.Resolved && !issue.IsResolvedOnce() {
		update.Resolution = &models.Resolution{
			Description: strings.TrimSpace(change.Note),
			ResolvedAt:  &now,
			ResolvedBy:  actor.Label(),
		}
	}
	return update, nil
}
