package services

import (
	"civicreport/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Caller is the identity behind a request. A nil *Caller is anonymous.
type Caller struct {
	UserID primitive.ObjectID
	Name   string
	Email  string
	Role   models.Role
	// Verified is set once the identity has been re-read from the user store.
	Verified bool
}

func (c *Caller) IsAdmin() bool {
	return c != nil && c.Role == models.RoleAdmin
}

// Label is how the caller is recorded on a resolution.
func (c *Caller) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.UserID.Hex()
}

type Action string

const (
	ActionListIssues   Action = "listIssues"
	ActionViewIssue    Action = "viewIssue"
	ActionCreateIssue  Action = "createIssue"
	ActionUpdateStatus Action = "updateIssueStatus"
	ActionViewPhoto    Action = "viewPhoto"
	ActionViewStats    Action = "viewStats"
)

// Authorize decides whether caller may perform action. issue is only
// consulted for ownership checks and may be nil otherwise. It has no side
// effects.
func Authorize(caller *Caller, action Action, issue *models.Issue) error {
	switch action {
	case ActionListIssues, ActionViewIssue:
		return nil

	case ActionCreateIssue:
		if caller == nil {
			return authError("Not authorized, no token provided")
		}
		return nil

	case ActionUpdateStatus:
		if caller == nil {
			return authError("Not authorized, no token provided")
		}
		if !caller.IsAdmin() {
			return forbidden("Only admins can update issue status")
		}
		return nil

	case ActionViewPhoto:
		if caller == nil {
			return authError("Not authorized, no token provided")
		}
		if caller.IsAdmin() || (issue != nil && issue.ReportedBy == caller.UserID) {
			return nil
		}
		return forbidden("Not authorized to view this photo")

	case ActionViewStats:
		if caller == nil {
			return authError("Not authorized, no token provided")
		}
		if !caller.IsAdmin() {
			return forbidden("Only admins can view statistics")
		}
		return nil
	}
	return forbidden("Unknown operation")
}
