package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MinReportLength is the shortest report body accepted at creation.
const MinReportLength = 10

// IssueCategory enum
type IssueCategory string

const (
	Infrastructure IssueCategory = "infrastructure"
	Sanitation     IssueCategory = "sanitation"
	Transportation IssueCategory = "transportation"
	Utilities      IssueCategory = "utilities"
	Environment    IssueCategory = "environment"
	Safety         IssueCategory = "safety"
	Other          IssueCategory = "other"
)

// Categories lists every category in display order.
var Categories = []IssueCategory{Infrastructure, Sanitation, Transportation, Utilities, Environment, Safety, Other}

// IssuePriority enum
type IssuePriority string

const (
	Low      IssuePriority = "low"
	Medium   IssuePriority = "medium"
	High     IssuePriority = "high"
	Critical IssuePriority = "critical"
)

var Priorities = []IssuePriority{Low, Medium, High, Critical}

// IssueStatus enum
type IssueStatus string

const (
	Reported   IssueStatus = "reported"
	Assigned   IssueStatus = "assigned"
	InProgress IssueStatus = "in-progress"
	Resolved   IssueStatus = "resolved"
	Closed     IssueStatus = "closed"
)

// Statuses lists the lifecycle in order, starting with the initial state.
var Statuses = []IssueStatus{Reported, Assigned, InProgress, Resolved, Closed}

// ParseCategory coerces unknown or empty values to Other.
func ParseCategory(s string) IssueCategory {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if string(c) == s {
			return c
		}
	}
	return Other
}

// ParsePriority coerces unknown or empty values to Medium.
func ParsePriority(s string) IssuePriority {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range Priorities {
		if string(p) == s {
			return p
		}
	}
	return Medium
}

// ParseStatus reports whether s names one of the five lifecycle states.
// Unlike category and priority it never coerces.
func ParseStatus(s string) (IssueStatus, bool) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Coordinates are optional; each axis is bounded independently.
type Coordinates struct {
	Latitude  *float64 `bson:"latitude,omitempty" json:"latitude,omitempty"`
	Longitude *float64 `bson:"longitude,omitempty" json:"longitude,omitempty"`
}

// Valid reports whether any present axis lies within its range.
func (c Coordinates) Valid() bool {
	if c.Latitude != nil && (*c.Latitude < -90 || *c.Latitude > 90) {
		return false
	}
	if c.Longitude != nil && (*c.Longitude < -180 || *c.Longitude > 180) {
		return false
	}
	return true
}

// Empty reports whether neither axis is set.
func (c Coordinates) Empty() bool {
	return c.Latitude == nil && c.Longitude == nil
}

type Location struct {
	Address      string       `bson:"address" json:"address"`
	Coordinates  *Coordinates `bson:"coordinates,omitempty" json:"coordinates,omitempty"`
	Municipality string       `bson:"municipality,omitempty" json:"municipality,omitempty"`
}

// Photo references a blob held by the photo store; the bytes never live on the issue.
type Photo struct {
	Filename    string `bson:"filename" json:"filename,omitempty"`
	ContentType string `bson:"contentType" json:"contentType"`
	Size        int64  `bson:"size" json:"size"`
}

// Resolution is stamped the first time an issue reaches Resolved and never cleared.
type Resolution struct {
	Description string     `bson:"description,omitempty" json:"description,omitempty"`
	ResolvedAt  *time.Time `bson:"resolvedAt,omitempty" json:"resolvedAt,omitempty"`
	ResolvedBy  string     `bson:"resolvedBy,omitempty" json:"resolvedBy,omitempty"`
}

// Issue represents a civic issue reported by a citizen
type Issue struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Report     string             `bson:"report" json:"report"`
	Location   Location           `bson:"location" json:"location"`
	Category   IssueCategory      `bson:"category" json:"category"`
	Priority   IssuePriority      `bson:"priority" json:"priority"`
	Status     IssueStatus        `bson:"status" json:"status"`
	Photo      *Photo             `bson:"photo,omitempty" json:"photo,omitempty"`
	ReportedBy primitive.ObjectID `bson:"reportedBy" json:"-"`
	AssignedTo string             `bson:"assignedTo,omitempty" json:"assignedTo,omitempty"`
	Resolution *Resolution        `bson:"resolution,omitempty" json:"resolution,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// IsResolvedOnce reports whether the resolution record has been stamped.
func (i *Issue) IsResolvedOnce() bool {
	return i.Resolution != nil && i.Resolution.ResolvedAt != nil
}

// Reporter is the public view of an issue's owner.
type Reporter struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// AnonymousReporter stands in for a reporter whose account no longer exists.
var AnonymousReporter = Reporter{Name: "Anonymous"}

// IssueView is the client-facing shape of an issue.
type IssueView struct {
	Issue
	ReportedBy Reporter `json:"reportedBy"`
}
