// Package stores holds the persistence contracts for users, issues and
// photo blobs together with their MongoDB, MinIO, disk and in-memory backends.
package stores

//go:generate mockgen -destination=../mocks/stores.go -package=mocks civicreport/stores UserStore,IssueStore,PhotoStore

import (
	"context"
	"errors"
	"io"
	"time"

	"civicreport/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidName  = errors.New("invalid blob name")
)

// GroupField names an issue attribute that CountBy can aggregate on.
type GroupField string

const (
	GroupByStatus   GroupField = "status"
	GroupByCategory GroupField = "category"
)

// IssueFilter narrows List. Zero values match everything; Limit 0 means no limit.
type IssueFilter struct {
	Category   models.IssueCategory
	Status     models.IssueStatus
	ReportedBy *primitive.ObjectID
	Search     string
	Skip       int64
	Limit      int64
}

// StatusUpdate is applied to one issue in a single atomic write. Resolution
// is only stored when the issue has none yet.
type StatusUpdate struct {
	Status     models.IssueStatus
	AssignedTo *string
	Resolution *models.Resolution
	At         time.Time
}

type UserStore interface {
	// Create assigns an ID when none is set. A taken email yields ErrDuplicateKey.
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	// FindByIDs skips ids that do not resolve.
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.User, error)
}

type IssueStore interface {
	Create(ctx context.Context, issue *models.Issue) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Issue, error)
	// List returns one page of matches, newest first, and the total match count.
	List(ctx context.Context, filter IssueFilter) ([]models.Issue, int64, error)
	UpdateStatus(ctx context.Context, id primitive.ObjectID, update StatusUpdate) (*models.Issue, error)
	CountBy(ctx context.Context, field GroupField) (map[string]int64, error)
}

// Blob is an open photo. The caller closes it.
type Blob struct {
	io.ReadCloser
	Size        int64
	ContentType string
}

type PhotoStore interface {
	Put(ctx context.Context, name, contentType string, r io.Reader, size int64) error
	Open(ctx context.Context, name string) (*Blob, error)
	Delete(ctx context.Context, name string) error
}
