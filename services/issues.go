package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"civicreport/models"
	"civicreport/stores"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxPageSize = 100

// IssueService owns issue creation, reads and status changes.
type IssueService struct {
	issues    stores.IssueStore
	users     stores.UserStore
	photos    stores.PhotoStore
	lifecycle *Lifecycle
	maxPhoto  int64
	public    bool
	log       *slog.Logger
	now       func() time.Time
}

type IssueServiceConfig struct {
	Lifecycle     *Lifecycle
	MaxPhotoBytes int64
	// PublicPhotos keeps photo file names in issue views. Without it photos
	// are only reachable through the reporter-or-admin photo route.
	PublicPhotos bool
	Logger       *slog.Logger
}

func NewIssueService(issues stores.IssueStore, users stores.UserStore, photos stores.PhotoStore, cfg IssueServiceConfig) *IssueService {
	if cfg.Lifecycle == nil {
		cfg.Lifecycle = NewLifecycle(false)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &IssueService{
		issues:    issues,
		users:     users,
		photos:    photos,
		lifecycle: cfg.Lifecycle,
		maxPhoto:  cfg.MaxPhotoBytes,
		public:    cfg.PublicPhotos,
		log:       cfg.Logger,
		now:       time.Now,
	}
}

// PhotoUpload is an image received with a new issue.
type PhotoUpload struct {
	Filename string
	Data     []byte
}

// NewIssue holds the only user-settable fields of an issue.
type NewIssue struct {
	Report       string
	Address      string
	Municipality string
	Latitude     *float64
	Longitude    *float64
	Category     string
	Priority     string
	Photo        *PhotoUpload
}

// Create validates the report, stores the photo if any, then persists the
// issue. A photo whose issue cannot be persisted is removed again.
func (s *IssueService) Create(ctx context.Context, caller *Caller, in NewIssue) (*models.IssueView, error) {
	if err := Authorize(caller, ActionCreateIssue, nil); err != nil {
		return nil, err
	}

	report := strings.TrimSpace(in.Report)
	if utf8.RuneCountInString(report) < models.MinReportLength {
		return nil, validationf(fmt.Sprintf("Report must be at least %d characters", models.MinReportLength))
	}
	address := strings.TrimSpace(in.Address)
	if address == "" {
		return nil, validationf("Location address is required")
	}
	coords := models.Coordinates{Latitude: in.Latitude, Longitude: in.Longitude}
	if !coords.Valid() {
		return nil, validationf("Coordinates out of range")
	}

	issue := &models.Issue{
		Report: report,
		Location: models.Location{
			Address:      address,
			Municipality: strings.TrimSpace(in.Municipality),
		},
		Category:   models.ParseCategory(in.Category),
		Priority:   models.ParsePriority(in.Priority),
		Status:     s.lifecycle.InitialStatus(),
		ReportedBy: caller.UserID,
	}
	if !coords.Empty() {
		issue.Location.Coordinates = &coords
	}

	if in.Photo != nil {
		photo, err := s.storePhoto(ctx, in.Photo)
		if err != nil {
			return nil, err
		}
		issue.Photo = photo
	}

	if err := s.issues.Create(ctx, issue); err != nil {
		if issue.Photo != nil {
			s.discardPhoto(issue.Photo.Filename)
		}
		return nil, storeError(err)
	}

	view := &models.IssueView{Issue: s.visible(*issue), ReportedBy: reporterOf(caller)}
	return view, nil
}

func (s *IssueService) storePhoto(ctx context.Context, up *PhotoUpload) (*models.Photo, error) {
	size := int64(len(up.Data))
	if size == 0 {
		return nil, validationf("Uploaded photo is empty")
	}
	if s.maxPhoto > 0 && size > s.maxPhoto {
		return nil, validationf(fmt.Sprintf("File size too large. Maximum size is %dMB.", s.maxPhoto>>20))
	}
	mt := mimetype.Detect(up.Data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, validationf("Only image files (jpg, jpeg, png, gif) are allowed.")
	}

	name := fmt.Sprintf("%d-%s%s", s.now().UnixMilli(), uuid.NewString(), mt.Extension())
	if err := s.photos.Put(ctx, name, mt.String(), bytes.NewReader(up.Data), size); err != nil {
		return nil, storeError(err)
	}
	return &models.Photo{Filename: name, ContentType: mt.String(), Size: size}, nil
}

// discardPhoto runs detached from the request context so that a cancelled
// request still cleans up.
func (s *IssueService) discardPhoto(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.photos.Delete(ctx, name); err != nil {
		s.log.Error("failed to remove orphaned photo", "filename", name, "error", err)
	}
}

// ListQuery are the optional listing filters. Limit 0 returns every match.
type ListQuery struct {
	Category string
	Status   string
	Search   string
	Mine     bool
	Page     int
	Limit    int
}

func (s *IssueService) List(ctx context.Context, caller *Caller, q ListQuery) ([]models.IssueView, int64, error) {
	if err := Authorize(caller, ActionListIssues, nil); err != nil {
		return nil, 0, err
	}

	var f stores.IssueFilter
	if q.Category != "" && q.Category != "all" {
		c := models.ParseCategory(q.Category)
		if !strings.EqualFold(string(c), strings.TrimSpace(q.Category)) {
			return nil, 0, validationf("Invalid category")
		}
		f.Category = c
	}
	if q.Status != "" && q.Status != "all" {
		st, ok := models.ParseStatus(strings.ToLower(strings.TrimSpace(q.Status)))
		if !ok {
			return nil, 0, validationf("Invalid status")
		}
		f.Status = st
	}
	if q.Mine {
		if caller == nil {
			return nil, 0, authError("Not authorized, no token provided")
		}
		id := caller.UserID
		f.ReportedBy = &id
	}
	f.Search = strings.TrimSpace(q.Search)
	if q.Limit > 0 {
		limit := min(q.Limit, maxPageSize)
		page := max(q.Page, 1)
		if int64(page-1) > math.MaxInt64/int64(limit) {
			return nil, 0, validationf("Page out of range")
		}
		f.Limit = int64(limit)
		f.Skip = int64(page-1) * int64(limit)
	}

	issues, total, err := s.issues.List(ctx, f)
	if err != nil {
		return nil, 0, storeError(err)
	}
	views, err := s.withReporters(ctx, issues)
	if err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

func (s *IssueService) Get(ctx context.Context, caller *Caller, id string) (*models.IssueView, error) {
	issue, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(caller, ActionViewIssue, issue); err != nil {
		return nil, err
	}
	views, err := s.withReporters(ctx, []models.Issue{*issue})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// UpdateStatus applies an admin transition. The role check runs before the
// issue is loaded or the payload inspected.
func (s *IssueService) UpdateStatus(ctx context.Context, actor *Caller, id string, change StatusChange) (*models.IssueView, error) {
	if err := Authorize(actor, ActionUpdateStatus, nil); err != nil {
		return nil, err
	}
	issue, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	update, err := s.lifecycle.Plan(issue, change, actor)
	if err != nil {
		return nil, err
	}

	updated, err := s.issues.UpdateStatus(ctx, issue.ID, update)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, notFound("Issue not found")
		}
		return nil, storeError(err)
	}

	views, err := s.withReporters(ctx, []models.Issue{*updated})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Photo opens the photo of an issue for its reporter or an admin.
func (s *IssueService) Photo(ctx context.Context, caller *Caller, id string) (*stores.Blob, error) {
	if caller == nil {
		return nil, authError("Not authorized, no token provided")
	}
	issue, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(caller, ActionViewPhoto, issue); err != nil {
		return nil, err
	}
	if issue.Photo == nil {
		return nil, notFound("No photo found for this issue")
	}
	return s.OpenUpload(ctx, issue.Photo.Filename)
}

// OpenUpload opens a stored photo by file name.
func (s *IssueService) OpenUpload(ctx context.Context, name string) (*stores.Blob, error) {
	blob, err := s.photos.Open(ctx, name)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, notFound("File not found")
		}
		return nil, storeError(err)
	}
	return blob, nil
}

type Stats struct {
	Total      int64            `json:"total"`
	ByStatus   map[string]int64 `json:"byStatus"`
	ByCategory map[string]int64 `json:"byCategory"`
}

func (s *IssueService) Stats(ctx context.Context, caller *Caller) (*Stats, error) {
	if err := Authorize(caller, ActionViewStats, nil); err != nil {
		return nil, err
	}

	byStatus, err := s.issues.CountBy(ctx, stores.GroupByStatus)
	if err != nil {
		return nil, storeError(err)
	}
	byCategory, err := s.issues.CountBy(ctx, stores.GroupByCategory)
	if err != nil {
		return nil, storeError(err)
	}

	out := &Stats{
		ByStatus:   make(map[string]int64, len(models.Statuses)),
		ByCategory: make(map[string]int64, len(models.Categories)),
	}
	for _, st := range models.Statuses {
		out.ByStatus[string(st)] = byStatus[string(st)]
		out.Total += byStatus[string(st)]
	}
	for _, c := range models.Categories {
		out.ByCategory[string(c)] = byCategory[string(c)]
	}
	return out, nil
}

func (s *IssueService) load(ctx context.Context, id string) (*models.Issue, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, validationf("Invalid issue ID")
	}
	issue, err := s.issues.FindByID(ctx, oid)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, notFound("Issue not found")
		}
		return nil, storeError(err)
	}
	return issue, nil
}

// withReporters resolves reporters in one lookup. Reporters that no longer
// exist are shown as Anonymous.
func (s *IssueService) withReporters(ctx context.Context, issues []models.Issue) ([]models.IssueView, error) {
	seen := make(map[primitive.ObjectID]struct{}, len(issues))
	ids := make([]primitive.ObjectID, 0, len(issues))
	for _, issue := range issues {
		if _, ok := seen[issue.ReportedBy]; ok || issue.ReportedBy.IsZero() {
			continue
		}
		seen[issue.ReportedBy] = struct{}{}
		ids = append(ids, issue.ReportedBy)
	}

	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, storeError(err)
	}

	views := make([]models.IssueView, 0, len(issues))
	for _, issue := range issues {
		reporter := models.AnonymousReporter
		if u, ok := users[issue.ReportedBy]; ok {
			reporter = models.Reporter{Name: u.Name, Email: u.Email}
		}
		views = append(views, models.IssueView{Issue: s.visible(issue), ReportedBy: reporter})
	}
	return views, nil
}

// visible drops the photo file name unless uploads are served publicly.
func (s *IssueService) visible(issue models.Issue) models.Issue {
	if issue.Photo != nil && !s.public {
		photo := *issue.Photo
		photo.Filename = ""
		issue.Photo = &photo
	}
	return issue
}

func reporterOf(c *Caller) models.Reporter {
	if c.Name == "" {
		return models.AnonymousReporter
	}
	return models.Reporter{Name: c.Name, Email: c.Email}
}
