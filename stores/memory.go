package stores

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"civicreport/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryUsers is a process-local UserStore for development and tests.
type MemoryUsers struct {
	mu    sync.RWMutex
	byID  map[primitive.ObjectID]models.User
	email map[string]primitive.ObjectID
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{
		byID:  make(map[primitive.ObjectID]models.User),
		email: make(map[string]primitive.ObjectID),
	}
}

func (m *MemoryUsers) Create(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.email[user.Email]; taken {
		return ErrDuplicateKey
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	m.byID[user.ID] = *user
	m.email[user.Email] = user.ID
	return nil
}

func (m *MemoryUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.email[email]
	if !ok {
		return nil, ErrNotFound
	}
	u := m.byID[id]
	return &u, nil
}

func (m *MemoryUsers) FindByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryUsers) FindByIDs(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[primitive.ObjectID]*models.User, len(ids))
	for _, id := range ids {
		if u, ok := m.byID[id]; ok {
			out[id] = &u
		}
	}
	return out, nil
}

// SetRole changes a user's role in place. Role administration has no API
// surface; this exists for seeding and tests.
func (m *MemoryUsers) SetRole(id primitive.ObjectID, role models.Role) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return false
	}
	u.Role = role
	m.byID[id] = u
	return true
}

// Remove drops a user, leaving any issues they reported orphaned.
func (m *MemoryUsers) Remove(id primitive.ObjectID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.byID[id]; ok {
		delete(m.email, u.Email)
		delete(m.byID, id)
	}
}

// MemoryIssues is a process-local IssueStore for development and tests.
type MemoryIssues struct {
	mu     sync.RWMutex
	issues map[primitive.ObjectID]*models.Issue
	now    func() time.Time
}

func NewMemoryIssues() *MemoryIssues {
	return &MemoryIssues{
		issues: make(map[primitive.ObjectID]*models.Issue),
		now:    time.Now,
	}
}

func (m *MemoryIssues) Create(_ context.Context, issue *models.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if issue.ID.IsZero() {
		issue.ID = primitive.NewObjectID()
	}
	if _, exists := m.issues[issue.ID]; exists {
		return ErrDuplicateKey
	}
	now := m.now()
	issue.CreatedAt = now
	issue.UpdatedAt = now
	m.issues[issue.ID] = cloneIssue(issue)
	return nil
}

func (m *MemoryIssues) FindByID(_ context.Context, id primitive.ObjectID) (*models.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	issue, ok := m.issues[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIssue(issue), nil
}

func (m *MemoryIssues) List(_ context.Context, f IssueFilter) ([]models.Issue, int64, error) {
	m.mu.RLock()
	matches := make([]*models.Issue, 0, len(m.issues))
	for _, issue := range m.issues {
		if matchesFilter(issue, f) {
			matches = append(matches, cloneIssue(issue))
		}
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID.Hex() > matches[j].ID.Hex()
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	total := int64(len(matches))
	start := min(max(f.Skip, 0), total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}

	out := make([]models.Issue, 0, end-start)
	for _, issue := range matches[start:end] {
		out = append(out, *issue)
	}
	return out, total, nil
}

func (m *MemoryIssues) UpdateStatus(_ context.Context, id primitive.ObjectID, u StatusUpdate) (*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	issue, ok := m.issues[id]
	if !ok {
		return nil, ErrNotFound
	}
	issue.Status = u.Status
	issue.UpdatedAt = u.At
	if u.AssignedTo != nil {
		issue.AssignedTo = *u.AssignedTo
	}
	if u.Resolution != nil && issue.Resolution == nil {
		res := *u.Resolution
		issue.Resolution = &res
	}
	return cloneIssue(issue), nil
}

func (m *MemoryIssues) CountBy(_ context.Context, field GroupField) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64)
	for _, issue := range m.issues {
		switch field {
		case GroupByStatus:
			out[string(issue.Status)]++
		case GroupByCategory:
			out[string(issue.Category)]++
		}
	}
	return out, nil
}

func matchesFilter(issue *models.Issue, f IssueFilter) bool {
	if f.Category != "" && issue.Category != f.Category {
		return false
	}
	if f.Status != "" && issue.Status != f.Status {
		return false
	}
	if f.ReportedBy != nil && issue.ReportedBy != *f.ReportedBy {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(issue.Report), q) &&
			!strings.Contains(strings.ToLower(issue.Location.Address), q) {
			return false
		}
	}
	return true
}

func cloneIssue(src *models.Issue) *models.Issue {
	dst := *src
	if src.Location.Coordinates != nil {
		c := *src.Location.Coordinates
		if c.Latitude != nil {
			lat := *c.Latitude
			c.Latitude = &lat
		}
		if c.Longitude != nil {
			lng := *c.Longitude
			c.Longitude = &lng
		}
		dst.Location.Coordinates = &c
	}
	if src.Photo != nil {
		p := *src.Photo
		dst.Photo = &p
	}
	if src.Resolution != nil {
		r := *src.Resolution
		if r.ResolvedAt != nil {
			at := *r.ResolvedAt
			r.ResolvedAt = &at
		}
		dst.Resolution = &r
	}
	return &dst
}
