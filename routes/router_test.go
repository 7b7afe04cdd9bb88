package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"civicreport/services"
	"civicreport/stores"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	users  *stores.MemoryUsers
	issues *stores.MemoryIssues
}

func newTestServer(t *testing.T, mutate ...func(*Deps)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := stores.NewMemoryUsers()
	issues := stores.NewMemoryIssues()
	photos, err := stores.NewDiskPhotos(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := Deps{
		Auth: services.NewAuthenticator(users, services.AuthConfig{
			Secret:      []byte("test-secret"),
			AdminEmails: []string{"admin@city.gov"},
		}),
		Logger:        logger,
		MaxPhotoBytes: 1 << 20,
		PublicUploads: true,
	}
	for _, m := range mutate {
		m(&deps)
	}
	deps.Issues = services.NewIssueService(issues, users, photos, services.IssueServiceConfig{
		MaxPhotoBytes: deps.MaxPhotoBytes,
		PublicPhotos:  deps.PublicUploads,
		Logger:        logger,
	})
	return &testServer{t: t, router: Setup(deps), users: users, issues: issues}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) register(name, email, password string) {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/users/register", "", gin.H{"name": name, "email": email, "password": password})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
}

func (s *testServer) login(email, password string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/users/login", "", gin.H{"email": email, "password": password})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Token string `json:"token"`
		Role  string `json:"role"`
	}
	decode(s.t, w, &res)
	require.NotEmpty(s.t, res.Token)
	return res.Token
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type issueBody struct {
	ID         string `json:"_id"`
	Report     string `json:"report"`
	Category   string `json:"category"`
	Priority   string `json:"priority"`
	Status     string `json:"status"`
	AssignedTo string `json:"assignedTo"`
	Location   struct {
		Address string `json:"address"`
	} `json:"location"`
	Photo *struct {
		Filename string `json:"filename"`
	} `json:"photo"`
	ReportedBy struct {
		Name string `json:"name"`
	} `json:"reportedBy"`
	Resolution *struct {
		Description string     `json:"description"`
		ResolvedAt  *time.Time `json:"resolvedAt"`
		ResolvedBy  string     `json:"resolvedBy"`
	} `json:"resolution"`
}

func mustObjectID(t *testing.T, hex string) primitive.ObjectID {
	t.Helper()
	id, err := primitive.ObjectIDFromHex(hex)
	require.NoError(t, err)
	return id
}

func potholeBody() gin.H {
	return gin.H{
		"report":   "Pothole on 5th Ave near school crossing",
		"address":  "5th Ave",
		"category": "infrastructure",
		"priority": "high",
	}
}

// createIssue runs scenario A and returns the new issue with the reporter's token.
func (s *testServer) createIssue() (issueBody, string) {
	s.t.Helper()
	s.register("Ana", "a@x.com", "secret1")
	token := s.login("a@x.com", "secret1")

	w := s.do(http.MethodPost, "/api/issues", token, potholeBody())
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var issue issueBody
	decode(s.t, w, &issue)
	return issue, token
}

func TestScenarioA_RegisterLoginCreate(t *testing.T) {
	s := newTestServer(t)
	issue, _ := s.createIssue()

	assert.Equal(t, "reported", issue.Status)
	assert.Equal(t, "infrastructure", issue.Category)
	assert.Equal(t, "high", issue.Priority)
	assert.Equal(t, "5th Ave", issue.Location.Address)
	assert.Equal(t, "Ana", issue.ReportedBy.Name)
	assert.Nil(t, issue.Resolution)
	assert.NotEmpty(t, issue.ID)
}

func TestScenarioB_NonAdminStatusUpdateForbidden(t *testing.T) {
	s := newTestServer(t)
	issue, token := s.createIssue()

	w := s.do(http.MethodPut, "/api/issues/"+issue.ID+"/status", token, gin.H{"status": "resolved"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Invalid payloads and ids do not change the answer for non-admins.
	w = s.do(http.MethodPut, "/api/issues/"+issue.ID+"/status", token, gin.H{"status": "bogus"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodPut, "/api/issues/not-an-id/status", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/issues/"+issue.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got issueBody
	decode(t, w, &got)
	assert.Equal(t, "reported", got.Status)
}

func TestScenarioC_AdminResolutionIsStable(t *testing.T) {
	s := newTestServer(t)
	issue, _ := s.createIssue()

	s.register("Chief", "admin@city.gov", "secret1")
	admin := s.login("admin@city.gov", "secret1")

	path := "/api/issues/" + issue.ID + "/status"
	w := s.do(http.MethodPut, path, admin, gin.H{"status": "resolved", "note": "Patched"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first issueBody
	decode(t, w, &first)
	require.NotNil(t, first.Resolution)
	require.NotNil(t, first.Resolution.ResolvedAt)
	assert.Equal(t, "resolved", first.Status)
	assert.Equal(t, "Patched", first.Resolution.Description)
	assert.Equal(t, "Chief", first.Resolution.ResolvedBy)

	w = s.do(http.MethodPut, path, admin, gin.H{"status": "resolved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var second issueBody
	decode(t, w, &second)
	require.NotNil(t, second.Resolution)
	assert.True(t, first.Resolution.ResolvedAt.Equal(*second.Resolution.ResolvedAt))
	assert.Equal(t, "Patched", second.Resolution.Description)
}

func TestScenarioD_PublicList(t *testing.T) {
	s := newTestServer(t)
	issue, _ := s.createIssue()

	w := s.do(http.MethodGet, "/api/issues", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []issueBody
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, issue.ID, list[0].ID)
	assert.Equal(t, "1", w.Header().Get("X-Total-Count"))
}

func TestRegister_Errors(t *testing.T) {
	s := newTestServer(t)
	s.register("Ana", "a@x.com", "secret1")

	w := s.do(http.MethodPost, "/api/users/register", "", gin.H{"name": "Ana", "email": "a@x.com", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	var body struct {
		Message string `json:"message"`
	}
	decode(t, w, &body)
	assert.Equal(t, "User with this email already exists", body.Message)

	w = s.do(http.MethodPost, "/api/users/register", "", gin.H{"name": "Bo", "email": "not-an-email", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/users/login", "", gin.H{"email": "a@x.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMe(t *testing.T) {
	s := newTestServer(t)
	s.register("Ana", "a@x.com", "secret1")
	token := s.login("a@x.com", "secret1")

	w := s.do(http.MethodGet, "/api/users/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"email":"a@x.com"`)
	assert.NotContains(t, w.Body.String(), "password")

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/users/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/users/me", "garbage", nil).Code)
}

func TestCreateIssue_Errors(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/issues", "", potholeBody()).Code)

	s.register("Ana", "a@x.com", "secret1")
	token := s.login("a@x.com", "secret1")

	short := potholeBody()
	short["report"] = "too short"
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/issues", token, short).Code)

	noAddress := potholeBody()
	delete(noAddress, "address")
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/issues", token, noAddress).Code)

	list, total, err := s.issues.List(context.Background(), stores.IssueFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, total)
}

func TestCreateIssue_LegacyDescriptionField(t *testing.T) {
	s := newTestServer(t)
	s.register("Ana", "a@x.com", "secret1")
	token := s.login("a@x.com", "secret1")

	w := s.do(http.MethodPost, "/api/issues", token, gin.H{
		"title":       "ignored",
		"description": "Streetlight out on Elm Street",
		"address":     "Elm St",
		"category":    "unknown-thing",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var issue issueBody
	decode(t, w, &issue)
	assert.Equal(t, "Streetlight out on Elm Street", issue.Report)
	assert.Equal(t, "other", issue.Category)
	assert.Equal(t, "medium", issue.Priority)
}

func multipartIssue(t *testing.T, photo []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"report":    "Overflowing bins behind the market",
		"address":   "Market Sq",
		"category":  "sanitation",
		"latitude":  "45.5",
		"longitude": "-73.6",
	} {
		require.NoError(t, mw.WriteField(k, v))
	}
	if photo != nil {
		fw, err := mw.CreateFormFile("photo", "bins.png")
		require.NoError(t, err)
		_, err = fw.Write(photo)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCreateIssue_MultipartPhotoAndAccess(t *testing.T) {
	s := newTestServer(t)
	s.register("Ana", "a@x.com", "secret1")
	token := s.login("a@x.com", "secret1")
	s.register("Bo", "b@x.com", "secret1")
	other := s.login("b@x.com", "secret1")

	body, contentType := multipartIssue(t, tinyPNG)
	req := httptest.NewRequest(http.MethodPost, "/api/issues", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var issue issueBody
	decode(t, w, &issue)
	require.NotNil(t, issue.Photo)

	w = s.do(http.MethodGet, "/api/issues/"+issue.ID+"/photo", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, tinyPNG, w.Body.Bytes())

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/issues/"+issue.ID+"/photo", other, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/issues/"+issue.ID+"/photo", "", nil).Code)

	w = s.do(http.MethodGet, "/uploads/"+issue.Photo.Filename, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tinyPNG, w.Body.Bytes())

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/uploads/missing.png", "", nil).Code)
}

func TestCreateIssue_RejectsNonImage(t *testing.T) {
	s := newTestServer(t)
	s.register("Ana", "a@x.com", "secret1")
	token := s.login("a@x.com", "secret1")

	body, contentType := multipartIssue(t, []byte("plain text, not an image"))
	req := httptest.NewRequest(http.MethodPost, "/api/issues", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadsCanBeDisabled(t *testing.T) {
	s := newTestServer(t, func(d *Deps) { d.PublicUploads = false })
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/uploads/anything.png", "", nil).Code)
}

func TestPrivateUploadsHideFilename(t *testing.T) {
	s := newTestServer(t, func(d *Deps) { d.PublicUploads = false })
	s.register("Ana", "a@x.com", "secret1")
	token := s.login("a@x.com", "secret1")

	body, contentType := multipartIssue(t, tinyPNG)
	req := httptest.NewRequest(http.MethodPost, "/api/issues", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var issue issueBody
	decode(t, w, &issue)
	require.NotNil(t, issue.Photo)
	assert.Empty(t, issue.Photo.Filename)

	w = s.do(http.MethodGet, "/api/issues", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"filename"`)
	w = s.do(http.MethodGet, "/api/issues/"+issue.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"filename"`)

	stored, err := s.issues.FindByID(context.Background(), mustObjectID(t, issue.ID))
	require.NoError(t, err)
	require.NotNil(t, stored.Photo)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/uploads/"+stored.Photo.Filename, "", nil).Code)

	w = s.do(http.MethodGet, "/api/issues/"+issue.ID+"/photo", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tinyPNG, w.Body.Bytes())
}

func TestCreateIssue_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, func(d *Deps) { d.MaxPhotoBytes = 1 << 10 })
	s.register("Ana", "a@x.com", "secret1")
	token := s.login("a@x.com", "secret1")

	huge := potholeBody()
	huge["report"] = strings.Repeat("x", 2<<20)
	w := s.do(http.MethodPost, "/api/issues", token, huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	list, _, err := s.issues.List(context.Background(), stores.IssueFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	s.register("Chief", "admin@city.gov", "secret1")
	admin := s.login("admin@city.gov", "secret1")
	w = s.do(http.MethodPut, "/api/issues/0123456789abcdef01234567/status", admin, gin.H{"status": "resolved", "note": strings.Repeat("x", 2<<20)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestListIssues_Filters(t *testing.T) {
	s := newTestServer(t)
	_, token := s.createIssue()

	second := potholeBody()
	second["report"] = "Broken bench in the park"
	second["category"] = "safety"
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/issues", token, second).Code)

	w := s.do(http.MethodGet, "/api/issues?category=safety", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []issueBody
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Broken bench in the park", list[0].Report)

	w = s.do(http.MethodGet, "/api/issues?category=Safety&status=Reported", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/issues?limit=100&page=100000000000000001", "", nil).Code)
	w = s.do(http.MethodGet, "/api/issues?limit=100&page=1000", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Empty(t, list)

	w = s.do(http.MethodGet, "/api/issues?limit=1&page=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Len(t, list, 1)
	assert.Equal(t, "2", w.Header().Get("X-Total-Count"))

	w = s.do(http.MethodGet, "/api/issues?reportedBy=me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	total, err := strconv.Atoi(w.Header().Get("X-Total-Count"))
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/issues?reportedBy=me", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/issues?status=bogus", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/issues?reportedBy=someone", "", nil).Code)
}

func TestUpdateStatus_AdminErrors(t *testing.T) {
	s := newTestServer(t)
	issue, _ := s.createIssue()
	s.register("Chief", "admin@city.gov", "secret1")
	admin := s.login("admin@city.gov", "secret1")

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPut, "/api/issues/"+issue.ID+"/status", "", gin.H{"status": "resolved"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/api/issues/"+issue.ID+"/status", admin, gin.H{"status": "bogus"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/api/issues/"+issue.ID+"/status", admin, gin.H{}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/api/issues/not-an-id/status", admin, gin.H{"status": "resolved"}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPut, "/api/issues/0123456789abcdef01234567/status", admin, gin.H{"status": "resolved"}).Code)

	w := s.do(http.MethodPut, "/api/issues/"+issue.ID+"/status", admin, gin.H{"status": "assigned", "assignedTo": "Roads crew"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got issueBody
	decode(t, w, &got)
	assert.Equal(t, "assigned", got.Status)
	assert.Equal(t, "Roads crew", got.AssignedTo)
	assert.Nil(t, got.Resolution)

	w = s.do(http.MethodPut, "/api/issues/"+issue.ID+"/status", admin, gin.H{"status": "in-progress", "assignedTo": "$location"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &got)
	assert.Equal(t, "$location", got.AssignedTo)
}

func TestStats(t *testing.T) {
	s := newTestServer(t)
	_, token := s.createIssue()
	s.register("Chief", "admin@city.gov", "secret1")
	admin := s.login("admin@city.gov", "secret1")

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/issues/stats", token, nil).Code)

	w := s.do(http.MethodGet, "/api/issues/stats", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats services.Stats
	decode(t, w, &stats)
	assert.EqualValues(t, 1, stats.Total)
	assert.EqualValues(t, 1, stats.ByStatus["reported"])
	assert.EqualValues(t, 1, stats.ByCategory["infrastructure"])
}

func TestRateLimitedCreate(t *testing.T) {
	s := newTestServer(t, func(d *Deps) {
		d.Limiter = newMemCounter()
		d.LimiterPrefix = "issue-limit"
		d.IssueLimit = 1
	})
	_, token := s.createIssue()

	w := s.do(http.MethodPost, "/api/issues", token, potholeBody())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestPingAndMetrics(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/ping", "", nil).Code)

	s.createIssue()
	w := s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "civic_issues_created_total")
}

type memCounter struct {
	counts map[string]int64
}

func newMemCounter() *memCounter { return &memCounter{counts: map[string]int64{}} }

func (m *memCounter) Incr(_ context.Context, key string) (int64, error) {
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memCounter) Expire(context.Context, string, time.Duration) error { return nil }

func (m *memCounter) TTL(context.Context, string) (time.Duration, error) { return time.Hour, nil }
