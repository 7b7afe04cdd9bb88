package controllers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"civicreport/middlewares"
	"civicreport/services"
	"civicreport/stores"

	"github.com/gin-gonic/gin"
)

type IssueController struct {
	issues        *services.IssueService
	maxPhotoBytes int64
	log           *slog.Logger
}

func NewIssueController(issues *services.IssueService, maxPhotoBytes int64, log *slog.Logger) *IssueController {
	return &IssueController{issues: issues, maxPhotoBytes: maxPhotoBytes, log: log}
}

// createIssueInput accepts both multipart forms and JSON bodies. Description
// is the older name of Report.
type createIssueInput struct {
	Report       string   `form:"report" json:"report"`
	Description  string   `form:"description" json:"description"`
	Address      string   `form:"address" json:"address"`
	Municipality string   `form:"municipality" json:"municipality"`
	Latitude     *float64 `form:"latitude" json:"latitude"`
	Longitude    *float64 `form:"longitude" json:"longitude"`
	Category     string   `form:"category" json:"category"`
	Priority     string   `form:"priority" json:"priority"`
}

// CreateIssue handles the creation of a new issue
func (ic *IssueController) CreateIssue(c *gin.Context) {
	var input createIssueInput
	if err := c.ShouldBind(&input); err != nil {
		bindFailed(c, err, "Invalid issue data")
		return
	}

	report := input.Report
	if strings.TrimSpace(report) == "" {
		report = input.Description
	}

	in := services.NewIssue{
		Report:       report,
		Address:      input.Address,
		Municipality: input.Municipality,
		Latitude:     input.Latitude,
		Longitude:    input.Longitude,
		Category:     input.Category,
		Priority:     input.Priority,
	}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		photo, ok := ic.readPhoto(c)
		if !ok {
			return
		}
		in.Photo = photo
	}

	view, err := ic.issues.Create(c.Request.Context(), middlewares.CurrentCaller(c), in)
	if err != nil {
		respondError(c, ic.log, err)
		return
	}

	middlewares.RecordIssueCreated(string(view.Category))
	c.JSON(http.StatusCreated, view)
}

// readPhoto returns the optional "photo" part. It writes the error response
// itself and reports false when the upload is unusable.
func (ic *IssueController) readPhoto(c *gin.Context) (*services.PhotoUpload, bool) {
	header, err := c.FormFile("photo")
	if err == http.ErrMissingFile {
		return nil, true
	}
	if err != nil {
		badRequest(c, "Invalid photo upload")
		return nil, false
	}
	if ic.maxPhotoBytes > 0 && header.Size > ic.maxPhotoBytes {
		badRequest(c, fmt.Sprintf("File size too large. Maximum size is %dMB.", ic.maxPhotoBytes>>20))
		return nil, false
	}

	f, err := header.Open()
	if err != nil {
		badRequest(c, "Invalid photo upload")
		return nil, false
	}
	defer f.Close()

	var r io.Reader = f
	if ic.maxPhotoBytes > 0 {
		r = io.LimitReader(f, ic.maxPhotoBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		badRequest(c, "Invalid photo upload")
		return nil, false
	}
	return &services.PhotoUpload{Filename: header.Filename, Data: data}, true
}

type listIssuesQuery struct {
	Category   string `form:"category"`
	Status     string `form:"status"`
	ReportedBy string `form:"reportedBy" binding:"omitempty,oneof=me"`
	Search     string `form:"search"`
	Page       int    `form:"page" binding:"omitempty,min=1"`
	Limit      int    `form:"limit" binding:"omitempty,min=1"`
}

// ListIssues returns issues newest first. Without a limit every match is
// returned.
func (ic *IssueController) ListIssues(c *gin.Context) {
	var q listIssuesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query parameters")
		return
	}

	views, total, err := ic.issues.List(c.Request.Context(), middlewares.CurrentCaller(c), services.ListQuery{
		Category: q.Category,
		Status:   q.Status,
		Search:   q.Search,
		Mine:     q.ReportedBy == "me",
		Page:     q.Page,
		Limit:    q.Limit,
	})
	if err != nil {
		respondError(c, ic.log, err)
		return
	}

	c.Header("X-Total-Count", strconv.FormatInt(total, 10))
	c.JSON(http.StatusOK, views)
}

func (ic *IssueController) GetIssue(c *gin.Context) {
	view, err := ic.issues.Get(c.Request.Context(), middlewares.CurrentCaller(c), c.Param("id"))
	if err != nil {
		respondError(c, ic.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type statusUpdateInput struct {
	Status     string  `json:"status" binding:"required,civicstatus"`
	AssignedTo *string `json:"assignedTo"`
	Note       string  `json:"note" binding:"max=1000"`
}

// UpdateIssueStatus lets admins move an issue through its lifecycle. The
// role is checked before the body is read.
func (ic *IssueController) UpdateIssueStatus(c *gin.Context) {
	caller := middlewares.CurrentCaller(c)
	if err := services.Authorize(caller, services.ActionUpdateStatus, nil); err != nil {
		respondError(c, ic.log, err)
		return
	}

	var input statusUpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindFailed(c, err, "Invalid status. Must be one of: reported, assigned, in-progress, resolved, closed")
		return
	}

	view, err := ic.issues.UpdateStatus(c.Request.Context(), caller, c.Param("id"), services.StatusChange{
		Status:     input.Status,
		AssignedTo: input.AssignedTo,
		Note:       input.Note,
	})
	if err != nil {
		respondError(c, ic.log, err)
		return
	}

	middlewares.RecordStatusChange(string(view.Status))
	c.JSON(http.StatusOK, view)
}

func (ic *IssueController) GetIssuePhoto(c *gin.Context) {
	blob, err := ic.issues.Photo(c.Request.Context(), middlewares.CurrentCaller(c), c.Param("id"))
	if err != nil {
		respondError(c, ic.log, err)
		return
	}
	defer blob.Close()
	c.DataFromReader(http.StatusOK, blob.Size, blob.ContentType, blob, nil)
}

func (ic *IssueController) GetIssueStats(c *gin.Context) {
	stats, err := ic.issues.Stats(c.Request.Context(), middlewares.CurrentCaller(c))
	if err != nil {
		respondError(c, ic.log, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ServeUpload streams a stored photo by file name.
func (ic *IssueController) ServeUpload(c *gin.Context) {
	name := c.Param("filename")
	if !stores.ValidBlobName(name) {
		c.JSON(http.StatusNotFound, gin.H{"message": "File not found"})
		return
	}
	blob, err := ic.issues.OpenUpload(c.Request.Context(), name)
	if err != nil {
		respondError(c, ic.log, err)
		return
	}
	defer blob.Close()
	c.DataFromReader(http.StatusOK, blob.Size, blob.ContentType, blob, nil)
}
