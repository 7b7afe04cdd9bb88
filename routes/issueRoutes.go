package routes

import (
	"civicreport/controllers"
	"civicreport/middlewares"

	"github.com/gin-gonic/gin"
)

// IssueRoutes sets up the issue routes
func IssueRoutes(r *gin.Engine, deps Deps) {
	issues := controllers.NewIssueController(deps.Issues, deps.MaxPhotoBytes, deps.Logger)
	requireUser := middlewares.RequireUser(deps.Auth)

	create := []gin.HandlerFunc{middlewares.LimitBody(maxBodyBytes(deps.MaxPhotoBytes)), requireUser}
	if deps.Limiter != nil && deps.IssueLimit > 0 {
		create = append(create, middlewares.IssueRateLimiter(deps.Limiter, deps.LimiterPrefix, deps.IssueLimit, deps.LimiterWindow, deps.Logger))
	}
	create = append(create, issues.CreateIssue)

	group := r.Group("/api/issues")
	{
		group.POST("", create...)
		group.GET("", middlewares.OptionalAuth(deps.Auth), issues.ListIssues)
		group.GET("/stats", requireUser, issues.GetIssueStats)
		group.GET("/:id", middlewares.OptionalAuth(deps.Auth), issues.GetIssue)
		group.GET("/:id/photo", requireUser, issues.GetIssuePhoto)
		group.PUT("/:id/status", middlewares.LimitBody(jsonBodyBytes), requireUser, issues.UpdateIssueStatus)
	}

	if deps.PublicUploads {
		r.GET("/uploads/:filename", issues.ServeUpload)
	}
}
