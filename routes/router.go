package routes

import (
	"log/slog"
	"net/http"
	"time"

	"civicreport/controllers"
	"civicreport/middlewares"
	"civicreport/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the services and settings the HTTP layer needs.
type Deps struct {
	Auth          *services.Authenticator
	Issues        *services.IssueService
	Logger        *slog.Logger
	MaxPhotoBytes int64
	PublicUploads bool
	CORSOrigins   []string

	// Limiter is optional. Creations are unlimited when it is nil or
	// IssueLimit is zero.
	Limiter       middlewares.Counter
	LimiterPrefix string
	IssueLimit    int
	LimiterWindow time.Duration
}

// Setup builds the router with every route registered.
func Setup(deps Deps) *gin.Engine {
	controllers.RegisterValidators()
	if deps.LimiterWindow <= 0 {
		deps.LimiterWindow = 24 * time.Hour
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(deps.CORSOrigins)))
	r.Use(middlewares.Metrics())
	if limit := maxBodyBytes(deps.MaxPhotoBytes); limit > 0 {
		r.MaxMultipartMemory = limit
	}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	UserRoutes(r, deps.Auth, deps.Logger)
	IssueRoutes(r, deps)

	return r
}

// jsonBodyBytes bounds JSON-only request bodies.
const jsonBodyBytes = 1 << 20

// maxBodyBytes bounds every issue-creation body: one photo plus form fields.
func maxBodyBytes(maxPhoto int64) int64 {
	if maxPhoto <= 0 {
		return 0
	}
	return maxPhoto + jsonBodyBytes
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"X-Total-Count"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
