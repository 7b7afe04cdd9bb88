package routes

import (
	"log/slog"

	"civicreport/controllers"
	"civicreport/middlewares"
	"civicreport/services"

	"github.com/gin-gonic/gin"
)

func UserRoutes(r *gin.Engine, auth *services.Authenticator, log *slog.Logger) {
	users := controllers.NewUserController(auth, log)

	group := r.Group("/api/users")
	{
		group.POST("/register", users.RegisterUser)
		group.POST("/login", users.LoginUser)
		group.GET("/me", middlewares.RequireUser(auth), users.GetMe)
	}
}
