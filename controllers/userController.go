package controllers

import (
	"log/slog"
	"net/http"

	"civicreport/middlewares"
	"civicreport/services"

	"github.com/gin-gonic/gin"
)

type UserController struct {
	auth *services.Authenticator
	log  *slog.Logger
}

func NewUserController(auth *services.Authenticator, log *slog.Logger) *UserController {
	return &UserController{auth: auth, log: log}
}

func (u *UserController) RegisterUser(c *gin.Context) {
	var input struct {
		Name     string `json:"name" binding:"required,max=50"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=6"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Name, a valid email and a password of at least 6 characters are required")
		return
	}

	user, err := u.auth.Register(c.Request.Context(), services.Registration{
		Name:     input.Name,
		Email:    input.Email,
		Password: input.Password,
	})
	if err != nil {
		respondError(c, u.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        user.ID,
		"name":      user.Name,
		"email":     user.Email,
		"role":      user.Role,
		"createdAt": user.CreatedAt,
	})
}

func (u *UserController) LoginUser(c *gin.Context) {
	var input struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Email and password are required")
		return
	}

	res, err := u.auth.Login(c.Request.Context(), input.Email, input.Password)
	if err != nil {
		respondError(c, u.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": res.Token,
		"role":  res.User.Role,
		"user":  res.User,
	})
}

func (u *UserController) GetMe(c *gin.Context) {
	user, err := u.auth.Profile(c.Request.Context(), middlewares.CurrentCaller(c))
	if err != nil {
		respondError(c, u.log, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
