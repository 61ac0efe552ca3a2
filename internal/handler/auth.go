package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"authservice/internal/middleware"
	"authservice/internal/models"
	"authservice/internal/service"
)

// AuthService is the session API the auth routes call into.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	LoginAdmin(ctx context.Context, email, password string) (string, error)
	Logout(ctx context.Context, token string, userID int64) (string, error)
}

type AuthHandler struct {
	authService AuthService
	log         *logrus.Logger
}

func NewAuthHandler(authService AuthService, log *logrus.Logger) *AuthHandler {
	RegisterValidators()
	return &AuthHandler{authService: authService, log: log}
}

type RegisterRequest struct {
	Username        string `json:"username" binding:"required"`
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required,min=8,password"`
	ConfirmPassword string `json:"confirmPassword" binding:"required,eqfield=Password"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.log, err)
		return
	}

	user, err := h.authService.Register(c.Request.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	h.login(c, h.authService.Login)
}

// LoginAdmin handles POST /auth/login/admin
func (h *AuthHandler) LoginAdmin(c *gin.Context) {
	h.login(c, h.authService.LoginAdmin)
}

func (h *AuthHandler) login(c *gin.Context, login func(ctx context.Context, email, password string) (string, error)) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.log, err)
		return
	}

	accessToken, err := login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, TokenResponse{AccessToken: accessToken})
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	token := middleware.CurrentToken(c)
	user, ok := middleware.CurrentUser(c)
	if token == "" || !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": service.MsgNoToken})
		return
	}

	message, err := h.authService.Logout(c.Request.Context(), token, user.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.WithField("user_id", user.ID).Info("User logged out")
	c.JSON(http.StatusOK, gin.H{"message": message})
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": service.MsgNoToken})
		return
	}
	c.JSON(http.StatusOK, user)
}
