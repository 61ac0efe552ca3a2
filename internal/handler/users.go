package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"authservice/internal/models"
	"authservice/internal/service"
)

// UserService is the admin account API.
type UserService interface {
	Get(ctx context.Context, id int64) (*models.User, error)
	Update(ctx context.Context, id int64, in service.UpdateUserInput) (*models.User, error)
	Delete(ctx context.Context, id int64) error
}

type UserHandler struct {
	userService UserService
	log         *logrus.Logger
}

func NewUserHandler(userService UserService, log *logrus.Logger) *UserHandler {
	RegisterValidators()
	return &UserHandler{userService: userService, log: log}
}

type UpdateUserRequest struct {
	Username *string `json:"username" binding:"omitempty,min=1"`
	Role     *string `json:"role" binding:"omitempty,oneof=USER ADMIN"`
	Banned   *bool   `json:"banned"`
}

func (h *UserHandler) userID(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.log.Debugf("Invalid user ID %q", idStr)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return 0, false
	}
	return id, true
}

// GetUser handles GET /users/:id
func (h *UserHandler) GetUser(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}

	user, err := h.userService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateUser handles PATCH /users/:id
func (h *UserHandler) UpdateUser(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.log, err)
		return
	}

	in := service.UpdateUserInput{Username: req.Username, Banned: req.Banned}
	if req.Role != nil {
		role := models.Role(*req.Role)
		in.Role = &role
	}

	user, err := h.userService.Update(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.WithField("user_id", id).Info("User updated by admin")
	c.JSON(http.StatusOK, user)
}

// DeleteUser handles DELETE /users/:id
func (h *UserHandler) DeleteUser(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}

	if err := h.userService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.WithField("user_id", id).Info("User deleted by admin")
	c.Status(http.StatusNoContent)
}
