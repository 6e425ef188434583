package user

import (
	"context"
	"errors"
	"net/http"

	"timesheet-auth-svc/src/internal/config"
	"timesheet-auth-svc/src/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Handler interface {
	ActivateUser(c *gin.Context)
	DeactivateUser(c *gin.Context)
}

type handler struct {
	config  *config.Configuration
	service Service
}

func NewHandler(cfg *config.Configuration, service Service) Handler {
	return &handler{
		config:  cfg,
		service: service,
	}
}

func (h *handler) ActivateUser(c *gin.Context) {
	h.updateUserStatusHandler(c, true, "User activated successfully")
}

func (h *handler) DeactivateUser(c *gin.Context) {
	h.updateUserStatusHandler(c, false, "User deactivated successfully")
}

func (h *handler) updateUserStatusHandler(c *gin.Context, active bool, successMessage string) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.config.RequestTimeout())
	defer cancel()

	userID := c.Param("id")
	if userID == "" {
		logrus.Error("User ID is required")
		h.sendErrorResponse(c, http.StatusBadRequest, "User ID is required", "Please provide a valid user ID")
		return
	}

	adminID, _ := c.Get("user_id")
	logrus.WithFields(logrus.Fields{
		"user_id":  userID,
		"active":   active,
		"admin_id": adminID,
	}).Info("Updating user status")

	var err error
	if active {
		err = h.service.ActivateUser(ctx, userID)
	} else {
		err = h.service.DeactivateUser(ctx, userID)
	}
	if err != nil {
		h.handleStatusUpdateError(c, userID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": successMessage,
	})
}

func (h *handler) handleStatusUpdateError(c *gin.Context, userID string, err error) {
	logrus.WithError(err).WithField("user_id", userID).Error("Failed to update user status")

	switch {
	case errors.Is(err, models.ErrUserNotFound):
		h.sendErrorResponse(c, http.StatusNotFound, "User not found", "No user found with the provided ID")
	case errors.Is(err, models.ErrInvalidParams):
		h.sendErrorResponse(c, http.StatusBadRequest, "Invalid user ID", "Please provide a valid user ID")
	case errors.Is(err, models.ErrStoreUnavailable):
		h.sendErrorResponse(c, http.StatusServiceUnavailable, "Session store unavailable", "User status changed but sessions could not be revoked")
	default:
		h.sendErrorResponse(c, http.StatusInternalServerError, "Failed to update user status", "Please try again later")
	}
}

func (h *handler) sendErrorResponse(c *gin.Context, statusCode int, error, message string) {
	c.JSON(statusCode, gin.H{
		"error":   error,
		"success": false,
		"message": message,
	})
}
