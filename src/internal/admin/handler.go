package admin

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
	GetSessionStats(c *gin.Context)
	GetActiveSessions(c *gin.Context)
	RevokeUserSessions(c *gin.Context)
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

func (h *handler) GetSessionStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.config.RequestTimeout())
	defer cancel()

	adminID, _ := c.Get("user_id")
	logrus.WithField("admin_id", adminID).Debug("Session stats requested")

	stats, err := h.service.Stats(ctx)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}

func (h *handler) GetActiveSessions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.config.RequestTimeout())
	defer cancel()

	filter := c.Query("userId")
	adminID, _ := c.Get("user_id")
	logrus.WithFields(logrus.Fields{
		"admin_id":       adminID,
		"filter_user_id": filter,
	}).Info("Active sessions requested")

	sessions, err := h.service.ListActive(ctx, filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"sessions": sessions,
			"count":    len(sessions),
		},
	})
}

func (h *handler) RevokeUserSessions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.config.RequestTimeout())
	defer cancel()

	target := c.Param("targetUserId")
	adminID, _ := c.Get("user_id")

	revoked, err := h.service.RevokeUser(ctx, target)
	if err != nil {
		h.handleError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"admin_id":       adminID,
		"target_user_id": target,
		"revoked":        revoked,
	}).Warn("User sessions revoked by administrator")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"revoked": revoked},
		"message": "User sessions revoked",
	})
}

func (h *handler) handleError(c *gin.Context, err error) {
	logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("Admin session operation failed")

	switch {
	case errors.Is(err, models.ErrInvalidParams):
		h.sendErrorResponse(c, http.StatusBadRequest, "Invalid parameters")
	case errors.Is(err, models.ErrConflict):
		h.sendErrorResponse(c, http.StatusConflict, "Sessions changed concurrently, please retry")
	case errors.Is(err, models.ErrStoreUnavailable):
		h.sendErrorResponse(c, http.StatusServiceUnavailable, "Session store unavailable")
	default:
		h.sendErrorResponse(c, http.StatusInternalServerError, "Internal error")
	}
}

func (h *handler) sendErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error":   message,
	})
}
