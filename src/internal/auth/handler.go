package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"timesheet-auth-svc/src/internal/config"
	"timesheet-auth-svc/src/internal/middleware"
	"timesheet-auth-svc/src/internal/models"
	"timesheet-auth-svc/src/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuthURLBuilder starts an SP-initiated login.
type AuthURLBuilder interface {
	AuthURL(relayState string) (string, error)
}

type Handler interface {
	Login(c *gin.Context)
	AssertionConsumer(c *gin.Context)
	Logout(c *gin.Context)
	CurrentSession(c *gin.Context)
	ExtendSession(c *gin.Context)
}

type handler struct {
	config   *config.Configuration
	service  Service
	provider AuthURLBuilder
	codec    *middleware.CookieCodec
	policy   session.Policy
}

type extendRequest struct {
	AdditionalMinutes int `json:"additionalMinutes" binding:"required"`
}

func NewHandler(cfg *config.Configuration, service Service, provider AuthURLBuilder, codec *middleware.CookieCodec, policy session.Policy) Handler {
	return &handler{
		config:   cfg,
		service:  service,
		provider: provider,
		codec:    codec,
		policy:   policy,
	}
}

func (h *handler) Login(c *gin.Context) {
	relayState := localPath(c.Query("returnTo"))

	url, err := h.provider.AuthURL(relayState)
	if err != nil {
		logrus.WithError(err).Error("Failed to build SAML login redirect")
		h.sendErrorResponse(c, http.StatusInternalServerError, "Login unavailable", "Please try again later")
		return
	}

	logrus.WithFields(logrus.Fields{
		"ip":          c.ClientIP(),
		"relay_state": relayState,
	}).Debug("Redirecting to identity provider")
	c.Redirect(http.StatusFound, url)
}

func (h *handler) AssertionConsumer(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.config.RequestTimeout())
	defer cancel()

	rc := middleware.RequestContextFrom(c)
	previous, _ := c.Cookie(h.codec.Name())

	result, err := h.service.SignIn(ctx, c.PostForm("SAMLResponse"), previous, rc)
	if err != nil {
		if isStoreFailure(err) {
			h.sendErrorResponse(c, http.StatusServiceUnavailable, "Session service unavailable", "Please try signing in again")
			return
		}
		c.Redirect(http.StatusSeeOther, h.config.SAML.FailureRedirect)
		return
	}

	if err := h.codec.Write(c.Writer, result.Session.SessionID); err != nil {
		logrus.WithError(err).Error("Failed to write session cookie")
		c.Redirect(http.StatusSeeOther, h.config.SAML.FailureRedirect)
		return
	}

	target := localPath(c.PostForm("RelayState"))
	if target == "" {
		target = h.config.SAML.SuccessRedirect
	}
	c.Redirect(http.StatusSeeOther, target)
}

func (h *handler) Logout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.config.RequestTimeout())
	defer cancel()

	cookie, _ := c.Cookie(h.codec.Name())
	all := c.Query("all") == "true"

	err := h.service.SignOut(ctx, cookie, all, middleware.RequestContextFrom(c))
	h.codec.Clear(c.Writer)
	if err != nil {
		logrus.WithError(err).WithField("all", all).Error("Failed to end session on logout")
		h.sendErrorResponse(c, http.StatusServiceUnavailable, "Session service unavailable", "Please try logging out again")
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *handler) CurrentSession(c *gin.Context) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		h.sendErrorResponse(c, http.StatusUnauthorized, "Authentication required", "")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    sess.Summarize(h.policy, false),
	})
}

func (h *handler) ExtendSession(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.config.RequestTimeout())
	defer cancel()

	sess, ok := middleware.CurrentSession(c)
	if !ok {
		h.sendErrorResponse(c, http.StatusUnauthorized, "Authentication required", "")
		return
	}

	var req extendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendErrorResponse(c, http.StatusBadRequest, "Invalid request", "additionalMinutes must be a positive number")
		return
	}

	extended, err := h.service.Extend(ctx, sess, req.AdditionalMinutes)
	if err != nil {
		h.handleExtendError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    extended.Summarize(h.policy, false),
		"message": "Session extended",
	})
}

func (h *handler) handleExtendError(c *gin.Context, err error) {
	logrus.WithError(err).Warn("Failed to extend session")

	switch {
	case errors.Is(err, models.ErrInvalidExtension):
		h.sendErrorResponse(c, http.StatusBadRequest, "Invalid request", "additionalMinutes must be a positive number")
	case errors.Is(err, models.ErrSessionNotFound):
		h.sendErrorResponse(c, http.StatusNotFound, "Session not found", "The session has already ended")
	case errors.Is(err, models.ErrForbidden):
		h.sendErrorResponse(c, http.StatusForbidden, "Forbidden", "Only the session owner may extend it")
	case errors.Is(err, models.ErrStoreUnavailable):
		h.sendErrorResponse(c, http.StatusServiceUnavailable, "Session service unavailable", "Please try again later")
	default:
		h.sendErrorResponse(c, http.StatusInternalServerError, "Failed to extend session", "Please try again later")
	}
}

func (h *handler) sendErrorResponse(c *gin.Context, statusCode int, error, message string) {
	body := gin.H{
		"success": false,
		"error":   error,
	}
	if message != "" {
		body["message"] = message
	}
	c.JSON(statusCode, body)
}

// localPath returns p when it is a path on this site, otherwise "".
func localPath(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return ""
	}
	return p
}
