package middleware

import (
	"net/http"

	"timesheet-auth-svc/src/internal/session"
	"timesheet-auth-svc/src/internal/user"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Context keys set by RequireAuth.
const (
	ContextSession = "session"
	ContextUser    = "user"
	ContextUserID  = "user_id"
	ContextRole    = "user_role"
)

// AuthMiddleware handles authentication and authorization
type AuthMiddleware struct {
	guard *Guard
	codec *CookieCodec
}

func NewAuthMiddleware(guard *Guard, codec *CookieCodec) *AuthMiddleware {
	return &AuthMiddleware{
		guard: guard,
		codec: codec,
	}
}

// RequestContextFrom captures the client fingerprint of a request.
func RequestContextFrom(c *gin.Context) session.RequestContext {
	return session.RequestContext{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// RequireAuth admits requests carrying a live session. Every rejection gets the same 401 body.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, _ := c.Cookie(m.codec.Name())
		rc := RequestContextFrom(c)

		auth, rej := m.guard.Authenticate(c.Request.Context(), cookie, rc)
		if rej != nil {
			logrus.WithError(rej.Err).WithFields(logrus.Fields{
				"reason":     rej.Reason,
				"path":       c.Request.URL.Path,
				"ip":         rc.IP,
				"user_agent": rc.UserAgent,
			}).Info("Request not authenticated")

			if rej.ClearCookie {
				m.codec.Clear(c.Writer)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		if auth.Regenerated {
			if err := m.codec.Write(c.Writer, auth.Session.SessionID); err != nil {
				logrus.WithError(err).Error("Failed to write regenerated session cookie")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Session error",
				})
				return
			}
		}

		c.Set(ContextSession, auth.Session)
		c.Set(ContextUser, auth.User)
		c.Set(ContextUserID, auth.User.ID)
		c.Set(ContextRole, auth.User.Role)

		logrus.WithFields(logrus.Fields{
			"user_id": auth.User.ID,
			"session": session.ShortID(auth.Session.SessionID),
		}).Debug("User authenticated successfully")

		c.Next()
	}
}

// RequireAdminRights checks if user has admin privileges
func (m *AuthMiddleware) RequireAdminRights() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			logrus.Error("User not found in context - ensure RequireAuth middleware runs first")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		if !u.IsAdmin() {
			logrus.WithFields(logrus.Fields{
				"user_id":   u.ID,
				"user_role": u.Role,
				"path":      c.Request.URL.Path,
			}).Warn("User attempted to access admin endpoint without admin privileges")

			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Access forbidden - admin privileges required",
			})
			return
		}

		logrus.WithField("user_id", u.ID).Debug("Admin access granted")
		c.Next()
	}
}

func CurrentSession(c *gin.Context) (*session.Session, bool) {
	v, ok := c.Get(ContextSession)
	if !ok {
		return nil, false
	}
	s, ok := v.(*session.Session)
	return s, ok
}

func CurrentUser(c *gin.Context) (*user.User, bool) {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil, false
	}
	u, ok := v.(*user.User)
	return u, ok
}
