package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
	"gorm.io/gorm"
)

const (
	// ContextKeyUserID is the key for user ID in gin context
	ContextKeyUserID = "user_id"
	// ContextKeyEmail is the key for email in gin context
	ContextKeyEmail = "email"
	// ContextKeyRole is the key for the user's role in gin context
	ContextKeyRole = "role"

	// CookieName holds the session token for browser requests
	CookieName = "qrtrackr_token"
)

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the session cookie.
func TokenFromRequest(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := c.Cookie(CookieName); err == nil {
		return cookie
	}
	return ""
}

// SetUser stores the authenticated user in the gin context.
func SetUser(c *gin.Context, userID uint, email, role string) {
	c.Set(ContextKeyUserID, userID)
	c.Set(ContextKeyEmail, email)
	c.Set(ContextKeyRole, role)
}

// ResolveSession validates a session token and loads its user. The role
// comes from the users table, so demoted or deleted accounts lose access
// before their token expires.
func ResolveSession(db *gorm.DB, tokenString string) (*models.User, error) {
	claims, err := ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := db.First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load session user %d: %w", claims.UserID, err)
	}
	return &user, nil
}

// AuthMiddleware validates session tokens and sets user info in context
func AuthMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := TokenFromRequest(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
			c.Abort()
			return
		}

		user, err := ResolveSession(db, tokenString)
		switch {
		case err == nil:
		case errors.Is(err, ErrExpiredToken):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token has expired"})
			c.Abort()
			return
		case errors.Is(err, ErrInvalidToken):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify session"})
			c.Abort()
			return
		}

		SetUser(c, user.ID, user.Email, string(user.Role))
		c.Next()
	}
}

// OptionalAuth sets user info when a valid session is present and lets
// anonymous requests through untouched.
func OptionalAuth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := TokenFromRequest(c); tokenString != "" {
			if user, err := ResolveSession(db, tokenString); err == nil {
				SetUser(c, user.ID, user.Email, string(user.Role))
			}
		}
		c.Next()
	}
}

// PageAuthMiddleware is AuthMiddleware for HTML pages: visitors without a
// valid session are sent to loginPath instead of getting a JSON error.
func PageAuthMiddleware(loginPath string, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := ResolveSession(db, TokenFromRequest(c))
		if err != nil {
			if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrExpiredToken) {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			target := loginPath + "?redirect_to=" + url.QueryEscape(c.Request.URL.RequestURI())
			c.Redirect(http.StatusFound, target)
			c.Abort()
			return
		}

		SetUser(c, user.ID, user.Email, string(user.Role))
		c.Next()
	}
}

// RequireCapability rejects users whose role does not grant cap
func RequireCapability(cap Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := GetRole(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}

		if !RoleCan(role, cap) {
			c.JSON(http.StatusForbidden, gin.H{"error": "You do not have permission to do that"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Can reports whether the current user holds cap.
func Can(c *gin.Context, cap Capability) bool {
	role, ok := GetRole(c)
	return ok && RoleCan(role, cap)
}

// GetUserID returns the user ID from the gin context
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0, false
	}
	return userID.(uint), true
}

// GetEmail returns the email from the gin context
func GetEmail(c *gin.Context) (string, bool) {
	email, exists := c.Get(ContextKeyEmail)
	if !exists {
		return "", false
	}
	return email.(string), true
}

// GetRole returns the role from the gin context
func GetRole(c *gin.Context) (string, bool) {
	role, exists := c.Get(ContextKeyRole)
	if !exists {
		return "", false
	}
	return role.(string), true
}
