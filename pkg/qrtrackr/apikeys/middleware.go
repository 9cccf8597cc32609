package apikeys

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/auth"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/logger"
	"gorm.io/gorm"
)

// ContextKeyAuthMethod records "session" or "api_key" for the request
const ContextKeyAuthMethod = "auth_method"

// Identification failures returned by Identify.
var (
	ErrNoCredentials = errors.New("authorization required")
	ErrBadToken      = errors.New("invalid token")
	ErrBadKey        = errors.New("invalid API key")
)

// Identify resolves the caller from a session JWT (header or cookie) or an
// API key and stores them on the context. Either way the role is read from
// the users table. API keys carry the qrt_ prefix;
// anything else is treated as a JWT.
func Identify(c *gin.Context, db *gorm.DB, l *logger.Logger) error {
	token := auth.TokenFromRequest(c)
	if token == "" {
		return ErrNoCredentials
	}

	if !strings.HasPrefix(token, KeyPrefix) {
		user, err := auth.ResolveSession(db, token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
				return ErrBadToken
			}
			return err
		}
		auth.SetUser(c, user.ID, user.Email, string(user.Role))
		c.Set(ContextKeyAuthMethod, "session")
		return nil
	}

	record, err := ValidateAPIKey(db, token)
	if err != nil {
		l.LogSecurity("API_KEY_REJECTED", fmt.Sprintf("%s: %v", safePrefix(token), err))
		return ErrBadKey
	}

	if err := UpdateLastUsed(db, record.ID); err != nil {
		l.Debug("APIKEYS", fmt.Sprintf("failed to touch key %d: %v", record.ID, err))
	}

	auth.SetUser(c, record.UserID, record.User.Email, string(record.User.Role))
	c.Set(ContextKeyAuthMethod, "api_key")
	return nil
}

// CombinedAuthMiddleware requires a session JWT or an API key.
func CombinedAuthMiddleware(db *gorm.DB, l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := Identify(c, db, l); err != nil {
			status, message := http.StatusUnauthorized, "Invalid API key"
			switch err {
			case ErrNoCredentials:
				message = "Authorization required"
			case ErrBadToken:
				message = "Invalid token"
			case ErrBadKey:
			default:
				l.Error("APIKEYS", "identify caller: "+err.Error())
				status, message = http.StatusInternalServerError, "Failed to verify credentials"
			}
			c.JSON(status, gin.H{"error": message})
			c.Abort()
			return
		}
		c.Next()
	}
}

// OptionalCombinedAuth identifies the caller when credentials are present
// and lets anonymous requests through.
func OptionalCombinedAuth(db *gorm.DB, l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := Identify(c, db, l); err != nil && err != ErrNoCredentials {
			l.Debug("APIKEYS", "ignoring credentials: "+err.Error())
		}
		c.Next()
	}
}

func safePrefix(key string) string {
	if len(key) > KeyPrefixLength {
		return key[:KeyPrefixLength]
	}
	return key
}
