package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/logger"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
	"gorm.io/gorm"
)

// Handler handles authentication requests
type Handler struct {
	db     *gorm.DB
	logger *logger.Logger
}

// NewHandler creates a new auth handler
func NewHandler(db *gorm.DB, l *logger.Logger) *Handler {
	return &Handler{db: db, logger: l}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" form:"email" binding:"required,email"`
	Password string `json:"password" form:"password" binding:"required"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	ID           uint         `json:"id"`
	Email        string       `json:"email"`
	Name         string       `json:"name"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
}

func userToResponse(user models.User) UserResponse {
	return UserResponse{
		ID:           user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Role:         string(user.Role),
		Capabilities: Capabilities(string(user.Role)),
	}
}

// ErrBadCredentials is returned by Authenticate for an unknown email or wrong password.
var ErrBadCredentials = errors.New("invalid email or password")

// Authenticate checks credentials and returns the user with a fresh session token.
func (h *Handler) Authenticate(email, password string) (*models.User, string, error) {
	var user models.User
	if err := h.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error; err != nil {
		h.logger.LogSecurity("LOGIN_FAILED", "unknown email "+email)
		return nil, "", ErrBadCredentials
	}
	if !CheckPassword(password, user.PasswordHash) {
		h.logger.LogSecurity("LOGIN_FAILED", fmt.Sprintf("wrong password for user %d", user.ID))
		return nil, "", ErrBadCredentials
	}

	token, err := GenerateToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		return nil, "", err
	}
	return &user, token, nil
}

// SetSessionCookie stores token in an HTTP-only cookie for browser sessions.
func SetSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(TokenDuration.Seconds()), "/", "", c.Request.TLS != nil, true)
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", c.Request.TLS != nil, true)
}

// Login handles user login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, token, err := h.Authenticate(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	SetSessionCookie(c, token)
	c.JSON(http.StatusOK, AuthResponse{
		Token: token,
		User:  userToResponse(*user),
	})
}

// Me returns the current authenticated user
func (h *Handler) Me(c *gin.Context) {
	userID, exists := GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, userToResponse(user))
}

// Logout clears the session cookie. Bearer tokens are dropped client-side.
func (h *Handler) Logout(c *gin.Context) {
	ClearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Nonce issues a nonce for ?action= bound to the caller, or to the anonymous
// user when the request carries no session.
func (h *Handler) Nonce(c *gin.Context) {
	action := strings.TrimSpace(c.Query("action"))
	if action == "" {
		action = AjaxNonceAction
	}

	userID, _ := GetUserID(c)
	nonce, err := CreateNonce(action, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create nonce"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": action, "nonce": nonce})
}

// RegisterRoutes registers auth routes on the given router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/login", h.Login)
	rg.POST("/logout", h.Logout)
	rg.GET("/me", AuthMiddleware(h.db), h.Me)
}

// RegisterNonceRoute registers GET /nonce on the given router group.
// identify resolves the caller without rejecting anonymous requests;
// nil means OptionalAuth on the handler's database.
func (h *Handler) RegisterNonceRoute(rg *gin.RouterGroup, identify gin.HandlerFunc) {
	if identify == nil {
		identify = OptionalAuth(h.db)
	}
	rg.GET("/nonce", identify, h.Nonce)
}

// DefaultAdminEmail is the account created on first start.
const DefaultAdminEmail = "admin@qrtrackr.local"

// EnsureAdminExists creates a default admin user if no admin exists in the
// database. It reports whether one was created.
func EnsureAdminExists(db *gorm.DB, password string) (bool, error) {
	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return false, err
	}

	adminUser := models.User{
		Email:        DefaultAdminEmail,
		Name:         "Admin",
		PasswordHash: hashedPassword,
		Role:         models.RoleAdmin,
	}
	if err := db.Create(&adminUser).Error; err != nil {
		return false, err
	}
	return true, nil
}
