package apikeys

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/auth"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/logger"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
	"gorm.io/gorm"
)

// Handler serves the caller's own keys
type Handler struct {
	db     *gorm.DB
	logger *logger.Logger
}

// NewHandler creates a new API keys handler
func NewHandler(db *gorm.DB, l *logger.Logger) *Handler {
	return &Handler{db: db, logger: l}
}

// KeyView is a stored key as shown to its owner
type KeyView struct {
	ID          uint       `json:"id"`
	KeyPrefix   string     `json:"key_prefix"`
	Description string     `json:"description"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Expired     bool       `json:"expired"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateKeyRequest is the optional body of POST /api-keys
type CreateKeyRequest struct {
	Description   string `json:"description" binding:"max=255"`
	ExpiresInDays int    `json:"expires_in_days" binding:"omitempty,min=1,max=365"`
}

// CreateKeyResponse carries the plaintext key, shown only once
type CreateKeyResponse struct {
	KeyView
	Key string `json:"key"`
}

func viewOf(k models.APIKey, now time.Time) KeyView {
	return KeyView{
		ID:          k.ID,
		KeyPrefix:   k.KeyPrefix,
		Description: k.Description,
		LastUsedAt:  k.LastUsedAt,
		ExpiresAt:   k.ExpiresAt,
		Expired:     k.Expired(now),
		CreatedAt:   k.CreatedAt,
	}
}

// Create issues a key for the caller
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req CreateKeyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	lifetime := time.Duration(req.ExpiresInDays) * 24 * time.Hour
	record, key, err := Issue(h.db, userID, req.Description, lifetime)
	if err != nil {
		h.logger.Error("APIKEYS", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create API key"})
		return
	}
	h.logger.LogSecurity("API_KEY_CREATED", fmt.Sprintf("user %d created key %s", userID, record.KeyPrefix))

	c.JSON(http.StatusCreated, CreateKeyResponse{KeyView: viewOf(*record, time.Now()), Key: key})
}

// List returns the caller's keys, newest first
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var records []models.APIKey
	if err := h.db.Where("user_id = ?", userID).Order("id DESC").Find(&records).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch API keys"})
		return
	}

	now := time.Now()
	views := make([]KeyView, len(records))
	for i, k := range records {
		views[i] = viewOf(k, now)
	}
	c.JSON(http.StatusOK, views)
}

// Delete revokes one of the caller's keys; other users' keys look missing
func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid API key ID"})
		return
	}

	res := h.db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.APIKey{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete API key"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		return
	}
	h.logger.LogSecurity("API_KEY_REVOKED", fmt.Sprintf("user %d revoked key %d", userID, id))

	c.JSON(http.StatusOK, gin.H{"message": "API key deleted"})
}

// RegisterRoutes registers API key routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	keys := rg.Group("/api-keys")
	keys.POST("", h.Create)
	keys.GET("", h.List)
	keys.DELETE("/:id", h.Delete)
}
