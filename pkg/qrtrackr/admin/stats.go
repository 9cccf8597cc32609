package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/auth"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/links"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
)

// StatsResponse combines link activity with account totals
type StatsResponse struct {
	links.Stats
	TotalUsers    int64 `json:"total_users"`
	AdminUsers    int64 `json:"admin_users"`
	ActiveAPIKeys int64 `json:"active_api_keys"`
}

// GetStats reports link, scan and account totals
func (h *Handler) GetStats(c *gin.Context) {
	now := time.Now()
	linkStats, err := h.svc.Store().Stats(c.Request.Context(), now.Add(-links.RecentWindow))
	if err != nil {
		h.logger.Error("ADMIN", "stats: "+err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load statistics"})
		return
	}
	stats := StatsResponse{Stats: *linkStats}

	var accounts struct {
		Total  int64
		Admins int64
	}
	err = h.db.Model(&models.User{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN role = ? THEN 1 ELSE 0 END), 0) AS admins", models.RoleAdmin).
		Scan(&accounts).Error
	if err == nil {
		err = h.db.Model(&models.APIKey{}).
			Where("expires_at IS NULL OR expires_at > ?", now).
			Count(&stats.ActiveAPIKeys).Error
	}
	if err != nil {
		h.logger.Error("ADMIN", "account stats: "+err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load statistics"})
		return
	}
	stats.TotalUsers, stats.AdminUsers = accounts.Total, accounts.Admins

	c.JSON(http.StatusOK, stats)
}

// RegisterAPIRoutes mounts the JSON admin routes. Stats need edit_links;
// account management needs manage_options.
func (h *Handler) RegisterAPIRoutes(rg *gin.RouterGroup) {
	rg.GET("/stats", auth.RequireCapability(auth.CapEditLinks), h.GetStats)

	users := rg.Group("/users", auth.RequireCapability(auth.CapManageOptions))
	users.GET("", h.ListUsers)
	users.POST("", h.CreateUser)
	users.GET("/:id", h.GetUser)
	users.PUT("/:id", h.UpdateUser)
	users.DELETE("/:id", h.DeleteUser)
}
