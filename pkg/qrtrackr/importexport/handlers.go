package importexport

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/auth"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/links"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/logger"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
	"gorm.io/gorm"
)

// Handler handles import/export requests
type Handler struct {
	db     *gorm.DB
	svc    *links.Service
	logger *logger.Logger
}

// NewHandler creates a new import/export handler
func NewHandler(db *gorm.DB, svc *links.Service, l *logger.Logger) *Handler {
	return &Handler{db: db, svc: svc, logger: l}
}

// ExportedLink is one tracking link in the exchange format
type ExportedLink struct {
	QRCode         string `json:"qr_code"`
	DestinationURL string `json:"destination_url"`
	CommonName     string `json:"common_name,omitempty"`
	ReferralCode   string `json:"referral_code,omitempty"`
	PostID         *uint  `json:"post_id,omitempty"`
	TrackingURL    string `json:"tracking_url,omitempty"`
	Scans          uint   `json:"scans"`
	CreatedAt      string `json:"created_at"`
}

// ImportRequest represents an import request
type ImportRequest struct {
	Links []ExportedLink `json:"links" binding:"required"`
}

// ImportResult represents the result of an import operation
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

func (h *Handler) toExported(link models.TrackingLink) ExportedLink {
	return ExportedLink{
		QRCode:         link.QRCode,
		DestinationURL: link.DestinationURL,
		CommonName:     link.Name(),
		ReferralCode:   link.Referral(),
		PostID:         link.PostID,
		TrackingURL:    h.svc.TrackingURL(link.QRCode),
		Scans:          link.Scans,
		CreatedAt:      link.CreatedAt.Format(time.RFC3339),
	}
}

// Import creates links from the exchange format. Codes are kept so printed
// QR images keep resolving; scan counts start again from zero.
func (h *Handler) Import(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	result := ImportResult{
		Errors: []string{},
	}

	for i, item := range req.Links {
		link, err := h.svc.Store().Create(ctx, links.Fields{
			Code:           item.QRCode,
			DestinationURL: item.DestinationURL,
			CommonName:     item.CommonName,
			ReferralCode:   item.ReferralCode,
			PostID:         item.PostID,
		})
		if err != nil {
			var vErr *links.ValidationError
			message := "failed to store link"
			if errors.As(err, &vErr) {
				message = vErr.Message
			} else {
				h.logger.Error("IMPORT", err.Error())
			}
			result.Errors = append(result.Errors, "link "+strconv.Itoa(i)+": "+message)
			result.Skipped++
			continue
		}

		// EnsureImage logs its own failures; a missing image is
		// regenerated when the list is next shown.
		if _, err := h.svc.EnsureImage(ctx, link); err != nil {
			h.logger.Debug("IMPORT", "link "+strconv.Itoa(i)+" imported without an image")
		}
		result.Imported++
	}

	userID, _ := auth.GetUserID(c)
	h.logger.Info("IMPORT", "user "+strconv.FormatUint(uint64(userID), 10)+" imported "+strconv.Itoa(result.Imported)+" links")
	c.JSON(http.StatusOK, result)
}

// Export returns every link, optionally limited to ?referral_filter=
func (h *Handler) Export(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Order("id ASC")
	if referral := c.Query("referral_filter"); referral != "" {
		query = query.Where("referral_code = ?", referral)
	}

	var rows []models.TrackingLink
	if err := query.Find(&rows).Error; err != nil {
		h.logger.Error("EXPORT", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch links"})
		return
	}

	exported := make([]ExportedLink, len(rows))
	for i, link := range rows {
		exported[i] = h.toExported(link)
	}

	// Set content disposition for download
	if c.Query("download") == "true" {
		c.Header("Content-Disposition", "attachment; filename=qrtrackr-export.json")
	}

	c.JSON(http.StatusOK, exported)
}

// ExportSingle exports the link with the given tracking code
func (h *Handler) ExportSingle(c *gin.Context) {
	link, err := h.svc.Store().FindByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Link not found"})
		return
	}
	c.JSON(http.StatusOK, h.toExported(*link))
}

// RegisterRoutes registers import/export routes; both need edit_links
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("", auth.RequireCapability(auth.CapEditLinks))
	g.POST("/import", h.Import)
	g.GET("/export", h.Export)
	g.GET("/export/:code", h.ExportSingle)
}
