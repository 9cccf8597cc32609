package redirect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/events"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/links"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/logger"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
)

// Handler handles redirect requests
type Handler struct {
	store  *links.Store
	events events.Publisher
	logger *logger.Logger
}

// NewHandler creates a new redirect handler
func NewHandler(store *links.Store, pub events.Publisher, l *logger.Logger) *Handler {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Handler{store: store, events: pub, logger: l}
}

// Redirect resolves a tracking code, counts the scan and sends the visitor on.
// The code comes from the path, or from ?code= on the bare /qr route.
func (h *Handler) Redirect(c *gin.Context) {
	code := strings.Trim(c.Param("code"), "/")
	if code == "" {
		code = strings.TrimSpace(c.Query("code"))
	}

	link, err := h.store.FindByCode(c.Request.Context(), code)
	if err != nil {
		if !errors.Is(err, links.ErrNotFound) {
			h.logger.Error("REDIRECT", fmt.Sprintf("lookup %q: %v", code, err))
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Link not found"})
		return
	}

	h.Track(c, link)

	// Every scan has to reach us, so the redirect must not be cached
	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, link.DestinationURL)
}

// Track counts one scan of link and publishes it. A failed counter write is
// logged and never blocks the visitor.
func (h *Handler) Track(c *gin.Context, link *models.TrackingLink) {
	scan := links.Scan{
		At:        time.Now(),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referrer:  c.Request.Referer(),
	}

	if err := h.store.RecordScan(c.Request.Context(), link.ID, scan); err != nil {
		h.logger.Warn("REDIRECT", fmt.Sprintf("failed to count scan of %s: %v", link.QRCode, err))
	}

	msg := events.ScanMessage{
		LinkID:         link.ID,
		Code:           link.QRCode,
		DestinationURL: link.DestinationURL,
		ReferralCode:   link.Referral(),
		ScannedAt:      scan.At,
		UserAgent:      scan.UserAgent,
		Referrer:       scan.Referrer,
	}
	// The request context ends with the redirect; delivery outlives it
	if err := h.events.PublishScan(context.Background(), msg); err != nil {
		h.logger.Warn("REDIRECT", fmt.Sprintf("failed to publish scan of %s: %v", link.QRCode, err))
	}
}

// RegisterRoutes registers redirect routes on the root router.
// "/qr/<code>/" reaches Redirect through gin's trailing slash redirect.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/qr", h.Redirect)
	r.GET("/qr/:code", h.Redirect)
}
