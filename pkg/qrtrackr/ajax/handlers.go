// Package ajax dispatches the JSON actions used by the admin screens.
package ajax

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/apikeys"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/auth"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/links"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/logger"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/redirect"
	"gorm.io/gorm"
)

// Request carries every field an action may read, from a form, query or JSON body.
type Request struct {
	Action         string  `form:"action" json:"action"`
	Nonce          string  `form:"nonce" json:"nonce"`
	PostID         *uint   `form:"post_id" json:"post_id"`
	QRID           uint    `form:"qr_id" json:"qr_id"`
	LinkID         uint    `form:"link_id" json:"link_id"`
	DestinationURL *string `form:"destination_url" json:"destination_url"`
	CommonName     *string `form:"common_name" json:"common_name"`
	ReferralCode   *string `form:"referral_code" json:"referral_code"`
}

// CreateResponse is returned by create_qr_code.
type CreateResponse struct {
	Success     bool   `json:"success"`
	ID          uint   `json:"id"`
	QRCode      string `json:"qr_code"`
	QRCodeURL   string `json:"qr_code_url"`
	TrackingURL string `json:"tracking_url"`
}

// DetailsResponse is returned by get_qr_details.
type DetailsResponse struct {
	Success bool `json:"success"`
	links.Details
}

// UpdateResponse is returned by update_qr_details.
type UpdateResponse struct {
	Success bool `json:"success"`
	links.Details
	PostUnlinked bool `json:"post_unlinked"`
}

// DeleteResponse is returned by delete_qr_code.
type DeleteResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	RemoveRowID string `json:"remove_row_id"`
}

type action struct {
	// public actions need no identity and check the nonce against user 0
	public bool
	cap    auth.Capability
	run    func(*gin.Context, *Request)
}

// Handler dispatches actions
type Handler struct {
	db       *gorm.DB
	svc      *links.Service
	redirect *redirect.Handler
	logger   *logger.Logger
	actions  map[string]action
}

// NewHandler creates a new ajax handler
func NewHandler(db *gorm.DB, svc *links.Service, tracker *redirect.Handler, l *logger.Logger) *Handler {
	h := &Handler{db: db, svc: svc, redirect: tracker, logger: l}
	h.actions = map[string]action{
		"create_qr_code":    {cap: auth.CapEditLinks, run: h.createQRCode},
		"get_qr_details":    {cap: auth.CapEditLinks, run: h.getQRDetails},
		"update_qr_details": {cap: auth.CapEditLinks, run: h.updateQRDetails},
		"delete_qr_code":    {cap: auth.CapDeleteLinks, run: h.deleteQRCode},
		"track_link":        {public: true, run: h.trackLink},
	}
	return h
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// Dispatch authorizes the named action and runs it. Identity, capability and
// nonce are all checked before any data is read.
func (h *Handler) Dispatch(c *gin.Context) {
	var req Request
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request.")
		return
	}

	act, ok := h.actions[req.Action]
	if !ok || (c.Request.Method == http.MethodGet && !act.public) {
		fail(c, http.StatusBadRequest, "Invalid action.")
		return
	}

	var userID uint
	if !act.public {
		if err := apikeys.Identify(c, h.db, h.logger); err != nil {
			fail(c, http.StatusForbidden, "Permission denied.")
			return
		}
		if !auth.Can(c, act.cap) {
			userID, _ = auth.GetUserID(c)
			h.logger.LogSecurity("AJAX_DENIED", fmt.Sprintf("user %d lacks %s for %s", userID, act.cap, req.Action))
			fail(c, http.StatusForbidden, "Permission denied.")
			return
		}
		userID, _ = auth.GetUserID(c)
	}

	if !auth.VerifyNonce(req.Nonce, auth.AjaxNonceAction, userID) {
		fail(c, http.StatusForbidden, "Security check failed.")
		return
	}

	act.run(c, &req)
}

// serviceError translates a links error into a response; the details are logged only.
func (h *Handler) serviceError(c *gin.Context, err error) {
	var vErr *links.ValidationError
	switch {
	case errors.As(err, &vErr):
		fail(c, http.StatusBadRequest, vErr.Message)
	case errors.Is(err, links.ErrNotFound):
		fail(c, http.StatusNotFound, "QR code not found.")
	default:
		h.logger.Error("AJAX", err.Error())
		fail(c, http.StatusInternalServerError, "An error occurred. Please try again.")
	}
}

func (h *Handler) createQRCode(c *gin.Context, req *Request) {
	dest := ""
	if req.DestinationURL != nil {
		dest = *req.DestinationURL
	}
	// Without post_id the link is owned by its destination URL alone
	if req.PostID != nil && *req.PostID == 0 {
		fail(c, http.StatusBadRequest, "Invalid post ID.")
		return
	}

	link, err := h.svc.CreateForPost(c.Request.Context(), req.PostID, dest)
	if err != nil {
		if link != nil {
			// Stored, but without an image; repeating the call retries it
			fail(c, http.StatusInternalServerError, "Failed to generate QR code image.")
			return
		}
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, CreateResponse{
		Success:     true,
		ID:          link.ID,
		QRCode:      link.QRCode,
		QRCodeURL:   link.ImageURL(),
		TrackingURL: h.svc.TrackingURL(link.QRCode),
	})
}

func (h *Handler) getQRDetails(c *gin.Context, req *Request) {
	if req.QRID == 0 {
		fail(c, http.StatusBadRequest, "Invalid QR code ID.")
		return
	}

	details, err := h.svc.Details(c.Request.Context(), req.QRID)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, DetailsResponse{Success: true, Details: *details})
}

func (h *Handler) updateQRDetails(c *gin.Context, req *Request) {
	if req.QRID == 0 {
		fail(c, http.StatusBadRequest, "Invalid QR code ID.")
		return
	}

	result, err := h.svc.UpdateDetails(c.Request.Context(), req.QRID, links.UpdateFields{
		DestinationURL: req.DestinationURL,
		CommonName:     req.CommonName,
		ReferralCode:   req.ReferralCode,
	})
	if err != nil && result == nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, UpdateResponse{
		Success:      true,
		Details:      h.svc.Project(&result.Link),
		PostUnlinked: result.PostUnlinked,
	})
}

func (h *Handler) deleteQRCode(c *gin.Context, req *Request) {
	if req.QRID == 0 {
		fail(c, http.StatusBadRequest, "Invalid QR code ID.")
		return
	}

	if err := h.svc.Delete(c.Request.Context(), req.QRID); err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, DeleteResponse{
		Success:     true,
		Message:     "QR code deleted successfully.",
		RemoveRowID: fmt.Sprintf("qr-row-%d", req.QRID),
	})
}

func (h *Handler) trackLink(c *gin.Context, req *Request) {
	if req.LinkID == 0 {
		fail(c, http.StatusBadRequest, "Invalid link ID.")
		return
	}

	link, err := h.svc.Store().FindByID(c.Request.Context(), req.LinkID)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	h.redirect.Track(c, link)
	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, link.DestinationURL)
}

// RegisterRoutes registers the dispatcher; GET is only honoured for public actions.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/ajax", h.Dispatch)
	r.GET("/ajax", h.Dispatch)
}
