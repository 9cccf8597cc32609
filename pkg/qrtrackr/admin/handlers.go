// Package admin serves the tracking-link management pages and the JSON admin API.
package admin

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/auth"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/links"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/logger"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
	"gorm.io/gorm"
)

const (
	LoginPath = "/admin/login"
	ListPath  = "/admin/links"

	addNonceAction = "qr_trackr_add_link"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates parses the admin page templates for gin's HTML renderer.
func Templates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"datetime": func(t *time.Time) string {
			if t == nil || t.IsZero() {
				return "Never"
			}
			return t.Format("2006-01-02 15:04")
		},
		"date": func(t time.Time) string {
			return t.Format("2006-01-02")
		},
	}).ParseFS(templateFS, "templates/*.html")
}

// Handler handles admin requests
type Handler struct {
	db     *gorm.DB
	svc    *links.Service
	auth   *auth.Handler
	logger *logger.Logger
}

// NewHandler creates a new admin handler
func NewHandler(db *gorm.DB, svc *links.Service, l *logger.Logger) *Handler {
	return &Handler{db: db, svc: svc, auth: auth.NewHandler(db, l), logger: l}
}

type pageUser struct {
	Email     string
	CanDelete bool
}

func currentUser(c *gin.Context) pageUser {
	email, _ := auth.GetEmail(c)
	return pageUser{Email: email, CanDelete: auth.Can(c, auth.CapDeleteLinks)}
}

func (h *Handler) renderError(c *gin.Context, status int, message string) {
	c.HTML(status, "error.html", gin.H{
		"Title":   http.StatusText(status),
		"Status":  status,
		"Message": message,
	})
}

// requirePageCapability is RequireCapability for HTML pages.
func (h *Handler) requirePageCapability(cap auth.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.Can(c, cap) {
			h.renderError(c, http.StatusForbidden, "You do not have permission to access this page.")
			c.Abort()
			return
		}
		c.Next()
	}
}

// LoginPage renders the sign-in form
func (h *Handler) LoginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", gin.H{
		"Title":      "Sign in",
		"RedirectTo": c.Query("redirect_to"),
	})
}

// Login signs a user in from the form and sets the session cookie
func (h *Handler) Login(c *gin.Context) {
	redirectTo := c.PostForm("redirect_to")

	_, token, err := h.auth.Authenticate(c.PostForm("email"), c.PostForm("password"))
	if err != nil {
		status, message := http.StatusUnauthorized, "Invalid email or password."
		if !errors.Is(err, auth.ErrBadCredentials) {
			status, message = http.StatusInternalServerError, "Sign-in failed. Please try again."
		}
		c.HTML(status, "login.html", gin.H{
			"Title":      "Sign in",
			"Error":      message,
			"Email":      c.PostForm("email"),
			"RedirectTo": redirectTo,
		})
		return
	}

	auth.SetSessionCookie(c, token)
	c.Redirect(http.StatusFound, safeRedirect(redirectTo))
}

// safeRedirect only follows local admin paths.
func safeRedirect(target string) string {
	if strings.HasPrefix(target, "/admin/") && !strings.HasPrefix(target, "//") {
		return target
	}
	return ListPath
}

// Logout clears the session cookie
func (h *Handler) Logout(c *gin.Context) {
	auth.ClearSessionCookie(c)
	c.Redirect(http.StatusFound, LoginPath)
}

type linkRow struct {
	links.Details
	EditURL   string
	DeleteURL string
}

type column struct {
	Label  string
	URL    string
	Active bool
	Order  string
}

// List renders the paginated, searchable table of tracking links
func (h *Handler) List(c *gin.Context) {
	ctx := c.Request.Context()
	page, _ := strconv.Atoi(c.Query("paged"))
	q := links.ListQuery{
		Search:         c.Query("s"),
		ReferralFilter: c.Query("referral_filter"),
		OrderBy:        c.Query("orderby"),
		Order:          c.Query("order"),
		Page:           page,
		PerPage:        links.DefaultPerPage,
	}.Normalize()

	result, err := h.svc.Store().List(ctx, q)
	if err != nil {
		h.logger.Error("ADMIN", "list: "+err.Error())
		h.renderError(c, http.StatusInternalServerError, "Could not load tracking links.")
		return
	}

	referralCodes, err := h.svc.Store().ReferralCodes(ctx)
	if err != nil {
		h.logger.Warn("ADMIN", "referral codes: "+err.Error())
	}

	user := currentUser(c)
	userID, _ := auth.GetUserID(c)
	rows := make([]linkRow, 0, len(result.Links))
	generate := true
	for i := range result.Links {
		link := &result.Links[i]
		// Images are created lazily for rows that predate them. After one
		// failure the rest of the page is shown without trying again.
		if generate && link.ImageURL() == "" {
			if _, err := h.svc.EnsureImage(ctx, link); err != nil {
				generate = false
			}
		}
		row := linkRow{
			Details: h.svc.Project(link),
			EditURL: fmt.Sprintf("/admin/links/edit?id=%d", link.ID),
		}
		if user.CanDelete {
			nonce, _ := auth.CreateNonce(auth.DeleteNonceAction(link.ID), userID)
			row.DeleteURL = fmt.Sprintf("/admin/links/delete?id=%d&_nonce=%s", link.ID, url.QueryEscape(nonce))
		}
		rows = append(rows, row)
	}

	c.HTML(http.StatusOK, "links.html", gin.H{
		"Title":         "QR Code Links",
		"User":          user,
		"Notice":        notice(c),
		"Rows":          rows,
		"Query":         q,
		"Result":        result,
		"ReferralCodes": referralCodes,
		"Columns":       columns(q),
		"PrevURL":       pageURL(q, q.Page-1, result.TotalPages),
		"NextURL":       pageURL(q, q.Page+1, result.TotalPages),
	})
}

func notice(c *gin.Context) string {
	switch {
	case c.Query("created") == "1":
		return "QR code created."
	case c.Query("updated") == "1":
		return "QR code updated."
	case c.Query("deleted") == "1":
		return "QR code deleted."
	}
	return ""
}

func listURL(q links.ListQuery) string {
	v := url.Values{}
	if q.Search != "" {
		v.Set("s", q.Search)
	}
	if q.ReferralFilter != "" {
		v.Set("referral_filter", q.ReferralFilter)
	}
	v.Set("orderby", q.OrderBy)
	v.Set("order", q.Order)
	if q.Page > 1 {
		v.Set("paged", strconv.Itoa(q.Page))
	}
	return ListPath + "?" + v.Encode()
}

func pageURL(q links.ListQuery, page, totalPages int) string {
	if page < 1 || page > totalPages {
		return ""
	}
	q.Page = page
	return listURL(q)
}

func columns(q links.ListQuery) []column {
	defs := []struct{ key, label string }{
		{"id", "ID"},
		{"common_name", "Name"},
		{"destination_url", "Destination"},
		{"referral_code", "Referral code"},
		{"scans", "Scans"},
		{"last_accessed", "Last scan"},
		{"created_at", "Created"},
	}
	cols := make([]column, len(defs))
	for i, d := range defs {
		next := q
		next.OrderBy = d.key
		next.Page = 1
		next.Order = "asc"
		active := q.OrderBy == d.key
		if active && q.Order == "asc" {
			next.Order = "desc"
		}
		cols[i] = column{Label: d.label, URL: listURL(next), Active: active, Order: q.Order}
	}
	return cols
}

type formValues struct {
	DestinationURL string
	CommonName     string
	ReferralCode   string
	PostID         string
}

func (h *Handler) renderForm(c *gin.Context, status int, link *models.TrackingLink, values formValues, formErr string) {
	userID, _ := auth.GetUserID(c)
	action, title, target := addNonceAction, "Add New QR Code", "/admin/links/new"
	var details *links.Details
	if link != nil {
		action, title = auth.EditNonceAction(link.ID), "Edit QR Code"
		target = fmt.Sprintf("/admin/links/edit?id=%d", link.ID)
		d := h.svc.Project(link)
		details = &d
	}
	nonce, _ := auth.CreateNonce(action, userID)

	c.HTML(status, "edit.html", gin.H{
		"Title":  title,
		"User":   currentUser(c),
		"Link":   details,
		"Values": values,
		"Error":  formErr,
		"Action": target,
		"Nonce":  nonce,
	})
}

func readForm(c *gin.Context) formValues {
	return formValues{
		DestinationURL: strings.TrimSpace(c.PostForm("destination_url")),
		CommonName:     strings.TrimSpace(c.PostForm("common_name")),
		ReferralCode:   strings.TrimSpace(c.PostForm("referral_code")),
		PostID:         strings.TrimSpace(c.PostForm("post_id")),
	}
}

func statusFor(err error) int {
	var vErr *links.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// userMessage turns a service error into text safe to show on a page.
func (h *Handler) userMessage(err error) string {
	var vErr *links.ValidationError
	if errors.As(err, &vErr) {
		return vErr.Message
	}
	h.logger.Error("ADMIN", err.Error())
	return "Something went wrong. Please try again."
}

// NewPage renders the add-new form
func (h *Handler) NewPage(c *gin.Context) {
	h.renderForm(c, http.StatusOK, nil, formValues{}, "")
}

// Create handles the add-new form
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	if !auth.VerifyNonce(c.PostForm("_nonce"), addNonceAction, userID) {
		h.renderError(c, http.StatusForbidden, "The link you followed has expired. Please reload and try again.")
		return
	}

	values := readForm(c)
	fields := links.Fields{
		DestinationURL: values.DestinationURL,
		CommonName:     values.CommonName,
		ReferralCode:   values.ReferralCode,
	}
	if values.PostID != "" {
		id, err := strconv.ParseUint(values.PostID, 10, 32)
		if err != nil || id == 0 {
			h.renderForm(c, http.StatusBadRequest, nil, values, "Post ID must be a positive number.")
			return
		}
		postID := uint(id)
		fields.PostID = &postID
	}

	// A link returned with an error was stored; its image is retried from the list
	link, err := h.svc.CreateLink(c.Request.Context(), fields)
	if err != nil && link == nil {
		h.renderForm(c, statusFor(err), nil, values, h.userMessage(err))
		return
	}

	c.Redirect(http.StatusFound, ListPath+"?created=1")
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Query("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// EditPage renders the edit form for ?id=
func (h *Handler) EditPage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		h.renderError(c, http.StatusBadRequest, "Invalid QR code ID.")
		return
	}

	link, err := h.svc.Store().FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, links.ErrNotFound) {
			h.renderError(c, http.StatusNotFound, "QR code not found.")
			return
		}
		h.renderError(c, http.StatusInternalServerError, h.userMessage(err))
		return
	}

	h.renderForm(c, http.StatusOK, link, formValues{
		DestinationURL: link.DestinationURL,
		CommonName:     link.Name(),
		ReferralCode:   link.Referral(),
	}, "")
}

// Update handles the edit form for ?id=
func (h *Handler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		h.renderError(c, http.StatusBadRequest, "Invalid QR code ID.")
		return
	}
	userID, _ := auth.GetUserID(c)
	if !auth.VerifyNonce(c.PostForm("_nonce"), auth.EditNonceAction(id), userID) {
		h.renderError(c, http.StatusForbidden, "The link you followed has expired. Please reload and try again.")
		return
	}

	values := readForm(c)
	result, err := h.svc.UpdateDetails(c.Request.Context(), id, links.UpdateFields{
		DestinationURL: &values.DestinationURL,
		CommonName:     &values.CommonName,
		ReferralCode:   &values.ReferralCode,
	})
	if err != nil && result == nil {
		if errors.Is(err, links.ErrNotFound) {
			h.renderError(c, http.StatusNotFound, "QR code not found.")
			return
		}
		link, findErr := h.svc.Store().FindByID(c.Request.Context(), id)
		if findErr != nil {
			h.renderError(c, http.StatusNotFound, "QR code not found.")
			return
		}
		h.renderForm(c, statusFor(err), link, values, h.userMessage(err))
		return
	}

	c.Redirect(http.StatusFound, ListPath+"?updated=1")
}

// Delete handles the per-row delete link; the nonce travels in ?_nonce=
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		h.renderError(c, http.StatusBadRequest, "Invalid QR code ID.")
		return
	}
	userID, _ := auth.GetUserID(c)
	nonce := c.Query("_nonce")
	if nonce == "" {
		nonce = c.PostForm("_nonce")
	}
	if !auth.VerifyNonce(nonce, auth.DeleteNonceAction(id), userID) {
		h.renderError(c, http.StatusForbidden, "The link you followed has expired. Please reload and try again.")
		return
	}

	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, links.ErrNotFound) {
			h.renderError(c, http.StatusNotFound, "QR code not found.")
			return
		}
		h.renderError(c, http.StatusInternalServerError, h.userMessage(err))
		return
	}

	c.Redirect(http.StatusFound, ListPath+"?deleted=1")
}

// RegisterPageRoutes registers the HTML admin pages on the root router
func (h *Handler) RegisterPageRoutes(r gin.IRouter) {
	r.GET(LoginPath, h.LoginPage)
	r.POST(LoginPath, h.Login)
	r.POST("/admin/logout", h.Logout)

	pages := r.Group("/admin", auth.PageAuthMiddleware(LoginPath, h.db), h.requirePageCapability(auth.CapEditLinks))
	pages.GET("/links", h.List)
	pages.GET("/links/new", h.NewPage)
	pages.POST("/links/new", h.Create)
	pages.GET("/links/edit", h.EditPage)
	pages.POST("/links/edit", h.Update)

	remove := pages.Group("", h.requirePageCapability(auth.CapDeleteLinks))
	remove.GET("/links/delete", h.Delete)
	remove.POST("/links/delete", h.Delete)
}
