package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/auth"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/links"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/qrimage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	db     *gorm.DB
	svc    *links.Service
	router *gin.Engine
	admin  models.User
	editor models.User
}

func setupTestEnv(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	models.AutoMigrate(db)

	gen := qrimage.NewGenerator(qrimage.Config{
		Dir:     filepath.Join(t.TempDir(), "qr-codes"),
		BaseURL: "http://localhost:8080/uploads/qr-codes",
	})
	store := links.NewStore(db, links.Config{Images: gen})
	svc := links.NewService(store, gen, "http://localhost:8080", nil)

	tmpl, err := Templates()
	if err != nil {
		t.Fatalf("Failed to parse templates: %v", err)
	}

	r := gin.New()
	r.SetHTMLTemplate(tmpl)
	handler := NewHandler(db, svc, nil)
	handler.RegisterPageRoutes(r)
	handler.RegisterAPIRoutes(r.Group("/api/admin", auth.AuthMiddleware(db)))

	return &testEnv{
		db:     db,
		svc:    svc,
		router: r,
		admin:  createUser(t, db, "admin@example.com", models.RoleAdmin),
		editor: createUser(t, db, "editor@example.com", models.RoleEditor),
	}
}

func createUser(t *testing.T, db *gorm.DB, email string, role models.Role) models.User {
	hash, _ := auth.HashPassword("password123")
	user := models.User{Email: email, Name: "Test User", PasswordHash: hash, Role: role}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return user
}

func (e *testEnv) createLink(t *testing.T, dest, name, referral string) *models.TrackingLink {
	link, err := e.svc.CreateLink(context.Background(), links.Fields{
		DestinationURL: dest,
		CommonName:     name,
		ReferralCode:   referral,
	})
	if err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}
	return link
}

func sessionCookie(t *testing.T, user models.User) *http.Cookie {
	token, err := auth.GenerateToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	return &http.Cookie{Name: auth.CookieName, Value: token}
}

func nonceFor(t *testing.T, action string, user models.User) string {
	nonce, err := auth.CreateNonce(action, user.ID)
	if err != nil {
		t.Fatalf("CreateNonce failed: %v", err)
	}
	return nonce
}

func (e *testEnv) get(path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postForm(path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) apiRequest(method, path string, body interface{}, user models.User, t *testing.T) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	token, _ := auth.GenerateToken(user.ID, user.Email, string(user.Role))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestPagesRedirectToLogin(t *testing.T) {
	env := setupTestEnv(t)

	w := env.get("/admin/links?s=docs", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("Expected 302, got %d", w.Code)
	}
	want := LoginPath + "?redirect_to=" + url.QueryEscape("/admin/links?s=docs")
	if got := w.Header().Get("Location"); got != want {
		t.Errorf("Expected redirect to %s, got %s", want, got)
	}
}

func TestLoginFlow(t *testing.T) {
	env := setupTestEnv(t)

	w := env.get(LoginPath+"?redirect_to=/admin/links/new", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `value="/admin/links/new"`) {
		t.Fatalf("Expected login form carrying redirect_to, got %d", w.Code)
	}

	w = env.postForm(LoginPath, url.Values{
		"email":       {"admin@example.com"},
		"password":    {"wrongpassword"},
		"redirect_to": {"/admin/links/new"},
	}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for bad password, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Invalid email or password.") {
		t.Error("Expected inline login error")
	}

	w = env.postForm(LoginPath, url.Values{
		"email":       {"admin@example.com"},
		"password":    {"password123"},
		"redirect_to": {"/admin/links/new"},
	}, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("Expected 302 after login, got %d", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/admin/links/new" {
		t.Errorf("Expected redirect to /admin/links/new, got %s", got)
	}

	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.CookieName {
			session = c
		}
	}
	if session == nil || session.Value == "" {
		t.Fatal("Expected session cookie")
	}

	w = env.get("/admin/links", session)
	if w.Code != http.StatusOK {
		t.Errorf("Expected session cookie to open the list, got %d", w.Code)
	}
}

func TestSafeRedirect(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"", ListPath},
		{"/admin/links/edit?id=3", "/admin/links/edit?id=3"},
		{"https://evil.example.com/admin/", ListPath},
		{"//evil.example.com/admin/", ListPath},
		{"/elsewhere", ListPath},
	}
	for _, tt := range tests {
		if got := safeRedirect(tt.target); got != tt.want {
			t.Errorf("safeRedirect(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestListSearchAndFilter(t *testing.T) {
	env := setupTestEnv(t)
	env.createLink(t, "https://example.com/docs", "Docs flyer", "spring")
	env.createLink(t, "https://example.com/pricing", "Pricing", "summer")
	env.createLink(t, "https://example.com/blog", "Docs blog", "summer")

	cookie := sessionCookie(t, env.editor)

	w := env.get("/admin/links", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "3 items") {
		t.Error("Expected all three links listed")
	}
	if strings.Contains(body, "/admin/links/delete") {
		t.Error("Editors should not see delete links")
	}

	w = env.get("/admin/links?s=docs&referral_filter=summer", cookie)
	body = w.Body.String()
	if !strings.Contains(body, "1 items") || !strings.Contains(body, "Docs blog") {
		t.Errorf("Expected only the summer docs link, got %s", body)
	}
	if strings.Contains(body, "Docs flyer") {
		t.Error("Filter should exclude other referral codes")
	}

	w = env.get("/admin/links?updated=1", sessionCookie(t, env.admin))
	body = w.Body.String()
	if !strings.Contains(body, "QR code updated.") {
		t.Error("Expected update notice")
	}
	if !strings.Contains(body, "/admin/links/delete?id=") {
		t.Error("Admins should see delete links")
	}
}

func TestListGeneratesMissingImages(t *testing.T) {
	env := setupTestEnv(t)
	link, err := env.svc.Store().Create(context.Background(), links.Fields{DestinationURL: "https://example.com"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	env.get("/admin/links", sessionCookie(t, env.editor))

	reloaded, _ := env.svc.Store().FindByID(context.Background(), link.ID)
	if reloaded.ImageURL() == "" {
		t.Error("Expected list view to generate the missing image")
	}
}

type failingImages struct {
	mu    sync.Mutex
	calls int
}

func (f *failingImages) Generate(context.Context, string, qrimage.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "", errors.New("disk full")
}

func TestListStopsGeneratingAfterFailure(t *testing.T) {
	env := setupTestEnv(t)
	images := &failingImages{}
	store := links.NewStore(env.db, links.Config{})
	for i := 0; i < 3; i++ {
		if _, err := store.Create(context.Background(), links.Fields{DestinationURL: fmt.Sprintf("https://example.com/%d", i)}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	tmpl, _ := Templates()
	r := gin.New()
	r.SetHTMLTemplate(tmpl)
	NewHandler(env.db, links.NewService(store, images, "http://localhost:8080", nil), nil).RegisterPageRoutes(r)

	req := httptest.NewRequest("GET", "/admin/links", nil)
	req.AddCookie(sessionCookie(t, env.editor))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected the list to render without images, got %d", w.Code)
	}
	if images.calls != 1 {
		t.Errorf("Expected one generation attempt, got %d", images.calls)
	}
}

func TestCreateLinkForm(t *testing.T) {
	env := setupTestEnv(t)
	cookie := sessionCookie(t, env.editor)

	w := env.get("/admin/links/new", cookie)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `name="_nonce"`) {
		t.Fatalf("Expected add-new form, got %d", w.Code)
	}

	w = env.postForm("/admin/links/new", url.Values{
		"_nonce":          {nonceFor(t, addNonceAction, env.editor)},
		"destination_url": {"not a url"},
	}, cookie)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Please enter a valid destination URL") {
		t.Errorf("Expected inline validation error, got %d", w.Code)
	}

	w = env.postForm("/admin/links/new", url.Values{
		"_nonce":          {nonceFor(t, addNonceAction, env.editor)},
		"destination_url": {"https://example.com/new"},
		"common_name":     {"New flyer"},
		"referral_code":   {"launch-2024"},
	}, cookie)
	if w.Code != http.StatusFound || w.Header().Get("Location") != ListPath+"?created=1" {
		t.Fatalf("Expected redirect with created=1, got %d %s", w.Code, w.Header().Get("Location"))
	}

	var link models.TrackingLink
	if err := env.db.Where("destination_url = ?", "https://example.com/new").First(&link).Error; err != nil {
		t.Fatalf("Expected link to be stored: %v", err)
	}
	if link.Name() != "New flyer" || link.Referral() != "launch-2024" {
		t.Errorf("Unexpected link fields: %+v", link)
	}
	if link.ImageURL() == "" {
		t.Error("Expected image to be generated on create")
	}
}

func TestCreateRejectsBadNonce(t *testing.T) {
	env := setupTestEnv(t)

	w := env.postForm("/admin/links/new", url.Values{
		"_nonce":          {nonceFor(t, addNonceAction, env.admin)},
		"destination_url": {"https://example.com"},
	}, sessionCookie(t, env.editor))
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for another user's nonce, got %d", w.Code)
	}

	var count int64
	env.db.Model(&models.TrackingLink{}).Count(&count)
	if count != 0 {
		t.Errorf("Expected no links, got %d", count)
	}
}

func TestEditLink(t *testing.T) {
	env := setupTestEnv(t)
	link := env.createLink(t, "https://example.com/old", "Old", "")
	env.createLink(t, "https://example.com/other", "Other", "taken")
	cookie := sessionCookie(t, env.editor)
	editPath := fmt.Sprintf("/admin/links/edit?id=%d", link.ID)

	w := env.get(editPath, cookie)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "https://example.com/old") {
		t.Fatalf("Expected edit form with current values, got %d", w.Code)
	}

	w = env.postForm(editPath, url.Values{
		"_nonce":          {"bogus"},
		"destination_url": {"https://example.com/new"},
	}, cookie)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for bad nonce, got %d", w.Code)
	}

	w = env.postForm(editPath, url.Values{
		"_nonce":          {nonceFor(t, auth.EditNonceAction(link.ID), env.editor)},
		"destination_url": {"https://example.com/new"},
		"referral_code":   {"taken"},
	}, cookie)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "This referral code is already in use") {
		t.Errorf("Expected inline referral conflict, got %d", w.Code)
	}

	reloaded, _ := env.svc.Store().FindByID(context.Background(), link.ID)
	if reloaded.DestinationURL != "https://example.com/old" {
		t.Error("Rejected edit should not change the link")
	}

	w = env.postForm(editPath, url.Values{
		"_nonce":          {nonceFor(t, auth.EditNonceAction(link.ID), env.editor)},
		"destination_url": {"https://example.com/new"},
		"common_name":     {"Renamed"},
		"referral_code":   {"fresh"},
	}, cookie)
	if w.Code != http.StatusFound || w.Header().Get("Location") != ListPath+"?updated=1" {
		t.Fatalf("Expected redirect with updated=1, got %d", w.Code)
	}

	reloaded, _ = env.svc.Store().FindByID(context.Background(), link.ID)
	if reloaded.DestinationURL != "https://example.com/new" || reloaded.Name() != "Renamed" || reloaded.Referral() != "fresh" {
		t.Errorf("Unexpected link after edit: %+v", reloaded)
	}
}

func TestEditUnknownLink(t *testing.T) {
	env := setupTestEnv(t)
	cookie := sessionCookie(t, env.editor)

	if w := env.get("/admin/links/edit?id=999", cookie); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if w := env.get("/admin/links/edit?id=abc", cookie); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestDeleteLink(t *testing.T) {
	env := setupTestEnv(t)
	link := env.createLink(t, "https://example.com", "", "")
	deletePath := func(user models.User) string {
		return fmt.Sprintf("/admin/links/delete?id=%d&_nonce=%s", link.ID,
			url.QueryEscape(nonceFor(t, auth.DeleteNonceAction(link.ID), user)))
	}

	w := env.get(deletePath(env.editor), sessionCookie(t, env.editor))
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for editor, got %d", w.Code)
	}

	w = env.get(fmt.Sprintf("/admin/links/delete?id=%d&_nonce=bogus", link.ID), sessionCookie(t, env.admin))
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for bad nonce, got %d", w.Code)
	}

	w = env.get(deletePath(env.admin), sessionCookie(t, env.admin))
	if w.Code != http.StatusFound || w.Header().Get("Location") != ListPath+"?deleted=1" {
		t.Fatalf("Expected redirect with deleted=1, got %d", w.Code)
	}
	if _, err := env.svc.Store().FindByID(context.Background(), link.ID); err != links.ErrNotFound {
		t.Errorf("Expected link to be gone, got %v", err)
	}
}

func TestStatsAPI(t *testing.T) {
	env := setupTestEnv(t)
	link := env.createLink(t, "https://example.com", "", "spring")
	env.svc.Store().RecordScan(context.Background(), link.ID, links.Scan{})

	w := env.apiRequest("GET", "/api/admin/stats", nil, env.editor, t)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var stats StatsResponse
	json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.TotalLinks != 1 || stats.TotalScans != 1 || stats.Referrals != 1 {
		t.Errorf("Unexpected link stats: %+v", stats.Stats)
	}
	if stats.TotalUsers != 2 || stats.AdminUsers != 1 {
		t.Errorf("Unexpected user stats: %+v", stats)
	}
}

func TestUserManagement(t *testing.T) {
	env := setupTestEnv(t)

	w := env.apiRequest("GET", "/api/admin/users", nil, env.editor, t)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for editor, got %d", w.Code)
	}

	w = env.apiRequest("POST", "/api/admin/users", CreateUserRequest{
		Email:    "New@Example.com",
		Name:     "New",
		Password: "password123",
	}, env.admin, t)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created UserResponse
	json.Unmarshal(w.Body.Bytes(), &created)
	if created.Email != "new@example.com" || created.Role != "editor" {
		t.Errorf("Unexpected user: %+v", created)
	}

	w = env.apiRequest("POST", "/api/admin/users", CreateUserRequest{
		Email:    "new@example.com",
		Name:     "Dup",
		Password: "password123",
	}, env.admin, t)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate email, got %d", w.Code)
	}

	role := "viewer"
	w = env.apiRequest("PUT", fmt.Sprintf("/api/admin/users/%d", created.ID), UpdateUserRequest{Role: &role}, env.admin, t)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown role, got %d", w.Code)
	}

	role = "editor"
	w = env.apiRequest("PUT", fmt.Sprintf("/api/admin/users/%d", env.admin.ID), UpdateUserRequest{Role: &role}, env.admin, t)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for self-demotion, got %d", w.Code)
	}

	w = env.apiRequest("DELETE", fmt.Sprintf("/api/admin/users/%d", env.admin.ID), nil, env.admin, t)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for self-delete, got %d", w.Code)
	}

	env.db.Create(&models.APIKey{UserID: created.ID, KeyHash: "hash", KeyPrefix: "qrt_abcdefgh", Description: "ci"})
	w = env.apiRequest("DELETE", fmt.Sprintf("/api/admin/users/%d", created.ID), nil, env.admin, t)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var keys int64
	env.db.Model(&models.APIKey{}).Where("user_id = ?", created.ID).Count(&keys)
	if keys != 0 {
		t.Errorf("Expected user's API keys to be removed, got %d", keys)
	}
}
