package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
	"gorm.io/gorm"
)

func TestListUsersWithKeyCounts(t *testing.T) {
	env := setupTestEnv(t)
	env.db.Create(&models.APIKey{UserID: env.editor.ID, KeyHash: "h1", KeyPrefix: "qrt_aaaaaaaa"})
	env.db.Create(&models.APIKey{UserID: env.editor.ID, KeyHash: "h2", KeyPrefix: "qrt_bbbbbbbb"})

	w := env.apiRequest("GET", "/api/admin/users", nil, env.admin, t)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var page UserPage
	json.Unmarshal(w.Body.Bytes(), &page)
	if page.Total != 2 || page.TotalPages != 1 || len(page.Users) != 2 {
		t.Fatalf("Unexpected page: %+v", page)
	}
	if page.Users[0].ID != env.admin.ID || page.Users[0].KeyCount != 0 {
		t.Errorf("Unexpected first user: %+v", page.Users[0])
	}
	if page.Users[1].KeyCount != 2 {
		t.Errorf("Expected editor to own 2 keys, got %d", page.Users[1].KeyCount)
	}

	w = env.apiRequest("GET", "/api/admin/users?q=EDITOR&role=editor", nil, env.admin, t)
	json.Unmarshal(w.Body.Bytes(), &page)
	if page.Total != 1 || page.Users[0].Email != "editor@example.com" {
		t.Errorf("Expected case-insensitive search to find the editor, got %+v", page)
	}

	w = env.apiRequest("GET", "/api/admin/users?page=2", nil, env.admin, t)
	json.Unmarshal(w.Body.Bytes(), &page)
	if w.Code != http.StatusOK || len(page.Users) != 0 || page.Page != 2 {
		t.Errorf("Expected an empty second page, got %d %+v", w.Code, page)
	}

	for _, query := range []string{"?role=viewer", "?page=-1", "?page=x"} {
		w = env.apiRequest("GET", "/api/admin/users"+query, nil, env.admin, t)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", query, w.Code)
		}
	}
}

func TestGetUser(t *testing.T) {
	env := setupTestEnv(t)

	w := env.apiRequest("GET", fmt.Sprintf("/api/admin/users/%d", env.editor.ID), nil, env.admin, t)
	var user UserResponse
	json.Unmarshal(w.Body.Bytes(), &user)
	if w.Code != http.StatusOK || user.Email != "editor@example.com" || user.Role != "editor" {
		t.Errorf("Unexpected response %d: %s", w.Code, w.Body.String())
	}

	if w := env.apiRequest("GET", "/api/admin/users/999", nil, env.admin, t); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if w := env.apiRequest("GET", "/api/admin/users/0", nil, env.admin, t); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestUpdateUserFields(t *testing.T) {
	env := setupTestEnv(t)
	name, role, short := "  Renamed  ", "admin", "short"

	w := env.apiRequest("PUT", fmt.Sprintf("/api/admin/users/%d", env.editor.ID),
		UpdateUserRequest{Password: &short}, env.admin, t)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a short password, got %d", w.Code)
	}

	w = env.apiRequest("PUT", fmt.Sprintf("/api/admin/users/%d", env.editor.ID),
		UpdateUserRequest{Name: &name, Role: &role}, env.admin, t)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var user UserResponse
	json.Unmarshal(w.Body.Bytes(), &user)
	if user.Name != "Renamed" || user.Role != "admin" {
		t.Errorf("Unexpected user: %+v", user)
	}

	if w := env.apiRequest("PUT", "/api/admin/users/999", UpdateUserRequest{Name: &name}, env.admin, t); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestDemotedAdminLosesAccess(t *testing.T) {
	env := setupTestEnv(t)
	second := createUser(t, env.db, "second@example.com", models.RoleAdmin)
	editor := "editor"

	w := env.apiRequest("PUT", fmt.Sprintf("/api/admin/users/%d", second.ID),
		UpdateUserRequest{Role: &editor}, env.admin, t)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected demotion to succeed while another admin remains, got %d: %s", w.Code, w.Body.String())
	}

	// second still holds a session minted while they were an admin
	w = env.apiRequest("DELETE", fmt.Sprintf("/api/admin/users/%d", env.admin.ID), nil, second, t)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for a demoted admin, got %d", w.Code)
	}

	env.db.Delete(&models.User{}, second.ID)
	w = env.apiRequest("GET", "/api/admin/users", nil, second, t)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for a deleted user, got %d", w.Code)
	}
}

func TestLastAdminIsKept(t *testing.T) {
	env := setupTestEnv(t)
	second := createUser(t, env.db, "second@example.com", models.RoleAdmin)

	if err := guardAdminLoss(env.db, env.admin.ID, second); err != nil {
		t.Errorf("Expected change to pass while two admins exist, got %v", err)
	}
	if err := guardAdminLoss(env.db, env.admin.ID, env.admin); err != errSelfChange {
		t.Errorf("Expected errSelfChange, got %v", err)
	}
	if err := guardAdminLoss(env.db, env.admin.ID, env.editor); err != nil {
		t.Errorf("Expected editors to be unguarded, got %v", err)
	}

	// a concurrent demotion already removed the other admin
	env.db.Model(&models.User{}).Where("id = ?", env.admin.ID).Update("role", models.RoleEditor)
	if err := guardAdminLoss(env.db, env.admin.ID, second); err != errLastAdmin {
		t.Errorf("Expected errLastAdmin, got %v", err)
	}
}

func TestCreateUserReportsLookupFailure(t *testing.T) {
	env := setupTestEnv(t)
	env.db.Callback().Query().Before("gorm:query").Register("fail_email_count", func(tx *gorm.DB) {
		if _, isCount := tx.Statement.Dest.(*int64); isCount && tx.Statement.Table == "users" {
			tx.AddError(errors.New("database is locked"))
		}
	})

	w := env.apiRequest("POST", "/api/admin/users", CreateUserRequest{
		Email:    "new@example.com",
		Password: "password123",
	}, env.admin, t)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d: %s", w.Code, w.Body.String())
	}

	var count int64
	env.db.Raw("SELECT COUNT(*) FROM users WHERE email = ?", "new@example.com").Scan(&count)
	if count != 0 {
		t.Errorf("Expected no user to be created, got %d", count)
	}
}
