package admin

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/auth"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
	"gorm.io/gorm"
)

const usersPerPage = 50

var (
	errSelfChange = errors.New("you cannot remove your own admin access")
	errLastAdmin  = errors.New("at least one admin account must remain")
	errNoUser     = errors.New("user not found")
)

// UserResponse is an account as shown in the users API
type UserResponse struct {
	ID        uint      `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	KeyCount  int64     `json:"api_key_count"`
}

// UserPage is one page of ListUsers
type UserPage struct {
	Users      []UserResponse `json:"users"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	TotalPages int            `json:"total_pages"`
}

type userQuery struct {
	Search string `form:"q"`
	Role   string `form:"role" binding:"omitempty,oneof=admin editor"`
	Page   int    `form:"page" binding:"omitempty,min=1"`
}

// CreateUserRequest adds an account; role defaults to editor
type CreateUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"omitempty,oneof=admin editor"`
}

// UpdateUserRequest changes only the fields that are present
type UpdateUserRequest struct {
	Name     *string `json:"name"`
	Role     *string `json:"role" binding:"omitempty,oneof=admin editor"`
	Password *string `json:"password" binding:"omitempty,min=8"`
}

// usersWithKeyCounts selects users alongside the number of keys each owns.
func usersWithKeyCounts(db *gorm.DB) *gorm.DB {
	return db.Model(&models.User{}).
		Select("users.id, users.email, users.name, users.role, users.created_at, COUNT(api_keys.id) AS key_count").
		Joins("LEFT JOIN api_keys ON api_keys.user_id = users.id").
		Group("users.id, users.email, users.name, users.role, users.created_at")
}

func (h *Handler) loadUser(id uint) (*UserResponse, error) {
	var view UserResponse
	res := usersWithKeyCounts(h.db).Where("users.id = ?", id).Scan(&view)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errNoUser
	}
	return &view, nil
}

func (h *Handler) respondUser(c *gin.Context, status int, id uint) {
	view, err := h.loadUser(id)
	if errors.Is(err, errNoUser) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		h.logger.Error("ADMIN", fmt.Sprintf("load user %d: %v", id, err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch user"})
		return
	}
	c.JSON(status, view)
}

func userID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return 0, false
	}
	return uint(id), true
}

// ListUsers pages through accounts, oldest first, filtered by q and role.
func (h *Handler) ListUsers(c *gin.Context) {
	var q userQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}

	filter := h.db.Model(&models.User{})
	if q.Search != "" {
		like := "%" + strings.ToLower(q.Search) + "%"
		filter = filter.Where("LOWER(users.email) LIKE ? OR LOWER(users.name) LIKE ?", like, like)
	}
	if q.Role != "" {
		filter = filter.Where("users.role = ?", q.Role)
	}

	page := UserPage{Page: q.Page, Users: []UserResponse{}}
	if err := filter.Session(&gorm.Session{}).Count(&page.Total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
		return
	}
	page.TotalPages = int((page.Total + usersPerPage - 1) / usersPerPage)

	err := usersWithKeyCounts(filter).
		Order("users.id").
		Limit(usersPerPage).
		Offset((q.Page - 1) * usersPerPage).
		Scan(&page.Users).Error
	if err != nil {
		h.logger.Error("ADMIN", "list users: "+err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
		return
	}

	c.JSON(http.StatusOK, page)
}

// CreateUser adds an admin or editor account
func (h *Handler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := models.RoleEditor
	if req.Role != "" {
		role = models.Role(req.Role)
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var taken int64
	if err := h.db.Model(&models.User{}).Where("email = ?", email).Count(&taken).Error; err != nil {
		h.logger.Error("ADMIN", "check email: "+err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}
	if taken > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	user := models.User{Email: email, Name: strings.TrimSpace(req.Name), PasswordHash: hash, Role: role}
	if err := h.db.Create(&user).Error; err != nil {
		h.logger.Error("ADMIN", "create user: "+err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	actor, _ := auth.GetUserID(c)
	h.logger.LogSecurity("USER_CREATED", fmt.Sprintf("user %d (%s) created by %d", user.ID, role, actor))
	h.respondUser(c, http.StatusCreated, user.ID)
}

// GetUser returns one account
func (h *Handler) GetUser(c *gin.Context) {
	if id, ok := userID(c); ok {
		h.respondUser(c, http.StatusOK, id)
	}
}

// guardAdminLoss refuses changes that would leave the actor or the site
// without admin access.
func guardAdminLoss(tx *gorm.DB, actor uint, target models.User) error {
	if target.Role != models.RoleAdmin {
		return nil
	}
	if target.ID == actor {
		return errSelfChange
	}
	var admins int64
	if err := tx.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&admins).Error; err != nil {
		return err
	}
	if admins <= 1 {
		return errLastAdmin
	}
	return nil
}

func (h *Handler) writeError(c *gin.Context, action string, err error) {
	switch {
	case errors.Is(err, errNoUser):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, errSelfChange), errors.Is(err, errLastAdmin):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("ADMIN", action+": "+err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action})
	}
}

func findUser(tx *gorm.DB, id uint) (models.User, error) {
	var user models.User
	err := tx.First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return user, errNoUser
	}
	return user, err
}

// UpdateUser changes a name, role or password
func (h *Handler) UpdateUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	changes := map[string]interface{}{}
	if req.Name != nil {
		changes["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
			return
		}
		changes["password_hash"] = hash
	}

	actor, _ := auth.GetUserID(c)
	err := h.db.Transaction(func(tx *gorm.DB) error {
		user, err := findUser(tx, id)
		if err != nil {
			return err
		}
		if req.Role != nil && models.Role(*req.Role) != user.Role {
			if err := guardAdminLoss(tx, actor, user); err != nil {
				return err
			}
			changes["role"] = *req.Role
		}
		if len(changes) == 0 {
			return nil
		}
		return tx.Model(&user).Updates(changes).Error
	})
	if err != nil {
		h.writeError(c, "update user", err)
		return
	}

	if role, changed := changes["role"]; changed {
		h.logger.LogSecurity("USER_ROLE_CHANGED", fmt.Sprintf("user %d is now %s, changed by %d", id, role, actor))
	}
	h.respondUser(c, http.StatusOK, id)
}

// DeleteUser removes an account and its API keys. Tracking links are
// shared and stay.
func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	actor, _ := auth.GetUserID(c)
	if id == actor {
		c.JSON(http.StatusBadRequest, gin.H{"error": "you cannot delete your own account"})
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		user, err := findUser(tx, id)
		if err != nil {
			return err
		}
		if err := guardAdminLoss(tx, actor, user); err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.APIKey{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		h.writeError(c, "delete user", err)
		return
	}

	h.logger.LogSecurity("USER_DELETED", fmt.Sprintf("user %d deleted by %d", id, actor))
	c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
}
