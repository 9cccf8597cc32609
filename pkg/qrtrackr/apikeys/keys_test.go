package apikeys

import (
	"strings"
	"testing"
	"time"

	"github.com/mikepea/qrtrackr/pkg/qrtrackr/auth"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func createUser(t *testing.T, db *gorm.DB, email string, role models.Role) models.User {
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	user := models.User{Email: email, PasswordHash: hash, Name: email, Role: role}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func TestIssueStoresOnlyHash(t *testing.T) {
	db := setupTestDB(t)
	user := createUser(t, db, "ops@example.com", models.RoleEditor)

	record, key, err := Issue(db, user.ID, "print shop", 0)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, KeyPrefix))
	assert.Len(t, key, len(KeyPrefix)+KeyLength*2)
	assert.Equal(t, key[:KeyPrefixLength], record.KeyPrefix)
	assert.Nil(t, record.ExpiresAt)

	var stored models.APIKey
	require.NoError(t, db.First(&stored, record.ID).Error)
	assert.Equal(t, hashKey(key), stored.KeyHash)
	assert.NotContains(t, stored.KeyHash, key)

	_, other, err := Issue(db, user.ID, "", 0)
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestValidateAPIKey(t *testing.T) {
	db := setupTestDB(t)
	user := createUser(t, db, "ops@example.com", models.RoleEditor)

	record, key, err := Issue(db, user.ID, "", 0)
	require.NoError(t, err)

	found, err := ValidateAPIKey(db, key)
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)
	assert.Equal(t, "ops@example.com", found.User.Email)

	_, err = ValidateAPIKey(db, KeyPrefix+"nope")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestValidateAPIKeyExpired(t *testing.T) {
	db := setupTestDB(t)
	user := createUser(t, db, "ops@example.com", models.RoleEditor)

	record, key, err := Issue(db, user.ID, "", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, record.ExpiresAt)

	_, err = ValidateAPIKey(db, key)
	require.NoError(t, err)

	require.NoError(t, db.Model(record).UpdateColumn("expires_at", time.Now().Add(-time.Minute)).Error)
	_, err = ValidateAPIKey(db, key)
	assert.ErrorIs(t, err, ErrKeyExpired)
}

func TestValidateAPIKeyDeletedOwner(t *testing.T) {
	db := setupTestDB(t)
	user := createUser(t, db, "gone@example.com", models.RoleEditor)
	_, key, err := Issue(db, user.ID, "", 0)
	require.NoError(t, err)

	require.NoError(t, db.Unscoped().Delete(&user).Error)

	_, err = ValidateAPIKey(db, key)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestUpdateLastUsedIsThrottled(t *testing.T) {
	db := setupTestDB(t)
	user := createUser(t, db, "ops@example.com", models.RoleEditor)
	record, _, err := Issue(db, user.ID, "", 0)
	require.NoError(t, err)

	require.NoError(t, UpdateLastUsed(db, record.ID))
	var first models.APIKey
	db.First(&first, record.ID)
	require.NotNil(t, first.LastUsedAt)

	require.NoError(t, UpdateLastUsed(db, record.ID))
	var second models.APIKey
	db.First(&second, record.ID)
	assert.True(t, first.LastUsedAt.Equal(*second.LastUsedAt), "touch within a minute should not write")

	stale := time.Now().Add(-2 * touchInterval)
	db.Model(&models.APIKey{}).Where("id = ?", record.ID).UpdateColumn("last_used_at", stale)
	require.NoError(t, UpdateLastUsed(db, record.ID))
	var third models.APIKey
	db.First(&third, record.ID)
	assert.True(t, third.LastUsedAt.After(stale))
}
