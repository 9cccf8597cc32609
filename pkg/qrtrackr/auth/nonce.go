package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NonceLifetime bounds how long a form or AJAX nonce is accepted.
const NonceLifetime = 24 * time.Hour

// AjaxNonceAction scopes the nonce shared by every AJAX action.
const AjaxNonceAction = "qr_trackr_nonce"

// EditNonceAction scopes the nonce of one link's edit form.
func EditNonceAction(id uint) string {
	return "qr_trackr_edit_" + strconv.FormatUint(uint64(id), 10)
}

// DeleteNonceAction scopes the nonce of one link's delete link.
func DeleteNonceAction(id uint) string {
	return "qr_trackr_delete_" + strconv.FormatUint(uint64(id), 10)
}

// nonceClaims tie a nonce to one action and one user. Anonymous visitors use uid 0.
type nonceClaims struct {
	Action string `json:"act"`
	UserID uint   `json:"uid"`
	jwt.RegisteredClaims
}

// CreateNonce issues a short-lived token proving a request came from a page
// we rendered for userID.
func CreateNonce(action string, userID uint) (string, error) {
	return sign(&nonceClaims{
		Action:           action,
		UserID:           userID,
		RegisteredClaims: registered(NonceLifetime),
	})
}

// VerifyNonce reports whether nonce was issued for exactly this action and user.
func VerifyNonce(nonce, action string, userID uint) bool {
	if nonce == "" {
		return false
	}
	claims := &nonceClaims{}
	if err := parse(nonce, claims); err != nil {
		return false
	}
	return claims.Action == action && claims.UserID == userID
}
