package auth

import "github.com/mikepea/qrtrackr/pkg/qrtrackr/models"

// Capability is a permission checked before a handler touches data.
type Capability string

const (
	CapEditLinks     Capability = "edit_links"
	CapDeleteLinks   Capability = "delete_links"
	CapManageOptions Capability = "manage_options"
)

var roleCapabilities = map[models.Role][]Capability{
	models.RoleAdmin:  {CapEditLinks, CapDeleteLinks, CapManageOptions},
	models.RoleEditor: {CapEditLinks},
}

// RoleCan reports whether role grants cap.
func RoleCan(role string, cap Capability) bool {
	for _, c := range roleCapabilities[models.Role(role)] {
		if c == cap {
			return true
		}
	}
	return false
}

// Capabilities lists what role grants.
func Capabilities(role string) []Capability {
	return append([]Capability(nil), roleCapabilities[models.Role(role)]...)
}
