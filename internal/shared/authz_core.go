package shared

// Core platform permissions. Holding PermRolesManage is required for every
// mutation of roles, permissions and assignments.
const (
	PermRolesManage = "roles.manage"
	PermRolesView   = "roles.view"

	PermPermissionsView = "permissions.view"

	PermTelegramManage = "telegram.manage"

	PermAuditView = "audit.view"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermRolesManage,
		PermRolesView,
		PermPermissionsView,
		PermTelegramManage,
		PermAuditView,
	}
}

// AllScopes returns the full permission catalog seeded at start-up.
func AllScopes() []string {
	scopes := CoreScopes()
	scopes = append(scopes, DocumentScopes()...)
	scopes = append(scopes, FileScopes()...)
	return append(scopes, SupplierScopes()...)
}
