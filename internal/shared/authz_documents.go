package shared

// Document and file center permissions declared for RBAC.
const (
	// Document transfer permissions
	PermDocRead     = "doc.read"
	PermDocWrite    = "doc.write"
	PermDocTransfer = "doc.transfer"

	// File center permissions
	PermFilesView   = "files.view"
	PermFilesUpload = "files.upload"

	// Supplier permissions
	PermSupplierView = "supplier.view"
	PermSupplierEdit = "supplier.edit"
)

// DocumentScopes lists all permissions related to document tracking.
func DocumentScopes() []string {
	return []string{
		PermDocRead,
		PermDocWrite,
		PermDocTransfer,
	}
}

// FileScopes lists all permissions related to the file center.
func FileScopes() []string {
	return []string{
		PermFilesView,
		PermFilesUpload,
	}
}

// SupplierScopes lists all permissions related to supplier records.
func SupplierScopes() []string {
	return []string{
		PermSupplierView,
		PermSupplierEdit,
	}
}
