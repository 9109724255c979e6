package suppliers

import (
	"errors"
	"time"
)

// Supplier represents a supplier entity
type Supplier struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code" validate:"required,max=32,printascii"`
	Name      string    `json:"name" validate:"required,max=200"`
	Address   string    `json:"address" validate:"max=500"`
	Email     string    `json:"email" validate:"omitempty,email"`
	Phone     string    `json:"phone" validate:"max=32"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilters narrows a supplier listing.
type ListFilters struct {
	Page    int
	PerPage int
	Search  string
	SortBy  string
	SortDir string
}

var (
	ErrNotFound      = errors.New("supplier not found")
	ErrDuplicateCode = errors.New("supplier code already exists")
	ErrValidation    = errors.New("supplier invalid")
)
