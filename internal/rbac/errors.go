package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateIdentifier indicates a permission id is already registered.
	ErrDuplicateIdentifier = errors.New("rbac: duplicate permission identifier")
	// ErrDuplicateName indicates a role name is already taken.
	ErrDuplicateName = errors.New("rbac: duplicate role name")
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrUnknownPermission indicates a reference to an unregistered permission.
	ErrUnknownPermission = errors.New("rbac: unknown permission")
	// ErrUnknownRole indicates a reference to a role that does not exist.
	ErrUnknownRole = errors.New("rbac: unknown role")
	// ErrForbidden indicates the subject lacks the required permission.
	ErrForbidden = errors.New("rbac: forbidden")
	// ErrStorage indicates the backing store failed; nothing was applied and
	// the call may be retried.
	ErrStorage = errors.New("rbac: storage failure")
	// ErrInvalidInput indicates malformed identifiers or fields.
	ErrInvalidInput = errors.New("rbac: invalid input")
)

// ForbiddenError carries the denied subject and permission.
type ForbiddenError struct {
	Subject    string
	Permission string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("rbac: forbidden: subject %q lacks %q", e.Subject, e.Permission)
}

// Is lets errors.Is(err, ErrForbidden) match.
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

func unknownPermission(id string) error {
	return fmt.Errorf("%w: %s", ErrUnknownPermission, id)
}

func unknownRole(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownRole, name)
}

func notFound(kind, key string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, key)
}

func duplicateIdentifier(id string) error {
	return fmt.Errorf("%w: %s", ErrDuplicateIdentifier, id)
}

func duplicateName(name string) error {
	return fmt.Errorf("%w: %s", ErrDuplicateName, name)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrDuplicateIdentifier, ErrDuplicateName, ErrNotFound,
		ErrUnknownPermission, ErrUnknownRole, ErrForbidden, ErrInvalidInput, ErrStorage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// storageError folds infrastructure failures into ErrStorage and leaves
// domain errors untouched.
func storageError(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}
