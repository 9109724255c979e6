package rbac

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	permissionIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)
	roleNamePattern     = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("permission_id", func(fl validator.FieldLevel) bool {
		return permissionIDPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("role_name", func(fl validator.FieldLevel) bool {
		return roleNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Registration inputs are format checked. References to existing records are
// only trimmed, so an unknown id surfaces as ErrUnknownPermission or
// ErrUnknownRole rather than a format error.
type permissionInput struct {
	ID    string `validate:"required,max=128,permission_id"`
	Label string `validate:"max=200"`
}

type roleInput struct {
	Name        string `validate:"required,max=64,role_name"`
	Description string `validate:"max=500"`
}

type subjectInput struct {
	Subject string `validate:"required,max=128"`
}

func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, ", "))
}

func validateField(name, value, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return fmt.Errorf("%w: %s failed %s", ErrInvalidInput, name, tag)
	}
	return nil
}

func validateSubject(subject string) (string, error) {
	subject = strings.TrimSpace(subject)
	if err := validateInput(subjectInput{Subject: subject}); err != nil {
		return "", err
	}
	return subject, nil
}

// DefaultLabel renders a permission id as a title, e.g. "doc.read" becomes "Doc Read".
func DefaultLabel(id string) string {
	words := strings.NewReplacer(".", " ", "_", " ").Replace(id)
	return cases.Title(language.English).String(words)
}

// normalizeIDs trims, sorts and deduplicates ids. Empty ids are kept so that
// they are reported as unknown.
func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strings.TrimSpace(id))
	}
	slices.Sort(out)
	return slices.Compact(out)
}
