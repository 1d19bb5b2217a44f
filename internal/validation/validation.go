// Package validation checks caller input before it reaches an upstream or the model.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/weather2go/internal/models"
)

// Every error below wraps models.ErrInvalidInput.
var (
	// ErrQueryEmpty is returned when the place query is empty or whitespace-only after trim.
	ErrQueryEmpty = fmt.Errorf("%w: place name is required", models.ErrInvalidInput)

	// ErrQueryTooShort is returned when the query length is below the minimum.
	ErrQueryTooShort = fmt.Errorf("%w: place name too short", models.ErrInvalidInput)

	// ErrQueryTooLong is returned when the query length exceeds the maximum.
	ErrQueryTooLong = fmt.Errorf("%w: place name too long", models.ErrInvalidInput)

	// ErrQueryInvalidChars is returned when the query contains disallowed characters.
	ErrQueryInvalidChars = fmt.Errorf("%w: place name contains invalid characters", models.ErrInvalidInput)
)

// ValidateQuery trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to letters (Unicode), digits, space, comma, hyphen, period and
// apostrophe ("Sault Ste. Marie", "Bay d'Noc"). Returns the trimmed string.
func ValidateQuery(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrQueryEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrQueryTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrQueryTooLong
	}
	for _, c := range r {
		if !isAllowedQueryRune(c) {
			return "", ErrQueryInvalidChars
		}
	}
	return s, nil
}

func isAllowedQueryRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so messages match request bodies.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Struct validates s against its `validate` tags. Failures wrap
// models.ErrInvalidInput with one readable clause per field.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", models.ErrInvalidInput, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
