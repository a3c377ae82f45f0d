package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/secstate/pkg/constants"
	secerrors "github.com/turtacn/secstate/pkg/errors"
)

var defaultValidator = validator.New()

var (
	matchFirstCap = regexp.MustCompile("(.)([A-Z][a-z]+)")
	matchAllCap   = regexp.MustCompile("([a-z0-9])([A-Z])")
)

// ValidateStruct validates s with struct tags. Field failures are attached
// to the returned error as metadata["fields"].
func ValidateStruct(s interface{}) error {
	err := defaultValidator.Struct(s)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return secerrors.ErrInvalidRequest(err.Error())
	}
	details := make(map[string]string, len(validationErrors))
	for _, fe := range validationErrors {
		details[toSnakeCase(fe.Field())] = formatValidationError(fe)
	}
	return secerrors.ErrInvalidRequest("validation failed").WithMetadata("fields", details)
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	default:
		return fmt.Sprintf("failed on the '%s' tag", fe.Tag())
	}
}

func toSnakeCase(str string) string {
	snake := matchFirstCap.ReplaceAllString(str, "${1}_${2}")
	snake = matchAllCap.ReplaceAllString(snake, "${1}_${2}")
	return strings.ToLower(snake)
}

// Password policy failure messages, in check order.
const (
	PasswordTooShort  = "Password must be at least 8 characters long"
	PasswordNoUpper   = "Password must contain at least one uppercase letter"
	PasswordNoLower   = "Password must contain at least one lowercase letter"
	PasswordNoDigit   = "Password must contain at least one number"
	PasswordNoSpecial = "Password must contain at least one special character"
)

// CheckPasswordStrength returns one message per unmet rule; an empty result
// means the password satisfies the policy.
func CheckPasswordStrength(password string) []string {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	problems := make([]string, 0, 5)
	if len([]rune(password)) < constants.MinPasswordLength {
		problems = append(problems, PasswordTooShort)
	}
	if !upper {
		problems = append(problems, PasswordNoUpper)
	}
	if !lower {
		problems = append(problems, PasswordNoLower)
	}
	if !digit {
		problems = append(problems, PasswordNoDigit)
	}
	if !special {
		problems = append(problems, PasswordNoSpecial)
	}
	return problems
}
