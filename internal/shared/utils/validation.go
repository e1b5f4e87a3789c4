package utils

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/orris-inc/rolloutd/internal/shared/errors"
)

const (
	maxTenantLength       = 64
	maxControllerIDLength = 256
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names for validation errors
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("tenant", func(fl validator.FieldLevel) bool {
		return isIdentifier(fl.Field().String(), maxTenantLength)
	})
	_ = validate.RegisterValidation("controllerid", func(fl validator.FieldLevel) bool {
		return isIdentifier(fl.Field().String(), maxControllerIDLength)
	})
	validate.RegisterAlias("actiontype", "oneof=forced soft timeforced download_only")
}

// isIdentifier accepts printable strings without whitespace or slashes.
func isIdentifier(s string, maxLen int) bool {
	if s == "" || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) || r == '/' {
			return false
		}
	}
	return true
}

// ValidateStruct validates a struct and returns a user-friendly error
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.NewValidationError("Validation failed", err.Error())
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		messages = append(messages, fieldErrorMessage(fieldError))
	}

	return errors.NewValidationError(
		"Validation failed",
		strings.Join(messages, "; "),
	)
}

func fieldErrorMessage(fe validator.FieldError) string {
	field := fe.Field()
	param := fe.Param()

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, param)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, param)
	case "actiontype":
		return fmt.Sprintf("%s must be one of [forced soft timeforced download_only]", field)
	case "tenant":
		return fmt.Sprintf("%s must be a tenant name of at most %d characters without whitespace", field, maxTenantLength)
	case "controllerid":
		return fmt.Sprintf("%s must be a controller id of at most %d characters without whitespace", field, maxControllerIDLength)
	default:
		return fmt.Sprintf("%s failed validation for '%s'", field, fe.Tag())
	}
}
