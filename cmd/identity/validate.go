package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// One instance per process: validator caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

func passwordTooShortMessage(n int) string {
	return fmt.Sprintf("Please enter a password with %d or more characters", n)
}

// ValidateCreate reports every field problem of in without touching the store.
// It applies the same normalization as Create.
func ValidateCreate(in CreateUserInput, h Hasher) error {
	return validateCreate("identity.ValidateCreate", normalizeCreate(in), h)
}

func normalizeCreate(in CreateUserInput) CreateUserInput {
	in.Name = NormalizeName(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Gender = trimPtr(in.Gender)
	return in
}

// validateCreate collects field errors for in, including the password policy.
func validateCreate(op string, in CreateUserInput, h Hasher) error {
	var fields []FieldError

	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			fields = append(fields, fieldErrorFor(fe))
		}
	}

	if in.Password != "" && h != nil {
		if err := h.Validate(in.Password); err != nil {
			if msg, ok := passwordPolicyMessage(h, err); ok {
				fields = append(fields, FieldError{Field: "password", Msg: msg})
			}
		}
	}

	if len(fields) > 0 {
		return ValidationError{Op: op, Fields: fields}
	}
	return nil
}

func fieldErrorFor(fe validator.FieldError) FieldError {
	switch fe.StructField() {
	case "Name":
		if fe.Tag() == "max" {
			return FieldError{Field: "name", Msg: "Name is too long"}
		}
		return FieldError{Field: "name", Msg: "Name is required"}
	case "Email":
		return FieldError{Field: "email", Msg: "Please include a valid email"}
	case "Password":
		return FieldError{Field: "password", Msg: "Password is required"}
	case "Gender":
		return FieldError{Field: "gender", Msg: "Gender is too long"}
	default:
		return FieldError{Field: fe.Field(), Msg: "Invalid value"}
	}
}
