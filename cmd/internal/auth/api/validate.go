package authapi

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldMessages maps "<json field>.<tag>" to the message shown to clients.
var fieldMessages = map[string]string{
	"email.required":           "Please include a valid email",
	"email.email":              "Please include a valid email",
	"password.required":        "Password is required",
	"currentPassword.required": "Current password is required",
	"newPassword.required":     "New password is required",
}

// validateRequest returns the field errors for v, or nil when v is valid.
func validateRequest(v any) []apiError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []apiError{{Msg: "Invalid request"}}
	}

	out := make([]apiError, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]
		if !ok {
			msg = "Invalid value"
		}
		out = append(out, apiError{Field: fe.Field(), Msg: msg})
	}
	return out
}
