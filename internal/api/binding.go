package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// bindingMessage turns a gin binding error into a short client message.
// Validator errors name the first failing field; anything else is a
// malformed body.
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request body"
	}

	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s%s is required", strings.ToUpper(field[:1]), field[1:])
	case "email":
		return "Invalid email"
	default:
		return fmt.Sprintf("Invalid %s", field)
	}
}
