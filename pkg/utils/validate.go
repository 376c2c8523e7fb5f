package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// NewValidator returns a validator that understands decimal amounts, so
// tags like gt=0 work on decimal.Decimal fields.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

func FormatValidationError(err error) map[string]string {
	result := make(map[string]string)

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		result["request"] = err.Error()
		return result
	}

	for _, err := range validationErrs {
		field := err.Field()

		switch err.Tag() {
		case "required":
			result[field] = fmt.Sprintf("%s is required", field)
		case "len":
			result[field] = fmt.Sprintf("%s must be exactly %s characters", field, err.Param())
		case "max":
			result[field] = fmt.Sprintf("%s must be at most %s", field, err.Param())
		case "gt":
			result[field] = fmt.Sprintf("%s must be greater than %s", field, err.Param())
		case "uppercase":
			result[field] = fmt.Sprintf("%s must be uppercase", field)
		default:
			result[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return result
}
