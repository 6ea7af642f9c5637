package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Quality tier validation
	validate.RegisterValidation("quality", func(fl validator.FieldLevel) bool {
		quality := fl.Field().String()
		validTiers := []string{"STANDARD", "HIGH", "ULTRA", ""}
		for _, q := range validTiers {
			if quality == q {
				return true
			}
		}
		return false
	})

	// Generation vendor validation
	validate.RegisterValidation("vendor", func(fl validator.FieldLevel) bool {
		vendor := fl.Field().String()
		validVendors := []string{"meshy", "luma", "tripo", "stability", ""}
		for _, v := range validVendors {
			if vendor == v {
				return true
			}
		}
		return false
	})
}

// Validate validates a struct and returns the raw validation error
func Validate(s interface{}) error {
	return validate.Struct(s)
}

// Errors converts a validation error into a field -> message map suitable for
// API error details
func Errors(err error) map[string]string {
	details := make(map[string]string)

	var verrs validator.ValidationErrors
	if ok := errorsAs(err, &verrs); !ok {
		details["_"] = err.Error()
		return details
	}

	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			details[fe.Field()] = "this field is required"
		case "url":
			details[fe.Field()] = "must be a valid URL"
		case "quality":
			details[fe.Field()] = "must be one of STANDARD, HIGH, ULTRA"
		case "vendor":
			details[fe.Field()] = "unknown generation provider"
		default:
			details[fe.Field()] = "invalid value"
		}
	}

	return details
}

func errorsAs(err error, target *validator.ValidationErrors) bool {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		*target = verrs
		return true
	}
	return false
}
