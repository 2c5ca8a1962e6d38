package domain

import (
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	if err := validate.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
}

// IsAbsoluteURL reports whether s parses as a well-formed absolute URL
func IsAbsoluteURL(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	return validate.Var(s, "url") == nil
}

// IsValidCatalogName reports whether name is a usable catalog name
func IsValidCatalogName(name string) bool {
	return strings.TrimSpace(name) != ""
}

// IsValidImageRecord reports whether img satisfies the image invariants
func IsValidImageRecord(img Image) bool {
	return ValidateImage(img) == nil
}

// ValidateCatalogName returns a *ValidationError when name is blank
func ValidateCatalogName(name string) error {
	if !IsValidCatalogName(name) {
		return NewValidationError(FieldError{Field: "name", Message: "catalog name is required"})
	}
	return nil
}

// ValidateImage checks the name, price and imageUrl of an image
func ValidateImage(img Image) error {
	var fields []FieldError

	if err := validate.Struct(img); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, e := range verrs {
				fields = append(fields, FieldError{
					Field:   jsonFieldName(e.Field()),
					Message: fieldMessage(e),
				})
			}
		} else {
			return err
		}
	}

	// gt=0 lets +Inf through
	if math.IsInf(img.Price, 0) {
		fields = append(fields, FieldError{Field: "price", Message: "price must be a finite number"})
	}

	if len(fields) > 0 {
		return NewValidationError(fields...)
	}
	return nil
}

// ValidateImageInput validates input data as it would be stored
func ValidateImageInput(in ImageInput) error {
	return ValidateImage(in.WithID(""))
}

func jsonFieldName(field string) string {
	switch field {
	case "Name":
		return "name"
	case "Price":
		return "price"
	case "ImageURL":
		return "imageUrl"
	default:
		return strings.ToLower(field)
	}
}

func fieldMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "notblank", "required":
		return "This field is required"
	case "gt":
		return "Value must be greater than " + e.Param()
	case "url":
		return "Value must be an absolute URL"
	default:
		return "Invalid value"
	}
}
