// Package validate adapts go-playground/validator to echo's Validator hook.
package validate

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var mrnRegex = regexp.MustCompile(`^[A-Za-z0-9-]{3,32}$`)

// Validator implements echo.Validator. Field names in error messages use the
// json tag so they match what the client sent.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
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
	_ = v.RegisterValidation("mrn", validateMRN)
	_ = v.RegisterValidation("lab_status", validateLabStatus)
	return &Validator{v: v}
}

// Validate returns a 400 echo.HTTPError naming the first failing field.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, message(verrs[0]))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", fe.Field())
	case "mrn":
		return fmt.Sprintf("%s must be 3-32 letters, digits or dashes", fe.Field())
	case "lab_status":
		return fmt.Sprintf("%s must be one of ordered, in_progress, completed, cancelled", fe.Field())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}

func validateMRN(fl validator.FieldLevel) bool {
	return mrnRegex.MatchString(fl.Field().String())
}

func validateLabStatus(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "ordered", "in_progress", "completed", "cancelled":
		return true
	}
	return false
}
