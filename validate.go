package barre

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/barre/mapping"
	"github.com/xraph/barre/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validateInput checks struct tags on an engine input and reports every
// failing field as a ValidationError.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationError{Field: "input", Message: err.Error()}
	}

	var me MultiError
	for _, fe := range verrs {
		me.Add(ValidationError{Field: fe.Field(), Message: validationMessage(fe)})
	}
	return me.ErrorOrNil()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// validateMapping converts mapping field errors into ValidationErrors.
func validateMapping(m mapping.Mapping) error {
	var me MultiError
	for _, fe := range mapping.Validate(m) {
		me.Add(ValidationError{Field: fe.Field, Message: fe.Message})
	}
	return me.ErrorOrNil()
}

// normalizeAmount fills in the engine currency and validates m against
// it. Zero passes only when allowZero is set.
func (e *Engine) normalizeAmount(m types.Money, allowZero bool) (types.Money, error) {
	if m.Currency == "" {
		m.Currency = e.currency
	}
	m.Currency = strings.ToLower(m.Currency)
	if m.Currency != e.currency {
		return m, fmt.Errorf("%w: currency %s, engine bills in %s", ErrInvalidAmount, m.Currency, e.currency)
	}
	if m.IsNegative() || (!allowZero && m.IsZero()) {
		return m, fmt.Errorf("%w: %s", ErrInvalidAmount, m)
	}
	return m, nil
}
