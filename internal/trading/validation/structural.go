package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// FieldError describes one failed struct tag rule.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// FieldErrors is returned by Structural.Validate.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	if len(fe) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(fe))
	for i, e := range fe {
		msgs[i] = e.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Structural checks inbound requests against their struct tags. It is safe
// for concurrent use by the preprocessing workers.
type Structural struct {
	validate *validator.Validate
}

// NewStructural creates a validator with the decimal rules registered.
func NewStructural() *Structural {
	v := validator.New()
	// string decimals
	_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		_, err := decimal.NewFromString(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("positive_decimal", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsPositive()
	})
	_ = v.RegisterValidation("nonzero_decimal", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && !d.IsZero()
	})
	return &Structural{validate: v}
}

// Validate returns nil or FieldErrors.
func (s *Structural) Validate(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate request: %w", err)
	}
	out := make(FieldErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fe.Namespace(),
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: message(fe),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return fmt.Sprintf("%s is required", fe.Field())
	case "decimal":
		return fmt.Sprintf("%s must be a decimal number", fe.Field())
	case "positive_decimal":
		return fmt.Sprintf("%s must be a positive decimal number", fe.Field())
	case "nonzero_decimal":
		return fmt.Sprintf("%s must be a non-zero decimal number", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s long", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
