package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator with the bell tags registered:
// hhmm, weekday and isodate.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool { return ValidTime(fl.Field().String()) })
		_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool { return ValidWeekday(fl.Field().String()) })
		_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool { return ValidDate(fl.Field().String()) })
		validate = v
	})
	return validate
}

// FieldErrors maps a struct field to the failed rule.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e[k])
	}
	return "invalid fields: " + strings.Join(parts, ", ")
}

// ValidateBell checks a bell before it is written.
func ValidateBell(b Bell) error { return structErr(Validator().Struct(b)) }

// ValidateSpecialDay checks a special day before it is written.
func ValidateSpecialDay(sd SpecialDay) error { return structErr(Validator().Struct(sd)) }

func structErr(err error) error {
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate: %w", err)
	}
	out := FieldErrors{}
	for _, fe := range ve {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
