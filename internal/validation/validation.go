// Package validation содержит проверку входных данных форм действий над сделкой.
package validation

import (
	"errors"
	"fmt"
	"path"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// FieldErrors описывает ошибки валидации по полям формы.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fe[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator проверяет формы по тегам validate.
type Validator struct {
	v *validator.Validate
}

// New создаёт валидатор с правилами, специфичными для сделок.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	if err := v.RegisterValidation("filename", func(fl validator.FieldLevel) bool {
		return IsStoredFilename(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("register filename validation: %v", err))
	}

	return &Validator{v: v}
}

// Struct проверяет форму и возвращает FieldErrors при нарушениях.
func (val *Validator) Struct(form any) error {
	err := val.v.Struct(form)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}

	fe := make(FieldErrors, len(verrs))
	for _, e := range verrs {
		fe[fieldPath(e)] = message(e)
	}
	return fe
}

// fieldPath убирает имя корневой структуры из пространства имён поля.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + e.Param()
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "iso4217":
		return "must be an ISO 4217 currency code"
	case "filename":
		return "must be a stored file name"
	case "gtfield":
		return "must be after " + e.Param()
	default:
		return "is invalid"
	}
}

// IsStoredFilename проверяет, что имя файла является ссылкой на сохранённый файл, а не путём.
func IsStoredFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return path.Base(name) == name
}
