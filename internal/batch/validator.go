package batch

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var tenantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

type ValidationRule struct {
	Rule func(v *validator.Validate)
}

// Validator wraps go-playground/validator with the row rules registered.
type Validator struct {
	validator *validator.Validate
}

func NewValidator() *Validator {
	v := &Validator{validator: validator.New()}
	v.Register(NewRowValidationRules()...)
	return v
}

func (v *Validator) Register(rules ...ValidationRule) {
	for _, r := range rules {
		r.Rule(v.validator)
	}
}

func (v *Validator) Struct(s any) error {
	return v.validator.Struct(s)
}

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

func NewRowValidationRules() []ValidationRule {
	return []ValidationRule{
		{Rule: registerFn("notblank", notBlankValidator)},
		{Rule: registerFn("tenant_id", tenantIDValidator)},
		{Rule: registerFn("single_name", singleNameValidator)},
	}
}

func notBlankValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return strings.TrimSpace(val) != ""
}

// tenantIDValidator keeps ids usable as the first segment of an OrgVDC name.
func tenantIDValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return tenantIDRegex.MatchString(val)
}

// singleNameValidator rejects names that would span lines in logs and reports.
func singleNameValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return !strings.ContainsAny(val, "\r\n\t")
}
