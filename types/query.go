package types

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var handleRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("handle", func(fl validator.FieldLevel) bool {
		return handleRe.MatchString(fl.Field().String())
	})
	return v
}

type Validater interface {
	Validate() map[string]string
}

type QueryParams struct {
	Question string `json:"question" validate:"required,max=4000"`
	Handle   string `json:"handle" validate:"omitempty,handle"`
}

type UploadParams struct {
	Handle string `form:"handle" validate:"omitempty,handle"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *QueryParams) Validate() map[string]string {
	return structErrors(params)
}

func (params *UploadParams) Validate() map[string]string {
	return structErrors(params)
}

// ValidHandle reports whether s can name an index.
func ValidHandle(s string) bool {
	return handleRe.MatchString(s)
}

func structErrors(s any) map[string]string {
	if err := validate.Struct(s); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}
