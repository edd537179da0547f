package dto

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"omitempty,ke_phone"`
	FullName string `json:"full_name" validate:"max=120"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// Kenyan mobile numbers in any of the forms people type them.
var kePhone = regexp.MustCompile(`^(\+?254|0)?[17]\d{8}$`)

var Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("ke_phone", func(fl validator.FieldLevel) bool {
		return kePhone.MatchString(fl.Field().String())
	})
	return v
}
