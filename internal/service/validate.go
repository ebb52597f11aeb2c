package service

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bosted-app/backend/internal/model"
)

const maxNameLength = 100

var validate = validator.New(validator.WithRequiredStructEnabled())

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkEmail(errs *ValidationError, field, email string) {
	if email == "" {
		errs.add(field, "is required")
		return
	}
	if err := validate.Var(email, "email,max=254"); err != nil {
		errs.add(field, "must be a valid email address")
	}
}

func checkPassword(errs *ValidationError, field, password string) {
	switch {
	case password == "":
		errs.add(field, "is required")
	case len(password) < minPasswordLength:
		errs.add(field, "must be at least 8 characters")
	case len(password) > maxPasswordBytes:
		errs.add(field, "must be at most 72 bytes")
	case strings.TrimSpace(password) != password:
		errs.add(field, "must not start or end with whitespace")
	}
}

func checkName(errs *ValidationError, field, name string) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		errs.add(field, "is required")
	case len(name) > maxNameLength:
		errs.add(field, "must be at most 100 characters")
	}
}

// validateRegistration returns the parsed role alongside any field errors.
func validateRegistration(in model.RegisterInput) (model.Role, error) {
	errs := &ValidationError{}
	checkName(errs, "firstName", in.FirstName)
	checkName(errs, "lastName", in.LastName)
	checkEmail(errs, "email", normalizeEmail(in.Email))
	checkPassword(errs, "password", in.Password)

	role, err := model.ParseRole(in.Role)
	if err != nil {
		errs.add("role", "must be one of Admin, Staff, User")
	} else if role.RequiresTenant() && in.TenantID <= 0 {
		errs.add("bostedId", "is required for role "+role.String())
	}
	if in.TenantID < 0 {
		errs.add("bostedId", "must not be negative")
	}
	return role, errs.orNil()
}
