package auth

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	minAge = 16
	maxAge = 90

	passwordSymbols = "!@#$%^&*"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern    = regexp.MustCompile(`^(63|09)[0-9]{9}$`)
	nonDigits       = regexp.MustCompile(`\D`)
)

// RegisterRequest is the registration form. Required fields are checked in
// declaration order.
type RegisterRequest struct {
	FirstName       string `json:"firstName" validate:"required"`
	LastName        string `json:"lastName" validate:"required"`
	DateOfBirth     string `json:"dateOfBirth" validate:"required"`
	Purok           string `json:"purok" validate:"required"`
	PhoneNumber     string `json:"phoneNumber" validate:"required"`
	Username        string `json:"username" validate:"required"`
	Email           string `json:"email" validate:"required"`
	Password        string `json:"password" validate:"required"`
	AcceptedTerms   bool   `json:"acceptedTerms"`
	AcceptedPrivacy bool   `json:"acceptedPrivacy"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// missingFields lists every empty required field of req.
func missingFields(req *RegisterRequest) ([]string, error) {
	err := validate.Struct(req)
	if err == nil {
		return nil, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return missing, nil
}

// validateRegistration runs the form checks in order and returns the first
// failure. It has no side effects.
func validateRegistration(req *RegisterRequest, today time.Time) (time.Time, error) {
	missing, err := missingFields(req)
	if err != nil {
		return time.Time{}, err
	}
	if len(missing) > 0 {
		return time.Time{}, newError(ErrValidation, "Missing required fields: "+strings.Join(missing, ", "))
	}

	if !req.AcceptedTerms || !req.AcceptedPrivacy {
		return time.Time{}, newError(ErrConsentRequired, "You must accept Terms & Conditions and Privacy Policy")
	}

	if errs := UsernameErrors(req.Username); len(errs) > 0 {
		return time.Time{}, newError(ErrValidation, errs[0])
	}

	if !ValidEmail(req.Email) {
		return time.Time{}, newError(ErrValidation, "Invalid email format")
	}

	if errs := PasswordErrors(req.Password); len(errs) > 0 {
		return time.Time{}, newError(ErrValidation, errs[0])
	}

	if !ValidPhoneNumber(req.PhoneNumber) {
		return time.Time{}, newError(ErrValidation, "Invalid phone number format. Use 09XXXXXXXXX or +639XXXXXXXXX")
	}

	dob, err := ValidateAge(req.DateOfBirth, today)
	if err != nil {
		return time.Time{}, err
	}
	return dob, nil
}

// UsernameErrors returns every rule the username violates.
func UsernameErrors(username string) []string {
	var errs []string
	if n := len(username); n < 3 || n > 20 {
		errs = append(errs, "Username must be between 3 and 20 characters")
	}
	if !usernamePattern.MatchString(username) {
		errs = append(errs, "Username can only contain letters, numbers, and underscores")
	}
	return errs
}

func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// PasswordErrors returns every rule the password violates, in a fixed order.
func PasswordErrors(password string) []string {
	var errs []string
	if len(password) < 8 {
		errs = append(errs, "Password must be at least 8 characters long")
	}
	if !strings.ContainsFunc(password, func(r rune) bool { return r >= 'A' && r <= 'Z' }) {
		errs = append(errs, "Password must contain at least one uppercase letter")
	}
	if !strings.ContainsFunc(password, func(r rune) bool { return r >= 'a' && r <= 'z' }) {
		errs = append(errs, "Password must contain at least one lowercase letter")
	}
	if !strings.ContainsFunc(password, func(r rune) bool { return r >= '0' && r <= '9' }) {
		errs = append(errs, "Password must contain at least one number")
	}
	if !strings.ContainsAny(password, passwordSymbols) {
		errs = append(errs, "Password must contain at least one special character (!@#$%^&*)")
	}
	return errs
}

// ValidPhoneNumber accepts 09 or 63 followed by nine digits once separators
// are stripped.
func ValidPhoneNumber(phone string) bool {
	return phonePattern.MatchString(nonDigits.ReplaceAllString(phone, ""))
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

// ValidateAge parses a date of birth and checks the completed age in years
// against today.
func ValidateAge(dateOfBirth string, today time.Time) (time.Time, error) {
	dob, err := parseDate(strings.TrimSpace(dateOfBirth))
	if err != nil {
		return time.Time{}, newError(ErrValidation, "Invalid date format")
	}
	if dob.After(today) {
		return time.Time{}, newError(ErrValidation, "Date of birth cannot be in the future")
	}

	age := Age(dob, today)
	if age < minAge {
		return time.Time{}, newError(ErrValidation, fmt.Sprintf("Must be at least %d years old", minAge))
	}
	if age > maxAge {
		return time.Time{}, newError(ErrValidation, fmt.Sprintf("Age cannot exceed %d years", maxAge))
	}
	return dob, nil
}

func Age(dob, today time.Time) int {
	age := today.Year() - dob.Year()
	if today.Month() < dob.Month() || (today.Month() == dob.Month() && today.Day() < dob.Day()) {
		age--
	}
	return age
}
