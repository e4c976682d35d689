package authclient

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used when a phone number has no country prefix.
const DefaultPhoneRegion = "US"

// Validate checks the registration payload the way the registration form
// does before anything is sent.
func (r RegisterInput) Validate() error {
	role := r.Role.Normalize()
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 50)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.PhoneNumber, validation.Required, validation.By(ValidatePhoneNumber(r.region()))),
		validation.Field(
			&r.Role,
			validation.Required,
			validation.By(ValidateRole),
		),
		validation.Field(&r.CompanyName, requiredFor(role, RoleBroker)...),
		validation.Field(&r.LicenseNumber, requiredFor(role, RoleBroker)...),
		validation.Field(&r.Department, requiredFor(role, RoleAdmin)...),
	)
}

func requiredFor(role, target UserRole) []validation.Rule {
	if role == target {
		return []validation.Rule{validation.Required}
	}
	return nil
}

// ValidateRole accepts any predefined role regardless of casing.
func ValidateRole(value any) error {
	role, _ := value.(UserRole)
	if !role.IsValid() {
		return errors.New("must be one of ADMIN, BROKER, USER")
	}
	return nil
}

// Normalized returns a copy with trimmed fields, an upper cased role and the
// phone number in E.164 when it parses.
func (r RegisterInput) Normalized() RegisterInput {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Role = r.Role.Normalize()
	if r.Role == "" {
		r.Role = RoleUser
	}
	if num, err := phonenumbers.Parse(r.PhoneNumber, r.region()); err == nil && phonenumbers.IsValidNumber(num) {
		r.PhoneNumber = phonenumbers.Format(num, phonenumbers.E164)
	}
	return r
}

func (r RegisterInput) region() string {
	if r.Region != "" {
		return strings.ToUpper(r.Region)
	}
	return DefaultPhoneRegion
}

// ValidateStringEquals checks that a value matches str
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// ValidatePhoneNumber checks that value parses as a valid number for region.
func ValidatePhoneNumber(region string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if strings.TrimSpace(s) == "" {
			return nil
		}
		num, err := phonenumbers.Parse(s, region)
		if err != nil {
			return errors.New("must be a valid phone number")
		}
		if !phonenumbers.IsValidNumber(num) {
			return errors.New("must be a valid phone number")
		}
		return nil
	}
}

func validateCredentials(username, password string) error {
	return validation.Errors{
		"username": validation.Validate(username, validation.Required),
		"password": validation.Validate(password, validation.Required),
	}.Filter()
}

// validationError converts ozzo field errors into ErrValidation metadata.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	fields := map[string]any{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				fields[field] = ferr.Error()
			}
		}
	}
	return newError(ErrValidation, err, map[string]any{"fields": fields})
}
