package authclient

import (
	"encoding/json"
	"strings"
)

// UserProfile is the identity returned by /api/auth/me and /api/auth/login.
type UserProfile struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Phone     string   `json:"phoneNumber,omitempty"`
	Role      UserRole `json:"role"`
}

// FullName joins first and last name
func (u *UserProfile) FullName() string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Clone returns a copy so callers can not mutate session owned data.
func (u *UserProfile) Clone() *UserProfile {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// UnmarshalJSON accepts numeric or string ids. The backend emits numeric ids
// for /me and strings elsewhere.
func (u *UserProfile) UnmarshalJSON(data []byte) error {
	type alias UserProfile
	aux := struct {
		ID json.RawMessage `json:"id"`
		*alias
	}{alias: (*alias)(u)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	u.ID = rawID(aux.ID)
	u.Role = u.Role.Normalize()
	return nil
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// LoginResult holds the credentials minted by a successful login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         *UserProfile
}

// RefreshResult holds the rotated credentials.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
}

// RegisterResult is returned by a successful registration. It never carries
// tokens.
type RegisterResult struct {
	User    *UserProfile
	Message string
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Username        string   `json:"username"`
	Email           string   `json:"email"`
	Password        string   `json:"password"`
	ConfirmPassword string   `json:"-"`
	FirstName       string   `json:"firstName"`
	LastName        string   `json:"lastName"`
	PhoneNumber     string   `json:"phoneNumber"`
	Role            UserRole `json:"role"`
	CompanyName     string   `json:"companyName,omitempty"`
	LicenseNumber   string   `json:"licenseNumber,omitempty"`
	Department      string   `json:"department,omitempty"`
	// Region is the default region used to parse PhoneNumber when it has no
	// country prefix.
	Region string `json:"-"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token        string          `json:"token"`
	RefreshToken string          `json:"refreshToken,omitempty"`
	ID           json.RawMessage `json:"id"`
	Username     string          `json:"username"`
	Role         UserRole        `json:"role"`
	Email        string          `json:"email"`
	FirstName    string          `json:"firstName"`
	LastName     string          `json:"lastName"`
}

func (r loginResponse) profile(fallbackUsername string) *UserProfile {
	username := r.Username
	if username == "" {
		username = fallbackUsername
	}
	return &UserProfile{
		ID:        rawID(r.ID),
		Username:  username,
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Role:      r.Role.Normalize(),
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

type registerMessage struct {
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e errorResponse) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
