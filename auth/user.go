package auth

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/zhikook/chililog-server/errors"
)

// SystemAdministratorRole grants every operation on every repository
const SystemAdministratorRole = "system.administrator"

// User is an account allowed to publish or subscribe
type User struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	DisplayName  string   `json:"display_name,omitempty"`
	PasswordHash string   `json:"password_hash"`
	Roles        []string `json:"roles,omitempty"`
	Disabled     bool     `json:"disabled,omitempty"`
}

// NewUser creates a user with a fresh id and a hashed password
func NewUser(username, password string, roles ...string) (*User, error) {
	if strings.TrimSpace(username) == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "User", "NewUser", "check username")
	}
	u := &User{ID: uuid.NewString(), Username: username, Roles: roles}
	if err := u.SetPassword(password); err != nil {
		return nil, err
	}
	return u, nil
}

// SetPassword replaces the password hash
func (u *User) SetPassword(password string) error {
	if password == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "User", "SetPassword", "check password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.WrapInvalid(err, "User", "SetPassword", "hash password")
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword reports whether password matches the stored hash
func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// HasRole reports whether the user holds role
func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// HasAnyRole reports whether the user holds at least one of roles
func (u *User) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, u.HasRole)
}

// AddRoles adds roles the user does not hold yet
func (u *User) AddRoles(roles ...string) {
	for _, r := range roles {
		if !u.HasRole(r) {
			u.Roles = append(u.Roles, r)
		}
	}
	slices.Sort(u.Roles)
}

// Validate checks the record before it is stored
func (u *User) Validate() error {
	switch {
	case u.ID == "":
		return errors.WrapInvalid(fmt.Errorf("%w: user id is required", errors.ErrMissingConfig), "User", "Validate", "check user")
	case u.Username == "":
		return errors.WrapInvalid(fmt.Errorf("%w: username is required", errors.ErrMissingConfig), "User", "Validate", "check user")
	case strings.ContainsAny(u.Username, " .*>"):
		return errors.WrapInvalid(fmt.Errorf("%w: username %q contains reserved characters", errors.ErrInvalidConfig, u.Username),
			"User", "Validate", "check user")
	case u.PasswordHash == "":
		return errors.WrapInvalid(fmt.Errorf("%w: user %s has no password", errors.ErrMissingConfig, u.Username), "User", "Validate", "check user")
	}
	return nil
}
