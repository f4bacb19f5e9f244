package users

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// User is the profile part of a session. Once a session exists its User is
// never nil, though every field other than Email may be empty when the
// server supplied nothing better.
type User struct {
	ID    string   `json:"id,omitempty"`
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"` // Sorted, de-duplicated
}

// New builds a User, normalising roles into a set.
func New(id, email, name string, roles ...string) User {
	return User{
		ID:    strings.TrimSpace(id),
		Email: strings.TrimSpace(email),
		Name:  strings.TrimSpace(name),
		Roles: RoleSet(roles),
	}
}

// HasRole reports whether role is present, ignoring case.
func (u User) HasRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	i := sort.SearchStrings(u.Roles, role)
	return i < len(u.Roles) && u.Roles[i] == role
}

// IsZero reports whether the user carries no identifying data at all.
func (u User) IsZero() bool {
	return u.ID == "" && u.Email == "" && u.Name == ""
}

// Clone returns a copy that shares no memory with u.
func (u User) Clone() User {
	c := u
	if u.Roles != nil {
		c.Roles = append([]string(nil), u.Roles...)
	}
	return c
}

// RoleSet lower-cases, trims, de-duplicates and sorts roles. Empty input
// yields nil.
func RoleSet(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	set := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		set = append(set, r)
	}
	if len(set) == 0 {
		return nil
	}
	sort.Strings(set)
	return set
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		}
	}

	if !hasUpper || !hasLower {
		return fmt.Errorf("password must contain both uppercase and lowercase letters")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}
	return nil
}
