package profile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidProfile indicates a profile missing its identity fields.
	ErrInvalidProfile = errors.New("profile: invalid profile")
)

// Profile identifies one child whose portal account the service manages.
// The ID is a stable identity supplied by configuration; the name pair is
// used for display and audit attribution only. Two children may share a
// name, never an ID.
type Profile struct {
	ID        string `json:"id" koanf:"id" yaml:"id"`
	FirstName string `json:"first_name" koanf:"first_name" yaml:"first_name"`
	LastName  string `json:"last_name" koanf:"last_name" yaml:"last_name"`
}

// Validate checks that the profile carries a usable identity.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidProfile)
	}
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("%w: first and last name are required", ErrInvalidProfile)
	}
	return nil
}

// Name returns the display name used in audit entries and logs.
func (p Profile) Name() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Equal reports whether two profiles denote the same child.
func (p Profile) Equal(other Profile) bool {
	return p.ID != "" && p.ID == other.ID
}

// IsZero reports whether the profile carries no identity at all.
func (p Profile) IsZero() bool {
	return p.ID == "" && p.FirstName == "" && p.LastName == ""
}
