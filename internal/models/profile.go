package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UserRole is the account-wide role stored on a profile.
type UserRole uint8

const (
	RoleParent UserRole = iota + 1
	RoleTeacher
	RoleSpecialist
	RoleAdmin
)

// DefaultRole is assigned when sign-up metadata carries no role.
const DefaultRole = RoleParent

var roleNames = [...]string{
	RoleParent:     "parent",
	RoleTeacher:    "teacher",
	RoleSpecialist: "specialist",
	RoleAdmin:      "admin",
}

var roleLabels = [...]string{
	RoleParent:     "Parent",
	RoleTeacher:    "Teacher",
	RoleSpecialist: "Specialist",
	RoleAdmin:      "Administrator",
}

// AllRoles lists the roles in display order.
func AllRoles() []UserRole {
	return []UserRole{RoleParent, RoleTeacher, RoleSpecialist, RoleAdmin}
}

// ParseUserRole converts a stored role name. Unknown names are an error.
func ParseUserRole(s string) (UserRole, error) {
	for r := RoleParent; int(r) < len(roleNames); r++ {
		if roleNames[r] == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r UserRole) Valid() bool {
	return r >= RoleParent && int(r) < len(roleNames)
}

func (r UserRole) String() string {
	if !r.Valid() {
		return ""
	}
	return roleNames[r]
}

func (r UserRole) Label() string {
	if !r.Valid() {
		return ""
	}
	return roleLabels[r]
}

func (r UserRole) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", r)
	}
	return []byte(r.String()), nil
}

func (r *UserRole) UnmarshalText(text []byte) error {
	parsed, err := ParseUserRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r UserRole) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", r)
	}
	return r.String(), nil
}

func (r *UserRole) Scan(src any) error {
	return scanEnum(src, r.UnmarshalText)
}

// Profile is the authenticated user's record as seen by the dashboard.
type Profile struct {
	ID        string
	Email     string
	FullName  string
	Role      UserRole
	LastLogin *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin reports whether the profile holds the admin role.
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// ProfileUpdate carries the mutable profile fields; nil fields are left unchanged.
type ProfileUpdate struct {
	FullName *string
	Email    *string
}

// Apply merges the update into p.
func (u ProfileUpdate) Apply(p *Profile) {
	if u.FullName != nil {
		p.FullName = *u.FullName
	}
	if u.Email != nil {
		p.Email = *u.Email
	}
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.FullName == nil && u.Email == nil
}

func scanEnum(src any, unmarshal func([]byte) error) error {
	switch v := src.(type) {
	case string:
		return unmarshal([]byte(v))
	case []byte:
		return unmarshal(v)
	case nil:
		return fmt.Errorf("cannot scan NULL into enum")
	default:
		return fmt.Errorf("cannot scan %T into enum", src)
	}
}
