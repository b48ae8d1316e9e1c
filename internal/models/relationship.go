package models

import (
	"database/sql/driver"
	"fmt"
)

// RelationshipType is the role linking a profile to a child.
type RelationshipType uint8

const (
	RelationshipParent RelationshipType = iota + 1
	RelationshipTeacher
	RelationshipSpecialist
	RelationshipObserver
	RelationshipFamily
	numRelationshipTypes
)

type relationshipInfo struct {
	name  string
	label string
	color string
}

// Indexed by RelationshipType.
var relationshipTable = [numRelationshipTypes]relationshipInfo{
	RelationshipParent:     {name: "parent", label: "Parent", color: "blue"},
	RelationshipTeacher:    {name: "teacher", label: "Teacher", color: "green"},
	RelationshipSpecialist: {name: "specialist", label: "Specialist", color: "purple"},
	RelationshipObserver:   {name: "observer", label: "Observer", color: "gray"},
	RelationshipFamily:     {name: "family", label: "Family", color: "orange"},
}

// AllRelationshipTypes lists the relationship types in display order.
func AllRelationshipTypes() []RelationshipType {
	types := make([]RelationshipType, 0, numRelationshipTypes-1)
	for r := RelationshipParent; r < numRelationshipTypes; r++ {
		types = append(types, r)
	}
	return types
}

// ParseRelationshipType converts a stored relationship name. Unknown names are an error.
func ParseRelationshipType(s string) (RelationshipType, error) {
	for r := RelationshipParent; r < numRelationshipTypes; r++ {
		if relationshipTable[r].name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown relationship type %q", s)
}

func (r RelationshipType) Valid() bool {
	return r >= RelationshipParent && r < numRelationshipTypes
}

func (r RelationshipType) String() string {
	if !r.Valid() {
		return ""
	}
	return relationshipTable[r].name
}

func (r RelationshipType) Label() string {
	if !r.Valid() {
		return ""
	}
	return relationshipTable[r].label
}

func (r RelationshipType) Color() string {
	if !r.Valid() {
		return ""
	}
	return relationshipTable[r].color
}

// CanLog reports whether this relationship may write logs. Observers are read-only.
func (r RelationshipType) CanLog() bool {
	return r.Valid() && r != RelationshipObserver
}

func (r RelationshipType) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid relationship type %d", r)
	}
	return []byte(r.String()), nil
}

func (r *RelationshipType) UnmarshalText(text []byte) error {
	parsed, err := ParseRelationshipType(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r RelationshipType) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid relationship type %d", r)
	}
	return r.String(), nil
}

func (r *RelationshipType) Scan(src any) error {
	return scanEnum(src, r.UnmarshalText)
}
