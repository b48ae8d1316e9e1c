package models

import "time"

// Child is a tracked child record.
type Child struct {
	ID        string
	Name      string
	BirthDate *time.Time
	Diagnosis string
	Notes     string
	IsActive  bool
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChildRelation links a profile to a child with permission flags.
type ChildRelation struct {
	ID               int64
	ChildID          string
	ProfileID        string
	RelationshipType RelationshipType
	CanEdit          bool
	CanExport        bool
	IsActive         bool
	GrantedBy        string
	CreatedAt        time.Time
}

// ChildWithRelation is a child joined with the viewing profile's relation.
type ChildWithRelation struct {
	Child
	RelationshipType RelationshipType
	CanEdit          bool
	CanExport        bool
	IsRelationActive bool
	CreatorName      string
}

// TeamMember is a profile attached to a child, for the child detail page.
type TeamMember struct {
	ProfileID        string
	FullName         string
	Email            string
	RelationshipType RelationshipType
	CanEdit          bool
	CanExport        bool
	IsActive         bool
}

// ChildInput carries the user-editable child fields for create and update.
type ChildInput struct {
	Name      string
	BirthDate *time.Time
	Diagnosis string
	Notes     string
}
