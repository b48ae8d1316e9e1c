package handlers

import (
	"carelog/internal/insights"
	"carelog/internal/models"
	"carelog/internal/service"
)

// PageData is shared by every signed-in page.
type PageData struct {
	Title     string
	User      *models.Profile
	IsAdmin   bool
	CSRFToken string
	Flash     string
	Error     string
}

type LoginViewData struct {
	Title          string
	OAuthProviders []OAuthProviderView
	Error          string
	Email          string
	Success        string
}

type RegisterViewData struct {
	Title            string
	OAuthProviders   []OAuthProviderView
	Roles            []models.UserRole
	Error            string
	Email            string
	Name             string
	Role             string
	RegistrationOpen bool
}

type ForgotPasswordViewData struct {
	Title   string
	Success string
	Error   string
}

type ResetPasswordViewData struct {
	Title string
	Token string
	Error string
}

type DashboardViewData struct {
	PageData
	Stats      insights.ChildrenStats
	LogStats   insights.ChildLogStats
	RecentLogs []models.LogWithDetails
	Children   []models.ChildWithRelation
}

// ChildFilterForm echoes the children filter inputs back into the form.
type ChildFilterForm struct {
	Search           string
	Status           string
	RelationshipType string
	MaxAge           string
}

type ChildrenViewData struct {
	PageData
	Children      []models.ChildWithRelation
	Stats         insights.ChildrenStats
	Filters       ChildFilterForm
	Filtered      bool
	Relationships []models.RelationshipType
}

type ChildFormViewData struct {
	PageData
	Child  *models.ChildWithRelation
	Input  models.ChildInput
	Action string
}

type ChildDetailViewData struct {
	PageData
	Detail        *service.ChildDetail
	Logs          []models.LogWithDetails
	Stats         insights.ChildLogStats
	Categories    []models.Category
	Intensities   []models.IntensityLevel
	Relationships []models.RelationshipType
	CanLog        bool
	Today         string
}

// ReportFilterForm echoes the report filter inputs back into the form.
type ReportFilterForm struct {
	From       string
	To         string
	ChildID    string
	CategoryID string
}

type ReportsViewData struct {
	PageData
	Report  *service.Report
	Filters ReportFilterForm
}

type ProfileViewData struct {
	PageData
	Profile *models.Profile
}

type AdminProfilesViewData struct {
	PageData
	Profiles         []models.Profile
	Roles            []models.UserRole
	RegistrationOpen bool
}
