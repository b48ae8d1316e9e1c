package handlers

import "carelog/internal/security"

const (
	SessionCookieName = security.SessionCookieName

	ErrInvalidFormData     = "Invalid form data"
	ErrUnauthorized        = "Unauthorized"
	ErrForbidden           = "Forbidden"
	ErrNotFound            = "Not found"
	ErrInternalServerError = "Internal server error"
	ErrTooManyRequests     = "Too many requests. Please try again later."
	ErrInvalidCSRF         = "Invalid CSRF token"

	dateLayout = "2006-01-02"
)
