// Package validation checks user supplied values before they reach the
// pipeline.
package validation

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// Error represents a validation error.
type Error struct {
	Field   string
	Message string
}

// Error returns a formatted string representation of the validation error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewError creates a new validation error.
func NewError(field, message string) *Error {
	return &Error{Field: field, Message: message}
}

// Email validates a notification recipient.
func Email(email string) error {
	if email == "" {
		return NewError("email", "email is required")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return NewError("email", "invalid email format")
	}

	// RFC 5321 limits.
	if len(email) > 254 {
		return NewError("email", "email too long (max 254 characters)")
	}
	localPart, domain, _ := strings.Cut(email, "@")
	if len(localPart) > 64 {
		return NewError("email", "email local part too long (max 64 characters)")
	}
	if !strings.Contains(domain, ".") {
		return NewError("email", "invalid domain")
	}

	return nil
}

// MaxOrgSlugLength matches the organization slug column.
const MaxOrgSlugLength = 50

var orgSlugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// OrgSlug validates an organization slug as the source deployment exports it.
func OrgSlug(slug string) error {
	if slug == "" {
		return NewError("org_slug", "slug is required")
	}
	if len(slug) > MaxOrgSlugLength {
		return NewError("org_slug", fmt.Sprintf("slug %q too long (max %d characters)", slug, MaxOrgSlugLength))
	}
	if !orgSlugPattern.MatchString(slug) {
		return NewError("org_slug", fmt.Sprintf("slug %q may only contain lowercase letters, numbers, hyphens and underscores", slug))
	}
	return nil
}

// OrgSlugs validates every slug in a request and at most limit of them.
func OrgSlugs(slugs []string, limit int) error {
	if len(slugs) == 0 {
		return NewError("orgs", "at least one organization slug is required")
	}
	if limit > 0 && len(slugs) > limit {
		return NewError("orgs", fmt.Sprintf("%d organizations requested, but the maximum allowed is %d", len(slugs), limit))
	}
	for _, slug := range slugs {
		if err := OrgSlug(slug); err != nil {
			return err
		}
	}
	return nil
}
