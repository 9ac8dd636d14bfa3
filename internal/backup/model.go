// Package backup reads and writes the model export format relocations are
// made of, and imports it into the destination deployment.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/libops/relocation/internal/relocation"
)

// Model names understood by the engine.
const (
	ModelUser               = "sentry.user"
	ModelOption             = "sentry.option"
	ModelOrganization       = "sentry.organization"
	ModelOrganizationMember = "sentry.organizationmember"
	ModelProject            = "sentry.project"
)

var modelSilos = map[string]relocation.Silo{
	ModelUser:               relocation.SiloControl,
	ModelOption:             relocation.SiloControl,
	ModelOrganization:       relocation.SiloRegion,
	ModelOrganizationMember: relocation.SiloRegion,
	ModelProject:            relocation.SiloRegion,
}

// SiloOf reports where a model is stored.
func SiloOf(model string) (relocation.Silo, bool) {
	s, ok := modelSilos[model]
	return s, ok
}

// ErrInvalidJSON wraps every structural problem with an export.
var ErrInvalidJSON = errors.New("backup: invalid export json")

// Model is one exported database row.
type Model struct {
	Model  string          `json:"model"`
	PK     int64           `json:"pk"`
	Fields json.RawMessage `json:"fields"`
}

// Decode unmarshals the row's fields into v.
func (m Model) Decode(v any) error {
	if err := json.Unmarshal(m.Fields, v); err != nil {
		return fmt.Errorf("%w: %s pk %d: %v", ErrInvalidJSON, m.Model, m.PK, err)
	}
	return nil
}

// NewModel encodes fields into a Model.
func NewModel(model string, pk int64, fields any) (Model, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return Model{}, fmt.Errorf("encode %s pk %d: %w", model, pk, err)
	}
	return Model{Model: model, PK: pk, Fields: raw}, nil
}

// UserFields are the fields of a sentry.user row.
type UserFields struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	IsActive    bool   `json:"is_active"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
	IsUnclaimed bool   `json:"is_unclaimed"`
}

// OptionFields are the fields of a sentry.option row.
type OptionFields struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// OrganizationFields are the fields of a sentry.organization row.
type OrganizationFields struct {
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Status int32  `json:"status"`
}

// OrganizationMemberFields are the fields of a sentry.organizationmember row.
type OrganizationMemberFields struct {
	Organization    int64  `json:"organization"`
	User            *int64 `json:"user"`
	Email           string `json:"email,omitempty"`
	Role            string `json:"role"`
	HasGlobalAccess bool   `json:"has_global_access"`
}

// ProjectFields are the fields of a sentry.project row.
type ProjectFields struct {
	Organization int64  `json:"organization"`
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	Platform     string `json:"platform,omitempty"`
}

// Parse decodes an export. Unknown models are rejected.
func Parse(data []byte) ([]Model, error) {
	var models []Model
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	for _, m := range models {
		if _, ok := modelSilos[m.Model]; !ok {
			return nil, fmt.Errorf("%w: unknown model %q", ErrInvalidJSON, m.Model)
		}
		if len(m.Fields) == 0 {
			return nil, fmt.Errorf("%w: %s pk %d has no fields", ErrInvalidJSON, m.Model, m.PK)
		}
	}
	return models, nil
}

// Marshal encodes models as an export.
func Marshal(models []Model) ([]byte, error) {
	if models == nil {
		models = []Model{}
	}
	data, err := json.Marshal(models)
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return data, nil
}

// Summary is what preprocessing needs to know about an export.
type Summary struct {
	// Usernames in archive order without duplicates.
	Usernames []string
	// OrgSlugs in archive order without duplicates.
	OrgSlugs []string
}

// Scan collects the users and organizations of an export.
func Scan(models []Model) (*Summary, error) {
	s := &Summary{}
	seenUsers := make(map[string]bool)
	seenOrgs := make(map[string]bool)

	for _, m := range models {
		switch m.Model {
		case ModelUser:
			var f UserFields
			if err := m.Decode(&f); err != nil {
				return nil, err
			}
			if f.Username == "" {
				return nil, fmt.Errorf("%w: user pk %d has no username", ErrInvalidJSON, m.PK)
			}
			if !seenUsers[f.Username] {
				seenUsers[f.Username] = true
				s.Usernames = append(s.Usernames, f.Username)
			}
		case ModelOrganization:
			var f OrganizationFields
			if err := m.Decode(&f); err != nil {
				return nil, err
			}
			if f.Slug == "" {
				return nil, fmt.Errorf("%w: organization pk %d has no slug", ErrInvalidJSON, m.PK)
			}
			if !seenOrgs[f.Slug] {
				seenOrgs[f.Slug] = true
				s.OrgSlugs = append(s.OrgSlugs, f.Slug)
			}
		}
	}
	return s, nil
}
