package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/libops/relocation/db"
	"github.com/libops/relocation/db/types"
	"github.com/libops/relocation/internal/database"
	"github.com/libops/relocation/internal/relocation"
)

// maxRenameAttempts bounds the search for a free username or slug.
const maxRenameAttempts = 100

// SQLEngine is the Engine for the MySQL destination schema.
type SQLEngine struct {
	pool *sql.DB
}

// NewSQLEngine returns an engine writing through pool.
func NewSQLEngine(pool *sql.DB) *SQLEngine {
	return &SQLEngine{pool: pool}
}

// ExportConfig implements Engine.
func (e *SQLEngine) ExportConfig(ctx context.Context) ([]Model, error) {
	q := db.New(e.pool)

	options, err := q.ListOptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	admins, err := q.ListAdminUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list admin users: %w", err)
	}

	models := make([]Model, 0, len(options)+len(admins))
	for _, o := range options {
		m, err := NewModel(ModelOption, o.ID, OptionFields{Key: o.Key, Value: []byte(o.Value)})
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	users, err := userModels(admins)
	if err != nil {
		return nil, err
	}
	return append(models, users...), nil
}

// ExportUsers implements Engine.
func (e *SQLEngine) ExportUsers(ctx context.Context, usernames []string) ([]Model, error) {
	if len(usernames) == 0 {
		return []Model{}, nil
	}
	users, err := db.New(e.pool).ListUsersByUsernames(ctx, usernames)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return userModels(users)
}

func userModels(users []db.User) ([]Model, error) {
	models := make([]Model, 0, len(users))
	for _, u := range users {
		m, err := NewModel(ModelUser, u.ID, UserFields{
			Username:    u.Username,
			Email:       u.Email,
			Name:        u.Name,
			IsActive:    u.IsActive,
			IsStaff:     u.IsStaff,
			IsSuperuser: u.IsSuperuser,
			IsUnclaimed: u.IsUnclaimed,
		})
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

// GrantOwner implements Engine.
func (e *SQLEngine) GrantOwner(ctx context.Context, orgID, userID int64) error {
	err := db.New(e.pool).UpsertOrganizationOwner(ctx, db.UpsertOrganizationOwnerParams{
		OrganizationID: orgID,
		UserID:         sql.NullInt64{Int64: userID, Valid: true},
	})
	if err != nil {
		return fmt.Errorf("grant owner of organization %d to user %d: %w", orgID, userID, err)
	}
	return nil
}

// UserEmail implements Engine.
func (e *SQLEngine) UserEmail(ctx context.Context, userID int64) (string, error) {
	u, err := db.New(e.pool).GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("user %d: %w", userID, relocation.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get user %d: %w", userID, err)
	}
	return u.Email, nil
}

// Import implements Engine.
func (e *SQLEngine) Import(ctx context.Context, models []Model, flags Flags) ([]*relocation.ImportChunk, error) {
	var chunks []*relocation.ImportChunk
	err := database.InTx(ctx, e.pool, nil, func(tx *sql.Tx) error {
		imp := &importer{q: db.New(tx), flags: flags}
		var err error
		chunks, err = imp.run(ctx, models)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Import committed", "import_uuid", flags.ImportUUID, "chunks", len(chunks))
	return chunks, nil
}

type importer struct {
	q     *db.Queries
	flags Flags

	users map[int64]int64
	orgs  map[int64]int64
}

// chunk accumulates the pk mappings of one model.
type chunk struct {
	c       *relocation.ImportChunk
	ordinal int
}

func newChunk(importUUID uuid.UUID, model string) *chunk {
	silo, _ := SiloOf(model)
	return &chunk{c: &relocation.ImportChunk{
		ImportUUID:          importUUID,
		Silo:                silo,
		Model:               model,
		InsertedMap:         map[int64]int64{},
		ExistingMap:         map[int64]int64{},
		InsertedIdentifiers: map[int64]string{},
	}}
}

func (c *chunk) next() {
	c.ordinal++
	if c.c.MinOrdinal == 0 {
		c.c.MinOrdinal = c.ordinal
	}
	c.c.MaxOrdinal = c.ordinal
}

// run imports users, then organizations, then the rows that hang off them.
func (imp *importer) run(ctx context.Context, models []Model) ([]*relocation.ImportChunk, error) {
	imp.users = make(map[int64]int64)
	imp.orgs = make(map[int64]int64)

	byModel := make(map[string][]Model)
	for _, m := range models {
		byModel[m.Model] = append(byModel[m.Model], m)
	}

	steps := []struct {
		model string
		fn    func(context.Context, Model, *chunk) error
	}{
		{ModelUser, imp.user},
		{ModelOrganization, imp.organization},
		{ModelOrganizationMember, imp.member},
		{ModelProject, imp.project},
	}

	var chunks []*relocation.ImportChunk
	for _, step := range steps {
		ch := newChunk(imp.flags.ImportUUID, step.model)
		for _, m := range byModel[step.model] {
			if err := step.fn(ctx, m, ch); err != nil {
				return nil, err
			}
		}
		if ch.c.MaxOrdinal == 0 {
			continue
		}
		if err := imp.writeChunk(ctx, ch.c); err != nil {
			return nil, err
		}
		chunks = append(chunks, ch.c)
	}
	return chunks, nil
}

func (imp *importer) writeChunk(ctx context.Context, c *relocation.ImportChunk) error {
	inserted, err := types.MarshalRaw(c.InsertedMap)
	if err != nil {
		return err
	}
	existing, err := types.MarshalRaw(c.ExistingMap)
	if err != nil {
		return err
	}
	identifiers, err := types.MarshalRaw(c.InsertedIdentifiers)
	if err != nil {
		return err
	}
	err = imp.q.CreateImportChunk(ctx, db.CreateImportChunkParams{
		ImportUuid:          c.ImportUUID.String(),
		Silo:                string(c.Silo),
		Model:               c.Model,
		MinOrdinal:          int32(c.MinOrdinal),
		MaxOrdinal:          int32(c.MaxOrdinal),
		InsertedMap:         inserted,
		ExistingMap:         existing,
		InsertedIdentifiers: identifiers,
	})
	if err != nil {
		return fmt.Errorf("record import chunk for %s: %w", c.Model, err)
	}
	return nil
}

func (imp *importer) user(ctx context.Context, m Model, ch *chunk) error {
	var f UserFields
	if err := m.Decode(&f); err != nil {
		return err
	}
	ch.next()

	if imp.flags.MergeUsers {
		existing, err := imp.q.ListUsersByUsernames(ctx, []string{f.Username})
		if err != nil {
			return fmt.Errorf("look up user %q: %w", f.Username, err)
		}
		if len(existing) > 0 {
			imp.users[m.PK] = existing[0].ID
			ch.c.ExistingMap[m.PK] = existing[0].ID
			return nil
		}
	}

	username, err := imp.freeName(ctx, f.Username, func(name string) (int64, error) {
		return imp.q.CountUsersByUsername(ctx, name)
	})
	if err != nil {
		return err
	}

	res, err := imp.q.CreateUser(ctx, db.CreateUserParams{
		Username: username,
		Email:    f.Email,
		Name:     f.Name,
		IsActive: f.IsActive,
		// Imported accounts never carry admin rights and must be claimed
		// through a password reset.
		IsStaff:     false,
		IsSuperuser: false,
		IsUnclaimed: true,
	})
	if err != nil {
		return fmt.Errorf("create user %q: %w", username, err)
	}
	id, err := db.LastInsertID(res)
	if err != nil {
		return fmt.Errorf("create user %q: %w", username, err)
	}

	imp.users[m.PK] = id
	ch.c.InsertedMap[m.PK] = id
	ch.c.InsertedIdentifiers[m.PK] = username
	return nil
}

func (imp *importer) organization(ctx context.Context, m Model, ch *chunk) error {
	var f OrganizationFields
	if err := m.Decode(&f); err != nil {
		return err
	}
	if len(imp.flags.OrgFilter) > 0 && !slices.Contains(imp.flags.OrgFilter, f.Slug) {
		return nil
	}
	ch.next()

	slug, err := imp.freeName(ctx, f.Slug, func(name string) (int64, error) {
		return imp.q.CountOrganizationsBySlug(ctx, name)
	})
	if err != nil {
		return err
	}

	res, err := imp.q.CreateOrganization(ctx, db.CreateOrganizationParams{Slug: slug, Name: f.Name, Status: f.Status})
	if err != nil {
		return fmt.Errorf("create organization %q: %w", slug, err)
	}
	id, err := db.LastInsertID(res)
	if err != nil {
		return fmt.Errorf("create organization %q: %w", slug, err)
	}

	imp.orgs[m.PK] = id
	ch.c.InsertedMap[m.PK] = id
	ch.c.InsertedIdentifiers[m.PK] = slug
	return nil
}

func (imp *importer) member(ctx context.Context, m Model, ch *chunk) error {
	var f OrganizationMemberFields
	if err := m.Decode(&f); err != nil {
		return err
	}
	orgID, ok := imp.orgs[f.Organization]
	if !ok {
		return nil
	}
	ch.next()

	params := db.CreateOrganizationMemberParams{
		OrganizationID:  orgID,
		Role:            f.Role,
		HasGlobalAccess: f.HasGlobalAccess,
	}
	if f.User != nil {
		userID, ok := imp.users[*f.User]
		if !ok {
			return fmt.Errorf("%w: member pk %d references unknown user %d", ErrInvalidJSON, m.PK, *f.User)
		}
		params.UserID = sql.NullInt64{Int64: userID, Valid: true}
	} else {
		params.Email = sql.NullString{String: f.Email, Valid: f.Email != ""}
	}
	if params.Role == "" {
		params.Role = "member"
	}

	res, err := imp.q.CreateOrganizationMember(ctx, params)
	if err != nil {
		return fmt.Errorf("create member of organization %d: %w", orgID, err)
	}
	id, err := db.LastInsertID(res)
	if err != nil {
		return fmt.Errorf("create member of organization %d: %w", orgID, err)
	}
	ch.c.InsertedMap[m.PK] = id
	return nil
}

func (imp *importer) project(ctx context.Context, m Model, ch *chunk) error {
	var f ProjectFields
	if err := m.Decode(&f); err != nil {
		return err
	}
	orgID, ok := imp.orgs[f.Organization]
	if !ok {
		return nil
	}
	ch.next()

	slug, err := imp.freeName(ctx, f.Slug, func(name string) (int64, error) {
		return imp.q.CountProjectsBySlug(ctx, db.CountProjectsBySlugParams{OrganizationID: orgID, Slug: name})
	})
	if err != nil {
		return err
	}

	res, err := imp.q.CreateProject(ctx, db.CreateProjectParams{
		OrganizationID: orgID,
		Slug:           slug,
		Name:           f.Name,
		Platform:       sql.NullString{String: f.Platform, Valid: f.Platform != ""},
	})
	if err != nil {
		return fmt.Errorf("create project %q: %w", slug, err)
	}
	id, err := db.LastInsertID(res)
	if err != nil {
		return fmt.Errorf("create project %q: %w", slug, err)
	}
	ch.c.InsertedMap[m.PK] = id
	ch.c.InsertedIdentifiers[m.PK] = slug
	return nil
}

// freeName returns base, or base-N for the smallest N not taken.
func (imp *importer) freeName(ctx context.Context, base string, count func(string) (int64, error)) (string, error) {
	name := base
	for i := 1; i <= maxRenameAttempts; i++ {
		n, err := count(name)
		if err != nil {
			return "", fmt.Errorf("check %q: %w", name, err)
		}
		if n == 0 {
			return name, nil
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
	return "", fmt.Errorf("no free name for %q after %d attempts", base, maxRenameAttempts)
}
