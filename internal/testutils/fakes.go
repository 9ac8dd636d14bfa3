// Package testutils provides in-memory collaborators for pipeline tests.
package testutils

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/libops/relocation/internal/archive"
	"github.com/libops/relocation/internal/backup"
	"github.com/libops/relocation/internal/cloudbuild"
	"github.com/libops/relocation/internal/kms"
	"github.com/libops/relocation/internal/notify"
	"github.com/libops/relocation/internal/relocation"
)

// NewLocalKMS returns a key service backed by a fresh RSA key.
func NewLocalKMS(t testing.TB) *kms.Local {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	svc, err := kms.NewLocal(key, kms.Config{Backend: "local", Key: "relocation-test"})
	if err != nil {
		t.Fatalf("local kms: %v", err)
	}
	return svc
}

// ExportModels builds an export with one user per username, one
// organization per slug, a membership of the first user in every
// organization and one project per organization.
func ExportModels(t testing.TB, usernames, orgSlugs []string) []backup.Model {
	t.Helper()
	var models []backup.Model
	add := func(model string, pk int64, fields any) {
		m, err := backup.NewModel(model, pk, fields)
		if err != nil {
			t.Fatalf("build %s: %v", model, err)
		}
		models = append(models, m)
	}

	for i, name := range usernames {
		add(backup.ModelUser, int64(i+1), backup.UserFields{
			Username: name,
			Email:    name + "@example.com",
			IsActive: true,
		})
	}
	for i, slug := range orgSlugs {
		orgPK := int64(100 + i)
		add(backup.ModelOrganization, orgPK, backup.OrganizationFields{Slug: slug, Name: slug})
		if len(usernames) > 0 {
			user := int64(1)
			add(backup.ModelOrganizationMember, int64(200+i), backup.OrganizationMemberFields{
				Organization: orgPK,
				User:         &user,
				Role:         "owner",
			})
		}
		add(backup.ModelProject, int64(300+i), backup.ProjectFields{Organization: orgPK, Slug: slug + "-web", Name: "Web"})
	}
	return models
}

// SealExport encrypts models under svc's public key.
func SealExport(t testing.TB, svc kms.Service, models []backup.Model) []byte {
	t.Helper()
	plaintext, err := backup.Marshal(models)
	if err != nil {
		t.Fatalf("marshal export: %v", err)
	}
	pub, err := svc.GetPublicKey(context.Background())
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	sealed, err := archive.Encrypt(plaintext, pub)
	if err != nil {
		t.Fatalf("encrypt export: %v", err)
	}
	return sealed
}

// FakeBuilds is a scripted cloudbuild.Client.
type FakeBuilds struct {
	mu sync.Mutex
	// Runs lists the statuses each submitted build reports, one slice per
	// build in submission order. The last status repeats. Builds beyond
	// Runs succeed on the first poll.
	Runs [][]cloudbuild.Status
	// CreateErr fails every submission while set.
	CreateErr error

	Submitted []*cloudbuild.Spec
	ids       []string
	polls     map[string]int
	lost      map[string]bool
}

var _ cloudbuild.Client = (*FakeBuilds)(nil)

func (b *FakeBuilds) CreateBuild(_ context.Context, spec *cloudbuild.Spec) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CreateErr != nil {
		return "", b.CreateErr
	}
	id := fmt.Sprintf("build-%d", len(b.ids)+1)
	b.ids = append(b.ids, id)
	b.Submitted = append(b.Submitted, spec)
	return id, nil
}

// Lose makes the build service forget buildID.
func (b *FakeBuilds) Lose(buildID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lost == nil {
		b.lost = map[string]bool{}
	}
	b.lost[buildID] = true
}

func (b *FakeBuilds) GetBuild(_ context.Context, buildID string) (cloudbuild.Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := slices.Index(b.ids, buildID)
	if i < 0 || b.lost[buildID] {
		return "", cloudbuild.ErrBuildNotFound
	}
	if b.polls == nil {
		b.polls = map[string]int{}
	}
	n := b.polls[buildID]
	b.polls[buildID]++

	script := []cloudbuild.Status{cloudbuild.StatusSuccess}
	if i < len(b.Runs) && len(b.Runs[i]) > 0 {
		script = b.Runs[i]
	}
	if n >= len(script) {
		return script[len(script)-1], nil
	}
	return script[n], nil
}

// Polls returns how often buildID was polled.
func (b *FakeBuilds) Polls(buildID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls[buildID]
}

// Grant is one GrantOwner call.
type Grant struct {
	OrgID  int64
	UserID int64
}

// FakeEngine is an in-memory backup.Engine. Imports are written to Store
// the way the SQL engine writes import_chunks.
type FakeEngine struct {
	mu    sync.Mutex
	Store *MemoryStore

	Config   []backup.Model
	Existing []backup.Model
	Emails   map[int64]string

	ImportErr error
	GrantErr  error

	Imports int
	Grants  []Grant
	nextPK  int64
}

var _ backup.Engine = (*FakeEngine)(nil)

// NewFakeEngine returns an engine that knows the emails of the given users.
func NewFakeEngine(store *MemoryStore, emails map[int64]string) *FakeEngine {
	if emails == nil {
		emails = map[int64]string{}
	}
	return &FakeEngine{Store: store, Emails: emails, nextPK: 1000}
}

func (e *FakeEngine) ExportConfig(context.Context) ([]backup.Model, error) {
	return e.Config, nil
}

func (e *FakeEngine) ExportUsers(_ context.Context, usernames []string) ([]backup.Model, error) {
	var out []backup.Model
	for _, m := range e.Existing {
		var f backup.UserFields
		if err := m.Decode(&f); err != nil {
			return nil, err
		}
		if slices.Contains(usernames, f.Username) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (e *FakeEngine) Import(_ context.Context, models []backup.Model, flags backup.Flags) ([]*relocation.ImportChunk, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ImportErr != nil {
		return nil, e.ImportErr
	}
	e.Imports++

	byModel := map[string]*relocation.ImportChunk{}
	var order []string
	for _, m := range models {
		var ident string
		switch m.Model {
		case backup.ModelUser:
			var f backup.UserFields
			if err := m.Decode(&f); err != nil {
				return nil, err
			}
			ident = f.Username
		case backup.ModelOrganization:
			var f backup.OrganizationFields
			if err := m.Decode(&f); err != nil {
				return nil, err
			}
			if len(flags.OrgFilter) > 0 && !slices.Contains(flags.OrgFilter, f.Slug) {
				continue
			}
			ident = f.Slug
		}

		c, ok := byModel[m.Model]
		if !ok {
			silo, _ := backup.SiloOf(m.Model)
			c = &relocation.ImportChunk{
				ImportUUID:          flags.ImportUUID,
				Silo:                silo,
				Model:               m.Model,
				InsertedMap:         map[int64]int64{},
				ExistingMap:         map[int64]int64{},
				InsertedIdentifiers: map[int64]string{},
			}
			byModel[m.Model] = c
			order = append(order, m.Model)
		}
		e.nextPK++
		c.InsertedMap[m.PK] = e.nextPK
		if ident != "" {
			c.InsertedIdentifiers[m.PK] = ident
		}
		if c.MinOrdinal == 0 {
			c.MinOrdinal = 1
		}
		c.MaxOrdinal++

		if m.Model == backup.ModelUser {
			var f backup.UserFields
			_ = m.Decode(&f)
			e.Emails[e.nextPK] = f.Email
		}
	}

	chunks := make([]*relocation.ImportChunk, 0, len(order))
	for _, model := range order {
		chunks = append(chunks, byModel[model])
	}
	if e.Store != nil {
		e.Store.PutImportChunks(flags.ImportUUID, chunks)
	}
	return chunks, nil
}

func (e *FakeEngine) GrantOwner(_ context.Context, orgID, userID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.GrantErr != nil {
		return e.GrantErr
	}
	g := Grant{OrgID: orgID, UserID: userID}
	if !slices.Contains(e.Grants, g) {
		e.Grants = append(e.Grants, g)
	}
	return nil
}

func (e *FakeEngine) UserEmail(_ context.Context, userID int64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	email, ok := e.Emails[userID]
	if !ok {
		return "", fmt.Errorf("user %d: %w", userID, relocation.ErrNotFound)
	}
	return email, nil
}

// Sent is one notification handed to a RecordingNotifier.
type Sent struct {
	Kind notify.Kind
	To   []string
	Data map[string]any
}

// RecordingNotifier is a notify.Gateway that keeps every message.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Sent
	// Fail makes sends of a kind return the error.
	Fail map[notify.Kind]error
	// FailOnce fails only the next send of a kind.
	FailOnce map[notify.Kind]error
}

var _ notify.Gateway = (*RecordingNotifier)(nil)

func (n *RecordingNotifier) Send(_ context.Context, kind notify.Kind, to []string, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.Fail[kind]; err != nil {
		return err
	}
	if err := n.FailOnce[kind]; err != nil {
		delete(n.FailOnce, kind)
		return err
	}
	n.sent = append(n.sent, Sent{Kind: kind, To: slices.Clone(to), Data: data})
	return nil
}

// Sent returns the messages of kind in send order.
func (n *RecordingNotifier) Sent(kind notify.Kind) []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Sent
	for _, s := range n.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// All returns every message in send order.
func (n *RecordingNotifier) All() []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.sent)
}
