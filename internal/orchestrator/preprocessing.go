package orchestrator

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/libops/relocation/internal/archive"
	"github.com/libops/relocation/internal/backup"
	"github.com/libops/relocation/internal/cloudbuild"
	"github.com/libops/relocation/internal/gcp"
	"github.com/libops/relocation/internal/kms"
	"github.com/libops/relocation/internal/notify"
	"github.com/libops/relocation/internal/relocation"
	"github.com/libops/relocation/internal/taskqueue"
)

func (o *Orchestrator) uploadingComplete(ctx context.Context, r *relocation.Relocation, _ taskqueue.Message) error {
	f, err := o.Store.GetFile(ctx, r.ID, relocation.FileRawUserData)
	if err != nil {
		return relocation.Transient(relocation.ErrUploadingFailed, err)
	}
	names, err := o.Bucket.List(ctx, f.BlobPath)
	if err != nil {
		return relocation.Transient(relocation.ErrUploadingFailed, err)
	}
	if !slices.Contains(names, f.BlobPath) {
		return relocation.Transient(relocation.ErrUploadingFailed, fmt.Errorf("upload %s is missing", f.BlobPath))
	}
	return o.advance(ctx, r, relocation.StepPreprocessing, relocation.Dispatch{Task: relocation.TaskPreprocessingScan}, nil)
}

// readFile loads the blob behind a relocation file.
func (o *Orchestrator) readFile(ctx context.Context, r *relocation.Relocation, kind relocation.FileKind) ([]byte, error) {
	f, err := o.Store.GetFile(ctx, r.ID, kind)
	if err != nil {
		return nil, err
	}
	data, err := o.Bucket.Read(ctx, f.BlobPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", kind, err)
	}
	return data, nil
}

func (o *Orchestrator) decrypt(ctx context.Context, data []byte) ([]byte, error) {
	return archive.Decrypt(ctx, data, kms.Decryptor{Service: o.KMS})
}

func (o *Orchestrator) preprocessingScan(ctx context.Context, r *relocation.Relocation, _ taskqueue.Message) error {
	data, err := o.readFile(ctx, r, relocation.FileRawUserData)
	if err != nil {
		return err
	}

	plaintext, err := o.decrypt(ctx, data)
	var malformed *archive.MalformedArchiveError
	var undecryptable *archive.DecryptionError
	switch {
	case errors.As(err, &malformed):
		return relocation.Fatal(relocation.ErrPreprocessingInvalidTarball, err)
	case errors.As(err, &undecryptable):
		return relocation.Transient(relocation.ErrPreprocessingDecryption, err)
	case err != nil:
		return err
	}

	models, err := backup.Parse(plaintext)
	if err != nil {
		return relocation.Fatal(relocation.ErrPreprocessingInvalidJSON, err)
	}
	summary, err := backup.Scan(models)
	if err != nil {
		return relocation.Fatal(relocation.ErrPreprocessingInvalidJSON, err)
	}

	users := len(summary.Usernames)
	switch {
	case users == 0:
		return relocation.Fatal(relocation.ErrPreprocessingNoUsers, nil)
	case users > o.cfg.MaxUsersPerRelocation:
		return relocation.Fatal(relocation.ErrPreprocessingTooManyUsers(users, o.cfg.MaxUsersPerRelocation), nil)
	}

	var missing []string
	for _, slug := range r.WantOrgSlugs {
		if !slices.Contains(summary.OrgSlugs, slug) {
			missing = append(missing, slug)
		}
	}
	orgs := len(summary.OrgSlugs)
	switch {
	case orgs == 0 || len(missing) == len(r.WantOrgSlugs):
		return relocation.Fatal(relocation.ErrPreprocessingNoOrgs, nil)
	case orgs > o.cfg.MaxOrgsPerRelocation:
		return relocation.Fatal(relocation.ErrPreprocessingTooManyOrgs(orgs, o.cfg.MaxOrgsPerRelocation), nil)
	case len(missing) > 0:
		slices.Sort(missing)
		return relocation.Fatal(relocation.ErrPreprocessingMissingOrgs(missing), nil)
	}

	// The started email goes out once, with the transition that records
	// the usernames.
	return o.advance(ctx, r, relocation.StepPreprocessing, relocation.Dispatch{Task: relocation.TaskPreprocessingBaselineConfig}, func(ctx context.Context) error {
		if err := o.Store.SetWantUsernames(ctx, r.UUID, summary.Usernames); err != nil {
			return err
		}
		return o.notify(ctx, r, notify.KindStarted, nil)
	})
}

func (o *Orchestrator) preprocessingBaselineConfig(ctx context.Context, r *relocation.Relocation, _ taskqueue.Message) error {
	err := o.exportFile(ctx, r, relocation.FileBaselineConfig, func() ([]backup.Model, error) {
		return o.Engine.ExportConfig(ctx)
	})
	if err != nil {
		return err
	}
	return o.advance(ctx, r, relocation.StepPreprocessing, relocation.Dispatch{Task: relocation.TaskPreprocessingCollidingUsers}, nil)
}

func (o *Orchestrator) preprocessingCollidingUsers(ctx context.Context, r *relocation.Relocation, _ taskqueue.Message) error {
	err := o.exportFile(ctx, r, relocation.FileCollidingUsers, func() ([]backup.Model, error) {
		return o.Engine.ExportUsers(ctx, r.WantUsernames)
	})
	if err != nil {
		return err
	}
	return o.advance(ctx, r, relocation.StepPreprocessing, relocation.Dispatch{Task: relocation.TaskPreprocessingComplete}, nil)
}

// exportFile encrypts the export under a freshly fetched public key and
// stores it as a relocation file. A file that already exists is kept.
func (o *Orchestrator) exportFile(ctx context.Context, r *relocation.Relocation, kind relocation.FileKind, export func() ([]backup.Model, error)) error {
	if _, err := o.Store.GetFile(ctx, r.ID, kind); err == nil {
		return nil
	} else if !errors.Is(err, relocation.ErrNotFound) {
		return err
	}

	models, err := export()
	if err != nil {
		return fmt.Errorf("export %s: %w", kind, err)
	}
	plaintext, err := backup.Marshal(models)
	if err != nil {
		return err
	}
	pub, err := o.KMS.GetPublicKey(ctx)
	if err != nil {
		return fmt.Errorf("fetch public key: %w", err)
	}
	sealed, err := archive.Encrypt(plaintext, pub)
	if err != nil {
		return err
	}

	blobPath := gcp.FilePath(r.UUID, string(kind))
	if err := o.Bucket.Write(ctx, blobPath, sealed); err != nil {
		return fmt.Errorf("store %s: %w", kind, err)
	}
	sum := sha256.Sum256(sealed)
	_, err = o.Store.CreateFile(ctx, &relocation.File{
		RelocationID: r.ID,
		Kind:         kind,
		BlobPath:     blobPath,
		Size:         int64(len(sealed)),
		SHA256:       hex.EncodeToString(sum[:]),
	})
	return err
}

func (o *Orchestrator) preprocessingComplete(ctx context.Context, r *relocation.Relocation, _ taskqueue.Message) error {
	descriptor, err := o.KMS.Config().MarshalDescriptor()
	if err != nil {
		return err
	}
	inputs := map[string][]byte{gcp.KMSConfigFile: descriptor}
	for name, kind := range map[string]relocation.FileKind{
		gcp.RawRelocationDataFile: relocation.FileRawUserData,
		gcp.BaselineConfigFile:    relocation.FileBaselineConfig,
		gcp.CollidingUsersFile:    relocation.FileCollidingUsers,
	} {
		data, err := o.readFile(ctx, r, kind)
		if err != nil {
			return err
		}
		inputs[name] = data
	}
	for name, data := range inputs {
		if err := o.Bucket.Write(ctx, gcp.InPath(r.UUID, name), data); err != nil {
			return fmt.Errorf("write run input %s: %w", name, err)
		}
	}

	buildConfig, err := cloudbuild.Render(cloudbuild.TemplateData{
		Image:        o.cfg.BuildImage,
		InPath:       gcp.URL(o.Bucket.Name(), gcp.InPath(r.UUID, "")),
		FindingsPath: gcp.URL(o.Bucket.Name(), strings.TrimSuffix(gcp.FindingsPrefix(r.UUID), "/")),
		Timeout:      buildTimeout(o.cfg.BuildTimeout),
	})
	if err != nil {
		return err
	}
	bundle, err := zipBuildConfig(buildConfig)
	if err != nil {
		return err
	}
	if err := o.Bucket.Write(ctx, gcp.ConfPath(r.UUID, gcp.BuildConfigFile), buildConfig); err != nil {
		return fmt.Errorf("write build config: %w", err)
	}
	if err := o.Bucket.Write(ctx, gcp.ConfPath(r.UUID, gcp.BuildArchiveFile), bundle); err != nil {
		return fmt.Errorf("write build bundle: %w", err)
	}

	if _, err := o.Store.GetOrCreateValidation(ctx, r.ID); err != nil {
		return err
	}
	return o.advance(ctx, r, relocation.StepValidating, relocation.Dispatch{Task: relocation.TaskValidatingStart}, nil)
}

func buildTimeout(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

// zipBuildConfig packs cloudbuild.yaml the way the build service accepts a
// source archive.
func zipBuildConfig(buildConfig []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     gcp.BuildConfigFile,
		Method:   zip.Deflate,
		Modified: time.Unix(0, 0).UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("zip build config: %w", err)
	}
	if _, err := w.Write(buildConfig); err != nil {
		return nil, fmt.Errorf("zip build config: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip build config: %w", err)
	}
	return buf.Bytes(), nil
}
