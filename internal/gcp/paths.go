// Package gcp lays out relocation data in the relocation bucket.
package gcp

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

const (
	// RunsPrefix holds one directory per validation run.
	RunsPrefix = "relocations/runs"
	// FilesPrefix holds the uploaded and generated relocation files.
	FilesPrefix = "relocations/files"
)

// Input file names under a run's in/ directory.
const (
	KMSConfigFile         = "kms-config.json"
	RawRelocationDataFile = "raw-relocation-data.tar"
	BaselineConfigFile    = "baseline-config.tar"
	CollidingUsersFile    = "colliding-users.tar"
	BuildConfigFile       = "cloudbuild.yaml"
	BuildArchiveFile      = "cloudbuild.zip"
)

// RunPath is the root of the validation run for a relocation.
func RunPath(id uuid.UUID) string {
	return path.Join(RunsPrefix, id.String())
}

// ConfPath is where the build configuration is written.
func ConfPath(id uuid.UUID, name string) string {
	return path.Join(RunPath(id), "conf", name)
}

// InPath is where the job inputs are written.
func InPath(id uuid.UUID, name string) string {
	return path.Join(RunPath(id), "in", name)
}

// FindingsPrefix is the directory the remote job uploads findings to,
// with a trailing slash so it can be used as a List prefix.
func FindingsPrefix(id uuid.UUID) string {
	return path.Join(RunPath(id), "findings") + "/"
}

// FilePath is where a relocation file of the given kind is stored.
func FilePath(id uuid.UUID, kind string) string {
	return path.Join(FilesPrefix, id.String(), strings.ToLower(kind)+".tar")
}

// URL returns the gs:// URL of an object.
func URL(bucket, name string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, name)
}

// ParseURL splits a gs:// URL into bucket and object name.
func ParseURL(u string) (bucket, name string, err error) {
	rest, ok := strings.CutPrefix(u, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URL: %q", u)
	}
	bucket, name, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", u)
	}
	return bucket, name, nil
}
