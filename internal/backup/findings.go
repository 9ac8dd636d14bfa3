package backup

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// FindingSources are the base name prefixes of findings files the
// validation job writes. Other files in the findings directory are build
// artifacts and are ignored.
var FindingSources = []string{"import-", "export-", "compare-", "null"}

// IsFindingsFile reports whether name is a findings file.
func IsFindingsFile(name string) bool {
	base := path.Base(name)
	if !strings.HasSuffix(base, ".json") {
		return false
	}
	for _, prefix := range FindingSources {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}

// FindingTarget locates the model instance a finding is about.
type FindingTarget struct {
	Model   string `json:"model"`
	Ordinal *int   `json:"ordinal,omitempty"`
}

// Finding is one discrepancy reported by the validation job.
type Finding struct {
	Finding string        `json:"finding"`
	Kind    string        `json:"kind"`
	LeftPK  *int64        `json:"left_pk,omitempty"`
	On      FindingTarget `json:"on"`
	Reason  string        `json:"reason"`
	RightPK *int64        `json:"right_pk,omitempty"`
}

func (f Finding) String() string {
	on := f.On.Model
	if f.On.Ordinal != nil {
		on = fmt.Sprintf("%s #%d", on, *f.On.Ordinal)
	}
	return fmt.Sprintf("%s (%s) on %s: %s", f.Finding, f.Kind, on, f.Reason)
}

// ParseFindings decodes a findings file. An empty array means the
// comparison found nothing.
func ParseFindings(data []byte) ([]Finding, error) {
	var findings []Finding
	if err := json.Unmarshal(data, &findings); err != nil {
		return nil, fmt.Errorf("parse findings: %w", err)
	}
	return findings, nil
}
