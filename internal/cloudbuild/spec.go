package cloudbuild

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Spec is the subset of a Cloud Build config the validation job uses.
type Spec struct {
	Steps     []Step     `yaml:"steps"`
	Artifacts *Artifacts `yaml:"artifacts,omitempty"`
	Timeout   string     `yaml:"timeout,omitempty"`
	Options   *Options   `yaml:"options,omitempty"`
}

// Step is one container invocation.
type Step struct {
	ID         string   `yaml:"id,omitempty"`
	Name       string   `yaml:"name"`
	Entrypoint string   `yaml:"entrypoint,omitempty"`
	Args       []string `yaml:"args,omitempty"`
	Env        []string `yaml:"env,omitempty"`
	WaitFor    []string `yaml:"waitFor,omitempty"`
	Timeout    string   `yaml:"timeout,omitempty"`
}

// Artifacts lists files uploaded once every step succeeded.
type Artifacts struct {
	Objects *ArtifactObjects `yaml:"objects,omitempty"`
}

// ArtifactObjects uploads Paths to the gs:// Location.
type ArtifactObjects struct {
	Location string   `yaml:"location"`
	Paths    []string `yaml:"paths"`
}

// Options are build-wide settings.
type Options struct {
	MachineType string   `yaml:"machineType,omitempty"`
	Env         []string `yaml:"env,omitempty"`
}

// ParseSpec decodes a cloudbuild.yaml document.
func ParseSpec(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse build config: %w", err)
	}
	if len(spec.Steps) == 0 {
		return nil, fmt.Errorf("build config has no steps")
	}
	return &spec, nil
}

// TemplateData fills the validation job template.
type TemplateData struct {
	// Image runs the import/export/compare commands.
	Image string
	// InPath is the gs:// prefix holding the job inputs.
	InPath string
	// FindingsPath is the gs:// prefix findings are uploaded to.
	FindingsPath string
	// Timeout bounds the whole job, e.g. "2400s".
	Timeout string
}

// Validation job layout. Every import, export and compare step writes a
// findings file; the remote job fails the build only on tool errors, so
// findings are read back from FindingsPath.
var validationTemplate = template.Must(template.New("cloudbuild.yaml").Funcs(template.FuncMap{
	"quote": func(s string) string { return fmt.Sprintf("%q", s) },
}).Parse(`steps:
  - id: copy-in
    name: gcr.io/cloud-builders/gsutil
    args: ["-m", "cp", "-r", {{ quote (print .InPath "/*") }}, "/workspace/in/"]
    timeout: 600s
{{- range $i, $s := .Stages }}
  - id: {{ $s.ID }}
    name: {{ quote $.Image }}
    entrypoint: relocation-validate
    args: [{{ quote $s.Command }}, {{ quote $s.Kind }}, "--findings-file", {{ quote (print "/workspace/findings/" $s.ID ".json") }}]
    waitFor: [{{ quote $s.WaitFor }}]
{{- end }}
artifacts:
  objects:
    location: {{ quote (print .FindingsPath "/") }}
    paths: ["/workspace/findings/*.json"]
timeout: {{ .Timeout }}
options:
  machineType: E2_HIGHCPU_8
  env: ["RELOCATION_KMS_CONFIG=/workspace/in/kms-config.json"]
`))

type stage struct {
	ID      string
	Command string
	Kind    string
	WaitFor string
}

// validationStages mirrors the findings files validating_complete reads.
func validationStages() []stage {
	var stages []stage
	prev := "copy-in"
	for _, kind := range []string{"baseline-config", "colliding-users", "raw-relocation-data"} {
		id := "import-" + kind
		stages = append(stages, stage{ID: id, Command: "import", Kind: kind, WaitFor: prev})
		prev = id
	}
	for _, kind := range []string{"baseline-config", "colliding-users", "raw-relocation-data"} {
		stages = append(stages, stage{ID: "export-" + kind, Command: "export", Kind: kind, WaitFor: prev})
	}
	for _, kind := range []string{"baseline-config", "colliding-users"} {
		stages = append(stages, stage{ID: "compare-" + kind, Command: "compare", Kind: kind, WaitFor: "export-" + kind})
	}
	return stages
}

// Render produces the cloudbuild.yaml for one validation run. The output is
// parsed back before it is returned.
func Render(data TemplateData) ([]byte, error) {
	if data.Timeout == "" {
		data.Timeout = "2400s"
	}
	data.InPath = strings.TrimSuffix(data.InPath, "/")
	data.FindingsPath = strings.TrimSuffix(data.FindingsPath, "/")

	var buf bytes.Buffer
	err := validationTemplate.Execute(&buf, struct {
		TemplateData
		Stages []stage
	}{data, validationStages()})
	if err != nil {
		return nil, fmt.Errorf("render build config: %w", err)
	}

	if _, err := ParseSpec(buf.Bytes()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
