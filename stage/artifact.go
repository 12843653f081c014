package stage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/kbukum/stagepipe/errors"
	"github.com/kbukum/stagepipe/logger"
	"github.com/kbukum/stagepipe/resilience"
	"github.com/kbukum/stagepipe/validation"
)

// Device types understood by backends.
const (
	DeviceCPU  = 1
	DeviceCUDA = 2
)

// Device selects where a module is instantiated.
type Device struct {
	Type int
	ID   int
}

// DefaultDevice is the first CPU.
var DefaultDevice = Device{Type: DeviceCPU, ID: 0}

func (d Device) String() string {
	return fmt.Sprintf("%d;%d", d.Type, d.ID)
}

// ParseDevice parses a "<device_type>;<device_id>" descriptor. An empty
// descriptor selects DefaultDevice.
func ParseDevice(s string) (Device, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultDevice, nil
	}
	typ, id, ok := strings.Cut(s, ";")
	if !ok {
		return Device{}, fmt.Errorf("device %q: expected <type>;<id>", s)
	}
	t, err := strconv.Atoi(strings.TrimSpace(typ))
	if err != nil || t <= 0 {
		return Device{}, fmt.Errorf("device %q: invalid device type", s)
	}
	i, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil || i < 0 {
		return Device{}, fmt.Errorf("device %q: invalid device id", s)
	}
	return Device{Type: t, ID: i}, nil
}

// Artifact describes the on-disk pieces of one stage.
type Artifact struct {
	Index  int
	Code   string
	Graph  string
	Params string
	Device Device
}

// ManifestEntry is the wire form of one manifest entry.
type ManifestEntry struct {
	LibName    string `json:"lib_name" yaml:"lib_name" validate:"required"`
	JSONName   string `json:"json_name" yaml:"json_name" validate:"required"`
	ParamsName string `json:"params_name,omitempty" yaml:"params_name,omitempty"`
	Dev        string `json:"dev,omitempty" yaml:"dev,omitempty"`
}

// ParseManifest decodes a manifest mapping stage index to artifact files.
// JSON and YAML are both accepted. Indices must cover 0..n-1 exactly.
// Relative paths are resolved against baseDir when it is not empty.
func ParseManifest(data []byte, baseDir string) ([]Artifact, error) {
	var raw map[string]ManifestEntry
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Config("invalid module manifest: %v", err).WithCause(err)
	}
	if len(raw) == 0 {
		return nil, errors.EmptyStageList()
	}

	v := validation.New()
	artifacts := make([]Artifact, 0, len(raw))
	for key, entry := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			v.AddErrorf(key, "manifest key must be a stage index")
			continue
		}
		if err := validation.Validate(entry); err != nil {
			v.AddErrorf(key, "%s", errors.Wrap(err).Message)
			continue
		}
		dev, err := ParseDevice(entry.Dev)
		if err != nil {
			v.AddError(key+".dev", err.Error())
			continue
		}
		artifacts = append(artifacts, Artifact{
			Index:  idx,
			Code:   resolvePath(baseDir, entry.LibName),
			Graph:  resolvePath(baseDir, entry.JSONName),
			Params: resolvePath(baseDir, entry.ParamsName),
			Device: dev,
		})
	}
	if appErr := v.Validate(); appErr != nil {
		return nil, appErr
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Index < artifacts[j].Index })
	for i, a := range artifacts {
		if a.Index != i {
			return nil, errors.Config("module manifest has no entry for stage %d", i)
		}
	}
	return artifacts, nil
}

// LoadManifestFile reads a manifest file; relative artifact paths are
// resolved against the manifest's directory.
func LoadManifestFile(path string) ([]Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Config("reading module manifest %s: %v", path, err).WithCause(err)
	}
	return ParseManifest(data, filepath.Dir(path))
}

func resolvePath(baseDir, p string) string {
	if p == "" || baseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Backend instantiates modules from compiled code and a graph description.
type Backend interface {
	Instantiate(ctx context.Context, code []byte, graph string, dev Device) (Module, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, code []byte, graph string, dev Device) (Module, error)

// Instantiate calls f.
func (f BackendFunc) Instantiate(ctx context.Context, code []byte, graph string, dev Device) (Module, error) {
	return f(ctx, code, graph, dev)
}

type loadOptions struct {
	retry  resilience.RetryConfig
	log    *logger.Logger
	readFn func(string) ([]byte, error)
}

// LoadOption configures LoadArtifacts.
type LoadOption func(*loadOptions)

// WithRetry overrides the retry policy for artifact reads.
func WithRetry(cfg resilience.RetryConfig) LoadOption {
	return func(o *loadOptions) { o.retry = cfg }
}

// WithLogger sets the logger used for load progress.
func WithLogger(l *logger.Logger) LoadOption {
	return func(o *loadOptions) { o.log = l }
}

// WithReadFile replaces os.ReadFile, mainly for tests.
func WithReadFile(fn func(string) ([]byte, error)) LoadOption {
	return func(o *loadOptions) { o.readFn = fn }
}

// LoadArtifacts instantiates one module per artifact, in index order.
// artifacts[i] must describe stage i; nothing is read otherwise.
// For each stage the code is read, then the graph, then the module is
// instantiated on its device, then its parameters are loaded.
func LoadArtifacts(ctx context.Context, backend Backend, artifacts []Artifact, opts ...LoadOption) ([]Module, error) {
	if len(artifacts) == 0 {
		return nil, errors.EmptyStageList()
	}
	for i, a := range artifacts {
		if a.Index != i {
			return nil, errors.Config("artifact at position %d describes stage %d", i, a.Index).
				WithDetail("stage", i)
		}
	}
	retry := resilience.DefaultRetryConfig()
	retry.RetryIf = resilience.RetryIfTransientIO
	o := loadOptions{
		retry:  retry,
		log:    logger.WithComponent("artifacts"),
		readFn: os.ReadFile,
	}
	for _, opt := range opts {
		opt(&o)
	}

	read := func(path string) ([]byte, error) {
		return resilience.Retry(ctx, o.retry, func() ([]byte, error) {
			return o.readFn(path)
		})
	}

	modules := make([]Module, 0, len(artifacts))
	for _, a := range artifacts {
		fields := map[string]interface{}{logger.FieldStage: a.Index, "device": a.Device.String()}

		code, err := read(a.Code)
		if err != nil {
			return nil, errors.ArtifactLoad(a.Index, "code", err)
		}
		graph, err := read(a.Graph)
		if err != nil {
			return nil, errors.ArtifactLoad(a.Index, "graph", err)
		}
		m, err := backend.Instantiate(ctx, code, string(graph), a.Device)
		if err != nil {
			return nil, errors.ArtifactLoad(a.Index, "module", err)
		}
		if a.Params != "" {
			params, err := read(a.Params)
			if err != nil {
				return nil, errors.ArtifactLoad(a.Index, "params", err)
			}
			if err := m.LoadParameters(params); err != nil {
				return nil, errors.ArtifactLoad(a.Index, "params", err)
			}
		}

		o.log.Debug("stage module loaded", fields)
		modules = append(modules, m)
	}
	return modules, nil
}
