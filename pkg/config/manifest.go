package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/galaxyhq/galaxy/pkg/constellation"
	"github.com/galaxyhq/galaxy/pkg/types"
)

const (
	// APIVersion accepted in manifests.
	APIVersion = "galaxy.dev/v1alpha1"

	// KindConstellation is the only manifest kind this release applies.
	KindConstellation = "Constellation"
)

var (
	ErrUnsupportedAPIVersion = errors.New("unsupported apiVersion")
	ErrUnsupportedKind       = errors.New("unsupported manifest kind")
	ErrUnknownPriority       = errors.New("unknown task priority")
	ErrUnknownDependencyKind = errors.New("unknown dependency kind")
)

// Manifest is the YAML envelope a constellation is declared in.
type Manifest struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Metadata   ManifestMetadata  `yaml:"metadata"`
	Spec       ConstellationSpec `yaml:"spec"`
}

// ManifestMetadata names the declared resource.
type ManifestMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// ConstellationSpec declares the DAG.
type ConstellationSpec struct {
	Tasks        []TaskSpec       `yaml:"tasks"`
	Dependencies []DependencySpec `yaml:"dependencies,omitempty"`

	// Assignments maps task id to device id for tasks that do not name
	// a device themselves.
	Assignments map[string]string `yaml:"assignments,omitempty"`
}

// TaskSpec declares one node.
type TaskSpec struct {
	ID                   string         `yaml:"id"`
	Name                 string         `yaml:"name,omitempty"`
	Description          string         `yaml:"description,omitempty"`
	DeviceID             string         `yaml:"device_id,omitempty"`
	RequiredCapabilities []string       `yaml:"required_capabilities,omitempty"`
	Parameters           map[string]any `yaml:"parameters,omitempty"`
	Priority             string         `yaml:"priority,omitempty"`
}

// DependencySpec declares one edge.
type DependencySpec struct {
	From           string `yaml:"from"`
	To             string `yaml:"to"`
	Kind           string `yaml:"kind,omitempty"`
	TriggerKeyword string `yaml:"trigger_keyword,omitempty"`
}

// LoadManifest reads a constellation manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes manifest bytes and checks the envelope.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.APIVersion != APIVersion {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAPIVersion, m.APIVersion)
	}
	if m.Kind != KindConstellation {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, m.Kind)
	}
	return &m, nil
}

// Build materialises the declared DAG. Structural invariants (duplicate
// ids, unknown endpoints, cycles) surface as errors from the
// constellation itself.
func (m *Manifest) Build() (*constellation.Constellation, error) {
	con := constellation.New(m.Metadata.Name)

	for _, ts := range m.Spec.Tasks {
		priority, err := parsePriority(ts.Priority)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", ts.ID, err)
		}
		task := &constellation.Task{
			ID:                   ts.ID,
			Name:                 ts.Name,
			Description:          ts.Description,
			DeviceID:             ts.DeviceID,
			RequiredCapabilities: ts.RequiredCapabilities,
			Parameters:           ts.Parameters,
			Priority:             priority,
		}
		if task.Name == "" {
			task.Name = ts.ID
		}
		if err := con.AddTask(task); err != nil {
			return nil, err
		}
	}

	for _, ds := range m.Spec.Dependencies {
		kind, err := parseDependencyKind(ds.Kind)
		if err != nil {
			return nil, fmt.Errorf("dependency %s -> %s: %w", ds.From, ds.To, err)
		}
		dep := &constellation.Dependency{
			FromID:         ds.From,
			ToID:           ds.To,
			Kind:           kind,
			TriggerKeyword: ds.TriggerKeyword,
		}
		if err := con.AddDependency(dep); err != nil {
			return nil, err
		}
	}

	return con, nil
}

func parsePriority(s string) (types.Priority, error) {
	switch s {
	case "":
		return types.PriorityMedium, nil
	case string(types.PriorityLow):
		return types.PriorityLow, nil
	case string(types.PriorityMedium):
		return types.PriorityMedium, nil
	case string(types.PriorityHigh):
		return types.PriorityHigh, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPriority, s)
	}
}

func parseDependencyKind(s string) (types.DependencyKind, error) {
	switch s {
	case "":
		return types.DependencySuccessOnly, nil
	case string(types.DependencySuccessOnly):
		return types.DependencySuccessOnly, nil
	case string(types.DependencyUnconditional):
		return types.DependencyUnconditional, nil
	case string(types.DependencyConditionKeyword):
		return types.DependencyConditionKeyword, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDependencyKind, s)
	}
}
