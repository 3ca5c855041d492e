// Package flowdef loads YAML flow seed files, validates them, and installs
// them into the store at startup. Seeding lets a deployment ship its approval
// chains as configuration instead of hand-entered rows.
package flowdef

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FlowSeed is one flow definition as read from a seed file.
type FlowSeed struct {
	Name        string     `yaml:"name"`
	ProcessType string     `yaml:"process_type"`
	Steps       []StepSeed `yaml:"steps"`

	// Populated by the loader.
	Checksum   string `yaml:"-"`
	SourceFile string `yaml:"-"`
}

// StepSeed is one step inside a FlowSeed. A zero SLA means the deployment
// default applies; a negative one disables the SLA for the step.
type StepSeed struct {
	Name           string `yaml:"name"`
	Order          int    `yaml:"order"`
	RequiredRoleID string `yaml:"required_role_id"`
	SLAHours       int    `yaml:"sla_hours"`
}

// Loader scans directories for YAML seed files and parses them.
type Loader struct{}

// NewLoader creates a new Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and
// parses each into a FlowSeed.
func (l *Loader) LoadAll(directories []string) ([]FlowSeed, error) {
	var seeds []FlowSeed

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			seed, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			seeds = append(seeds, seed)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return seeds, nil
}

// LoadFile loads and parses a single YAML seed file, recording its SHA-256
// checksum and source path.
func (l *Loader) LoadFile(path string) (FlowSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FlowSeed{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var seed FlowSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return FlowSeed{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	seed.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	seed.SourceFile = path
	return seed, nil
}
