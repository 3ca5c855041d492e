// Package identity resolves the effective role set of a caller: the roles
// asserted in the token claims merged with roles assigned by a static
// deployment policy, cached per subject.
package identity

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

type policyFile struct {
	// Direct user → role grants.
	Users map[string][]string `yaml:"users"`
	// Group claim → role grants, applied to every member of the group.
	Groups map[string][]string `yaml:"groups"`
}

// StaticRolePolicy assigns extra roles from a static YAML file. Deployments
// use it to grant approval roles without managing them in the identity
// provider.
type StaticRolePolicy struct {
	path   string
	mu     sync.RWMutex
	policy policyFile
}

// NewStaticRolePolicy creates a policy that loads grants from path.
func NewStaticRolePolicy(path string) (*StaticRolePolicy, error) {
	p := &StaticRolePolicy{path: path}
	if err := p.Sync(); err != nil {
		return nil, err
	}
	return p, nil
}

// RolesFor returns the roles the policy grants to a subject with the given
// group memberships.
func (p *StaticRolePolicy) RolesFor(subjectID string, groups []string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []string
	out = append(out, p.policy.Users[subjectID]...)
	for _, g := range groups {
		out = append(out, p.policy.Groups[g]...)
	}
	return out
}

// Sync reloads the policy file from disk.
func (p *StaticRolePolicy) Sync() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("identity: reading role policy %s: %w", p.path, err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("identity: parsing role policy %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.policy = pf
	p.mu.Unlock()
	return nil
}
