package reconcile

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/corpaction-cli/internal/model"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

// Policy ranks sources per disputed field. Earlier sources in a chain win.
type Policy struct {
	Defaults PolicyDefaults                    `yaml:"defaults"`
	Fields   map[model.ConflictType]FieldPolicy `yaml:"fields"`
}

// PolicyDefaults holds the global chain and clustering window.
type PolicyDefaults struct {
	DateWindowDays int      `yaml:"date_window_days"`
	Sources        []string `yaml:"sources"`
}

// FieldPolicy overrides the source chain for one conflict type.
type FieldPolicy struct {
	Sources []string `yaml:"sources"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() *Policy {
	p, err := parsePolicy(defaultPolicyYAML)
	if err != nil {
		panic(err)
	}
	return p
}

// LoadPolicy reads a policy from a YAML file with a top-level "reconcile" key.
// An empty path returns the built-in policy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: read policy %s", path)
	}
	return parsePolicy(data)
}

func parsePolicy(data []byte) (*Policy, error) {
	var wrapper struct {
		Reconcile Policy `yaml:"reconcile"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "reconcile: parse policy")
	}
	p := &wrapper.Reconcile
	if p.Defaults.DateWindowDays <= 0 {
		p.Defaults.DateWindowDays = 3
	}
	if p.Fields == nil {
		p.Fields = make(map[model.ConflictType]FieldPolicy)
	}
	for key, fp := range p.Fields {
		if len(fp.Sources) == 0 {
			fp.Sources = p.Defaults.Sources
		}
		p.Fields[key] = fp
	}
	return p, nil
}

// Chain returns the source priority for a conflict type, falling back to
// the default chain.
func (p *Policy) Chain(field model.ConflictType) []string {
	if fp, ok := p.Fields[field]; ok {
		return fp.Sources
	}
	return p.Defaults.Sources
}

// Rank returns source's position in the chain for field. Sources missing
// from the chain rank after every listed source.
func (p *Policy) Rank(field model.ConflictType, source string) int {
	chain := p.Chain(field)
	for i, s := range chain {
		if strings.EqualFold(s, source) {
			return i
		}
	}
	return len(chain)
}
