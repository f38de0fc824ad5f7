package ingest

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/david/opportunity-scout/internal/ai"
)

//go:embed config/agents.yaml
var agentsYAML embed.FS

// AgentProfile biases discovery and extraction toward a class of sources.
type AgentProfile struct {
	Name          string   `yaml:"name"`
	Brief         string   `yaml:"brief"`
	Queries       []string `yaml:"queries"`
	FallbackSeeds []string `yaml:"fallback_seeds"`
	Shard         int      `yaml:"shard"`
	ShardCount    int      `yaml:"shard_count"`
}

// AgentRegistry is the static scan configuration.
type AgentRegistry struct {
	TargetRegions   []string       `yaml:"target_regions"`
	AggregatorHints []string       `yaml:"aggregator_hints"`
	Agents          []AgentProfile `yaml:"agents"`
}

// LoadAgents reads the embedded profile file, or path when it is set.
// ${VAR} references are expanded from the environment before parsing.
func LoadAgents(path string) (*AgentRegistry, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = agentsYAML.ReadFile("config/agents.yaml")
	}
	if err != nil {
		return nil, fmt.Errorf("read agents: %w", err)
	}
	return ParseAgents(data)
}

// ParseAgents decodes and validates an agent registry document.
func ParseAgents(data []byte) (*AgentRegistry, error) {
	expanded := os.ExpandEnv(string(data))

	var reg AgentRegistry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("parse agents: %w", err)
	}
	if len(reg.Agents) == 0 {
		return nil, fmt.Errorf("parse agents: no agents defined")
	}

	seen := map[string]bool{}
	for i := range reg.Agents {
		a := &reg.Agents[i]
		a.Name = strings.ToLower(strings.TrimSpace(a.Name))
		if a.Name == "" {
			return nil, fmt.Errorf("parse agents: agent %d has no name", i)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("parse agents: duplicate agent %q", a.Name)
		}
		seen[a.Name] = true
		if a.ShardCount <= 1 {
			a.Shard, a.ShardCount = 0, 1
		}
		if a.Shard < 0 || a.Shard >= a.ShardCount {
			return nil, fmt.Errorf("parse agents: agent %q shard %d out of range for %d shards", a.Name, a.Shard, a.ShardCount)
		}
	}
	return &reg, nil
}

// Agent returns the named profile. An empty name selects the first one.
func (r *AgentRegistry) Agent(name string) (AgentProfile, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" && len(r.Agents) > 0 {
		return r.Agents[0], true
	}
	for _, a := range r.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentProfile{}, false
}

// Names lists the configured agents in file order.
func (r *AgentRegistry) Names() []string {
	names := make([]string, 0, len(r.Agents))
	for _, a := range r.Agents {
		names = append(names, a.Name)
	}
	return names
}

// Scope is the extraction context for profile.
func (r *AgentRegistry) Scope(profile AgentProfile) ai.Scope {
	return ai.Scope{Brief: profile.Brief, TargetRegions: r.TargetRegions}
}
