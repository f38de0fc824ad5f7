package ingest

import (
	"strings"
	"testing"
)

func TestLoadEmbeddedAgents(t *testing.T) {
	reg, err := LoadAgents("")
	if err != nil {
		t.Fatalf("LoadAgents: %v", err)
	}
	if got := strings.Join(reg.Names(), ","); got != "institutional,elite" {
		t.Fatalf("unexpected agents %q", got)
	}
	if len(reg.TargetRegions) == 0 {
		t.Fatalf("embedded file should carry target regions")
	}

	shards := map[int]bool{}
	for _, a := range reg.Agents {
		if a.Brief == "" || len(a.Queries) == 0 || len(a.FallbackSeeds) == 0 {
			t.Fatalf("agent %s is incomplete: %+v", a.Name, a)
		}
		if a.ShardCount != 2 {
			t.Fatalf("agent %s should split sources in two, got %d", a.Name, a.ShardCount)
		}
		shards[a.Shard] = true
	}
	if !shards[0] || !shards[1] {
		t.Fatalf("agents must cover both shards, got %v", shards)
	}

	def, ok := reg.Agent("")
	if !ok || def.Name != "institutional" {
		t.Fatalf("empty name should select the first agent, got %+v", def)
	}
	if _, ok := reg.Agent("ELITE"); !ok {
		t.Fatalf("agent lookup should ignore case")
	}
	if _, ok := reg.Agent("nope"); ok {
		t.Fatalf("unknown agent should not resolve")
	}
}

func TestParseAgentsExpandsEnv(t *testing.T) {
	t.Setenv("SCOUT_TEST_SEED", "https://seed.example.org/calls")
	reg, err := ParseAgents([]byte(`
agents:
  - name: Local
    fallback_seeds: ["${SCOUT_TEST_SEED}"]
`))
	if err != nil {
		t.Fatalf("ParseAgents: %v", err)
	}
	a := reg.Agents[0]
	if a.Name != "local" || a.FallbackSeeds[0] != "https://seed.example.org/calls" {
		t.Fatalf("unexpected agent %+v", a)
	}
	if a.Shard != 0 || a.ShardCount != 1 {
		t.Fatalf("missing shard config should default to a single shard, got %d/%d", a.Shard, a.ShardCount)
	}
}

func TestParseAgentsErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", "agents: []"},
		{"no name", "agents:\n  - brief: x"},
		{"duplicate", "agents:\n  - name: a\n  - name: A"},
		{"shard out of range", "agents:\n  - name: a\n    shard: 2\n    shard_count: 2"},
		{"bad yaml", "agents: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAgents([]byte(tt.doc)); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}
