// Package config provides configuration loading for aetherd.
//
// Configuration is loaded from a YAML file with environment-variable
// overrides. Every section has working defaults so aetherd starts with no
// config file at all.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/project-aether/aetheros/internal/access"
	"github.com/project-aether/aetheros/internal/authz"
	"github.com/project-aether/aetheros/internal/doctrine"
	"github.com/project-aether/aetheros/internal/logging"
	"github.com/project-aether/aetheros/internal/orchestrator"
	"github.com/project-aether/aetheros/internal/telemetry"
)

// Config holds the complete aetherd configuration.
type Config struct {
	Cycle     CycleConfig      `koanf:"cycle"`
	Logging   logging.Config   `koanf:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Doctrine  DoctrineConfig   `koanf:"doctrine"`
	Embedding EmbeddingConfig  `koanf:"embedding"`
	Policy    PolicyConfig     `koanf:"policy"`
	LLM       LLMConfig        `koanf:"llm"`
	Provision ProvisionConfig  `koanf:"provision"`

	// Profiles is the agent roster registered at startup.
	Profiles []access.Profile `koanf:"profiles"`

	// Policies is the per-category access policy table.
	Policies []access.Policy `koanf:"policies"`
}

// CycleConfig controls the ATO cycle clock.
type CycleConfig struct {
	// Schedule overrides the standard 72-hour phase schedule.
	Schedule []orchestrator.Definition `koanf:"schedule"`

	// TickInterval is how often the daemon checks for phase transitions.
	TickInterval time.Duration `koanf:"tick_interval"`

	// AutoStart begins a cycle immediately on daemon startup.
	AutoStart bool `koanf:"auto_start"`
}

// DoctrineConfig controls the doctrine knowledge base.
type DoctrineConfig struct {
	// Enabled wires the KB into the broker and authorization engine.
	// Requires a reachable embedding service.
	Enabled bool `koanf:"enabled"`

	// Path persists the index; empty keeps it in memory.
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
}

// Store returns the knowledge-base storage configuration.
func (c DoctrineConfig) Store() doctrine.Config {
	return doctrine.Config{Path: c.Path, Collection: c.Collection, Compress: c.Compress}
}

// EmbeddingConfig points at a TEI-compatible embedding service.
type EmbeddingConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
}

// PolicyConfig controls the external policy evaluator (factor six).
type PolicyConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url"`
	Package string        `koanf:"package"`
	Timeout time.Duration `koanf:"timeout"`
}

// Client builds the OPA-style policy client, or nil when disabled.
func (c PolicyConfig) Client() *authz.PolicyClient {
	if !c.Enabled {
		return nil
	}
	return authz.NewPolicyClient(authz.PolicyConfig{
		URL:     c.URL,
		Package: c.Package,
		Timeout: c.Timeout,
	})
}

// LLMConfig controls the LLM adapter and its provider chain. Providers are
// tried in order; the first is primary, the rest are fallbacks.
type LLMConfig struct {
	Providers       []LLMProviderConfig `koanf:"providers"`
	MaxTries        uint                `koanf:"max_tries"`
	InitialInterval time.Duration       `koanf:"initial_interval"`
}

// LLMProviderConfig describes one OpenAI-compatible completion endpoint.
type LLMProviderConfig struct {
	Name    string        `koanf:"name"`
	Model   string        `koanf:"model"`
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

// ProvisionConfig controls context provisioning.
type ProvisionConfig struct {
	// Estimator selects token counting: "heuristic" or "tiktoken".
	Estimator string `koanf:"estimator"`

	// Encoding is the tiktoken encoding name.
	Encoding string `koanf:"encoding"`

	// DoctrinalFloor is the minimum doctrinal element count below which a
	// context window is marked degraded.
	DoctrinalFloor int `koanf:"doctrinal_floor"`

	// DefaultTokens is the window budget used when a caller passes none.
	DefaultTokens int `koanf:"default_tokens"`
}

// Default returns the standard aetherd configuration: the five-agent AOC
// roster, the seven-category policy table, and the 72-hour schedule.
func Default() *Config {
	return &Config{
		Cycle: CycleConfig{
			Schedule:     defaultScheduleSlice(),
			TickInterval: time.Minute,
			AutoStart:    true,
		},
		Logging:   *logging.DefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
		Doctrine: DoctrineConfig{
			Collection: "doctrine",
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:8080",
			Model:   "BAAI/bge-small-en-v1.5",
		},
		Policy: PolicyConfig{
			Package: "aetheros.authz",
			Timeout: authz.DefaultPolicyTimeout,
		},
		LLM: LLMConfig{
			MaxTries:        3,
			InitialInterval: 500 * time.Millisecond,
		},
		Provision: ProvisionConfig{
			Estimator:      "heuristic",
			Encoding:       "cl100k_base",
			DoctrinalFloor: 2,
			DefaultTokens:  8000,
		},
		Profiles: access.DefaultProfiles(),
		Policies: defaultPolicySlice(),
	}
}

func defaultScheduleSlice() []orchestrator.Definition {
	schedule := orchestrator.DefaultSchedule()
	out := make([]orchestrator.Definition, 0, len(schedule))
	for _, def := range schedule {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

func defaultPolicySlice() []access.Policy {
	policies := access.DefaultPolicies()
	out := make([]access.Policy, 0, len(policies))
	for _, cat := range access.AllCategories() {
		out = append(out, policies[cat])
	}
	return out
}

// Schedule converts the config's phase list into the orchestrator's form.
func (c *Config) Schedule() orchestrator.Schedule {
	if len(c.Cycle.Schedule) == 0 {
		return orchestrator.DefaultSchedule()
	}
	schedule := make(orchestrator.Schedule, len(c.Cycle.Schedule))
	for _, def := range c.Cycle.Schedule {
		schedule[def.Phase] = def
	}
	return schedule
}

// PolicySet converts the config's policy list into the broker's form.
func (c *Config) PolicySet() access.PolicySet {
	if len(c.Policies) == 0 {
		return access.DefaultPolicies()
	}
	set := make(access.PolicySet, len(c.Policies))
	for _, p := range c.Policies {
		set[p.Category] = p
	}
	return set
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if c.Cycle.TickInterval <= 0 {
		return fmt.Errorf("cycle.tick_interval must be positive")
	}
	for _, def := range c.Cycle.Schedule {
		if !def.Phase.Valid() {
			return fmt.Errorf("cycle.schedule: unknown phase %q", def.Phase)
		}
		if def.Duration <= 0 {
			return fmt.Errorf("cycle.schedule: phase %s has non-positive duration", def.Phase)
		}
	}
	seen := make(map[string]bool)
	for _, p := range c.Profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profiles: %w", err)
		}
		if seen[p.ID] {
			return fmt.Errorf("profiles: duplicate id %s", p.ID)
		}
		seen[p.ID] = true
	}
	if err := c.PolicySet().Validate(); err != nil {
		return fmt.Errorf("policies: %w", err)
	}
	if c.Policy.Enabled && c.Policy.URL == "" {
		return fmt.Errorf("policy.url is required when the external evaluator is enabled")
	}
	if c.Doctrine.Enabled && c.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding.base_url is required when doctrine is enabled")
	}
	switch c.Provision.Estimator {
	case "", "heuristic", "tiktoken":
	default:
		return fmt.Errorf("provision.estimator must be heuristic or tiktoken, got %q", c.Provision.Estimator)
	}
	if c.Provision.DoctrinalFloor < 0 {
		return fmt.Errorf("provision.doctrinal_floor must be non-negative")
	}
	if c.Provision.DefaultTokens <= 0 {
		return fmt.Errorf("provision.default_tokens must be positive")
	}
	for i, p := range c.LLM.Providers {
		if p.BaseURL == "" {
			return fmt.Errorf("llm.providers[%d]: base_url is required", i)
		}
		if p.Model == "" {
			return fmt.Errorf("llm.providers[%d]: model is required", i)
		}
	}
	return nil
}
