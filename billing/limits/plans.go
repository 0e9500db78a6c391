// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package limits

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ResourceKind identifies a metered resource type under admission control.
type ResourceKind string

const (
	ResourceAgentKey      ResourceKind = "agentKey"
	ResourceChannel       ResourceKind = "channel"
	ResourceMCPServer     ResourceKind = "mcpServer"
	ResourceAgentSchedule ResourceKind = "agentSchedule"
	ResourceEvalJudge     ResourceKind = "evalJudge"
)

// PerAgent reports whether the kind's cap applies per agent rather than per
// subscription.
func (k ResourceKind) PerAgent() bool {
	return k == ResourceAgentSchedule || k == ResourceEvalJudge
}

// PlanLimits is the read-only cap snapshot for one plan tier.
type PlanLimits struct {
	MaxAgentKeys          int `yaml:"max_agent_keys" json:"max_agent_keys"`
	MaxChannels           int `yaml:"max_channels" json:"max_channels"`
	MaxMCPServers         int `yaml:"max_mcp_servers" json:"max_mcp_servers"`
	MaxSchedulesPerAgent  int `yaml:"max_schedules_per_agent" json:"max_schedules_per_agent"`
	MaxEvalJudgesPerAgent int `yaml:"max_eval_judges_per_agent" json:"max_eval_judges_per_agent"`
}

// Cap returns the plan's cap for a resource kind.
func (p PlanLimits) Cap(kind ResourceKind) (int, error) {
	switch kind {
	case ResourceAgentKey:
		return p.MaxAgentKeys, nil
	case ResourceChannel:
		return p.MaxChannels, nil
	case ResourceMCPServer:
		return p.MaxMCPServers, nil
	case ResourceAgentSchedule:
		return p.MaxSchedulesPerAgent, nil
	case ResourceEvalJudge:
		return p.MaxEvalJudgesPerAgent, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownResourceKind, kind)
	}
}

// Plans is the plan-name to limits lookup table.
type Plans struct {
	tiers map[string]PlanLimits
	mu    sync.RWMutex
}

// defaultTiers are the shipped plan tiers; a yaml file can override them.
var defaultTiers = map[string]PlanLimits{
	"free":       {MaxAgentKeys: 2, MaxChannels: 1, MaxMCPServers: 1, MaxSchedulesPerAgent: 1, MaxEvalJudgesPerAgent: 1},
	"starter":    {MaxAgentKeys: 5, MaxChannels: 3, MaxMCPServers: 3, MaxSchedulesPerAgent: 3, MaxEvalJudgesPerAgent: 2},
	"pro":        {MaxAgentKeys: 20, MaxChannels: 10, MaxMCPServers: 10, MaxSchedulesPerAgent: 10, MaxEvalJudgesPerAgent: 5},
	"enterprise": {MaxAgentKeys: 100, MaxChannels: 50, MaxMCPServers: 50, MaxSchedulesPerAgent: 25, MaxEvalJudgesPerAgent: 20},
}

// DefaultPlans returns the built-in tiers.
func DefaultPlans() *Plans {
	tiers := make(map[string]PlanLimits, len(defaultTiers))
	for name, limits := range defaultTiers {
		tiers[name] = limits
	}
	return &Plans{tiers: tiers}
}

// LoadPlans reads a yaml file of plan tiers and merges it over the defaults.
// File format:
//
//	plans:
//	  pro:
//	    max_agent_keys: 30
//	    max_channels: 15
func LoadPlans(path string) (*Plans, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}

	var file struct {
		Plans map[string]PlanLimits `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plans file: %w", err)
	}

	plans := DefaultPlans()
	plans.mu.Lock()
	defer plans.mu.Unlock()
	for name, limits := range file.Plans {
		plans.tiers[strings.ToLower(name)] = limits
	}
	return plans, nil
}

// Lookup returns the limits for a plan name, or ErrInvalidPlan for a name
// the table does not know.
func (p *Plans) Lookup(planName string) (PlanLimits, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	limits, ok := p.tiers[strings.ToLower(planName)]
	if !ok {
		return PlanLimits{}, fmt.Errorf("%w: %q", ErrInvalidPlan, planName)
	}
	return limits, nil
}

// Names returns the configured plan names.
func (p *Plans) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.tiers))
	for name := range p.tiers {
		names = append(names, name)
	}
	return names
}
