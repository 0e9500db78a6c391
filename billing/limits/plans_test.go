// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package limits

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPlansLookup(t *testing.T) {
	plans := DefaultPlans()

	starter, err := plans.Lookup("starter")
	require.NoError(t, err)
	assert.Equal(t, 5, starter.MaxAgentKeys)
	assert.Equal(t, 3, starter.MaxChannels)

	// Plan names are case-insensitive.
	pro, err := plans.Lookup("Pro")
	require.NoError(t, err)
	assert.Equal(t, 20, pro.MaxAgentKeys)
}

func TestLookupUnknownPlan(t *testing.T) {
	_, err := DefaultPlans().Lookup("platinum")
	assert.True(t, errors.Is(err, ErrInvalidPlan))
}

func TestPlanLimitsCap(t *testing.T) {
	p := PlanLimits{
		MaxAgentKeys:          5,
		MaxChannels:           3,
		MaxMCPServers:         2,
		MaxSchedulesPerAgent:  4,
		MaxEvalJudgesPerAgent: 1,
	}

	tests := []struct {
		kind ResourceKind
		want int
	}{
		{ResourceAgentKey, 5},
		{ResourceChannel, 3},
		{ResourceMCPServer, 2},
		{ResourceAgentSchedule, 4},
		{ResourceEvalJudge, 1},
	}
	for _, tt := range tests {
		got, err := p.Cap(tt.kind)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, string(tt.kind))
	}

	_, err := p.Cap(ResourceKind("workflow"))
	assert.True(t, errors.Is(err, ErrUnknownResourceKind))
}

func TestPerAgentKinds(t *testing.T) {
	assert.True(t, ResourceAgentSchedule.PerAgent())
	assert.True(t, ResourceEvalJudge.PerAgent())
	assert.False(t, ResourceAgentKey.PerAgent())
	assert.False(t, ResourceChannel.PerAgent())
	assert.False(t, ResourceMCPServer.PerAgent())
}

func TestLoadPlans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	override := `
plans:
  Pro:
    max_agent_keys: 30
    max_channels: 15
    max_mcp_servers: 12
    max_schedules_per_agent: 10
    max_eval_judges_per_agent: 5
  team:
    max_agent_keys: 10
    max_channels: 5
    max_mcp_servers: 5
    max_schedules_per_agent: 5
    max_eval_judges_per_agent: 3
`
	require.NoError(t, os.WriteFile(path, []byte(override), 0o600))

	plans, err := LoadPlans(path)
	require.NoError(t, err)

	pro, err := plans.Lookup("pro")
	require.NoError(t, err)
	assert.Equal(t, 30, pro.MaxAgentKeys)

	team, err := plans.Lookup("team")
	require.NoError(t, err)
	assert.Equal(t, 10, team.MaxAgentKeys)

	// Untouched defaults survive the merge.
	free, err := plans.Lookup("free")
	require.NoError(t, err)
	assert.Equal(t, 2, free.MaxAgentKeys)
}

func TestLoadPlansMissingFile(t *testing.T) {
	_, err := LoadPlans(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPlanNames(t *testing.T) {
	names := DefaultPlans().Names()
	assert.ElementsMatch(t, []string{"free", "starter", "pro", "enterprise"}, names)
}
