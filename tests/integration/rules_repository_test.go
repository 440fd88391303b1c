package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tonegate/internal/rules"
)

func TestGetTenantRulesOrdering(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	repo := rules.NewRepository(infra.PostgresDB)

	// Same priority, insertion order breaks the tie.
	firstID := insertRule(t, infra.PostgresDB, ruleRow{
		TenantID:    "acme",
		Name:        "older-same-priority",
		Enabled:     true,
		Priority:    10,
		TriggerKind: "keyword",
		TriggerConfig: map[string]interface{}{
			"keywords": []string{"urgent"},
		},
	})
	insertRule(t, infra.PostgresDB, ruleRow{
		TenantID:    "acme",
		Name:        "newer-same-priority",
		Enabled:     true,
		Priority:    10,
		TriggerKind: "keyword",
		TriggerConfig: map[string]interface{}{
			"keywords": []string{"asap"},
		},
	})
	insertRule(t, infra.PostgresDB, ruleRow{
		TenantID:    "acme",
		Name:        "lowest-priority-first",
		Enabled:     true,
		Priority:    1,
		TriggerKind: "keyword",
		TriggerConfig: map[string]interface{}{
			"keywords": []string{"now"},
		},
	})
	insertRule(t, infra.PostgresDB, ruleRow{
		TenantID:    "other-tenant",
		Name:        "must-not-leak",
		Enabled:     true,
		Priority:    0,
		TriggerKind: "keyword",
		TriggerConfig: map[string]interface{}{
			"keywords": []string{"leak"},
		},
	})

	loaded, err := repo.GetTenantRules(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	assert.Equal(t, "lowest-priority-first", loaded[0].Name)
	assert.Equal(t, "older-same-priority", loaded[1].Name)
	assert.Equal(t, "newer-same-priority", loaded[2].Name)
	assert.Equal(t, firstID, loaded[1].ID)
}

func TestGetTenantRulesScansAllFields(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	repo := rules.NewRepository(infra.PostgresDB)

	insertRule(t, infra.PostgresDB, ruleRow{
		TenantID:    "acme",
		Name:        "scoped",
		Enabled:     true,
		Priority:    5,
		TriggerKind: "sentiment",
		TriggerConfig: map[string]interface{}{
			"threshold": -0.5,
			"operator":  "less_than",
		},
		TransformationType: "professionalize",
		Intensity:          3,
		Platforms:          []string{"slack", "teams"},
		Channels:           []string{"support-*"},
		UserRoles:          []string{"agent"},
	})

	loaded, err := repo.GetTenantRules(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	rule := loaded[0]
	assert.Equal(t, "sentiment", rule.TriggerKind)
	assert.JSONEq(t, `{"threshold": -0.5, "operator": "less_than"}`, string(rule.TriggerRaw))
	assert.Equal(t, "professionalize", rule.TransformationType)
	assert.Equal(t, 3, rule.TransformationIntensity)
	assert.Equal(t, []string{"slack", "teams"}, rule.Platforms)
	assert.Equal(t, []string{"support-*"}, rule.Channels)
	assert.Equal(t, []string{"agent"}, rule.UserRoles)
	assert.False(t, rule.CreatedAt.IsZero())
}

func TestGetTenantRulesEmptyTenant(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	repo := rules.NewRepository(infra.PostgresDB)

	loaded, err := repo.GetTenantRules(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestGetTenantConfig(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)
	repo := rules.NewRepository(infra.PostgresDB)

	insertTenantConfig(t, infra.PostgresDB, "acme", true, 12)

	cfg, err := repo.GetTenantConfig(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 12, cfg.MinMessageLength)
	assert.Equal(t, "soften", cfg.DefaultType)

	missing, err := repo.GetTenantConfig(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
