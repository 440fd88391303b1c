package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tonegate/internal/cache"
	"tonegate/internal/rules"
)

func newRulesService(t *testing.T, infra *TestInfra) *rules.Service {
	t.Helper()

	tiered, err := cache.NewTieredCache(64, cache.NewRedisStore(infra.RedisClient), time.Minute, createTestLogger())
	require.NoError(t, err)

	svc, err := rules.NewService(rules.NewRepository(infra.PostgresDB), tiered, createTestRulesConfig(), createTestLogger())
	require.NoError(t, err)
	return svc
}

func TestServiceEvaluatesStoredRules(t *testing.T) {
	infra := SetupTestInfra(t)

	insertTenantConfig(t, infra.PostgresDB, "acme", true, 0)
	insertRule(t, infra.PostgresDB, ruleRow{
		TenantID:    "acme",
		Name:        "soften-urgent",
		Enabled:     true,
		Priority:    10,
		TriggerKind: "keyword",
		TriggerConfig: map[string]interface{}{
			"keywords": []string{"urgent"},
			"mode":     "any",
		},
		TransformationType: "soften",
		Intensity:          2,
	})

	svc := newRulesService(t, infra)

	decision, err := svc.Evaluate(context.Background(), rules.MessageContext{
		Message:  "this is URGENT, fix it",
		UserID:   "u1",
		TenantID: "acme",
		Platform: "slack",
	})
	require.NoError(t, err)
	assert.True(t, decision.ShouldTransform)
	assert.Equal(t, "soften-urgent", decision.RuleName)
	assert.Equal(t, "soften", decision.Type)
	assert.Equal(t, 2, decision.Intensity)

	miss, err := svc.Evaluate(context.Background(), rules.MessageContext{
		Message:  "all calm here",
		UserID:   "u1",
		TenantID: "acme",
		Platform: "slack",
	})
	require.NoError(t, err)
	assert.False(t, miss.ShouldTransform)
}

func TestServiceHonorsTenantGating(t *testing.T) {
	infra := SetupTestInfra(t)

	insertTenantConfig(t, infra.PostgresDB, "disabled-tenant", false, 0)
	insertRule(t, infra.PostgresDB, ruleRow{
		TenantID:    "disabled-tenant",
		Name:        "never-reached",
		Enabled:     true,
		Priority:    1,
		TriggerKind: "keyword",
		TriggerConfig: map[string]interface{}{
			"keywords": []string{"urgent"},
		},
	})

	insertTenantConfig(t, infra.PostgresDB, "min-length-tenant", true, 50)
	insertRule(t, infra.PostgresDB, ruleRow{
		TenantID:    "min-length-tenant",
		Name:        "long-messages-only",
		Enabled:     true,
		Priority:    1,
		TriggerKind: "keyword",
		TriggerConfig: map[string]interface{}{
			"keywords": []string{"urgent"},
		},
	})

	svc := newRulesService(t, infra)

	decision, err := svc.Evaluate(context.Background(), rules.MessageContext{
		Message:  "urgent",
		UserID:   "u1",
		TenantID: "disabled-tenant",
		Platform: "slack",
	})
	require.NoError(t, err)
	assert.False(t, decision.ShouldTransform)
	assert.Contains(t, decision.Reason, "disabled")

	decision, err = svc.Evaluate(context.Background(), rules.MessageContext{
		Message:  "urgent",
		UserID:   "u1",
		TenantID: "min-length-tenant",
		Platform: "slack",
	})
	require.NoError(t, err)
	assert.False(t, decision.ShouldTransform)
	assert.Contains(t, decision.Reason, "minimum length")
}

func TestServiceReloadPicksUpNewRules(t *testing.T) {
	infra := SetupTestInfra(t)

	insertTenantConfig(t, infra.PostgresDB, "acme", true, 0)
	svc := newRulesService(t, infra)

	decision, err := svc.Evaluate(context.Background(), rules.MessageContext{
		Message:  "deadline slipped",
		UserID:   "u1",
		TenantID: "acme",
		Platform: "slack",
	})
	require.NoError(t, err)
	assert.False(t, decision.ShouldTransform)

	insertRule(t, infra.PostgresDB, ruleRow{
		TenantID:    "acme",
		Name:        "deadline-watch",
		Enabled:     true,
		Priority:    1,
		TriggerKind: "keyword",
		TriggerConfig: map[string]interface{}{
			"keywords": []string{"deadline"},
		},
	})

	svc.ReloadAll(context.Background())

	decision, err = svc.Evaluate(context.Background(), rules.MessageContext{
		Message:  "deadline slipped",
		UserID:   "u1",
		TenantID: "acme",
		Platform: "slack",
	})
	require.NoError(t, err)
	assert.True(t, decision.ShouldTransform)
	assert.Equal(t, "deadline-watch", decision.RuleName)
}

func TestServiceSurvivesMalformedTriggerRow(t *testing.T) {
	infra := SetupTestInfra(t)

	insertTenantConfig(t, infra.PostgresDB, "acme", true, 0)
	insertRule(t, infra.PostgresDB, ruleRow{
		TenantID:      "acme",
		Name:          "broken-trigger",
		Enabled:       true,
		Priority:      1,
		TriggerKind:   "sentiment",
		TriggerConfig: map[string]interface{}{"operator": "sideways"},
	})
	insertRule(t, infra.PostgresDB, ruleRow{
		TenantID:    "acme",
		Name:        "healthy-trigger",
		Enabled:     true,
		Priority:    2,
		TriggerKind: "keyword",
		TriggerConfig: map[string]interface{}{
			"keywords": []string{"urgent"},
		},
	})

	svc := newRulesService(t, infra)

	decision, err := svc.Evaluate(context.Background(), rules.MessageContext{
		Message:  "urgent request",
		UserID:   "u1",
		TenantID: "acme",
		Platform: "slack",
	})
	require.NoError(t, err)
	assert.True(t, decision.ShouldTransform)
	assert.Equal(t, "healthy-trigger", decision.RuleName)
}
