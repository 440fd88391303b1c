package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/lib/pq"

	"tonegate/internal/config"
	"tonegate/internal/logger"
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestRulesConfig() config.RulesConfig {
	return config.RulesConfig{
		ReloadIntervalSeconds: 60,
		CacheTTLSeconds:       60,
		Timezone:              "UTC",
	}
}

type ruleRow struct {
	TenantID           string
	Name               string
	Enabled            bool
	Priority           int
	TriggerKind        string
	TriggerConfig      map[string]interface{}
	TransformationType string
	Intensity          int
	Platforms          []string
	Channels           []string
	UserRoles          []string
}

func insertRule(t *testing.T, db *sql.DB, row ruleRow) string {
	t.Helper()

	triggerConfig, err := json.Marshal(row.TriggerConfig)
	if err != nil {
		t.Fatalf("failed to encode trigger config: %v", err)
	}

	transformationType := row.TransformationType
	if transformationType == "" {
		transformationType = "soften"
	}
	if row.Platforms == nil {
		row.Platforms = []string{}
	}
	if row.Channels == nil {
		row.Channels = []string{}
	}
	if row.UserRoles == nil {
		row.UserRoles = []string{}
	}
	intensity := row.Intensity
	if intensity == 0 {
		intensity = 2
	}

	var id string
	err = db.QueryRowContext(context.Background(), `
		INSERT INTO transformation_rules
			(tenant_id, name, enabled, priority, trigger_kind, trigger_config,
			 transformation_type, transformation_intensity,
			 platforms, channels, user_roles)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		row.TenantID,
		row.Name,
		row.Enabled,
		row.Priority,
		row.TriggerKind,
		triggerConfig,
		transformationType,
		intensity,
		pq.Array(row.Platforms),
		pq.Array(row.Channels),
		pq.Array(row.UserRoles),
	).Scan(&id)
	if err != nil {
		t.Fatalf("failed to insert rule: %v", err)
	}

	// Keeps created_at strictly increasing for deterministic tie-breaks.
	time.Sleep(10 * time.Millisecond)

	return id
}

func insertTenantConfig(t *testing.T, db *sql.DB, tenantID string, enabled bool, minMessageLength int) {
	t.Helper()

	_, err := db.ExecContext(context.Background(), `
		INSERT INTO tenant_transform_configs
			(tenant_id, enabled, default_transformation_type, default_intensity, min_message_length)
		VALUES ($1, $2, 'soften', 2, $3)
		ON CONFLICT (tenant_id) DO UPDATE
		SET enabled = EXCLUDED.enabled, min_message_length = EXCLUDED.min_message_length
	`, tenantID, enabled, minMessageLength)
	if err != nil {
		t.Fatalf("failed to insert tenant config: %v", err)
	}
}
