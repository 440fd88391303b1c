package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

type Repository interface {
	GetTenantRules(ctx context.Context, tenantID string) ([]Rule, error)
	GetTenantConfig(ctx context.Context, tenantID string) (*TenantConfig, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetTenantRules(ctx context.Context, tenantID string) ([]Rule, error) {
	query := `
		SELECT id, name, description, enabled, priority,
		       trigger_kind, trigger_config,
		       transformation_type, transformation_intensity, transformation_options,
		       platforms, channels, user_roles,
		       created_at, updated_at
		FROM transformation_rules
		WHERE tenant_id = $1
		ORDER BY priority ASC, created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var (
			rule        Rule
			description sql.NullString
			options     []byte
		)
		if err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&description,
			&rule.Enabled,
			&rule.Priority,
			&rule.TriggerKind,
			&rule.TriggerRaw,
			&rule.TransformationType,
			&rule.TransformationIntensity,
			&options,
			pq.Array(&rule.Platforms),
			pq.Array(&rule.Channels),
			pq.Array(&rule.UserRoles),
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.Description = description.String
		if len(options) > 0 {
			if err := json.Unmarshal(options, &rule.TransformationOptions); err != nil {
				return nil, fmt.Errorf("failed to decode options for rule %s: %w", rule.ID, err)
			}
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

func (r *PostgresRepository) GetTenantConfig(ctx context.Context, tenantID string) (*TenantConfig, error) {
	query := `
		SELECT tenant_id, enabled, default_transformation_type,
		       default_intensity, min_message_length
		FROM tenant_transform_configs
		WHERE tenant_id = $1
	`

	var cfg TenantConfig
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&cfg.TenantID,
		&cfg.Enabled,
		&cfg.DefaultType,
		&cfg.DefaultIntensity,
		&cfg.MinMessageLength,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant config: %w", err)
	}

	return &cfg, nil
}
