package rules

import (
	"context"
	"sync"
	"time"

	"tonegate/internal/cache"
	"tonegate/internal/config"
	"tonegate/internal/constants"
	"tonegate/internal/logger"
	"tonegate/pkg/metrics"
	"tonegate/pkg/tracing"
)

// Service owns per-tenant rule snapshots. Snapshots load lazily on first
// evaluation and refresh on a ticker, so evaluation never queries postgres
// on the hot path.
type Service struct {
	repo       Repository
	engine     *Engine
	cache      *cache.TieredCache
	rulesCfg   config.RulesConfig
	location   *time.Location
	logger     logger.Logger

	mu      sync.RWMutex
	tenants map[string]tenantSnapshot
}

type tenantSnapshot struct {
	rules    []Rule
	config   *TenantConfig
	loadedAt time.Time
}

func NewService(repo Repository, tiered *cache.TieredCache, cfg config.RulesConfig, log logger.Logger) (*Service, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, err
		}
	}

	return &Service{
		repo:     repo,
		engine:   NewEngine(log),
		cache:    tiered,
		rulesCfg: cfg,
		location: loc,
		logger:   log,
		tenants:  make(map[string]tenantSnapshot),
	}, nil
}

// Evaluate applies tenant gating and then runs the rule engine over the
// tenant's snapshot. Identical inputs yield identical decisions.
func (s *Service) Evaluate(ctx context.Context, mc MessageContext) (Decision, error) {
	ctx, span := tracing.GetTracer("rules-service").Start(ctx, "rules.evaluate")
	defer span.End()

	snap, err := s.snapshotFor(ctx, mc.TenantID)
	if err != nil {
		return Decision{}, err
	}

	if snap.config != nil {
		if !snap.config.Enabled {
			return noMatchDecision("auto-transform disabled for tenant"), nil
		}
		if snap.config.MinMessageLength > 0 && len(mc.Message) < snap.config.MinMessageLength {
			return noMatchDecision("message below minimum length"), nil
		}
	} else if s.rulesCfg.MinMessageLength > 0 && len(mc.Message) < s.rulesCfg.MinMessageLength {
		return noMatchDecision("message below minimum length"), nil
	}

	return s.engine.Evaluate(ctx, mc, snap.rules), nil
}

// Rules returns the tenant's current snapshot for the read-side view.
func (s *Service) Rules(ctx context.Context, tenantID string) ([]Rule, error) {
	snap, err := s.snapshotFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return snap.rules, nil
}

func (s *Service) snapshotFor(ctx context.Context, tenantID string) (tenantSnapshot, error) {
	s.mu.RLock()
	snap, ok := s.tenants[tenantID]
	s.mu.RUnlock()
	if ok {
		return snap, nil
	}
	return s.loadTenant(ctx, tenantID)
}

func (s *Service) loadTenant(ctx context.Context, tenantID string) (tenantSnapshot, error) {
	rules, err := s.repo.GetTenantRules(ctx, tenantID)
	if err != nil {
		return tenantSnapshot{}, err
	}

	for i := range rules {
		trigger, err := DecodeTrigger(rules[i].TriggerKind, rules[i].TriggerRaw, s.location)
		if err != nil {
			s.logger.WarnwCtx(ctx, "malformed trigger, rule will never match",
				"rule_id", rules[i].ID,
				"trigger_kind", rules[i].TriggerKind,
				"error", err,
			)
			trigger = NewNeverMatch(rules[i].TriggerKind)
		}
		rules[i].Trigger = trigger
	}

	cfg, err := s.loadTenantConfig(ctx, tenantID)
	if err != nil {
		return tenantSnapshot{}, err
	}

	snap := tenantSnapshot{
		rules:    rules,
		config:   cfg,
		loadedAt: time.Now(),
	}

	s.mu.Lock()
	s.tenants[tenantID] = snap
	total := 0
	for _, t := range s.tenants {
		total += len(t.rules)
	}
	s.mu.Unlock()

	metrics.ActiveRules.Set(float64(total))
	s.logger.InfowCtx(ctx, "loaded tenant rules",
		"tenant_id", tenantID,
		"rules_count", len(rules),
	)
	return snap, nil
}

func (s *Service) loadTenantConfig(ctx context.Context, tenantID string) (*TenantConfig, error) {
	key := constants.CacheKeyPrefixAutoConfig + tenantID

	if s.cache != nil {
		var cached TenantConfig
		if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	cfg, err := s.repo.GetTenantConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cfg != nil && s.cache != nil {
		ttl := time.Duration(s.rulesCfg.CacheTTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = constants.DefaultRuleCacheTTL
		}
		_ = s.cache.SetJSONWithTTL(ctx, key, cfg, ttl)
	}
	return cfg, nil
}

// ReloadAll refreshes every known tenant snapshot from the database.
func (s *Service) ReloadAll(ctx context.Context) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if s.cache != nil {
			s.cache.Delete(ctx, constants.CacheKeyPrefixAutoConfig+id)
		}
		if _, err := s.loadTenant(ctx, id); err != nil {
			s.logger.ErrorwCtx(ctx, "failed to reload tenant rules",
				"tenant_id", id,
				"error", err,
			)
		}
	}
}

// StartReloader refreshes snapshots on a fixed interval until ctx ends.
func (s *Service) StartReloader(ctx context.Context) error {
	interval := time.Duration(s.rulesCfg.ReloadIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = constants.DefaultRuleCacheTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ReloadAll(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
