package rules

import (
	"context"
	"sort"
	"strings"
	"time"

	"tonegate/internal/logger"
	"tonegate/pkg/metrics"
)

// Engine evaluates a message context against an ordered rule set. It holds
// no rule state itself; snapshots come from the Service.
type Engine struct {
	logger logger.Logger
	now    func() time.Time
}

func NewEngine(log logger.Logger) *Engine {
	return &Engine{
		logger: log,
		now:    time.Now,
	}
}

// Evaluate returns the first matching rule's decision. Rules are filtered by
// scope, ordered by priority ascending (creation time breaks ties), and
// evaluated until one matches. A rule whose trigger errors is skipped.
func (e *Engine) Evaluate(ctx context.Context, mc MessageContext, rules []Rule) Decision {
	start := time.Now()
	now := e.now()

	candidates := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if !e.inScope(r, mc) {
			continue
		}
		candidates = append(candidates, r)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	for _, r := range candidates {
		if r.Trigger == nil {
			continue
		}
		matched, confidence, reason, err := r.Trigger.Match(mc, now)
		if err != nil {
			e.logger.WarnwCtx(ctx, "rule evaluation failed, skipping rule",
				"rule_id", r.ID,
				"trigger_kind", r.TriggerKind,
				"error", err,
			)
			continue
		}
		if !matched {
			continue
		}

		metrics.TriggerMatchesTotal.WithLabelValues(r.TriggerKind).Inc()
		metrics.EvaluationsTotal.WithLabelValues("matched").Inc()
		metrics.ObserveEvaluationDuration(time.Since(start), "matched")

		e.logger.DebugwCtx(ctx, "rule matched",
			"rule_id", r.ID,
			"rule_name", r.Name,
			"confidence", confidence,
		)

		return Decision{
			ShouldTransform: true,
			RuleID:          r.ID,
			RuleName:        r.Name,
			Type:            r.TransformationType,
			Intensity:       r.TransformationIntensity,
			Options:         r.TransformationOptions,
			Confidence:      confidence,
			Reason:          reason,
		}
	}

	metrics.EvaluationsTotal.WithLabelValues("no_match").Inc()
	metrics.ObserveEvaluationDuration(time.Since(start), "no_match")
	return noMatchDecision("no matching rule")
}

func (e *Engine) inScope(r Rule, mc MessageContext) bool {
	if len(r.Platforms) > 0 && !containsString(r.Platforms, mc.Platform) {
		return false
	}
	if len(r.Channels) > 0 && !matchesAnyChannel(r.Channels, mc.ChannelID) {
		return false
	}
	if len(r.UserRoles) > 0 {
		role, _ := mc.Metadata["role"].(string)
		if !containsString(r.UserRoles, role) {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func matchesAnyChannel(patterns []string, channelID string) bool {
	if channelID == "" {
		return false
	}
	for _, p := range patterns {
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(channelID, strings.TrimSuffix(p, "*")) {
				return true
			}
			continue
		}
		if p == channelID {
			return true
		}
	}
	return false
}
