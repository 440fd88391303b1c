package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"tonegate/internal/constants"
)

// Trigger is one rule condition. Implementations are decoded once at rule
// load time, so per-evaluation work never parses trigger payloads.
type Trigger interface {
	Kind() string
	// Match reports whether the trigger fires for mc, with a deterministic
	// confidence in [0,1] and a human-readable reason.
	Match(mc MessageContext, now time.Time) (bool, float64, string, error)
}

// DecodeTrigger builds the typed trigger for kind from its raw JSON payload.
// A malformed payload yields an error; callers substitute a never-matching
// trigger and keep the rule loadable.
func DecodeTrigger(kind string, raw json.RawMessage, loc *time.Location) (Trigger, error) {
	switch kind {
	case constants.TriggerKeyword:
		var t KeywordTrigger
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("keyword trigger: %w", err)
		}
		if len(t.Keywords) == 0 {
			return nil, fmt.Errorf("keyword trigger: empty keyword list")
		}
		for i := range t.Keywords {
			t.Keywords[i] = strings.ToLower(t.Keywords[i])
		}
		if t.Mode == "" {
			t.Mode = constants.KeywordModeAny
		}
		return &t, nil

	case constants.TriggerSentiment:
		var t SentimentTrigger
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("sentiment trigger: %w", err)
		}
		switch t.Operator {
		case constants.OperatorLessThan, constants.OperatorGreaterThan, constants.OperatorEquals:
		case "":
			t.Operator = constants.OperatorLessThan
		default:
			return nil, fmt.Errorf("sentiment trigger: unknown operator %q", t.Operator)
		}
		return &t, nil

	case constants.TriggerRecipient:
		var t RecipientTrigger
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("recipient trigger: %w", err)
		}
		if len(t.IDs) == 0 && len(t.Roles) == 0 {
			return nil, fmt.Errorf("recipient trigger: no ids or roles configured")
		}
		return &t, nil

	case constants.TriggerChannel:
		var t ChannelTrigger
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("channel trigger: %w", err)
		}
		if len(t.Patterns) == 0 {
			return nil, fmt.Errorf("channel trigger: empty pattern list")
		}
		return &t, nil

	case constants.TriggerTime:
		var t TimeTrigger
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("time trigger: %w", err)
		}
		var err error
		if t.after, err = parseClock(t.After); err != nil {
			return nil, fmt.Errorf("time trigger: %w", err)
		}
		if t.before, err = parseClock(t.Before); err != nil {
			return nil, fmt.Errorf("time trigger: %w", err)
		}
		if loc == nil {
			loc = time.Local
		}
		t.loc = loc
		return &t, nil

	case constants.TriggerPattern:
		var t PatternTrigger
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("pattern trigger: %w", err)
		}
		if len(t.Patterns) == 0 {
			return nil, fmt.Errorf("pattern trigger: empty pattern list")
		}
		t.compiled = make([]*regexp.Regexp, 0, len(t.Patterns))
		for _, p := range t.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("pattern trigger: invalid regexp %q: %w", p, err)
			}
			t.compiled = append(t.compiled, re)
		}
		return &t, nil

	default:
		return nil, fmt.Errorf("unknown trigger kind %q", kind)
	}
}

// NeverMatch stands in for a trigger whose payload failed to decode.
type NeverMatch struct {
	kind string
}

func NewNeverMatch(kind string) *NeverMatch { return &NeverMatch{kind: kind} }

func (t *NeverMatch) Kind() string { return t.kind }

func (t *NeverMatch) Match(MessageContext, time.Time) (bool, float64, string, error) {
	return false, 0, "malformed trigger", nil
}

// KeywordTrigger fires when the message contains configured keywords,
// case-insensitively. Mode "any" needs one hit, "all" needs every keyword.
type KeywordTrigger struct {
	Keywords []string `json:"keywords"`
	Mode     string   `json:"mode,omitempty"`
}

func (t *KeywordTrigger) Kind() string { return constants.TriggerKeyword }

func (t *KeywordTrigger) Match(mc MessageContext, _ time.Time) (bool, float64, string, error) {
	message := strings.ToLower(mc.Message)

	found := make([]string, 0, len(t.Keywords))
	for _, kw := range t.Keywords {
		if strings.Contains(message, kw) {
			found = append(found, kw)
		}
	}

	if len(found) == 0 {
		return false, 0, "no keywords found", nil
	}
	if t.Mode == constants.KeywordModeAll && len(found) < len(t.Keywords) {
		return false, 0, "not all keywords found", nil
	}

	confidence := float64(len(found)) / float64(len(t.Keywords))
	return true, confidence, "contains keywords: " + strings.Join(found, ", "), nil
}

// SentimentTrigger compares a precomputed polarity in [-1,1] against a
// threshold. The polarity is supplied in message metadata by the upstream
// analysis collaborator; a missing value never matches.
type SentimentTrigger struct {
	Threshold float64 `json:"threshold"`
	Operator  string  `json:"operator,omitempty"`
}

func (t *SentimentTrigger) Kind() string { return constants.TriggerSentiment }

func (t *SentimentTrigger) Match(mc MessageContext, _ time.Time) (bool, float64, string, error) {
	polarity, ok := sentimentFromMetadata(mc.Metadata)
	if !ok {
		return false, 0, "no sentiment available", nil
	}

	matched := false
	switch t.Operator {
	case constants.OperatorLessThan:
		matched = polarity < t.Threshold
	case constants.OperatorGreaterThan:
		matched = polarity > t.Threshold
	case constants.OperatorEquals:
		matched = math.Abs(polarity-t.Threshold) < 0.1
	}

	if !matched {
		return false, 0, "sentiment outside threshold", nil
	}

	// Confidence starts at 0.5 on a bare match and grows with distance
	// past the threshold, capped at 1.
	confidence := math.Min(1.0, 0.5+math.Abs(polarity-t.Threshold))
	if t.Operator == constants.OperatorEquals {
		confidence = 1.0 - math.Abs(polarity-t.Threshold)*10
		if confidence < 0 {
			confidence = 0
		}
	}
	reason := fmt.Sprintf("sentiment polarity %.2f %s %.2f", polarity, t.Operator, t.Threshold)
	return true, confidence, reason, nil
}

func sentimentFromMetadata(metadata map[string]interface{}) (float64, bool) {
	if metadata == nil {
		return 0, false
	}
	raw, ok := metadata["sentiment"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// RecipientTrigger fires when any recipient id, or the sender role from
// metadata, intersects the configured sets.
type RecipientTrigger struct {
	IDs   []string `json:"ids,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

func (t *RecipientTrigger) Kind() string { return constants.TriggerRecipient }

func (t *RecipientTrigger) Match(mc MessageContext, _ time.Time) (bool, float64, string, error) {
	if len(t.IDs) > 0 {
		configured := make(map[string]struct{}, len(t.IDs))
		for _, id := range t.IDs {
			configured[id] = struct{}{}
		}
		matched := make([]string, 0, len(mc.RecipientIDs))
		for _, id := range mc.RecipientIDs {
			if _, ok := configured[id]; ok {
				matched = append(matched, id)
			}
		}
		if len(matched) > 0 {
			return true, 0.9, "recipient match: " + strings.Join(matched, ", "), nil
		}
	}

	if len(t.Roles) > 0 {
		if role, ok := mc.Metadata["role"].(string); ok {
			for _, r := range t.Roles {
				if r == role {
					return true, 0.8, "recipient role match: " + role, nil
				}
			}
		}
	}

	return false, 0, "no recipient match", nil
}

// ChannelTrigger fires when the channel id equals a configured pattern or
// matches a prefix wildcard ("support-*").
type ChannelTrigger struct {
	Patterns []string `json:"patterns"`
}

func (t *ChannelTrigger) Kind() string { return constants.TriggerChannel }

func (t *ChannelTrigger) Match(mc MessageContext, _ time.Time) (bool, float64, string, error) {
	if mc.ChannelID == "" {
		return false, 0, "no channel specified", nil
	}

	for _, p := range t.Patterns {
		if matchChannelPattern(p, mc.ChannelID) {
			return true, 1.0, "channel match: " + p, nil
		}
	}

	return false, 0, "no channel match", nil
}

func matchChannelPattern(pattern, channelID string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channelID, prefix)
	}
	return pattern == channelID
}

// TimeTrigger fires when the current time-of-day falls within [after,
// before), wrapping past midnight when before < after.
type TimeTrigger struct {
	After  string `json:"after"`
	Before string `json:"before"`

	after  int // minutes since midnight
	before int
	loc    *time.Location
}

func (t *TimeTrigger) Kind() string { return constants.TriggerTime }

func (t *TimeTrigger) Match(_ MessageContext, now time.Time) (bool, float64, string, error) {
	local := now.In(t.loc)
	minutes := local.Hour()*60 + local.Minute()

	inWindow := false
	if t.after <= t.before {
		inWindow = minutes >= t.after && minutes < t.before
	} else {
		// Window wraps past midnight.
		inWindow = minutes >= t.after || minutes < t.before
	}

	if !inWindow {
		return false, 0, "outside time window", nil
	}
	return true, 0.9, "within time window: " + local.Format("15:04"), nil
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// PatternTrigger fires when any configured regular expression matches the
// message text. Expressions are compiled case-insensitively at decode time.
type PatternTrigger struct {
	Patterns []string `json:"patterns"`

	compiled []*regexp.Regexp
}

func (t *PatternTrigger) Kind() string { return constants.TriggerPattern }

func (t *PatternTrigger) Match(mc MessageContext, _ time.Time) (bool, float64, string, error) {
	for i, re := range t.compiled {
		if re.MatchString(mc.Message) {
			return true, 0.9, "pattern match: " + t.Patterns[i], nil
		}
	}
	return false, 0, "no pattern match", nil
}
