package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout      = 10 * time.Second
	DefaultTransformTimeout = 30 * time.Second
)

const (
	CacheKeyPrefixTransform  = "transform:"
	CacheKeyPrefixRules      = "rules:"
	CacheKeyPrefixAutoConfig = "autoconfig:"
	RateLimitKeyPrefix       = "ratelimit:"
	PreviewMinuteKeyPrefix   = "preview:rate:minute:"
	PreviewDailyKeyPrefix    = "preview:rate:daily:"
)

const (
	DefaultEventsTopic = "tonegate_events"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultCacheTTL      = 24 * time.Hour
	DefaultRuleCacheTTL  = 5 * time.Minute
	DefaultLocalCacheCap = 10000
)

// Trigger kinds a rule may carry. Exactly one per rule.
const (
	TriggerKeyword   = "keyword"
	TriggerSentiment = "sentiment"
	TriggerRecipient = "recipient"
	TriggerChannel   = "channel"
	TriggerTime      = "time"
	TriggerPattern   = "pattern"
)

const (
	OperatorLessThan    = "less_than"
	OperatorGreaterThan = "greater_than"
	OperatorEquals      = "equals"
)

const (
	KeywordModeAny = "any"
	KeywordModeAll = "all"
)

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
	VisibilityDirect  = "direct"
)

const (
	PresenceOnline  = "online"
	PresenceAway    = "away"
	PresenceBusy    = "busy"
	PresenceOffline = "offline"
)

const (
	DefaultPresenceSweepInterval = time.Minute
	DefaultPresenceMaxIdle       = 30 * time.Minute
)

const (
	DefaultPreviewPerMinute = 3
	DefaultPreviewPerDay    = 10
)

// WildcardGrant in a channel permission set admits any authenticated user.
const WildcardGrant = "*"
