package rules

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTrigger(t *testing.T, kind, payload string) Trigger {
	t.Helper()
	trigger, err := DecodeTrigger(kind, json.RawMessage(payload), time.UTC)
	require.NoError(t, err)
	return trigger
}

func TestDecodeTriggerRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		payload string
	}{
		{name: "empty keyword list", kind: "keyword", payload: `{"keywords":[]}`},
		{name: "invalid json", kind: "keyword", payload: `{`},
		{name: "unknown operator", kind: "sentiment", payload: `{"threshold":0,"operator":"near"}`},
		{name: "recipient without criteria", kind: "recipient", payload: `{}`},
		{name: "empty channel patterns", kind: "channel", payload: `{"patterns":[]}`},
		{name: "bad clock value", kind: "time", payload: `{"after":"25:00","before":"17:00"}`},
		{name: "invalid regexp", kind: "pattern", payload: `{"patterns":["[unclosed"]}`},
		{name: "unknown kind", kind: "weather", payload: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTrigger(tt.kind, json.RawMessage(tt.payload), time.UTC)
			assert.Error(t, err)
		})
	}
}

func TestNeverMatch(t *testing.T) {
	trigger := NewNeverMatch("keyword")
	matched, confidence, _, err := trigger.Match(MessageContext{Message: "anything"}, time.Now())
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Zero(t, confidence)
}

func TestKeywordTrigger(t *testing.T) {
	tests := []struct {
		name           string
		payload        string
		message        string
		wantMatch      bool
		wantConfidence float64
	}{
		{
			name:           "any mode single hit",
			payload:        `{"keywords":["urgent","asap"]}`,
			message:        "fix this ASAP please",
			wantMatch:      true,
			wantConfidence: 0.5,
		},
		{
			name:           "any mode all hit",
			payload:        `{"keywords":["urgent","asap"]}`,
			message:        "URGENT: fix asap",
			wantMatch:      true,
			wantConfidence: 1.0,
		},
		{
			name:      "all mode partial miss",
			payload:   `{"keywords":["urgent","asap"],"mode":"all"}`,
			message:   "this is urgent",
			wantMatch: false,
		},
		{
			name:           "all mode complete",
			payload:        `{"keywords":["urgent","asap"],"mode":"all"}`,
			message:        "urgent, do it asap",
			wantMatch:      true,
			wantConfidence: 1.0,
		},
		{
			name:      "no hit",
			payload:   `{"keywords":["urgent"]}`,
			message:   "all calm here",
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := mustTrigger(t, "keyword", tt.payload)
			matched, confidence, reason, err := trigger.Match(MessageContext{Message: tt.message}, time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.wantMatch, matched)
			if tt.wantMatch {
				assert.InDelta(t, tt.wantConfidence, confidence, 1e-9)
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestSentimentTrigger(t *testing.T) {
	trigger := mustTrigger(t, "sentiment", `{"threshold":-0.5,"operator":"less_than"}`)

	t.Run("negative message past threshold", func(t *testing.T) {
		mc := MessageContext{
			Message:  "This is terrible! Fix it ASAP!",
			Metadata: map[string]interface{}{"sentiment": -0.7},
		}
		matched, confidence, _, err := trigger.Match(mc, time.Now())
		require.NoError(t, err)
		assert.True(t, matched)
		assert.GreaterOrEqual(t, confidence, 0.7)
		assert.LessOrEqual(t, confidence, 1.0)
	})

	t.Run("polarity above threshold", func(t *testing.T) {
		mc := MessageContext{
			Message:  "all good",
			Metadata: map[string]interface{}{"sentiment": 0.2},
		}
		matched, _, _, err := trigger.Match(mc, time.Now())
		require.NoError(t, err)
		assert.False(t, matched)
	})

	t.Run("missing sentiment never matches", func(t *testing.T) {
		matched, _, reason, err := trigger.Match(MessageContext{Message: "no metadata"}, time.Now())
		require.NoError(t, err)
		assert.False(t, matched)
		assert.Equal(t, "no sentiment available", reason)
	})

	t.Run("greater_than operator", func(t *testing.T) {
		gt := mustTrigger(t, "sentiment", `{"threshold":0.5,"operator":"greater_than"}`)
		mc := MessageContext{
			Message:  "fantastic work",
			Metadata: map[string]interface{}{"sentiment": 0.9},
		}
		matched, confidence, _, err := gt.Match(mc, time.Now())
		require.NoError(t, err)
		assert.True(t, matched)
		assert.Greater(t, confidence, 0.5)
	})

	t.Run("equals within tolerance", func(t *testing.T) {
		eq := mustTrigger(t, "sentiment", `{"threshold":0.0,"operator":"equals"}`)
		mc := MessageContext{
			Message:  "neutral",
			Metadata: map[string]interface{}{"sentiment": 0.05},
		}
		matched, _, _, err := eq.Match(mc, time.Now())
		require.NoError(t, err)
		assert.True(t, matched)
	})
}

func TestRecipientTrigger(t *testing.T) {
	trigger := mustTrigger(t, "recipient", `{"ids":["boss-1"],"roles":["manager"]}`)

	t.Run("id match", func(t *testing.T) {
		mc := MessageContext{RecipientIDs: []string{"peer-2", "boss-1"}}
		matched, confidence, _, err := trigger.Match(mc, time.Now())
		require.NoError(t, err)
		assert.True(t, matched)
		assert.InDelta(t, 0.9, confidence, 1e-9)
	})

	t.Run("role match", func(t *testing.T) {
		mc := MessageContext{
			RecipientIDs: []string{"peer-2"},
			Metadata:     map[string]interface{}{"role": "manager"},
		}
		matched, confidence, _, err := trigger.Match(mc, time.Now())
		require.NoError(t, err)
		assert.True(t, matched)
		assert.InDelta(t, 0.8, confidence, 1e-9)
	})

	t.Run("no overlap", func(t *testing.T) {
		mc := MessageContext{RecipientIDs: []string{"peer-2"}}
		matched, _, _, err := trigger.Match(mc, time.Now())
		require.NoError(t, err)
		assert.False(t, matched)
	})
}

func TestChannelTrigger(t *testing.T) {
	trigger := mustTrigger(t, "channel", `{"patterns":["general","support-*"]}`)

	tests := []struct {
		channel        string
		wantMatch      bool
		wantConfidence float64
	}{
		{channel: "general", wantMatch: true, wantConfidence: 1.0},
		{channel: "support-billing", wantMatch: true, wantConfidence: 1.0},
		{channel: "random", wantMatch: false},
		{channel: "", wantMatch: false},
	}

	for _, tt := range tests {
		matched, confidence, _, err := trigger.Match(MessageContext{ChannelID: tt.channel}, time.Now())
		require.NoError(t, err)
		assert.Equal(t, tt.wantMatch, matched, "channel %q", tt.channel)
		if tt.wantMatch {
			assert.InDelta(t, tt.wantConfidence, confidence, 1e-9)
		}
	}
}

func TestTimeTrigger(t *testing.T) {
	t.Run("inside window", func(t *testing.T) {
		trigger := mustTrigger(t, "time", `{"after":"09:00","before":"17:00"}`)
		now := time.Date(2025, 6, 2, 12, 30, 0, 0, time.UTC)
		matched, confidence, _, err := trigger.Match(MessageContext{}, now)
		require.NoError(t, err)
		assert.True(t, matched)
		assert.InDelta(t, 0.9, confidence, 1e-9)
	})

	t.Run("outside window", func(t *testing.T) {
		trigger := mustTrigger(t, "time", `{"after":"09:00","before":"17:00"}`)
		now := time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)
		matched, _, _, err := trigger.Match(MessageContext{}, now)
		require.NoError(t, err)
		assert.False(t, matched)
	})

	t.Run("window wrapping midnight", func(t *testing.T) {
		trigger := mustTrigger(t, "time", `{"after":"22:00","before":"06:00"}`)

		late := time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC)
		matched, _, _, err := trigger.Match(MessageContext{}, late)
		require.NoError(t, err)
		assert.True(t, matched)

		early := time.Date(2025, 6, 3, 5, 0, 0, 0, time.UTC)
		matched, _, _, err = trigger.Match(MessageContext{}, early)
		require.NoError(t, err)
		assert.True(t, matched)

		midday := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
		matched, _, _, err = trigger.Match(MessageContext{}, midday)
		require.NoError(t, err)
		assert.False(t, matched)
	})

	t.Run("window boundary is half-open", func(t *testing.T) {
		trigger := mustTrigger(t, "time", `{"after":"09:00","before":"17:00"}`)

		atStart := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
		matched, _, _, err := trigger.Match(MessageContext{}, atStart)
		require.NoError(t, err)
		assert.True(t, matched)

		atEnd := time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC)
		matched, _, _, err = trigger.Match(MessageContext{}, atEnd)
		require.NoError(t, err)
		assert.False(t, matched)
	})
}

func TestPatternTrigger(t *testing.T) {
	trigger := mustTrigger(t, "pattern", `{"patterns":["\\bwtf\\b","fix (it|this) now"]}`)

	t.Run("match is case-insensitive", func(t *testing.T) {
		matched, confidence, _, err := trigger.Match(MessageContext{Message: "WTF is going on"}, time.Now())
		require.NoError(t, err)
		assert.True(t, matched)
		assert.InDelta(t, 0.9, confidence, 1e-9)
	})

	t.Run("second pattern", func(t *testing.T) {
		matched, _, _, err := trigger.Match(MessageContext{Message: "please fix this now"}, time.Now())
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("no match", func(t *testing.T) {
		matched, _, _, err := trigger.Match(MessageContext{Message: "all fine"}, time.Now())
		require.NoError(t, err)
		assert.False(t, matched)
	})
}
