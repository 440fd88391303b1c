package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tonegate/internal/rules"
	"tonegate/internal/transform"
)

const (
	engineServiceURL = "http://localhost:8080"
)

func TestEngineServiceHealth(t *testing.T) {
	url := fmt.Sprintf("%s/health", engineServiceURL)
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	err = json.NewDecoder(resp.Body).Decode(&health)
	require.NoError(t, err)
	assert.NotNil(t, health["status"])
}

func TestEvaluateMessage(t *testing.T) {
	mc := rules.MessageContext{
		Message:   "this is completely unacceptable, fix it now",
		UserID:    "e2e-user",
		TenantID:  "e2e-tenant",
		Platform:  "slack",
		ChannelID: "general",
	}

	decision := evaluateMessage(t, mc)
	assert.NotEmpty(t, decision.Reason)
	assert.GreaterOrEqual(t, decision.Confidence, 0.0)
	assert.LessOrEqual(t, decision.Confidence, 1.0)
	if decision.ShouldTransform {
		assert.NotEmpty(t, decision.Type)
		assert.NotEmpty(t, decision.RuleID)
	}
}

func TestEvaluateValidation(t *testing.T) {
	resp := postJSON(t, "/api/v1/evaluate", rules.MessageContext{Message: "no identifiers"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApplyTransformation(t *testing.T) {
	req := transform.ApplyRequest{
		Text:      "this report is garbage, redo it",
		Type:      "soften",
		Intensity: 2,
	}

	resp := postJSON(t, "/api/v1/apply", req)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	err := json.NewDecoder(resp.Body).Decode(&body)
	require.NoError(t, err)
	assert.Equal(t, req.Text, body["original_text"])
	assert.NotEmpty(t, body["transformed_text"])
}

func TestApplyEchoesRuleAttribution(t *testing.T) {
	req := transform.ApplyRequest{
		Text:      "do it again",
		Type:      "soften",
		Intensity: 1,
		RuleID:    "e2e-rule-id",
		RuleName:  "e2e_rule",
	}

	resp := postJSON(t, "/api/v1/apply", req)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	err := json.NewDecoder(resp.Body).Decode(&body)
	require.NoError(t, err)
	assert.Equal(t, req.RuleID, body["rule_id"])
	assert.Equal(t, req.RuleName, body["rule_name"])
}

func TestApplyValidation(t *testing.T) {
	resp := postJSON(t, "/api/v1/apply", transform.ApplyRequest{Intensity: 2})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyzeText(t *testing.T) {
	req := transform.AnalyzeRequest{
		Text:  "I am extremely frustrated with this outcome",
		Types: []string{"sentiment"},
	}

	resp := postJSON(t, "/api/v1/analyze", req)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var analysis map[string]interface{}
	err := json.NewDecoder(resp.Body).Decode(&analysis)
	require.NoError(t, err)
	assert.NotEmpty(t, analysis)
}

func TestListRulesByTenant(t *testing.T) {
	resp, err := http.Get(fmt.Sprintf("%s/api/v1/rules/e2e-tenant", engineServiceURL))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		TenantID string           `json:"tenant_id"`
		Rules    []rules.RuleView `json:"rules"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	require.NoError(t, err)
	assert.Equal(t, "e2e-tenant", body.TenantID)
	assert.NotNil(t, body.Rules)
}

func TestPreviewRateLimit(t *testing.T) {
	req := transform.ApplyRequest{
		Text:      "try it before you buy it",
		Type:      "soften",
		Intensity: 1,
	}

	var limited int
	for i := 0; i < 10; i++ {
		resp := postJSON(t, "/api/v1/preview", req)
		if resp.StatusCode == http.StatusTooManyRequests {
			limited++
			assert.NotEmpty(t, resp.Header.Get("Retry-After"))
		} else {
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}
		resp.Body.Close()
	}

	assert.GreaterOrEqual(t, limited, 1, "anonymous preview should be rate limited")
}

func evaluateMessage(t *testing.T, mc rules.MessageContext) rules.Decision {
	t.Helper()

	resp := postJSON(t, "/api/v1/evaluate", mc)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decision rules.Decision
	err := json.NewDecoder(resp.Body).Decode(&decision)
	require.NoError(t, err)

	return decision
}

func postJSON(t *testing.T, path string, payload interface{}) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := http.Post(
		fmt.Sprintf("%s%s", engineServiceURL, path),
		"application/json",
		bytes.NewBuffer(body),
	)
	require.NoError(t, err)

	return resp
}
