package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "tonegate/pkg/errors"
)

// Client calls the remote transformation capability over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type transformRequest struct {
	Text      string                 `json:"text"`
	Type      string                 `json:"transformation_type"`
	Intensity int                    `json:"intensity"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

// Result is the transformed output plus the parameters that produced it.
type Result struct {
	OriginalText    string                 `json:"original_text"`
	TransformedText string                 `json:"transformed_text"`
	Type            string                 `json:"transformation_type"`
	Intensity       int                    `json:"intensity"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

type analyzeRequest struct {
	Text  string   `json:"text"`
	Types []string `json:"analysis_types,omitempty"`
}

// Analysis carries per-dimension scores (sentiment, formality, ...).
type Analysis struct {
	Text   string                 `json:"text"`
	Scores map[string]float64     `json:"scores"`
	Detail map[string]interface{} `json:"detail,omitempty"`
}

func (c *Client) Transform(ctx context.Context, text, transformationType string, intensity int, options map[string]interface{}) (*Result, error) {
	req := transformRequest{
		Text:      text,
		Type:      transformationType,
		Intensity: intensity,
		Options:   options,
	}

	var result Result
	if err := c.post(ctx, "/transform", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Analyze(ctx context.Context, text string, types []string) (*Analysis, error) {
	req := analyzeRequest{Text: text, Types: types}

	var analysis Analysis
	if err := c.post(ctx, "/analyze", req, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.ErrDependencyUnavailable.WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return apperrors.ErrValidation.WithDetail("upstream_status", resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return apperrors.ErrDependencyUnavailable.WithDetail("upstream_status", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.ErrInternal.WithDetail("upstream_status", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.ErrDependencyUnavailable.WithCause(err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
