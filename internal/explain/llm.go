package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"solar-alerts/internal/model"
)

// Explainer produces a structured explanation for a fault code.
type Explainer interface {
	Explain(ctx context.Context, faultCode, deviceContext string) (model.ExplanationRecord, error)
}

// LLMOptions parameterise the language-model collaborator.
type LLMOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// LLMClient asks a chat-completions style endpoint for fault explanations.
// Callers must treat every error as transient and substitute a fallback.
type LLMClient struct {
	opts    LLMOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewLLMClient constructs the collaborator client.
func NewLLMClient(opts LLMOptions, logger zerolog.Logger) *LLMClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &LLMClient{
		opts:    opts,
		logger:  logger.With().Str("component", "llm_explainer").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

const systemPrompt = `You are a solar installation support engineer. Given an inverter fault code and telemetry context, respond with a single JSON object containing exactly these keys: name (string), severity (one of info/warning/critical), cause (string), explanation (string), troubleshooting_steps (array of strings), requires_onsite (bool), owner_can_fix (bool).`

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *formatSpec   `json:"response_format,omitempty"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type formatSpec struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Explain requests a structured explanation for one fault code.
func (c *LLMClient) Explain(ctx context.Context, faultCode, deviceContext string) (model.ExplanationRecord, error) {
	if c.opts.APIKey == "" {
		return model.ExplanationRecord{}, errors.New("llm api key not configured")
	}

	reqPayload := chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Fault code: %s\nContext: %s", faultCode, deviceContext)},
		},
		ResponseFormat: &formatSpec{Type: "json_object"},
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return model.ExplanationRecord{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return model.ExplanationRecord{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return model.ExplanationRecord{}, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.ExplanationRecord{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.ExplanationRecord{}, fmt.Errorf("llm api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payloadBytes)))
	}

	var chatRes chatResponse
	if err := json.Unmarshal(payloadBytes, &chatRes); err != nil {
		return model.ExplanationRecord{}, fmt.Errorf("decode llm response: %w", err)
	}
	if len(chatRes.Choices) == 0 {
		return model.ExplanationRecord{}, errors.New("llm response contained no choices")
	}

	var parsed struct {
		Name                 string   `json:"name"`
		Severity             string   `json:"severity"`
		Cause                string   `json:"cause"`
		Explanation          string   `json:"explanation"`
		TroubleshootingSteps []string `json:"troubleshooting_steps"`
		RequiresOnsite       bool     `json:"requires_onsite"`
		OwnerCanFix          bool     `json:"owner_can_fix"`
	}
	if err := json.Unmarshal([]byte(chatRes.Choices[0].Message.Content), &parsed); err != nil {
		return model.ExplanationRecord{}, fmt.Errorf("parse llm content: %w", err)
	}
	if parsed.Name == "" || parsed.Explanation == "" {
		return model.ExplanationRecord{}, errors.New("llm content missing required keys")
	}

	severity := model.Severity(strings.ToLower(parsed.Severity))
	switch severity {
	case model.SeverityInfo, model.SeverityWarning, model.SeverityCritical:
	default:
		severity = model.SeverityWarning
	}

	return model.ExplanationRecord{
		FaultCode:            faultCode,
		Name:                 parsed.Name,
		Severity:             severity,
		Cause:                parsed.Cause,
		Explanation:          parsed.Explanation,
		TroubleshootingSteps: parsed.TroubleshootingSteps,
		RequiresOnsite:       parsed.RequiresOnsite,
		OwnerCanFix:          parsed.OwnerCanFix,
	}, nil
}

var _ Explainer = (*LLMClient)(nil)
