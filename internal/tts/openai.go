package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openAIAPIURL = "https://api.openai.com/v1"

	// OpenAIMaxChars is the provider's hard per-request character cap.
	OpenAIMaxChars = 4096
)

// OpenAIClient implements the Client interface using OpenAI's speech endpoint.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	speed      float64
	httpClient *http.Client
}

// OpenAIConfig holds configuration for the OpenAI speech client.
type OpenAIConfig struct {
	APIKey     string
	Model      string // "tts-1" or "tts-1-hd"
	Speed      float64
	BaseURL    string
	HTTPClient *http.Client
}

// NewOpenAIClient creates a new OpenAI speech client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	model := cfg.Model
	if model == "" {
		model = "tts-1-hd"
	}
	speed := cfg.Speed
	if speed <= 0 {
		speed = 1.0
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = openAIAPIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		speed:      speed,
		httpClient: httpClient,
	}
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return "openai"
}

type openAISpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
}

// Synthesize converts text to MP3 audio bytes.
func (c *OpenAIClient) Synthesize(ctx context.Context, text string, lang Language) (*Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	voice, err := OpenAIVoice(lang)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(openAISpeechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          voice,
		Speed:          c.speed,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewSynthesisError(c.Name(), 0, "", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleError(resp)
	}

	data, err := readAudio(c.Name(), resp)
	if err != nil {
		return nil, err
	}
	return &Audio{Data: data, Encoding: EncodingRaw, Format: "mp3"}, nil
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// handleError classifies a non-200 OpenAI response. OpenAI reports exhausted
// credit as a 429 with code insufficient_quota, so the code wins over status.
func (c *OpenAIClient) handleError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorResponseSize))

	var errResp openAIErrorResponse
	if json.Unmarshal(raw, &errResp) != nil {
		errResp.Error.Message = strings.TrimSpace(string(raw))
	}

	var cause error
	switch {
	case errResp.Error.Code == "insufficient_quota" || errResp.Error.Type == "insufficient_quota":
		cause = ErrQuotaExceeded
	case resp.StatusCode == http.StatusTooManyRequests:
		cause = ErrRateLimited
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		cause = ErrInvalidInput
	default:
		cause = ErrSynthesisFailed
	}

	return NewSynthesisError(c.Name(), resp.StatusCode, errResp.Error.Code, errResp.Error.Message, cause)
}
