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
	elevenLabsAPIURL = "https://api.elevenlabs.io/v1"

	// ElevenLabsMaxChars is the provider's hard per-request character cap.
	ElevenLabsMaxChars = 5000

	elevenLabsOutputFormat = "mp3_44100_128"
	maxErrorResponseSize   = 4096

	defaultElevenLabsModel = "eleven_flash_v2_5"
)

// languageCodeModels are the models that accept language_code; the others
// reject a request that carries it.
var languageCodeModels = map[string]bool{
	"eleven_flash_v2_5": true,
	"eleven_turbo_v2_5": true,
}

// ElevenLabsClient implements the Client interface using ElevenLabs' API.
type ElevenLabsClient struct {
	apiKey         string
	baseURL        string
	modelID        string
	withTimestamps bool
	httpClient     *http.Client
}

// ElevenLabsConfig holds configuration for the ElevenLabs client.
type ElevenLabsConfig struct {
	APIKey  string
	ModelID string // e.g., "eleven_flash_v2_5"
	BaseURL string

	// WithTimestamps uses the /with-timestamps endpoint, which returns base64
	// audio plus character alignment so chunk durations are known.
	WithTimestamps bool

	HTTPClient *http.Client
}

// NewElevenLabsClient creates a new ElevenLabs client.
func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = defaultElevenLabsModel // Fast, cheap, covers every language in Languages
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = elevenLabsAPIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &ElevenLabsClient{
		apiKey:         cfg.APIKey,
		baseURL:        baseURL,
		modelID:        modelID,
		withTimestamps: cfg.WithTimestamps,
		httpClient:     httpClient,
	}
}

// Name returns the provider identifier.
func (c *ElevenLabsClient) Name() string {
	return "elevenlabs"
}

// ttsRequest represents an ElevenLabs TTS request.
type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	LanguageCode  string        `json:"language_code,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// timestampsResponse is the /with-timestamps response body.
type timestampsResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Alignment   *struct {
		CharacterEndTimesSeconds []float64 `json:"character_end_times_seconds"`
	} `json:"alignment"`
}

// Synthesize converts text to speech and returns MP3 audio.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string, lang Language) (*Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	voice, err := ElevenLabsVoice(lang)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", c.baseURL, voice.VoiceID)
	if c.withTimestamps {
		url += "/with-timestamps"
	}
	url += "?output_format=" + elevenLabsOutputFormat

	req := ttsRequest{
		Text:    text,
		ModelID: c.modelID,
		VoiceSettings: voiceSettings{
			Stability:       voice.Stability,
			SimilarityBoost: voice.Similarity,
		},
	}
	if languageCodeModels[c.modelID] {
		req.LanguageCode = string(lang)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.apiKey)
	if c.withTimestamps {
		httpReq.Header.Set("Accept", "application/json")
	} else {
		httpReq.Header.Set("Accept", "audio/mpeg")
	}

	resp, err := c.httpClient.Do(httpReq)
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
	if !c.withTimestamps {
		return &Audio{Data: data, Encoding: EncodingRaw, Format: "mp3"}, nil
	}

	var out timestampsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, NewSynthesisError(c.Name(), resp.StatusCode, "", "failed to decode response", err)
	}
	audio := &Audio{Data: []byte(out.AudioBase64), Encoding: EncodingBase64, Format: "mp3"}
	if out.Alignment != nil {
		if ends := out.Alignment.CharacterEndTimesSeconds; len(ends) > 0 {
			audio.Duration = time.Duration(ends[len(ends)-1] * float64(time.Second))
		}
	}
	return audio, nil
}

// elevenLabsErrorResponse represents an error response from ElevenLabs.
// Validation failures carry a list in "detail" instead of an object.
type elevenLabsErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

type elevenLabsErrorDetail struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handleError classifies a non-200 ElevenLabs response.
func (c *ElevenLabsClient) handleError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorResponseSize))

	var detail elevenLabsErrorDetail
	var errResp elevenLabsErrorResponse
	if json.Unmarshal(raw, &errResp) == nil && len(errResp.Detail) > 0 {
		if json.Unmarshal(errResp.Detail, &detail) != nil {
			detail.Message = string(errResp.Detail)
		}
	} else {
		detail.Message = strings.TrimSpace(string(raw))
	}

	return NewSynthesisError(c.Name(), resp.StatusCode, detail.Status, detail.Message,
		classifyElevenLabs(resp.StatusCode, detail.Status))
}

func classifyElevenLabs(status int, code string) error {
	switch code {
	case "quota_exceeded", "payment_required", "insufficient_credits":
		return ErrQuotaExceeded
	case "too_many_concurrent_requests", "system_busy", "rate_limit_exceeded":
		return ErrRateLimited
	}
	switch {
	case status == http.StatusPaymentRequired:
		return ErrQuotaExceeded
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity,
		status == http.StatusRequestEntityTooLarge, status == http.StatusNotFound:
		return ErrInvalidInput
	}
	return ErrSynthesisFailed
}
