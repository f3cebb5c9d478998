// Package costs provides cost estimates for speech synthesis usage.
package costs

import (
	"os"
	"strconv"
)

// Pricing constants (in cents per unit for precision).
// These can be overridden via environment variables.
var (
	// ElevenLabsCentsPerThousandChars is the cost per 1K characters for ElevenLabs TTS.
	// Default: $0.18/1K chars = 18 cents/1K chars
	ElevenLabsCentsPerThousandChars = getEnvFloat("COST_ELEVENLABS_CENTS_PER_1K_CHARS", 18.0)

	// OpenAICentsPerThousandChars is the cost per 1K characters for OpenAI tts-1-hd.
	// Default: $30/1M chars = 3 cents/1K chars
	OpenAICentsPerThousandChars = getEnvFloat("COST_OPENAI_TTS_CENTS_PER_1K_CHARS", 3.0)
)

// NarrationUsage contains the raw usage of one synthesis job.
type NarrationUsage struct {
	Provider   string // "elevenlabs" or "openai"
	Characters int    // Characters sent to the provider, summed over chunks
	Chunks     int    // Provider calls made
}

// NarrationCost is the estimated provider cost of a job in cents.
type NarrationCost struct {
	Provider  string
	CostCents int
	// CentsPerCall is the average per-chunk cost, rounded.
	CentsPerCall int
}

// CentsPerThousandChars returns the configured rate for provider, or 0 for an
// unknown provider.
func CentsPerThousandChars(provider string) float64 {
	switch provider {
	case "elevenlabs":
		return ElevenLabsCentsPerThousandChars
	case "openai":
		return OpenAICentsPerThousandChars
	}
	return 0
}

// CalculateNarrationCost computes the provider cost for a job.
func CalculateNarrationCost(u NarrationUsage) NarrationCost {
	cents := (float64(u.Characters) / 1000.0) * CentsPerThousandChars(u.Provider)

	c := NarrationCost{
		Provider:  u.Provider,
		CostCents: roundToInt(cents),
	}
	if u.Chunks > 0 {
		c.CentsPerCall = roundToInt(cents / float64(u.Chunks))
	}
	return c
}

// roundToInt rounds a float to the nearest integer.
func roundToInt(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

// getEnvFloat returns an environment variable as float64, or the default if not set.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
