package tts

import (
	"fmt"
	"strings"
)

// Language is a lowercase ISO 639-1 code.
type Language string

const (
	English    Language = "en"
	Spanish    Language = "es"
	Portuguese Language = "pt"
	French     Language = "fr"
	German     Language = "de"
	Italian    Language = "it"
)

// Languages lists every language with a voice profile.
var Languages = []Language{English, Spanish, Portuguese, French, German, Italian}

// ParseLanguage normalizes s ("PT-br", " en ") to a supported Language.
func ParseLanguage(s string) (Language, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexAny(s, "-_"); i > 0 {
		s = s[:i]
	}
	for _, l := range Languages {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, s)
}

// VoiceProfile is the fixed voice used for one language.
type VoiceProfile struct {
	VoiceID    string
	Stability  float64
	Similarity float64
}

// elevenLabsVoices picks one premade multilingual voice per language.
var elevenLabsVoices = map[Language]VoiceProfile{
	English:    {VoiceID: "21m00Tcm4TlvDq8ikWAM", Stability: 0.5, Similarity: 0.75}, // Rachel
	Spanish:    {VoiceID: "ErXwobaYiN019PkySvjV", Stability: 0.5, Similarity: 0.75}, // Antoni
	Portuguese: {VoiceID: "pNInz6obpgDQGcFmaJgB", Stability: 0.55, Similarity: 0.75}, // Adam
	French:     {VoiceID: "EXAVITQu4vr4xnSDxMaL", Stability: 0.5, Similarity: 0.8},  // Sarah
	German:     {VoiceID: "TxGEqnHWrfWFTfGW9XjX", Stability: 0.5, Similarity: 0.75}, // Josh
	Italian:    {VoiceID: "MF3mGyEYCl7XYWbV9V6O", Stability: 0.5, Similarity: 0.75}, // Elli
}

// openAIVoices maps languages to OpenAI speech voices.
var openAIVoices = map[Language]string{
	English:    "alloy",
	Spanish:    "nova",
	Portuguese: "onyx",
	French:     "shimmer",
	German:     "echo",
	Italian:    "fable",
}

// ElevenLabsVoice returns the ElevenLabs profile for lang.
func ElevenLabsVoice(lang Language) (VoiceProfile, error) {
	v, ok := elevenLabsVoices[lang]
	if !ok {
		return VoiceProfile{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	return v, nil
}

// OpenAIVoice returns the OpenAI voice name for lang.
func OpenAIVoice(lang Language) (string, error) {
	v, ok := openAIVoices[lang]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	return v, nil
}
