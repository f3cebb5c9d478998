package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxAudioResponseSize bounds one provider response body.
var maxAudioResponseSize int64 = 64 * 1024 * 1024

// Encoding describes how Audio.Data is represented on the wire.
type Encoding string

const (
	// EncodingRaw means Data holds the encoded audio bytes as-is.
	EncodingRaw Encoding = "raw"
	// EncodingBase64 means Data holds standard base64 text that still has to
	// be decoded to audio bytes.
	EncodingBase64 Encoding = "base64"
)

// Audio is the provider output for one chunk of text.
type Audio struct {
	Data     []byte
	Encoding Encoding
	// Format is the container/codec, e.g. "mp3".
	Format string
	// Duration is zero when the provider does not report timing.
	Duration time.Duration
}

// Client defines the interface for text-to-speech providers.
type Client interface {
	// Name returns the provider identifier used in logs and errors.
	Name() string

	// Synthesize converts one chunk of text to audio using the fixed voice
	// profile for lang.
	Synthesize(ctx context.Context, text string, lang Language) (*Audio, error)
}

// readAudio reads a successful provider response. A body over
// maxAudioResponseSize fails instead of yielding a truncated clip.
func readAudio(provider string, resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioResponseSize+1))
	if err != nil {
		return nil, NewSynthesisError(provider, resp.StatusCode, "", "failed to read audio", err)
	}
	if int64(len(data)) > maxAudioResponseSize {
		return nil, NewSynthesisError(provider, resp.StatusCode, "response_too_large",
			fmt.Sprintf("audio response exceeds %d bytes", maxAudioResponseSize), ErrSynthesisFailed)
	}
	return data, nil
}
