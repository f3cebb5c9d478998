package narration

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/tts"
)

// decodeWindow is how many base64 characters are decoded per step. It is a
// multiple of 4 so that every window except the last holds whole groups.
const decodeWindow = 8 << 10

// Assembly is the concatenated audio of one job.
type Assembly struct {
	Data []byte
	// Sizes holds the decoded byte length of each part, in order.
	Sizes []int
	// Duration is the sum of the part durations, zero when any is unknown.
	Duration time.Duration
}

// Assemble decodes every part and concatenates them in order. The codec
// tolerates back-to-back frames, so no re-encoding happens.
func Assemble(parts []*tts.Audio) (*Assembly, error) {
	capacity := 0
	for _, p := range parts {
		if p.Encoding == tts.EncodingBase64 {
			capacity += base64.StdEncoding.DecodedLen(len(p.Data))
		} else {
			capacity += len(p.Data)
		}
	}

	a := &Assembly{
		Data:  make([]byte, 0, capacity),
		Sizes: make([]int, len(parts)),
	}
	durationKnown := len(parts) > 0
	for i, p := range parts {
		before := len(a.Data)
		var err error
		a.Data, err = appendDecoded(a.Data, p)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		a.Sizes[i] = len(a.Data) - before

		if p.Duration <= 0 {
			durationKnown = false
		}
		a.Duration += p.Duration
	}
	if !durationKnown {
		a.Duration = 0
	}
	return a, nil
}

func appendDecoded(dst []byte, p *tts.Audio) ([]byte, error) {
	switch p.Encoding {
	case tts.EncodingRaw, "":
		return append(dst, p.Data...), nil
	case tts.EncodingBase64:
		return appendBase64(dst, p.Data)
	}
	return nil, fmt.Errorf("unknown audio encoding %q", p.Encoding)
}

// appendBase64 decodes src window by window so that memory beyond dst stays
// bounded by decodeWindow however large the payload is.
func appendBase64(dst, src []byte) ([]byte, error) {
	if bytes.ContainsAny(src, "\r\n") {
		src = bytes.Map(func(r rune) rune {
			if r == '\r' || r == '\n' {
				return -1
			}
			return r
		}, src)
	}

	var buf [decodeWindow / 4 * 3]byte
	for off := 0; off < len(src); off += decodeWindow {
		end := min(off+decodeWindow, len(src))
		n, err := base64.StdEncoding.Decode(buf[:], src[off:end])
		if err != nil {
			return nil, fmt.Errorf("decode base64 at offset %d: %w", off, err)
		}
		dst = append(dst, buf[:n]...)
	}
	return dst, nil
}
