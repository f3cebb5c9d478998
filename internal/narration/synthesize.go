package narration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/chunk"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/metrics"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/tts"
)

// synthesizer runs the provider over the chunks of one job. With concurrency
// 1 chunk i+1 is requested only after chunk i returned.
type synthesizer struct {
	client      tts.Client
	limiter     *rate.Limiter // nil means unpaced
	concurrency int
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

// chunkDone is called once per synthesized chunk, never concurrently. done
// counts finished chunks, including this one.
type chunkDone func(c chunk.Chunk, audio *tts.Audio, done int)

// run returns one Audio per chunk in chunk order, or the first failure. No
// partial result is ever returned.
func (s *synthesizer) run(ctx context.Context, chunks []chunk.Chunk, lang tts.Language, onDone chunkDone) ([]*tts.Audio, error) {
	if s.concurrency <= 1 || len(chunks) == 1 {
		return s.runSequential(ctx, chunks, lang, onDone)
	}
	return s.runConcurrent(ctx, chunks, lang, onDone)
}

func (s *synthesizer) runSequential(ctx context.Context, chunks []chunk.Chunk, lang tts.Language, onDone chunkDone) ([]*tts.Audio, error) {
	out := make([]*tts.Audio, len(chunks))
	for i, c := range chunks {
		audio, err := s.synthesizeOne(ctx, c, len(chunks), lang)
		if err != nil {
			return nil, err
		}
		out[i] = audio
		onDone(c, audio, i+1)
	}
	return out, nil
}

// runConcurrent fans out up to s.concurrency calls and reorders results by
// chunk index. The first failure cancels every call still in flight.
func (s *synthesizer) runConcurrent(ctx context.Context, chunks []chunk.Chunk, lang tts.Language, onDone chunkDone) ([]*tts.Audio, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	out := make([]*tts.Audio, len(chunks))
	var mu sync.Mutex
	done := 0

	for i, c := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			audio, err := s.synthesizeOne(gctx, c, len(chunks), lang)
			if err != nil {
				return err
			}
			out[i] = audio

			mu.Lock()
			defer mu.Unlock()
			done++
			onDone(c, audio, done)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *synthesizer) synthesizeOne(ctx context.Context, c chunk.Chunk, total int, lang tts.Language) (*tts.Audio, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("chunk %d of %d: %w", c.Index+1, total, err)
		}
	}

	provider := s.client.Name()
	ctx, span := s.tracer.Start(ctx, "tts.Synthesize", trace.WithAttributes(
		attribute.String("tts.provider", provider),
		attribute.Int("chunk.index", c.Index),
		attribute.Int("chunk.chars", c.Len()),
		attribute.String("chunk.boundary", string(c.Boundary)),
	))
	defer span.End()

	start := time.Now()
	audio, err := s.client.Synthesize(ctx, c.Text, lang)
	if err == nil && (audio == nil || len(audio.Data) == 0) {
		err = tts.NewSynthesisError(provider, 0, "", "empty audio", tts.ErrSynthesisFailed)
	}
	s.metrics.ProviderCall(provider, c.Len(), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return nil, fmt.Errorf("chunk %d of %d: %w", c.Index+1, total, err)
	}
	return audio, nil
}
