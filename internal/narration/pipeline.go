// Package narration turns long-form text into one published audio asset,
// reusing earlier narrations of the same item or the same work when possible.
package narration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/chunk"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/costs"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/eventlog"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/metrics"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/store"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/tts"
)

const (
	defaultSignedURLTTL = time.Hour
	defaultClaimWait    = 2 * time.Minute
	defaultClaimPoll    = time.Second
)

// AssetStore persists content items and audio assets.
type AssetStore interface {
	RegisterContentItem(ctx context.Context, item store.ContentItem) error
	GetContentItem(ctx context.Context, id string) (*store.ContentItem, error)
	GetAudioAsset(ctx context.Context, contentItemID, language string) (*store.AudioAsset, error)
	FindAssetByCanonicalKey(ctx context.Context, canonicalKey, language, excludeItemID string) (*store.AudioAsset, error)
	UpsertAudioAsset(ctx context.Context, a store.AudioAsset) error
}

// ObjectStore holds the audio bytes.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Claimer marks a narration as in flight across pipeline instances.
type Claimer interface {
	Acquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// QuotaAlerter is told when the provider account runs out of credit.
type QuotaAlerter interface {
	NotifyQuotaExceeded(ctx context.Context, provider, contentItemID, message string)
}

// Config tunes a Pipeline. Zero values select defaults.
type Config struct {
	// MaxChunkChars bounds every provider call; keep it below the provider cap.
	MaxChunkChars int
	// SignedURLTTL is how long returned audio URLs stay valid.
	SignedURLTTL time.Duration
	// MinInterval paces provider calls; zero disables pacing.
	MinInterval time.Duration
	// Concurrency is the number of chunks synthesized at once. 1 keeps
	// synthesis strictly sequential.
	Concurrency int
	// ClaimWait bounds how long a request waits on another request's claim
	// before synthesizing anyway. ClaimPoll is the cache re-check interval.
	ClaimWait time.Duration
	ClaimPoll time.Duration
}

// Option configures optional Pipeline collaborators.
type Option func(*Pipeline)

func WithLogger(l *log.Logger) Option { return func(p *Pipeline) { p.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }
func WithEvents(e *eventlog.Logger) Option { return func(p *Pipeline) { p.events = e } }
func WithClaimer(c Claimer) Option { return func(p *Pipeline) { p.claims = c } }
func WithQuotaAlerter(a QuotaAlerter) Option { return func(p *Pipeline) { p.alerts = a } }
func WithTracer(t trace.Tracer) Option { return func(p *Pipeline) { p.tracer = t } }

// Pipeline is safe for concurrent use; it keeps no per-request state.
type Pipeline struct {
	cfg     Config
	client  tts.Client
	assets  AssetStore
	objects ObjectStore
	planner *chunk.Planner
	synth   *synthesizer

	claims  Claimer
	alerts  QuotaAlerter
	events  *eventlog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *log.Logger
}

func New(client tts.Client, assets AssetStore, objects ObjectStore, cfg Config, opts ...Option) *Pipeline {
	if cfg.MaxChunkChars <= 0 {
		cfg.MaxChunkChars = chunk.DefaultMaxChars
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedURLTTL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ClaimWait <= 0 {
		cfg.ClaimWait = defaultClaimWait
	}
	if cfg.ClaimPoll <= 0 {
		cfg.ClaimPoll = defaultClaimPoll
	}

	p := &Pipeline{
		cfg:     cfg,
		client:  client,
		assets:  assets,
		objects: objects,
		planner: chunk.NewPlanner(cfg.MaxChunkChars),
		logger:  log.New(io.Discard, "", 0),
		tracer:  otel.Tracer("narration"),
	}
	for _, opt := range opts {
		opt(p)
	}

	var limiter *rate.Limiter
	if cfg.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	p.synth = &synthesizer{
		client:      client,
		limiter:     limiter,
		concurrency: cfg.Concurrency,
		metrics:     p.metrics,
		tracer:      p.tracer,
	}
	return p
}

// Request asks for the narration of one content item in one language.
type Request struct {
	ContentText       string
	Language          string
	ContentItemID     string
	OwnerID           string
	CanonicalIdentity *Identity
	// Progress, when set, is called after each synthesized chunk.
	Progress func(done, total int)
}

// Response describes a published narration.
type Response struct {
	JobID    string
	AudioURL string
	Cached   bool
	// CacheTier is empty unless Cached.
	CacheTier   CacheTier
	StoragePath string
	ByteSize    int64
	Duration    time.Duration
	Chunks      int
}

var contentItemIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func validate(req Request) (tts.Language, error) {
	if strings.TrimSpace(req.ContentText) == "" {
		return "", invalidInput("contentText is required")
	}
	if req.ContentItemID == "" {
		return "", invalidInput("contentItemId is required")
	}
	if !contentItemIDPattern.MatchString(req.ContentItemID) {
		return "", invalidInput("contentItemId %q has invalid characters", req.ContentItemID)
	}
	lang, err := tts.ParseLanguage(req.Language)
	if err != nil {
		return "", &Error{Kind: KindInvalidInput, Message: "unsupported language", Err: err}
	}
	return lang, nil
}

// Narrate returns a signed URL for the narration of req, synthesizing it only
// when neither cache tier has audio. Every error is an *Error.
//
// Cancelling ctx does not stop a job: provider calls already paid for and the
// publish step always run to completion, bounded by the provider and storage
// clients' own timeouts. Only ctx values (trace parent, etc.) are used.
func (p *Pipeline) Narrate(ctx context.Context, req Request) (*Response, error) {
	ctx = context.WithoutCancel(ctx)

	lang, err := validate(req)
	if err != nil {
		p.metrics.Request(string(KindInvalidInput))
		return nil, err
	}

	jobID := uuid.NewString()
	key := CanonicalKey(req.CanonicalIdentity)

	ctx, span := p.tracer.Start(ctx, "narration.Narrate", trace.WithAttributes(
		attribute.String("narration.job_id", jobID),
		attribute.String("narration.content_item_id", req.ContentItemID),
		attribute.String("narration.language", string(lang)),
		attribute.Bool("narration.has_identity", key != ""),
	))
	defer span.End()

	finish := p.metrics.JobStarted()
	resp, err := p.narrate(ctx, jobID, lang, key, req)
	if err != nil {
		kind := KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		finish(false)
		p.metrics.Request(string(kind))
		p.events.LogAsync(jobID, eventlog.EventNarrationFailed, map[string]any{
			"content_item_id": req.ContentItemID,
			"error_kind":      string(kind),
			"error":           err.Error(),
		})
		p.logger.Printf("narration: job %s failed item=%s lang=%s kind=%s: %v", jobID, req.ContentItemID, lang, kind, err)
		return nil, err
	}

	finish(resp.Cached)
	if resp.Cached {
		p.metrics.Request("cached_" + string(resp.CacheTier))
		span.SetAttributes(attribute.String("narration.cache_tier", string(resp.CacheTier)))
	} else {
		p.metrics.Request("synthesized")
	}
	return resp, nil
}

func (p *Pipeline) narrate(ctx context.Context, jobID string, lang tts.Language, key string, req Request) (*Response, error) {
	p.events.LogAsync(jobID, eventlog.EventNarrationStarted, map[string]any{
		"content_item_id": req.ContentItemID,
		"language":        string(lang),
		"chars":           len([]rune(req.ContentText)),
	})

	if err := p.assets.RegisterContentItem(ctx, store.ContentItem{
		ID:           req.ContentItemID,
		Language:     string(lang),
		OwnerID:      req.OwnerID,
		CanonicalKey: key,
	}); err != nil {
		p.logger.Printf("narration: registering content item %s failed: %v", req.ContentItemID, err)
	}
	key = p.registeredKey(ctx, req.ContentItemID, key)

	if hit := p.resolve(ctx, req.ContentItemID, lang, key); hit != nil {
		return p.serveHit(ctx, jobID, req, hit)
	}

	if p.claims != nil {
		release, hit := p.claimOrWait(ctx, jobID, req.ContentItemID, lang, key)
		if hit != nil {
			return p.serveHit(ctx, jobID, req, hit)
		}
		if release != nil {
			defer release()
		}
	}

	return p.synthesize(ctx, jobID, lang, req)
}

// registeredKey returns the canonical key recorded when the item was first
// referenced. Items are immutable, so a stored identity wins over the request.
func (p *Pipeline) registeredKey(ctx context.Context, itemID, requested string) string {
	item, err := p.assets.GetContentItem(ctx, itemID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Printf("narration: reading content item %s failed: %v", itemID, err)
		}
		return requested
	}
	if item.CanonicalKey == "" || item.CanonicalKey == requested {
		return requested
	}
	if requested != "" {
		p.logger.Printf("narration: item %s keeps its registered identity %q, ignoring %q", itemID, item.CanonicalKey, requested)
	}
	return item.CanonicalKey
}

func (p *Pipeline) serveHit(ctx context.Context, jobID string, req Request, hit *cacheHit) (*Response, error) {
	url, err := p.objects.SignedURL(ctx, hit.asset.StoragePath, p.cfg.SignedURLTTL)
	if err != nil {
		return nil, storageError("signing cached audio url failed", err)
	}

	avoided := costs.CalculateNarrationCost(costs.NarrationUsage{
		Provider:   p.client.Name(),
		Characters: len([]rune(req.ContentText)),
	})
	p.metrics.AvoidedCost(string(hit.tier), avoided.CostCents)
	p.events.LogAsync(jobID, eventlog.EventCacheHit, map[string]any{
		"content_item_id":    req.ContentItemID,
		"tier":               string(hit.tier),
		"source_item_id":     hit.asset.ContentItemID,
		"avoided_cost_cents": avoided.CostCents,
	})
	p.logger.Printf("narration: cache hit tier=%s item=%s source=%s", hit.tier, req.ContentItemID, hit.asset.ContentItemID)

	return &Response{
		JobID:       jobID,
		AudioURL:    url,
		Cached:      true,
		CacheTier:   hit.tier,
		StoragePath: hit.asset.StoragePath,
		ByteSize:    hit.asset.ByteSize,
		Duration:    hit.asset.Duration,
	}, nil
}

func (p *Pipeline) synthesize(ctx context.Context, jobID string, lang tts.Language, req Request) (*Response, error) {
	chunks, err := p.planner.Plan(req.ContentText)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Message: "cannot split text", Err: err}
	}

	chars := 0
	for _, c := range chunks {
		chars += c.Len()
	}
	total := len(chunks)
	p.logger.Printf("narration: synthesizing item=%s lang=%s chunks=%d chars=%d", req.ContentItemID, lang, total, chars)

	parts, err := p.synth.run(ctx, chunks, lang, func(c chunk.Chunk, audio *tts.Audio, done int) {
		p.events.LogAsync(jobID, eventlog.EventChunkSynthesized, map[string]any{
			"index":    c.Index,
			"boundary": string(c.Boundary),
			"chars":    c.Len(),
			"bytes":    len(audio.Data),
		})
		if req.Progress != nil {
			req.Progress(done, total)
		}
	})
	if err != nil {
		perr := providerError(err)
		if perr.Kind == KindQuotaExceeded && p.alerts != nil {
			p.alerts.NotifyQuotaExceeded(ctx, p.client.Name(), req.ContentItemID, err.Error())
		}
		return nil, perr
	}

	asm, err := Assemble(parts)
	if err != nil {
		return nil, &Error{Kind: KindProviderError, Message: "provider returned undecodable audio", Err: err}
	}

	cost := costs.CalculateNarrationCost(costs.NarrationUsage{Provider: p.client.Name(), Characters: chars, Chunks: total})
	p.metrics.ProviderCost(cost.Provider, cost.CostCents)

	asset, url, err := p.publish(ctx, req.ContentItemID, lang, asm)
	if err != nil {
		return nil, err
	}
	p.metrics.AssetPublished(len(asm.Data))
	p.events.LogAsync(jobID, eventlog.EventAssetPublished, map[string]any{
		"content_item_id": req.ContentItemID,
		"storage_path":    asset.StoragePath,
		"bytes":           asset.ByteSize,
		"duration_ms":     asset.Duration.Milliseconds(),
		"cost_cents":      cost.CostCents,
	})
	p.logger.Printf("narration: published item=%s lang=%s bytes=%d cost_cents=%d", req.ContentItemID, lang, asset.ByteSize, cost.CostCents)

	return &Response{
		JobID:       jobID,
		AudioURL:    url,
		StoragePath: asset.StoragePath,
		ByteSize:    asset.ByteSize,
		Duration:    asset.Duration,
		Chunks:      total,
	}, nil
}

// claimKey groups requests that would produce interchangeable audio: the same
// work when an identity is known, else the same item.
func claimKey(itemID string, lang tts.Language, canonicalKey string) string {
	subject := "item:" + itemID
	if canonicalKey != "" {
		subject = "work:" + canonicalKey
	}
	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:16]) + ":" + string(lang)
}

// claimOrWait takes the in-flight claim, or waits for its holder to publish.
// It returns a cache hit if one appeared while waiting, otherwise a release
// func when this request now holds the claim (nil if it proceeds unclaimed).
// Claim failures never block synthesis.
func (p *Pipeline) claimOrWait(ctx context.Context, jobID, itemID string, lang tts.Language, key string) (func(), *cacheHit) {
	ck := claimKey(itemID, lang, key)
	release, ok, err := p.claims.Acquire(ctx, ck)
	switch {
	case err != nil:
		p.metrics.Claim("error")
		p.logger.Printf("narration: claim failed, proceeding unclaimed: %v", err)
		return nil, nil
	case ok:
		p.metrics.Claim("acquired")
		return release, nil
	}

	p.metrics.Claim("contended")
	p.events.LogAsync(jobID, eventlog.EventClaimWait, map[string]any{"content_item_id": itemID})

	timer := time.NewTimer(p.cfg.ClaimWait)
	defer timer.Stop()
	ticker := time.NewTicker(p.cfg.ClaimPoll)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			p.logger.Printf("narration: claim wait for item=%s timed out, synthesizing", itemID)
			return nil, nil
		case <-ticker.C:
		}

		if hit := p.resolve(ctx, itemID, lang, key); hit != nil {
			return nil, hit
		}
		// The holder may have failed and released without publishing.
		release, ok, err := p.claims.Acquire(ctx, ck)
		if err != nil {
			return nil, nil
		}
		if ok {
			p.metrics.Claim("acquired")
			return release, nil
		}
	}
}
