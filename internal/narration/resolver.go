package narration

import (
	"context"
	"errors"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/store"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/tts"
)

// CacheTier says which lookup produced a cache hit.
type CacheTier string

const (
	// TierLocal is an asset of the requested content item itself.
	TierLocal CacheTier = "local"
	// TierGlobal is an asset of another content item with the same
	// canonical identity.
	TierGlobal CacheTier = "global"
)

type cacheHit struct {
	tier  CacheTier
	asset *store.AudioAsset
}

// resolve looks for existing audio, exact tier first. A failing lookup counts
// as a miss so that an unavailable datastore never fails the request here.
func (p *Pipeline) resolve(ctx context.Context, itemID string, lang tts.Language, canonicalKey string) *cacheHit {
	asset, err := p.assets.GetAudioAsset(ctx, itemID, string(lang))
	if hit := p.lookupResult(TierLocal, asset, err); hit != nil {
		return hit
	}

	if canonicalKey == "" {
		return nil
	}
	asset, err = p.assets.FindAssetByCanonicalKey(ctx, canonicalKey, string(lang), itemID)
	return p.lookupResult(TierGlobal, asset, err)
}

func (p *Pipeline) lookupResult(tier CacheTier, asset *store.AudioAsset, err error) *cacheHit {
	switch {
	case err == nil && asset != nil:
		p.metrics.CacheLookup(string(tier), "hit")
		return &cacheHit{tier: tier, asset: asset}
	case err == nil, errors.Is(err, store.ErrNotFound):
		p.metrics.CacheLookup(string(tier), "miss")
	default:
		p.metrics.CacheLookup(string(tier), "error")
		p.logger.Printf("narration: %s cache lookup failed, treating as miss: %v", tier, err)
	}
	return nil
}
