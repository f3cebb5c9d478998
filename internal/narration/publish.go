package narration

import (
	"context"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/store"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/tts"
)

const audioContentType = "audio/mpeg"

// AssetPath is the storage key of the narration of an item in a language.
// Resynthesis writes to the same key.
func AssetPath(contentItemID string, lang tts.Language) string {
	return "narrations/" + contentItemID + "/" + string(lang) + ".mp3"
}

// publish uploads the audio, records the asset and signs a URL for it. A
// failed metadata write leaves the uploaded object behind; the next attempt
// overwrites it.
func (p *Pipeline) publish(ctx context.Context, itemID string, lang tts.Language, a *Assembly) (*store.AudioAsset, string, error) {
	key := AssetPath(itemID, lang)

	if err := p.objects.Upload(ctx, key, a.Data, audioContentType); err != nil {
		return nil, "", storageError("upload failed", err)
	}

	asset := store.AudioAsset{
		ContentItemID: itemID,
		Language:      string(lang),
		StoragePath:   key,
		ByteSize:      int64(len(a.Data)),
		Duration:      a.Duration,
	}
	if err := p.assets.UpsertAudioAsset(ctx, asset); err != nil {
		return nil, "", storageError("saving audio asset failed", err)
	}

	url, err := p.objects.SignedURL(ctx, key, p.cfg.SignedURLTTL)
	if err != nil {
		return nil, "", storageError("signing audio url failed", err)
	}
	return &asset, url, nil
}
