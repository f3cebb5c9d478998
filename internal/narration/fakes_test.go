package narration

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/store"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/tts"
)

// fakeTTS returns "[text]" for every chunk, optionally base64-encoded.
type fakeTTS struct {
	mu       sync.Mutex
	calls    int
	texts    []string
	failAt   int // 1-based call number that fails; 0 never fails
	failErr  error
	base64   bool
	duration time.Duration
	delay    func(text string) time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeTTS) Name() string { return "fake" }

func (f *fakeTTS) Synthesize(ctx context.Context, text string, lang tts.Language) (*tts.Audio, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	call := f.calls
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(text)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failAt != 0 && call == f.failAt {
		return nil, f.failErr
	}

	data := []byte("[" + text + "]")
	audio := &tts.Audio{Data: data, Encoding: tts.EncodingRaw, Format: "mp3", Duration: f.duration}
	if f.base64 {
		audio.Data = []byte(base64.StdEncoding.EncodeToString(data))
		audio.Encoding = tts.EncodingBase64
	}
	return audio, nil
}

func (f *fakeTTS) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type itemLang struct{ item, lang string }

// memAssets is an in-memory AssetStore with error injection.
type memAssets struct {
	mu        sync.Mutex
	items     map[string]store.ContentItem
	assets    map[itemLang]store.AudioAsset
	upserts   int
	lookupErr error
	upsertErr error
}

func newMemAssets() *memAssets {
	return &memAssets{
		items:  map[string]store.ContentItem{},
		assets: map[itemLang]store.AudioAsset{},
	}
}

func (m *memAssets) RegisterContentItem(_ context.Context, item store.ContentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		m.items[item.ID] = item
	}
	return nil
}

func (m *memAssets) GetContentItem(_ context.Context, id string) (*store.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	item, ok := m.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (m *memAssets) GetAudioAsset(_ context.Context, itemID, lang string) (*store.AudioAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	a, ok := m.assets[itemLang{itemID, lang}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (m *memAssets) FindAssetByCanonicalKey(_ context.Context, key, lang, exclude string) (*store.AudioAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	for k, a := range m.assets {
		if k.lang != lang || k.item == exclude {
			continue
		}
		if m.items[k.item].CanonicalKey == key {
			return &a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memAssets) UpsertAudioAsset(ctx context.Context, a store.AudioAsset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts++
	a.CreatedAt = time.Now()
	m.assets[itemLang{a.ContentItemID, a.Language}] = a
	return nil
}

func (m *memAssets) put(a store.AudioAsset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[itemLang{a.ContentItemID, a.Language}] = a
}

// memObjects is an in-memory ObjectStore that signs URLs as "signed://key?ttl".
type memObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
	signErr   error
	signed    int
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}}
}

func (m *memObjects) Upload(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return m.uploadErr
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memObjects) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signErr != nil {
		return "", m.signErr
	}
	m.signed++
	return "signed://" + key + "?ttl=" + ttl.String(), nil
}

// fakeClaimer hands out claims from a set, optionally failing.
type fakeClaimer struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released int
}

func (c *fakeClaimer) Acquire(_ context.Context, key string) (func(), bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	if c.held[key] {
		return nil, false, nil
	}
	c.held[key] = true
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.held, key)
		c.released++
	}, true, nil
}

type recordingAlerter struct {
	mu    sync.Mutex
	items []string
}

func (a *recordingAlerter) NotifyQuotaExceeded(_ context.Context, _, itemID, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, itemID)
}

var errDatastoreDown = errors.New("datastore unavailable")
