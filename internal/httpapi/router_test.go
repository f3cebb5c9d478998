package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/metrics"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/narration"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/notifications"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/storage"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/tts"
)

const testSecret = "test-secret"

type narrateFunc func(ctx context.Context, req narration.Request) (*narration.Response, error)

func (f narrateFunc) Narrate(ctx context.Context, req narration.Request) (*narration.Response, error) {
	return f(ctx, req)
}

type recordingPush struct {
	sent chan notifications.NarrationReady
}

func (p *recordingPush) SendNarrationReady(_ string, n notifications.NarrationReady) error {
	p.sent <- n
	return nil
}

func newTestRouter(t *testing.T, n Narrator, media MediaStore, push ReadyNotifier) http.Handler {
	t.Helper()
	return NewRouter(RouterConfig{JWTSecret: testSecret}, log.New(io.Discard, "", 0), n, media, push, metrics.New())
}

func testToken(t *testing.T) string {
	t.Helper()
	tok, err := IssueToken(testSecret, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return tok
}

func postNarration(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/narrations", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected runtime metrics in exposition")
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(t, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/narrations", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestWithAuth(t *testing.T) {
	called := narrateFunc(func(context.Context, narration.Request) (*narration.Response, error) {
		return &narration.Response{JobID: "j"}, nil
	})
	h := newTestRouter(t, called, nil, nil)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
		UserID:           "user-1",
	})
	expiredToken, _ := expired.SignedString([]byte(testSecret))
	foreignToken, _ := IssueToken("other-secret", "user-1", time.Hour)
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{UserID: "user-1"}).SignedString([]byte(testSecret))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"expired", "Bearer " + expiredToken, http.StatusUnauthorized},
		{"other secret", "Bearer " + foreignToken, http.StatusUnauthorized},
		{"no expiry", "Bearer " + noExpiry, http.StatusUnauthorized},
		{"valid", "Bearer " + testToken(t), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/narrations", strings.NewReader(`{}`))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestQueryTokenOnlyForGet(t *testing.T) {
	h := newTestRouter(t, narrateFunc(func(context.Context, narration.Request) (*narration.Response, error) {
		return &narration.Response{}, nil
	}), nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/narrations?token="+testToken(t), strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestCreateNarration(t *testing.T) {
	var got narration.Request
	n := narrateFunc(func(_ context.Context, req narration.Request) (*narration.Response, error) {
		got = req
		return &narration.Response{
			JobID:     "job-1",
			AudioURL:  "https://cdn.example.com/a.mp3?sig=1",
			Cached:    true,
			CacheTier: narration.TierGlobal,
			ByteSize:  1234,
			Duration:  2 * time.Second,
		}, nil
	})
	push := &recordingPush{sent: make(chan notifications.NarrationReady, 1)}
	h := newTestRouter(t, n, nil, push)

	rec := postNarration(t, h, `{
		"contentText": "Hello world.",
		"language": "en",
		"contentItemId": "item-1",
		"canonicalIdentity": {"title": "Dune", "author": "Frank Herbert"},
		"deviceToken": "abcdef"
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	var resp narrationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.AudioURL != "https://cdn.example.com/a.mp3?sig=1" || !resp.Cached || resp.CacheTier != "global" || resp.DurationMs != 2000 {
		t.Errorf("resp = %+v", resp)
	}
	if got.OwnerID != "user-1" || got.ContentItemID != "item-1" || got.CanonicalIdentity == nil || got.CanonicalIdentity.Title != "Dune" {
		t.Errorf("request = %+v", got)
	}

	select {
	case sent := <-push.sent:
		if sent.ContentItemID != "item-1" || !sent.Cached {
			t.Errorf("push = %+v", sent)
		}
	case <-time.After(time.Second):
		t.Error("expected a ready push")
	}
}

func TestCreateNarrationErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
		retryable  bool
	}{
		{"invalid", &narration.Error{Kind: narration.KindInvalidInput, Message: "contentText is required"}, http.StatusBadRequest, "INVALID_INPUT", false},
		{"rate", &narration.Error{Kind: narration.KindRateLimited, Message: "speech synthesis failed", Err: tts.ErrRateLimited}, http.StatusTooManyRequests, "RATE_LIMITED", true},
		{"quota", &narration.Error{Kind: narration.KindQuotaExceeded, Message: "speech synthesis failed", Err: tts.ErrQuotaExceeded}, http.StatusPaymentRequired, "QUOTA_EXCEEDED", false},
		{"provider", &narration.Error{Kind: narration.KindProviderError, Message: "speech synthesis failed", Err: errors.New("secret upstream detail")}, http.StatusBadGateway, "PROVIDER_ERROR", false},
		{"storage", &narration.Error{Kind: narration.KindStorageError, Message: "upload failed", Err: errors.New("s3 secret detail")}, http.StatusInternalServerError, "STORAGE_ERROR", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, narrateFunc(func(context.Context, narration.Request) (*narration.Response, error) {
				return nil, tt.err
			}), nil, nil)

			rec := postNarration(t, h, `{"contentText":"x","language":"en","contentItemId":"a"}`)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.ErrorKind != tt.wantKind || body.Retryable != tt.retryable {
				t.Errorf("body = %+v", body)
			}
			if strings.Contains(body.Message, "secret") {
				t.Errorf("message leaks wrapped error: %q", body.Message)
			}
		})
	}
}

func TestCreateNarrationBadBody(t *testing.T) {
	h := newTestRouter(t, narrateFunc(func(context.Context, narration.Request) (*narration.Response, error) {
		t.Error("narrator should not be called")
		return nil, nil
	}), nil, nil)

	rec := postNarration(t, h, `{"contentText":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPanicRecovery(t *testing.T) {
	h := newTestRouter(t, narrateFunc(func(context.Context, narration.Request) (*narration.Response, error) {
		panic("boom")
	}), nil, nil)

	rec := postNarration(t, h, `{"contentText":"x","language":"en","contentItemId":"a"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestMedia(t *testing.T) {
	dir := t.TempDir()
	media, err := storage.NewLocalStore(dir, "http://localhost:8080", []byte("media-secret"))
	if err != nil {
		t.Fatal(err)
	}
	key := "narrations/item-1/en.mp3"
	if err := media.Upload(context.Background(), key, []byte("ID3audio"), "audio/mpeg"); err != nil {
		t.Fatal(err)
	}
	signed, err := media.SignedURL(context.Background(), key, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	otherSigned, _ := media.SignedURL(context.Background(), "narrations/item-2/en.mp3", time.Minute)

	h := newTestRouter(t, nil, media, nil)

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"valid", strings.TrimPrefix(signed, "http://localhost:8080"), http.StatusOK},
		{"no token", "/media/" + key, http.StatusForbidden},
		{"token for another key", "/media/" + key + "?" + strings.SplitN(otherSigned, "?", 2)[1], http.StatusForbidden},
		{"missing object", strings.TrimPrefix(otherSigned, "http://localhost:8080"), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK {
				if rec.Body.String() != "ID3audio" || rec.Header().Get("Content-Type") != "audio/mpeg" {
					t.Errorf("served %q (%s)", rec.Body.String(), rec.Header().Get("Content-Type"))
				}
			}
		})
	}

	if _, err := os.Stat(filepath.Join(dir, "narrations", "item-1", "en.mp3")); err != nil {
		t.Errorf("object file missing: %v", err)
	}
}

func TestMediaDisabledWithoutLocalStore(t *testing.T) {
	h := newTestRouter(t, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/narrations/a/en.mp3?token=x", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func dialNarrationWS(t *testing.T, h http.Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/narrations/ws?token=" + testToken(t)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrames(t *testing.T, conn *websocket.Conn) []map[string]any {
	t.Helper()
	var frames []map[string]any
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f map[string]any
		if err := conn.ReadJSON(&f); err != nil {
			return frames
		}
		frames = append(frames, f)
	}
}

func TestNarrationWSStreamsProgress(t *testing.T) {
	n := narrateFunc(func(_ context.Context, req narration.Request) (*narration.Response, error) {
		for i := 1; i <= 3; i++ {
			req.Progress(i, 3)
		}
		return &narration.Response{JobID: "job-ws", AudioURL: "https://x/a.mp3", Chunks: 3}, nil
	})
	conn := dialNarrationWS(t, newTestRouter(t, n, nil, nil))

	if err := conn.WriteJSON(map[string]any{"contentText": "Hello.", "language": "en", "contentItemId": "a"}); err != nil {
		t.Fatal(err)
	}
	frames := readFrames(t, conn)
	if len(frames) != 4 {
		t.Fatalf("frames = %v, want 3 progress + result", frames)
	}
	for i := 0; i < 3; i++ {
		if frames[i]["type"] != "progress" || frames[i]["done"] != float64(i+1) || frames[i]["total"] != float64(3) {
			t.Errorf("frame %d = %v", i, frames[i])
		}
	}
	if frames[3]["type"] != "result" || frames[3]["audioUrl"] != "https://x/a.mp3" || frames[3]["jobId"] != "job-ws" {
		t.Errorf("result frame = %v", frames[3])
	}
}

func TestNarrationWSError(t *testing.T) {
	n := narrateFunc(func(context.Context, narration.Request) (*narration.Response, error) {
		return nil, &narration.Error{Kind: narration.KindQuotaExceeded, Message: "speech synthesis failed"}
	})
	conn := dialNarrationWS(t, newTestRouter(t, n, nil, nil))

	if err := conn.WriteJSON(map[string]any{"contentText": "Hello.", "language": "en", "contentItemId": "a"}); err != nil {
		t.Fatal(err)
	}
	frames := readFrames(t, conn)
	if len(frames) != 1 || frames[0]["type"] != "error" || frames[0]["errorKind"] != "QUOTA_EXCEEDED" {
		t.Errorf("frames = %v", frames)
	}
}

func TestNarrationWSRejectsBadMessage(t *testing.T) {
	conn := dialNarrationWS(t, newTestRouter(t, nil, nil, nil))
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	frames := readFrames(t, conn)
	if len(frames) != 1 || frames[0]["errorKind"] != "INVALID_INPUT" {
		t.Errorf("frames = %v", frames)
	}
}

// blockingNarrator parks Narrate until released, then reports whether the
// context it was given had been cancelled.
type blockingNarrator struct {
	started chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func newBlockingNarrator() *blockingNarrator {
	return &blockingNarrator{
		started: make(chan struct{}),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}
}

func (b *blockingNarrator) Narrate(ctx context.Context, req narration.Request) (*narration.Response, error) {
	close(b.started)
	<-b.release
	if req.Progress != nil {
		req.Progress(1, 2)
	}
	b.ctxErr <- ctx.Err()
	return &narration.Response{JobID: "job-1", AudioURL: "https://x/a.mp3", Chunks: 2}, nil
}

func (b *blockingNarrator) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-b.started:
	case <-time.After(5 * time.Second):
		t.Fatal("narration never started")
	}
}

func (b *blockingNarrator) finish(t *testing.T) {
	t.Helper()
	// Let the server notice the disconnect before the job completes.
	time.Sleep(50 * time.Millisecond)
	close(b.release)
	select {
	case err := <-b.ctxErr:
		if err != nil {
			t.Errorf("narration context = %v after client disconnect, want live", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("narration never finished")
	}
}

func TestCreateNarrationOutlivesClientDisconnect(t *testing.T) {
	n := newBlockingNarrator()
	srv := httptest.NewServer(newTestRouter(t, n, nil, nil))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/narrations",
		strings.NewReader(`{"contentText":"x","language":"en","contentItemId":"a"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken(t))

	go func() {
		<-n.started
		cancel()
	}()
	if resp, err := http.DefaultClient.Do(req); err == nil {
		resp.Body.Close()
		t.Fatal("expected the client request to be cancelled")
	}
	n.finish(t)
}

func TestNarrationWSOutlivesClientDisconnect(t *testing.T) {
	n := newBlockingNarrator()
	conn := dialNarrationWS(t, newTestRouter(t, n, nil, nil))

	if err := conn.WriteJSON(map[string]any{"contentText": "Hello.", "language": "en", "contentItemId": "a"}); err != nil {
		t.Fatal(err)
	}
	n.waitStarted(t)
	conn.Close()
	n.finish(t)
}
