package httpapi

import (
	"errors"
	"net/http"
	"os"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/storage"
)

// handleMedia serves locally stored audio to holders of a signed URL.
func (r *Router) handleMedia(w http.ResponseWriter, req *http.Request) {
	if r.media == nil {
		http.NotFound(w, req)
		return
	}

	key := req.PathValue("path")
	if err := r.media.Verify(req.URL.Query().Get("token"), key); err != nil {
		http.Error(w, `{"error": "invalid or expired media token"}`, http.StatusForbidden)
		return
	}

	p, err := r.media.Path(key)
	if errors.Is(err, storage.ErrInvalidKey) {
		http.NotFound(w, req)
		return
	}
	if err != nil {
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	f, err := os.Open(p)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Printf("media: open %s failed: %v", key, err)
		}
		http.NotFound(w, req)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, req)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "private, max-age=300")
	http.ServeContent(w, req, info.Name(), info.ModTime(), f)
}
