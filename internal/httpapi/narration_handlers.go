package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/narration"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/notifications"
)

type narrationRequest struct {
	ContentText       string              `json:"contentText"`
	Language          string              `json:"language"`
	ContentItemID     string              `json:"contentItemId"`
	CanonicalIdentity *narration.Identity `json:"canonicalIdentity,omitempty"`
	DeviceToken       string              `json:"deviceToken,omitempty"`
}

type narrationResponse struct {
	JobID      string `json:"jobId"`
	AudioURL   string `json:"audioUrl"`
	Cached     bool   `json:"cached"`
	CacheTier  string `json:"cacheTier,omitempty"`
	ByteSize   int64  `json:"byteSize"`
	DurationMs int64  `json:"durationMs,omitempty"`
	Chunks     int    `json:"chunks,omitempty"`
}

type errorResponse struct {
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (b narrationRequest) toRequest(user *AuthUser) narration.Request {
	req := narration.Request{
		ContentText:       b.ContentText,
		Language:          b.Language,
		ContentItemID:     b.ContentItemID,
		CanonicalIdentity: b.CanonicalIdentity,
	}
	if user != nil {
		req.OwnerID = user.ID
	}
	return req
}

func newNarrationResponse(resp *narration.Response) narrationResponse {
	return narrationResponse{
		JobID:      resp.JobID,
		AudioURL:   resp.AudioURL,
		Cached:     resp.Cached,
		CacheTier:  string(resp.CacheTier),
		ByteSize:   resp.ByteSize,
		DurationMs: resp.Duration.Milliseconds(),
		Chunks:     resp.Chunks,
	}
}

// statusForKind maps a failure kind to the HTTP status returned to clients.
func statusForKind(kind narration.ErrorKind) int {
	switch kind {
	case narration.KindInvalidInput:
		return http.StatusBadRequest
	case narration.KindRateLimited:
		return http.StatusTooManyRequests
	case narration.KindQuotaExceeded:
		return http.StatusPaymentRequired
	case narration.KindProviderError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// describeError converts a pipeline error for clients. Wrapped provider and
// datastore details stay in the logs.
func describeError(err error) errorResponse {
	kind := narration.KindOf(err)
	msg := "narration failed"
	var ne *narration.Error
	if errors.As(err, &ne) && ne.Message != "" {
		msg = ne.Message
		if kind == narration.KindInvalidInput && ne.Err != nil {
			msg += ": " + ne.Err.Error()
		}
	}
	return errorResponse{ErrorKind: string(kind), Message: msg, Retryable: kind.Retryable()}
}

func (r *Router) reportFailure(req *http.Request, err error) errorResponse {
	e := describeError(err)
	switch narration.ErrorKind(e.ErrorKind) {
	case narration.KindProviderError, narration.KindStorageError:
		captureError(req, err, "narration: "+e.ErrorKind)
	}
	return e
}

func (r *Router) handleCreateNarration(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, r.cfg.MaxBodyBytes)

	var body narrationRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			ErrorKind: string(narration.KindInvalidInput),
			Message:   "invalid request body",
		})
		return
	}

	// A client disconnect must not discard provider calls already made.
	resp, err := r.narrator.Narrate(context.WithoutCancel(req.Context()), body.toRequest(getAuthUser(req.Context())))
	if err != nil {
		e := r.reportFailure(req, err)
		writeJSON(w, statusForKind(narration.ErrorKind(e.ErrorKind)), e)
		return
	}

	r.notifyReady(body.DeviceToken, body.ContentItemID, body.Language, resp)
	writeJSON(w, http.StatusOK, newNarrationResponse(resp))
}

// notifyReady pushes to the device, if any, without delaying the response.
func (r *Router) notifyReady(deviceToken, itemID, language string, resp *narration.Response) {
	if r.push == nil || deviceToken == "" {
		return
	}
	n := notifications.NarrationReady{ContentItemID: itemID, Language: language, Cached: resp.Cached}
	go func() {
		if err := r.push.SendNarrationReady(deviceToken, n); err != nil {
			r.logger.Printf("httpapi: narration push for %s failed: %v", itemID, err)
		}
	}()
}
