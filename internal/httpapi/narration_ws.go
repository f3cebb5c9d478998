package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/narration"
)

const (
	wsRequestTimeout = 30 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is one server message: progress, result or error.
type wsFrame struct {
	Type  string `json:"type"`
	Done  int    `json:"done,omitempty"`
	Total int    `json:"total,omitempty"`
	*narrationResponse
	*errorResponse
}

// narrationStream manages a single websocket narration job.
type narrationStream struct {
	conn   *websocket.Conn
	connMu sync.Mutex
	gone   atomic.Bool // client disconnected
}

func (s *narrationStream) send(f wsFrame) error {
	if s.gone.Load() {
		return nil
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(f)
}

func (r *Router) handleNarrationWS(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("narration_ws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s := &narrationStream{conn: conn}

	_ = conn.SetReadDeadline(time.Now().Add(wsRequestTimeout))
	conn.SetReadLimit(r.cfg.MaxBodyBytes)
	_, msg, err := conn.ReadMessage()
	if err != nil {
		r.logger.Printf("narration_ws: no request received: %v", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	var body narrationRequest
	if err := json.Unmarshal(msg, &body); err != nil {
		_ = s.send(wsFrame{Type: "error", errorResponse: &errorResponse{
			ErrorKind: string(narration.KindInvalidInput),
			Message:   "invalid request message",
		}})
		return
	}

	// The client only closes from here on; a read error means it went away.
	// The job keeps running and publishes for the next request to hit.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.gone.Store(true)
				return
			}
		}
	}()

	nreq := body.toRequest(user)
	nreq.Progress = func(done, total int) {
		if err := s.send(wsFrame{Type: "progress", Done: done, Total: total}); err != nil {
			r.logger.Printf("narration_ws: progress write failed: %v", err)
		}
	}

	resp, err := r.narrator.Narrate(context.WithoutCancel(req.Context()), nreq)
	if s.gone.Load() {
		r.logger.Printf("narration_ws: client left before job finished (item=%s, err=%v)", body.ContentItemID, err)
	}
	if err != nil {
		e := r.reportFailure(req, err)
		_ = s.send(wsFrame{Type: "error", errorResponse: &e})
		s.close()
		return
	}

	r.notifyReady(body.DeviceToken, body.ContentItemID, body.Language, resp)
	out := newNarrationResponse(resp)
	if err := s.send(wsFrame{Type: "result", narrationResponse: &out}); err != nil {
		r.logger.Printf("narration_ws: result write failed for job %s: %v", resp.JobID, err)
		return
	}
	s.close()
}

func (s *narrationStream) close() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
