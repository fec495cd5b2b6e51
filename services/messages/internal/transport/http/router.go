package http

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"messages/internal/observability/middleware"
	"messages/internal/service"
	"messages/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relaykit/httpx"
)

type Handler struct {
	svc      *service.Service
	poll     time.Duration
	batchMax int
}

type publishRequest struct {
	Kind      int             `json:"kind"`
	Author    string          `json:"author"`
	Tags      json.RawMessage `json:"tags"`
	Content   string          `json:"content"`
	Sig       string          `json:"sig"`
	CreatedAt int64           `json:"createdAt"`
}

type publishResponse struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
}

type wireEvent struct {
	ID        string          `json:"id"`
	Kind      int             `json:"kind"`
	Author    string          `json:"author"`
	Tags      json.RawMessage `json:"tags"`
	Content   string          `json:"content"`
	Sig       string          `json:"sig"`
	CreatedAt int64           `json:"createdAt"`
}

// NewRouter wires up the relay HTTP surface. batchMax caps how many events
// handleWS pushes per poll tick, so a subscriber that fell far behind
// doesn't get the whole backlog in one frame burst; it catches up over
// several ticks instead.
func NewRouter(svc *service.Service, poll time.Duration, batchMax int) http.Handler {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	if batchMax <= 0 {
		batchMax = 50
	}
	h := &Handler{svc: svc, poll: poll, batchMax: batchMax}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/relay/publish", h.handlePublish)
	mux.HandleFunc("/relay/ws", h.handleWS)
	return httpx.LogRequests(middleware.WithRequestAndTrace(middleware.WithMetrics(mux)))
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Author == "" || len(req.Tags) == 0 || !json.Valid(req.Tags) {
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		http.Error(w, "invalid content", http.StatusBadRequest)
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.Sig)
	if err != nil {
		http.Error(w, "invalid sig", http.StatusBadRequest)
		return
	}
	event, err := h.svc.Publish(r.Context(), service.PublishInput{
		Kind:      req.Kind,
		Author:    req.Author,
		Tags:      req.Tags,
		Content:   content,
		Sig:       sig,
		CreatedAt: req.CreatedAt,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusCreated, publishResponse{ID: event.ID.String(), CreatedAt: event.CreatedAt})
}

// handleWS implements the relay side of ratchet.Transport.Subscribe: the
// client supplies authors/kinds/p query parameters, and the relay polls
// the event store for anything new since the connection was opened,
// pushing it as a text frame per event.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	filter := store.EventFilter{
		Authors: splitNonEmpty(r.URL.Query().Get("authors")),
		PTag:    splitNonEmpty(r.URL.Query().Get("p")),
		Since:   time.Now(),
	}
	for _, raw := range splitNonEmpty(r.URL.Query().Get("kinds")) {
		kind, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid kinds", http.StatusBadRequest)
			return
		}
		filter.Kinds = append(filter.Kinds, kind)
	}

	ws, err := acceptWebSocket(w, r)
	if err != nil {
		slog.Warn("relay: ws handshake failed", "error", err)
		return
	}
	defer ws.close()

	ctx := r.Context()
	sendNew := func() error {
		events, err := h.svc.Query(ctx, filter)
		if err != nil {
			return err
		}
		if len(events) > h.batchMax {
			events = events[:h.batchMax]
		}
		for _, event := range events {
			if event.CreatedAt < filter.Since.Unix() {
				continue
			}
			data, err := json.Marshal(wireEvent{
				ID:        event.ID.String(),
				Kind:      event.Kind,
				Author:    event.Author,
				Tags:      json.RawMessage(event.Tags),
				Content:   base64.StdEncoding.EncodeToString(event.Content),
				Sig:       base64.StdEncoding.EncodeToString(event.Sig),
				CreatedAt: event.CreatedAt,
			})
			if err != nil {
				return err
			}
			if err := ws.writeFrame(opText, data); err != nil {
				return err
			}
			if event.CreatedAt >= filter.Since.Unix() {
				filter.Since = time.Unix(event.CreatedAt+1, 0)
			}
		}
		return nil
	}

	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sendNew(); err != nil {
				slog.Warn("relay: ws send failed", "error", err)
				return
			}
			if err := ws.writeFrame(opPing, nil); err != nil {
				slog.Warn("relay: ws ping failed", "error", err)
				return
			}
		}
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const (
	opText = 0x1
	opPing = 0x9
)

type wsServerConn struct {
	conn net.Conn
	w    *bufio.Writer
	mu   sync.Mutex
}

func acceptWebSocket(w http.ResponseWriter, r *http.Request) (*wsServerConn, error) {
	if !strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, fmt.Errorf("missing upgrade header")
	}
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, fmt.Errorf("invalid upgrade value")
	}
	key := strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, fmt.Errorf("missing websocket key")
	}
	accept := computeAccept(key)
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return nil, fmt.Errorf("hijacking not supported")
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		return nil, err
	}
	response := fmt.Sprintf("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: %s\r\n\r\n", accept)
	if _, err := rw.WriteString(response); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := rw.Flush(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &wsServerConn{conn: conn, w: bufio.NewWriter(conn)}, nil
}

func (c *wsServerConn) writeFrame(opcode byte, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	if err := c.w.WriteByte(0x80 | opcode); err != nil {
		return err
	}
	length := len(payload)
	switch {
	case length <= 125:
		if err := c.w.WriteByte(byte(length)); err != nil {
			return err
		}
	case length < 65536:
		if err := c.w.WriteByte(126); err != nil {
			return err
		}
		if err := binary.Write(c.w, binary.BigEndian, uint16(length)); err != nil {
			return err
		}
	default:
		if err := c.w.WriteByte(127); err != nil {
			return err
		}
		if err := binary.Write(c.w, binary.BigEndian, uint64(length)); err != nil {
			return err
		}
	}
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *wsServerConn) close() {
	_ = c.conn.Close()
}

func computeAccept(key string) string {
	const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	sum := sha1.Sum([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}
