package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"messages/internal/msgjson"
	"messages/internal/observability/metrics"
	"messages/internal/store"
)

type Service struct {
	store *store.Store
	now   func() time.Time
}

// PublishInput mirrors ratchet.Envelope's wire shape: the service layer
// never decrypts or interprets content, it only stores and fans it out.
type PublishInput struct {
	Kind      int
	Author    string
	Tags      json.RawMessage
	Content   []byte
	Sig       []byte
	CreatedAt int64
}

var ErrInvalidRequest = errors.New("service: invalid request")

func New(st *store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

func (s *Service) Publish(ctx context.Context, in PublishInput) (store.Event, error) {
	if in.Author == "" || len(in.Content) == 0 || len(in.Sig) == 0 {
		return store.Event{}, ErrInvalidRequest
	}
	event := store.Event{
		Kind:      in.Kind,
		Author:    in.Author,
		PTag:      extractPTag(in.Tags),
		Tags:      msgjson.JSON(append([]byte(nil), in.Tags...)),
		Content:   append([]byte(nil), in.Content...),
		Sig:       append([]byte(nil), in.Sig...),
		CreatedAt: in.CreatedAt,
	}
	if event.CreatedAt == 0 {
		event.CreatedAt = s.now().Unix()
	}
	slog.Debug("relay: publishing event", "kind", event.Kind, "author", event.Author)
	if err := s.store.Create(ctx, &event); err != nil {
		return store.Event{}, err
	}
	kind := strconv.Itoa(event.Kind)
	metrics.MessagesStoredTotal.WithLabelValues(kind).Inc()
	metrics.MessagesCiphertextBytes.WithLabelValues(kind).Observe(float64(len(event.Content)))
	return event, nil
}

// Query returns the stored events matching filter, oldest first. The
// relay's WebSocket feed calls it on every poll tick.
func (s *Service) Query(ctx context.Context, filter store.EventFilter) ([]store.Event, error) {
	events, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	metrics.MessageHistoryFetchedTotal.WithLabelValues("relay").Inc()
	return events, nil
}

func extractPTag(rawTags json.RawMessage) string {
	var tags [][2]string
	if err := json.Unmarshal(rawTags, &tags); err != nil {
		return ""
	}
	for _, tag := range tags {
		if tag[0] == "p" {
			return tag[1]
		}
	}
	return ""
}
