package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"messages/internal/observability/metrics"
	"messages/internal/service"
	"messages/internal/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	metrics.MustRegister("messages-test")
}

func setupService(t *testing.T) *service.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return service.New(st)
}

func publishInput(kind int, author, ptag string) service.PublishInput {
	tags := [][2]string{{"header", "aGVhZGVy"}}
	if ptag != "" {
		tags = append(tags, [2]string{"p", ptag})
	}
	raw, _ := json.Marshal(tags)
	return service.PublishInput{
		Kind:    kind,
		Author:  author,
		Tags:    raw,
		Content: []byte("ciphertext"),
		Sig:     []byte("signature"),
	}
}

func TestPublishAndQueryByAuthor(t *testing.T) {
	svc := setupService(t)

	if _, err := svc.Publish(context.Background(), publishInput(9400, "author-a", "")); err != nil {
		t.Fatalf("publish a: %v", err)
	}
	if _, err := svc.Publish(context.Background(), publishInput(9400, "author-b", "")); err != nil {
		t.Fatalf("publish b: %v", err)
	}

	events, err := svc.Query(context.Background(), store.EventFilter{
		Authors: []string{"author-a"},
		Kinds:   []int{9400},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 || events[0].Author != "author-a" {
		t.Fatalf("expected exactly author-a's event, got %+v", events)
	}
}

func TestPublishStampsCreatedAtAndID(t *testing.T) {
	svc := setupService(t)

	event, err := svc.Publish(context.Background(), publishInput(9400, "author-c", ""))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if event.CreatedAt == 0 {
		t.Fatalf("expected a created_at stamp")
	}
	if event.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatalf("expected a generated event id")
	}
}

func TestQueryByPTag(t *testing.T) {
	svc := setupService(t)

	if _, err := svc.Publish(context.Background(), publishInput(9400, "thrower", "rendezvous-1")); err != nil {
		t.Fatalf("publish tagged: %v", err)
	}
	if _, err := svc.Publish(context.Background(), publishInput(9400, "other", "")); err != nil {
		t.Fatalf("publish untagged: %v", err)
	}

	events, err := svc.Query(context.Background(), store.EventFilter{PTag: []string{"rendezvous-1"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 || events[0].PTag != "rendezvous-1" {
		t.Fatalf("expected exactly the tagged event, got %+v", events)
	}
}

func TestPublishRejectsIncompleteEvents(t *testing.T) {
	svc := setupService(t)

	in := publishInput(9400, "", "")
	if _, err := svc.Publish(context.Background(), in); err == nil {
		t.Fatalf("expected rejection of an authorless event")
	}

	in = publishInput(9400, "author-d", "")
	in.Content = nil
	if _, err := svc.Publish(context.Background(), in); err == nil {
		t.Fatalf("expected rejection of an empty-content event")
	}
}
