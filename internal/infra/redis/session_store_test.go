package redis

import (
	"context"
	"testing"
	"time"

	"medquiz-service/internal/app"
	"medquiz-service/internal/infra/memory"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr := runMiniredis(t)
	store := NewSessionStore(newClient(mr), time.Minute)
	banks := memory.NewBankRepository(seededStore(t), time.Minute)
	service := app.NewSessionService(store, banks, nil, func(string) app.QuestionGenerator { return nil })

	view, err := service.StartCustom(context.Background(), app.Owner{UserID: "creator"}, "quiz-1", "", "")
	if err != nil {
		t.Fatalf("start custom: %v", err)
	}
	key := "medquiz:session:" + view.ID
	if !mr.Exists(key) {
		t.Fatalf("expected redis key to be set")
	}
	if got, _ := mr.Get(key); got != "creator" {
		t.Fatalf("expected owner stored in liveness key, got %q", got)
	}

	if err := service.Discard(context.Background(), view.ID, "creator"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if mr.Exists(key) {
		t.Fatalf("expected redis key to be removed")
	}
	if _, ok := store.Get(view.ID); ok {
		t.Fatalf("expected session removed from local map")
	}
}

func TestSessionStoreRefreshesTTLOnGet(t *testing.T) {
	mr := runMiniredis(t)
	store := NewSessionStore(newClient(mr), time.Minute)
	banks := memory.NewBankRepository(seededStore(t), time.Minute)
	service := app.NewSessionService(store, banks, nil, func(string) app.QuestionGenerator { return nil })

	view, err := service.StartCustom(context.Background(), app.Owner{UserID: "creator"}, "quiz-1", "", "")
	if err != nil {
		t.Fatalf("start custom: %v", err)
	}
	t.Cleanup(func() { _ = service.Discard(context.Background(), view.ID, "creator") })
	mr.FastForward(40 * time.Second)
	if _, ok := store.Get(view.ID); !ok {
		t.Fatalf("expected session")
	}
	if ttl := mr.TTL("medquiz:session:" + view.ID); ttl != time.Minute {
		t.Fatalf("expected ttl refreshed to 1m, got %v", ttl)
	}
}
