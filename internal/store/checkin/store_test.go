package checkin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	model "github.com/cheqin-app/backend/internal/model/checkin"
	store "github.com/cheqin-app/backend/internal/store/checkin"
)

func TestStoreSaveAssignsID(t *testing.T) {
	s := store.NewStore()
	ctx := context.Background()

	saved, err := s.Save(ctx, model.CheckIn{CompanionID: "mira", Status: model.StatusCompleted})
	if err != nil {
		t.Fatalf("Save err: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected generated ID")
	}
	if saved.Timestamp.IsZero() {
		t.Fatal("expected assigned timestamp")
	}

	got, err := s.Get(ctx, saved.ID)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if got.CompanionID != "mira" {
		t.Fatalf("unexpected companion: %s", got.CompanionID)
	}
}

func TestStoreGetNotFound(t *testing.T) {
	s := store.NewStore()
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	s := store.NewStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_, err := s.Save(ctx, model.CheckIn{
			CompanionID: "mira",
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			Status:      model.StatusCompleted,
		})
		if err != nil {
			t.Fatalf("Save err: %v", err)
		}
	}

	records, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp.After(records[i-1].Timestamp) {
			t.Fatal("records not ordered newest first")
		}
	}
}
