package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"visaslot-notifier/pkg/notifier"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(nil, "", t.TempDir(), logger)
}

func testPrefs(chatID int64) *notifier.Preferences {
	return &notifier.Preferences{
		ChatID:        chatID,
		VisaType:      "B1/B2",
		ConsulateCity: "MUMBAI",
		ConsulateType: "VAC",
		CheckInterval: 5 * time.Minute,
		YearFilter:    []string{"2025"},
		NotifiedSlots: []string{"MUMBAI VAC_2025-03-01"},
		Active:        true,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	want := testPrefs(42)
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load(ctx, 42)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ChatID != want.ChatID || got.VisaType != want.VisaType || got.ConsulateCity != want.ConsulateCity {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
	if got.CheckInterval != want.CheckInterval {
		t.Errorf("CheckInterval = %v, want %v", got.CheckInterval, want.CheckInterval)
	}
	if len(got.NotifiedSlots) != 1 || got.NotifiedSlots[0] != want.NotifiedSlots[0] {
		t.Errorf("NotifiedSlots = %v, want %v", got.NotifiedSlots, want.NotifiedSlots)
	}
	if !got.Active {
		t.Error("Active not preserved")
	}
}

func TestLoadMissing(t *testing.T) {
	s := testStore(t)
	if _, err := s.Load(context.Background(), 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	prefs := testPrefs(42)
	if err := s.Save(ctx, prefs); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	prefs.ConsulateCity = "DELHI"
	if err := s.Save(ctx, prefs); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load(ctx, 42)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ConsulateCity != "DELHI" {
		t.Errorf("ConsulateCity = %q, want DELHI", got.ConsulateCity)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	if err := s.Save(ctx, testPrefs(42)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Delete(ctx, 42); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Load(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after delete error = %v, want ErrNotFound", err)
	}

	// Deleting again is a no-op.
	if err := s.Delete(ctx, 42); err != nil {
		t.Errorf("Delete() of missing record error = %v", err)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	for _, id := range []int64{1, 2, 3} {
		if err := s.Save(ctx, testPrefs(id)); err != nil {
			t.Fatalf("Save(%d) error = %v", id, err)
		}
	}

	records, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(records))
	}
	seen := map[int64]bool{}
	for _, r := range records {
		seen[r.ChatID] = true
	}
	for _, id := range []int64{1, 2, 3} {
		if !seen[id] {
			t.Errorf("List() missing chat_id %d", id)
		}
	}
}

func TestListSkipsCorruptAndForeignFiles(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	if err := s.Save(ctx, testPrefs(42)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.localPath, "pref-99.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.localPath, "README.txt"), []byte("hi"), 0o600); err != nil {
		t.Fatal(err)
	}

	records, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 || records[0].ChatID != 42 {
		t.Errorf("List() = %+v, want single record for chat 42", records)
	}
}

func TestLoadCorruptRecordTreatedAsAbsent(t *testing.T) {
	s := testStore(t)
	if err := os.WriteFile(filepath.Join(s.localPath, "pref-42.json"), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestRecordKeyRoundTrip(t *testing.T) {
	id, ok := chatIDFromKey(recordKey(123456789))
	if !ok || id != 123456789 {
		t.Errorf("chatIDFromKey(recordKey()) = %d, %v", id, ok)
	}
	if _, ok := chatIDFromKey("pref-abc.json"); ok {
		t.Error("chatIDFromKey accepted non-numeric key")
	}
	if _, ok := chatIDFromKey("other.json"); ok {
		t.Error("chatIDFromKey accepted foreign key")
	}
}
