// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

package listencache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tomtom215/listenbridge/internal/models"
)

func testListen(id, track string) models.PendingListen {
	return models.PendingListen{
		ID:         id,
		ListenedAt: 1700000000,
		Metadata: models.TrackMetadata{
			ArtistName: "Test Artist",
			TrackName:  track,
		},
	}
}

func TestCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	cache := New(path)
	first := testListen("listen-1", "First Track")
	second := testListen("listen-2", "Second Track")
	cache.Add("account-a", first)
	cache.Add("account-a", second)

	if err := cache.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Reconstruct a fresh cache from the file.
	restored := New(path)
	if err := restored.Restore(); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	got := restored.GetAll("account-a")
	if len(got) != 2 {
		t.Fatalf("expected 2 listens, got %d", len(got))
	}
	// Insertion order is the delivery order.
	if got[0].ID != "listen-1" || got[1].ID != "listen-2" {
		t.Errorf("order not preserved: got %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Metadata.TrackName != "First Track" {
		t.Errorf("metadata lost: got %q", got[0].Metadata.TrackName)
	}
}

func TestGetAllReturnsSnapshot(t *testing.T) {
	cache := New(filepath.Join(t.TempDir(), "cache.json"))
	cache.Add("account-a", testListen("listen-1", "Track"))

	snapshot := cache.GetAll("account-a")
	snapshot[0].ID = "mutated"

	if cache.GetAll("account-a")[0].ID != "listen-1" {
		t.Error("GetAll must return a copy, not the backing slice")
	}
}

func TestGetAllEmptyAccount(t *testing.T) {
	cache := New(filepath.Join(t.TempDir(), "cache.json"))
	if got := cache.GetAll("nobody"); len(got) != 0 {
		t.Errorf("expected empty result, got %d listens", len(got))
	}
}

func TestRemoveBatchIdempotent(t *testing.T) {
	cache := New(filepath.Join(t.TempDir(), "cache.json"))
	batch := []models.PendingListen{
		testListen("listen-1", "One"),
		testListen("listen-2", "Two"),
	}
	cache.Add("account-a", batch...)
	cache.Add("account-a", testListen("listen-3", "Three"))

	cache.RemoveBatch("account-a", batch)
	if remaining := cache.GetAll("account-a"); len(remaining) != 1 || remaining[0].ID != "listen-3" {
		t.Fatalf("expected only listen-3 to remain, got %v", remaining)
	}

	// Second removal of the same batch is a no-op.
	cache.RemoveBatch("account-a", batch)
	if remaining := cache.GetAll("account-a"); len(remaining) != 1 {
		t.Errorf("second removal must be a no-op, got %d listens", len(remaining))
	}
}

func TestRemoveBatchDoesNotCrossAccounts(t *testing.T) {
	cache := New(filepath.Join(t.TempDir(), "cache.json"))
	cache.Add("account-a", testListen("listen-1", "One"))
	cache.Add("account-b", testListen("listen-2", "Two"))

	cache.RemoveBatch("account-a", cache.GetAll("account-a"))

	if cache.Len("account-b") != 1 {
		t.Error("removal for one account must not touch another account's queue")
	}
}

func TestRestoreMissingFileStartsEmpty(t *testing.T) {
	cache := New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err := cache.Restore(); err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if len(cache.Accounts()) != 0 {
		t.Error("expected empty cache")
	}
}

func TestRestoreCorruptFileIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	cache := New(path)
	err := cache.Restore()

	var corruption *CorruptionError
	if !errors.As(err, &corruption) {
		t.Fatalf("expected CorruptionError, got %v", err)
	}
	if corruption.Path != path {
		t.Errorf("corruption path: expected %s, got %s", path, corruption.Path)
	}
}

func TestRestoreMergesDiskOnlyEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	// A previous process left listen-1 and listen-2 on disk.
	previous := New(path)
	previous.Add("account-a", testListen("listen-1", "One"), testListen("listen-2", "Two"))
	if err := previous.Save(); err != nil {
		t.Fatal(err)
	}

	// This process already holds listen-2 and listen-3 in memory.
	cache := New(path)
	cache.Add("account-a", testListen("listen-2", "Two"), testListen("listen-3", "Three"))

	if err := cache.Restore(); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	got := cache.GetAll("account-a")
	want := []string{"listen-1", "listen-2", "listen-3"}
	if len(got) != len(want) {
		t.Fatalf("expected %d listens, got %d", len(want), len(got))
	}
	// Disk-only entries predate this process and come first; in-memory
	// entries are kept, not duplicated.
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("listens[%d]: expected %s, got %s", i, want[i], got[i].ID)
		}
	}
}

func TestRestoreKeepsInMemoryStateWhenFileMissing(t *testing.T) {
	cache := New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	cache.Add("account-a", testListen("listen-1", "Track"))

	if err := cache.Restore(); err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if cache.Len("account-a") != 1 {
		t.Error("restore must not discard in-memory listens")
	}
}

func TestAddAndSavePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	cache := New(path)
	if err := cache.AddAndSave("account-a", testListen("listen-1", "Track")); err != nil {
		t.Fatalf("add-and-save failed: %v", err)
	}

	restored := New(path)
	if err := restored.Restore(); err != nil {
		t.Fatal(err)
	}
	if restored.Len("account-a") != 1 {
		t.Error("listen not on disk after AddAndSave")
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	cache := New(filepath.Join(dir, "cache.json"))
	cache.Add("account-a", testListen("listen-1", "Track"))

	if err := cache.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".listencache-") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	cache := New(path)
	cache.Add("account-a", testListen("listen-1", "Track"))
	if err := cache.Save(); err != nil {
		t.Fatal(err)
	}

	cache.RemoveBatch("account-a", cache.GetAll("account-a"))
	cache.Add("account-b", testListen("listen-2", "Other"))
	if err := cache.Save(); err != nil {
		t.Fatal(err)
	}

	restored := New(path)
	if err := restored.Restore(); err != nil {
		t.Fatal(err)
	}
	if restored.Len("account-a") != 0 {
		t.Error("stale account-a data survived the overwrite")
	}
	if restored.Len("account-b") != 1 {
		t.Error("account-b data missing after overwrite")
	}
}

func TestAccountsSorted(t *testing.T) {
	cache := New(filepath.Join(t.TempDir(), "cache.json"))
	cache.Add("zeta", testListen("l1", "T"))
	cache.Add("alpha", testListen("l2", "T"))
	cache.Add("mid", testListen("l3", "T"))

	got := cache.Accounts()
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("expected %d accounts, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("accounts[%d]: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestConcurrentAddAndSave(t *testing.T) {
	cache := New(filepath.Join(t.TempDir(), "cache.json"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			cache.Add("account-a", testListen("listen", "Track"))
			_ = cache.GetAll("account-a")
		}
	}()
	for i := 0; i < 20; i++ {
		if err := cache.Save(); err != nil {
			t.Errorf("save under concurrent writes failed: %v", err)
		}
	}
	<-done
}
