// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
cache.go - Durable Pending-Listen Queue

This file implements the persistent queue of listens awaiting delivery,
partitioned per account. The cache exclusively owns its on-disk
representation: a single JSON document mapping account id to an ordered
array of pending listens, replaced atomically on every Save.

Concurrency discipline: one RWMutex guards the whole structure, and Save
and Restore hold it exclusively across the entire file operation, not
just the in-memory step. Saves are therefore totally ordered (a newer
snapshot can never be renamed over by an older one), and Restore can
never interleave with an Add: entries present only on disk are merged in
by listen id, while the in-memory state stays authoritative for
everything it already holds.

Within one account's queue, insertion order is preserved and is the
delivery order.
*/
package listencache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/listenbridge/internal/logging"
	"github.com/tomtom215/listenbridge/internal/metrics"
	"github.com/tomtom215/listenbridge/internal/models"
)

// CorruptionError reports an on-disk cache that exists but cannot be
// parsed. It is fatal at startup: silently discarding an existing queue
// would lose listens.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("listen cache at %s is corrupted: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Cache is the durable, concurrency-safe FIFO queue of pending listens.
// Mutations are in-memory only; callers commit with Save.
type Cache struct {
	path string

	mu      sync.RWMutex
	pending map[string][]models.PendingListen
}

// New creates an empty cache persisted at path. Call Restore before use to
// pick up a previous process's queue.
func New(path string) *Cache {
	return &Cache{
		path:    path,
		pending: make(map[string][]models.PendingListen),
	}
}

// Add appends listens to the account's queue. It does not persist; callers
// commit with Save, or batch saves after a delivery round.
func (c *Cache) Add(accountID string, listens ...models.PendingListen) {
	if len(listens) == 0 {
		return
	}

	c.mu.Lock()
	c.pending[accountID] = append(c.pending[accountID], listens...)
	c.updateDepthLocked()
	c.mu.Unlock()

	logging.Debug().
		Str("account", accountID).
		Int("added", len(listens)).
		Msg("Listens queued in cache")
}

// AddAndSave appends listens and persists the cache in one critical
// section. The fallback path after a failed immediate submission uses
// this so that a concurrent Save or Restore can neither miss the new
// entries on disk nor drop them from memory.
func (c *Cache) AddAndSave(accountID string, listens ...models.PendingListen) error {
	if len(listens) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[accountID] = append(c.pending[accountID], listens...)
	c.updateDepthLocked()
	logging.Debug().
		Str("account", accountID).
		Int("added", len(listens)).
		Msg("Listens queued in cache")

	return c.saveLocked()
}

// GetAll returns a snapshot copy of the account's queued listens, oldest
// first. The returned slice is the caller's to keep; later mutations of the
// cache do not affect it.
func (c *Cache) GetAll(accountID string) []models.PendingListen {
	c.mu.RLock()
	defer c.mu.RUnlock()

	queued := c.pending[accountID]
	if len(queued) == 0 {
		return nil
	}
	snapshot := make([]models.PendingListen, len(queued))
	copy(snapshot, queued)
	return snapshot
}

// RemoveBatch removes exactly the given listens from the account's queue,
// matching by listen id. Listens no longer present are skipped, so removing
// the same batch twice is a no-op the second time.
func (c *Cache) RemoveBatch(accountID string, listens []models.PendingListen) {
	if len(listens) == 0 {
		return
	}

	remove := make(map[string]struct{}, len(listens))
	for i := range listens {
		remove[listens[i].ID] = struct{}{}
	}

	c.mu.Lock()
	queued := c.pending[accountID]
	kept := queued[:0]
	for i := range queued {
		if _, gone := remove[queued[i].ID]; !gone {
			kept = append(kept, queued[i])
		}
	}
	if len(kept) == 0 {
		delete(c.pending, accountID)
	} else {
		c.pending[accountID] = kept
	}
	removed := len(queued) - len(kept)
	c.updateDepthLocked()
	c.mu.Unlock()

	if removed > 0 {
		logging.Debug().
			Str("account", accountID).
			Int("removed", removed).
			Msg("Listens removed from cache")
	}
}

// Accounts returns the ids of all accounts with at least one queued listen,
// sorted for deterministic iteration.
func (c *Cache) Accounts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of queued listens for the account.
func (c *Cache) Len(accountID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending[accountID])
}

// TotalLen returns the number of queued listens across all accounts.
func (c *Cache) TotalLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, listens := range c.pending {
		total += len(listens)
	}
	return total
}

// Save serializes the entire cache atomically: the document is written to a
// temp file in the target directory, fsynced, then renamed over the target.
// A crash mid-write leaves the previous file intact. The mutex is held
// across the whole operation, so concurrent saves land on disk in order.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

// saveLocked writes the current state to disk. Callers must hold c.mu.
func (c *Cache) saveLocked() error {
	data, err := json.MarshalIndent(c.pending, "", "  ")
	if err != nil {
		metrics.CacheSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal listen cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		metrics.CacheSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".listencache-*.tmp")
	if err != nil {
		metrics.CacheSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		metrics.CacheSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		metrics.CacheSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("sync temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		metrics.CacheSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("close temp cache file: %w", err)
	}

	if err := os.Rename(tmpName, c.path); err != nil {
		_ = os.Remove(tmpName)
		metrics.CacheSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("replace cache file: %w", err)
	}

	metrics.CacheSaves.WithLabelValues("success").Inc()
	logging.Debug().Str("path", c.path).Msg("Listen cache saved")
	return nil
}

// Restore merges the on-disk representation into memory. Disk entries
// whose listen id is not yet in memory are prepended to the account's
// queue (they predate this process, so they are the oldest); everything
// already in memory is authoritative and kept. A missing file is a no-op;
// a file that exists but fails to parse yields a CorruptionError.
//
// The mutex is held across read, parse and merge, so a listen enqueued
// concurrently by the fallback path can never be dropped.
func (c *Cache) Restore() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache file: %w", err)
	}

	restored := make(map[string][]models.PendingListen)
	if err := json.Unmarshal(data, &restored); err != nil {
		return &CorruptionError{Path: c.path, Err: err}
	}

	merged := 0
	for accountID, diskQueue := range restored {
		known := make(map[string]struct{}, len(c.pending[accountID]))
		for i := range c.pending[accountID] {
			known[c.pending[accountID][i].ID] = struct{}{}
		}

		var missing []models.PendingListen
		for i := range diskQueue {
			if _, ok := known[diskQueue[i].ID]; !ok {
				missing = append(missing, diskQueue[i])
			}
		}
		if len(missing) > 0 {
			c.pending[accountID] = append(missing, c.pending[accountID]...)
			merged += len(missing)
		}
	}

	c.updateDepthLocked()
	if merged > 0 {
		logging.Info().
			Int("pending_listens", merged).
			Msg("Listen cache restored")
	}
	return nil
}

// updateDepthLocked publishes the total queue depth across accounts.
// Callers must hold c.mu.
func (c *Cache) updateDepthLocked() {
	total := 0
	for _, queued := range c.pending {
		total += len(queued)
	}
	metrics.CacheQueueDepth.Set(float64(total))
}
