// Package audit persists tamper-evident call records: each record is
// stored under a date-partitioned key and indexed in a manifest listing
// every record's content hash.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"mcpgate/pkg/blob"
	"mcpgate/pkg/models"
)

const ManifestKey = "manifest.json"

// Writer appends audit records to the object store. The record write and
// the manifest rewrite are two separate operations; two concurrent writers
// can race on the manifest and the second rewrite wins. The record objects
// themselves are always durable, so the manifest is best-effort indexing.
type Writer struct {
	Store blob.Store

	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewWriter(store blob.Store) *Writer {
	return &Writer{Store: store, Now: time.Now}
}

// RecordKey is the storage key for a session's audit record.
func RecordKey(session string, at time.Time) string {
	return fmt.Sprintf("records/%s/%s.json", at.UTC().Format("2006-01-02"), session)
}

// Hash is the content hash recorded in the manifest.
func Hash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Write stores the serialized record, then read-modify-writes the
// manifest: fetch (absence reads as empty), drop any stale entry for the
// same key, insert, re-sort by key, stamp updated_at, rewrite.
func (w *Writer) Write(ctx context.Context, rec models.AuditRecord) error {
	now := w.now()
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("audit record marshal: %w", err)
	}
	key := RecordKey(rec.Session, now)
	if err := w.Store.Put(ctx, key, body); err != nil {
		return fmt.Errorf("audit record write: %w", err)
	}

	manifest := w.fetchManifest(ctx, now)
	files := manifest.Files[:0]
	for _, f := range manifest.Files {
		if f.Key != key {
			files = append(files, f)
		}
	}
	files = append(files, models.ManifestEntry{Key: key, SHA256: Hash(body)})
	sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })
	manifest.Files = files
	manifest.UpdatedAt = now.UTC().Format(time.RFC3339)

	manifestBody, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest marshal: %w", err)
	}
	if err := w.Store.Put(ctx, ManifestKey, manifestBody); err != nil {
		return fmt.Errorf("manifest write: %w", err)
	}
	return nil
}

// fetchManifest treats absence or a fetch failure as an empty manifest.
func (w *Writer) fetchManifest(ctx context.Context, now time.Time) models.Manifest {
	empty := models.Manifest{UpdatedAt: now.UTC().Format(time.RFC3339), Files: []models.ManifestEntry{}}
	body, err := w.Store.Get(ctx, ManifestKey)
	if err != nil {
		return empty
	}
	var manifest models.Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return empty
	}
	if manifest.Files == nil {
		manifest.Files = []models.ManifestEntry{}
	}
	return manifest
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}
