// Package registry stores the live state of every shown notification.
package registry

import (
	"fmt"
	"image"
	"reflect"
	"sort"
	"sync"

	"github.com/genricoloni/medianotify/internal/domain"
	"go.uber.org/zap"
)

// record is the owned, mutable state behind a NotificationRecord
type record struct {
	priority  domain.Priority
	metadata  domain.MediaMetadata
	isPlaying bool
	artCache  *domain.ArtCache
}

func (r *record) snapshot(id int) domain.NotificationRecord {
	return domain.NotificationRecord{
		ID:            id,
		Priority:      r.priority,
		Metadata:      r.metadata,
		IsPlaying:     r.isPlaying,
		ArtCache:      r.artCache,
		OnlyAlertOnce: true,
	}
}

// Registry is the single owner of notification records, keyed by id.
// Callers receive snapshots that are valid for the duration of one operation.
type Registry struct {
	logger  *zap.Logger
	mu      sync.Mutex
	records map[int]*record
}

// New creates an empty registry
func New(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger,
		records: make(map[int]*record),
	}
}

// Upsert creates the record for id, or updates its content when it differs from
// the stored one. Play state and the album art cache survive updates.
// It reports whether the visible content changed.
func (r *Registry) Upsert(id int, priority domain.Priority, meta domain.MediaMetadata) (domain.NotificationRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		// First display of a track implies it started playing
		rec = &record{priority: priority, metadata: meta, isPlaying: true}
		r.records[id] = rec
		r.logger.Debug("Notification record created", zap.Int("id", id), zap.String("title", meta.Title))
		return rec.snapshot(id), true
	}

	if ContentEqual(rec.priority, rec.metadata, priority, meta) {
		return rec.snapshot(id), false
	}

	rec.priority = priority
	rec.metadata = meta
	r.logger.Debug("Notification record updated", zap.Int("id", id), zap.String("title", meta.Title))
	return rec.snapshot(id), true
}

// ContentEqual reports whether two (priority, metadata) pairs render the same content.
// Album art is compared by source reference; two local assets holding the very
// same decoded image are also equal.
func ContentEqual(pa domain.Priority, a domain.MediaMetadata, pb domain.Priority, b domain.MediaMetadata) bool {
	if pa != pb || a.Title != b.Title || a.Artist != b.Artist {
		return false
	}
	if a.Art.Asset != nil && b.Art.Asset != nil && sameImage(a.Art.Asset.Image, b.Art.Asset.Image) {
		return true
	}
	return a.Art.Source() == b.Art.Source()
}

// sameImage reports identity, guarding against non-comparable image types
func sameImage(a, b image.Image) bool {
	if a == nil || b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// TogglePlaying flips the play state of id and returns the new state
func (r *Registry) TogglePlaying(id int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false, fmt.Errorf("toggle %d: %w", id, domain.ErrUnknownID)
	}
	rec.isPlaying = !rec.isPlaying
	return rec.isPlaying, nil
}

// SetPlaying forces the play state of id, used when the host reports the
// player state changed outside of the notification
func (r *Registry) SetPlaying(id int, playing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("set playing %d: %w", id, domain.ErrUnknownID)
	}
	rec.isPlaying = playing
	return nil
}

// StoreArt caches a fetched image for id. The write is refused when the record
// no longer exists or now points at a different URL.
func (r *Registry) StoreArt(id int, source string, img image.Image) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.metadata.Art.URL != source {
		return false
	}
	rec.artCache = &domain.ArtCache{Source: source, Image: img}
	return true
}

// Get returns a snapshot of the record for id
func (r *Registry) Get(id int) (domain.NotificationRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return domain.NotificationRecord{}, false
	}
	return rec.snapshot(id), true
}

// Remove deletes the record for id and reports whether it existed
func (r *Registry) Remove(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	return true
}

// RemoveAll deletes every record and returns how many were removed
func (r *Registry) RemoveAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.records)
	r.records = make(map[int]*record)
	return n
}

// Len returns the number of live records
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// IDs returns the live ids in ascending order
func (r *Registry) IDs() []int {
	r.mu.Lock()
	ids := make([]int, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Ints(ids)
	return ids
}
