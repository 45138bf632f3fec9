// Package artcache resolves album art for notification records, fetching remote
// art at most once per record and URL.
package artcache

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/genricoloni/medianotify/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const _errorBuffer = 16

// ArtStore is the part of the registry the cache writes fetched images into
type ArtStore interface {
	StoreArt(id int, source string, img image.Image) bool
}

// Settings bounds fetch behaviour
type Settings struct {
	// FetchTimeout bounds one fetch; 0 leaves it unbounded
	FetchTimeout time.Duration
}

// task is one pending fetch for a record
type task struct {
	url    string
	cancel context.CancelFunc
}

// Cache coordinates album art resolution. Fetch tasks only write into the
// ArtStore and then call back; they never render.
type Cache struct {
	logger   *zap.Logger
	fetcher  domain.Fetcher
	proc     domain.ImageProcessor
	store    ArtStore
	settings Settings

	group  singleflight.Group
	errors chan error

	mu              sync.Mutex
	pending         map[int]*task
	wg              sync.WaitGroup
	lastDropWarning time.Time
}

// New creates an album art cache
func New(logger *zap.Logger, fetcher domain.Fetcher, proc domain.ImageProcessor, store ArtStore, settings Settings) *Cache {
	return &Cache{
		logger:   logger,
		fetcher:  fetcher,
		proc:     proc,
		store:    store,
		settings: settings,
		errors:   make(chan error, _errorBuffer),
		pending:  make(map[int]*task),
	}
}

// Errors returns the channel FetchErrors are reported on. Errors are dropped
// when nobody drains it.
func (c *Cache) Errors() <-chan error {
	return c.errors
}

// Lookup returns the image for rec when it is available without network access
func (c *Cache) Lookup(rec domain.NotificationRecord) (image.Image, bool) {
	art := rec.Metadata.Art
	switch {
	case art.Asset != nil:
		return art.Asset.Image, true
	case art.URL != "" && rec.ArtCache != nil && rec.ArtCache.Source == art.URL:
		return rec.ArtCache.Image, true
	default:
		return nil, false
	}
}

// Resolve calls onReady synchronously when the art is local or cached,
// otherwise schedules a fetch that calls onReady once the image is stored
func (c *Cache) Resolve(ctx context.Context, rec domain.NotificationRecord, onReady func(image.Image)) {
	if img, ok := c.Lookup(rec); ok {
		onReady(img)
		return
	}
	c.Fetch(ctx, rec, onReady)
}

// Fetch schedules an asynchronous fetch of rec's album art URL. A second call
// for the same record while a fetch for the same URL is pending is ignored.
// onReady runs on the fetch goroutine and only when the result was stored.
func (c *Cache) Fetch(ctx context.Context, rec domain.NotificationRecord, onReady func(image.Image)) {
	url := rec.Metadata.Art.URL
	if url == "" {
		return
	}

	c.mu.Lock()
	if t, ok := c.pending[rec.ID]; ok {
		if t.url == url {
			c.mu.Unlock()
			c.logger.Debug("Album art fetch already pending", zap.Int("id", rec.ID))
			return
		}
		// The record moved on to another URL; the old result is useless
		t.cancel()
	}
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{url: url, cancel: cancel}
	c.pending[rec.ID] = t
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(taskCtx, rec.ID, t, onReady)
}

// run owns the network read and decode for one record
func (c *Cache) run(ctx context.Context, id int, t *task, onReady func(image.Image)) {
	defer c.wg.Done()
	defer c.finish(id, t)

	taskID := uuid.NewString()
	logger := c.logger.With(zap.Int("id", id), zap.String("task", taskID), zap.String("url", t.url))
	logger.Debug("Album art fetch started")

	// Records sharing a URL share one network call
	ch := c.group.DoChan(t.url, func() (interface{}, error) {
		img, err := c.download(t.url)
		if err != nil {
			return nil, err
		}
		return img, nil
	})

	select {
	case <-ctx.Done():
		logger.Debug("Album art fetch abandoned", zap.Error(ctx.Err()))
		return
	case res := <-ch:
		if res.Err != nil {
			c.report(logger, &domain.FetchError{ID: id, URL: t.url, Err: res.Err})
			return
		}
		if ctx.Err() != nil {
			return
		}

		img := res.Val.(image.Image)
		if !c.store.StoreArt(id, t.url, img) {
			logger.Debug("Record gone or changed, discarding album art")
			return
		}
		if res.Shared {
			logger.Debug("Album art fetch shared with another record")
		}
		onReady(img)
	}
}

// download fetches and decodes url. It is detached from any single record's
// context since other records may be waiting on the same call.
func (c *Cache) download(url string) (image.Image, error) {
	ctx := context.Background()
	if c.settings.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.settings.FetchTimeout)
		defer cancel()
	}

	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	img, err := c.proc.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("invalid album art: %w", err)
	}
	return img, nil
}

func (c *Cache) finish(id int, t *task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.cancel()
	// A newer task may already have replaced this one
	if c.pending[id] == t {
		delete(c.pending, id)
	}
}

// Forget cancels the pending fetch for id, if any
func (c *Cache) Forget(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.pending[id]; ok {
		t.cancel()
		delete(c.pending, id)
	}
}

// ForgetAll cancels every pending fetch
func (c *Cache) ForgetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.pending {
		t.cancel()
		delete(c.pending, id)
	}
}

// Pending reports whether a fetch is in flight for id
func (c *Cache) Pending(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Wait blocks until every fetch goroutine has returned
func (c *Cache) Wait() {
	c.wg.Wait()
}

// report logs a fetch failure on the task's logger and forwards it without blocking
func (c *Cache) report(logger *zap.Logger, err *domain.FetchError) {
	logger.Error("Failed to fetch album art", zap.Error(err.Err))

	select {
	case c.errors <- err:
	default:
		c.logChannelFullWarning()
	}
}

// logChannelFullWarning is rate limited to avoid log spam when nobody drains Errors
func (c *Cache) logChannelFullWarning() {
	c.mu.Lock()
	defer c.mu.Unlock()

	const warningInterval = 5 * time.Second
	now := time.Now()
	if now.Sub(c.lastDropWarning) >= warningInterval {
		c.logger.Warn("Fetch error channel full, dropping error")
		c.lastDropWarning = now
	}
}
