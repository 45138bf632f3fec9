package registry

import (
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/genricoloni/medianotify/internal/domain"
	"go.uber.org/zap"
)

func urlMeta(title, url string) domain.MediaMetadata {
	return domain.MediaMetadata{Title: title, Artist: "Artist", Art: domain.AlbumArt{URL: url}}
}

func TestRegistry_UpsertCreatesPlaying(t *testing.T) {
	reg := New(zap.NewNop())

	rec, changed := reg.Upsert(1, domain.PriorityDefault, urlMeta("Song", "http://x/a.png"))
	if !changed {
		t.Error("first upsert must report a change")
	}
	if !rec.IsPlaying {
		t.Error("new record must start playing")
	}
	if !rec.OnlyAlertOnce {
		t.Error("records must alert only once")
	}
	if rec.ArtCache != nil {
		t.Error("new record must have no cached art")
	}
}

func TestRegistry_UpsertPreservesReconciliationState(t *testing.T) {
	tests := []struct {
		name          string
		priority      domain.Priority
		meta          domain.MediaMetadata
		expectChanged bool
	}{
		{
			name:          "Identical Content",
			priority:      domain.PriorityDefault,
			meta:          urlMeta("Song", "http://x/a.png"),
			expectChanged: false,
		},
		{
			name:          "Different Title",
			priority:      domain.PriorityDefault,
			meta:          urlMeta("Other Song", "http://x/a.png"),
			expectChanged: true,
		},
		{
			name:          "Different Priority",
			priority:      domain.PriorityHigh,
			meta:          urlMeta("Song", "http://x/a.png"),
			expectChanged: true,
		},
		{
			name:          "Different Art URL",
			priority:      domain.PriorityDefault,
			meta:          urlMeta("Song", "http://x/b.png"),
			expectChanged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New(zap.NewNop())
			reg.Upsert(1, domain.PriorityDefault, urlMeta("Song", "http://x/a.png"))

			img := image.NewRGBA(image.Rect(0, 0, 1, 1))
			if !reg.StoreArt(1, "http://x/a.png", img) {
				t.Fatal("StoreArt refused a matching URL")
			}
			if _, err := reg.TogglePlaying(1); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			rec, changed := reg.Upsert(1, tt.priority, tt.meta)
			if changed != tt.expectChanged {
				t.Errorf("changed: expected %v, got %v", tt.expectChanged, changed)
			}
			if rec.IsPlaying {
				t.Error("play state must survive an upsert")
			}
			if rec.ArtCache == nil || rec.ArtCache.Image != img {
				t.Error("art cache must survive an upsert")
			}
			if rec.Metadata.Title != tt.meta.Title || rec.Priority != tt.priority {
				t.Errorf("stored content not updated: %+v", rec)
			}
		})
	}
}

func TestContentEqual(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	other := image.NewRGBA(image.Rect(0, 0, 1, 1))
	asset := func(name string, i image.Image) domain.MediaMetadata {
		return domain.MediaMetadata{Title: "T", Artist: "A", Art: domain.AlbumArt{Asset: &domain.LocalAsset{Name: name, Image: i}}}
	}

	tests := []struct {
		name     string
		a, b     domain.MediaMetadata
		expected bool
	}{
		{"Same URL", urlMeta("T", "http://x/1"), urlMeta("T", "http://x/1"), true},
		{"Different URL", urlMeta("T", "http://x/1"), urlMeta("T", "http://x/2"), false},
		{"Same Asset Image", asset("a.png", img), asset("b.png", img), true},
		{"Same Asset Name Reloaded", asset("a.png", img), asset("a.png", other), true},
		{"Different Asset", asset("a.png", img), asset("b.png", other), false},
		{"URL Versus Asset", urlMeta("T", "http://x/1"), asset("a.png", img), false},
		{"Both Without Art", domain.MediaMetadata{Title: "T"}, domain.MediaMetadata{Title: "T"}, true},
		{"Different Artist", domain.MediaMetadata{Title: "T", Artist: "A"}, domain.MediaMetadata{Title: "T", Artist: "B"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentEqual(domain.PriorityDefault, tt.a, domain.PriorityDefault, tt.b); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestRegistry_TogglePlaying(t *testing.T) {
	reg := New(zap.NewNop())
	reg.Upsert(3, domain.PriorityLow, urlMeta("Song", ""))

	for i, want := range []bool{false, true, false} {
		got, err := reg.TogglePlaying(3)
		if err != nil {
			t.Fatalf("toggle %d: unexpected error: %v", i, err)
		}
		if got != want {
			t.Errorf("toggle %d: expected %v, got %v", i, want, got)
		}
	}

	if _, err := reg.TogglePlaying(99); !errors.Is(err, domain.ErrUnknownID) {
		t.Errorf("expected ErrUnknownID, got %v", err)
	}
}

func TestRegistry_ConcurrentToggleIsNotTorn(t *testing.T) {
	reg := New(zap.NewNop())
	reg.Upsert(1, domain.PriorityDefault, urlMeta("Song", ""))

	const toggles = 1000 // even, so the final state equals the initial one
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.TogglePlaying(1); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, _ := reg.Get(1)
	if !rec.IsPlaying {
		t.Error("an even number of toggles must restore the initial state")
	}
}

func TestRegistry_StoreArt(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))

	tests := []struct {
		name     string
		setup    func(r *Registry)
		source   string
		expected bool
	}{
		{
			name:     "Matching URL",
			setup:    func(r *Registry) { r.Upsert(1, domain.PriorityDefault, urlMeta("S", "http://x/a")) },
			source:   "http://x/a",
			expected: true,
		},
		{
			name:     "Record Gone",
			setup:    func(r *Registry) {},
			source:   "http://x/a",
			expected: false,
		},
		{
			name: "URL Changed Since Fetch Started",
			setup: func(r *Registry) {
				r.Upsert(1, domain.PriorityDefault, urlMeta("S", "http://x/a"))
				r.Upsert(1, domain.PriorityDefault, urlMeta("S", "http://x/b"))
			},
			source:   "http://x/a",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New(zap.NewNop())
			tt.setup(reg)
			if got := reg.StoreArt(1, tt.source, img); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
			if rec, ok := reg.Get(1); ok && !tt.expected && rec.ArtCache != nil {
				t.Error("refused write must not populate the cache")
			}
		})
	}
}

func TestRegistry_RemoveAndRemoveAll(t *testing.T) {
	reg := New(zap.NewNop())
	for _, id := range []int{5, 1, 3} {
		reg.Upsert(id, domain.PriorityDefault, urlMeta("S", ""))
	}

	ids := reg.IDs()
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 3 || ids[2] != 5 {
		t.Errorf("unexpected ids: %v", ids)
	}

	if !reg.Remove(3) {
		t.Error("expected Remove(3) to succeed")
	}
	if reg.Remove(3) {
		t.Error("second Remove(3) must report absence")
	}
	if _, ok := reg.Get(3); ok {
		t.Error("removed record still present")
	}

	if n := reg.RemoveAll(); n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
	if n := reg.RemoveAll(); n != 0 {
		t.Errorf("RemoveAll on empty registry removed %d", n)
	}
}
