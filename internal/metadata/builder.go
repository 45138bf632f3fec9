// Package metadata builds the immutable media metadata shown in notifications.
package metadata

import (
	"net/url"
	"strings"

	"github.com/genricoloni/medianotify/internal/domain"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Builder creates MediaMetadata, classifying album art as remote or local.
// Local assets are decoded synchronously; remote art is never fetched here.
type Builder struct {
	logger *zap.Logger
	assets afero.Fs
	proc   domain.ImageProcessor
}

// NewBuilder creates a builder reading local assets from the configured asset directory
func NewBuilder(logger *zap.Logger, cfg domain.Config, proc domain.ImageProcessor) *Builder {
	return NewBuilderWithFs(logger, afero.NewBasePathFs(afero.NewOsFs(), cfg.AssetDir()), proc)
}

// NewBuilderWithFs creates a builder reading local assets from fs
func NewBuilderWithFs(logger *zap.Logger, fs afero.Fs, proc domain.ImageProcessor) *Builder {
	return &Builder{
		logger: logger,
		assets: fs,
		proc:   proc,
	}
}

// Build returns metadata for the given title, artist and album art reference.
// An empty reference means no album art.
func (b *Builder) Build(title, artist, albumArtRef string) (domain.MediaMetadata, error) {
	meta := domain.MediaMetadata{
		Title:  title,
		Artist: artist,
	}

	ref := strings.TrimSpace(albumArtRef)
	switch {
	case ref == "":
		b.logger.Debug("No album art supplied", zap.String("title", title))
	case IsRemoteURL(ref):
		meta.Art = domain.AlbumArt{URL: ref}
	default:
		asset, err := b.loadAsset(ref)
		if err != nil {
			return domain.MediaMetadata{}, err
		}
		meta.Art = domain.AlbumArt{Asset: asset}
	}

	return meta, nil
}

func (b *Builder) loadAsset(name string) (*domain.LocalAsset, error) {
	data, err := afero.ReadFile(b.assets, name)
	if err != nil {
		return nil, &domain.AssetLoadError{Asset: name, Err: err}
	}

	img, err := b.proc.Decode(data)
	if err != nil {
		return nil, &domain.AssetLoadError{Asset: name, Err: err}
	}

	b.logger.Debug("Album art asset loaded", zap.String("asset", name))
	return &domain.LocalAsset{Name: name, Image: img}, nil
}

// IsRemoteURL reports whether ref looks like an http(s) URL with a host
func IsRemoteURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Hostname() != ""
}
