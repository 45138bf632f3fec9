package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/genricoloni/medianotify/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultAppName       = "medianotify"
	defaultChannelID     = "MediaNotificationChannelID"
	defaultChannelName   = "MediaNotificationChannel"
	defaultAssetDir      = "~/.local/share/medianotify/assets"
	defaultIconSize      = 256
	defaultFetchTimeout  = 10
	defaultExpireTimeout = 0 // never expire
	maxIconSize          = 1024
	envPrefix            = "MEDIANOTIFY_"
)

// File is the on-disk TOML representation of the configuration
type File struct {
	AppName             string        `toml:"app_name"`
	AssetDir            string        `toml:"asset_dir"`
	IconSize            int           `toml:"icon_size"`
	FetchTimeoutSeconds int           `toml:"fetch_timeout_seconds"`
	ExpireTimeoutMillis int           `toml:"expire_timeout_ms"`
	Priority            string        `toml:"priority"`
	Channel             ChannelConfig `toml:"channel"`
}

// ChannelConfig holds the notification channel tags
type ChannelConfig struct {
	ID         string `toml:"id"`
	Name       string `toml:"name"`
	Importance string `toml:"importance"`
}

// Options are the command line inputs used to locate the configuration
type Options struct {
	// File is an explicit config file path; empty means search the default locations
	File string
	// LogLevel is one of debug, info, warn, error
	LogLevel string
}

// AppConfig holds application configuration. Channel tags are mutable at runtime.
type AppConfig struct {
	logger *zap.Logger

	appName       string
	assetDir      string
	iconSize      int
	fetchTimeout  time.Duration
	expireTimeout int32
	priority      domain.Priority

	mu      sync.RWMutex
	channel domain.Channel
}

// Default returns a File populated with defaults
func Default() File {
	return File{
		AppName:             defaultAppName,
		AssetDir:            defaultAssetDir,
		IconSize:            defaultIconSize,
		FetchTimeoutSeconds: defaultFetchTimeout,
		ExpireTimeoutMillis: defaultExpireTimeout,
		Priority:            domain.PriorityDefault.String(),
		Channel: ChannelConfig{
			ID:         defaultChannelID,
			Name:       defaultChannelName,
			Importance: string(domain.ImportanceDefault),
		},
	}
}

// NewAppConfig loads the configuration file (if any), applies environment
// overrides and validates the result
func NewAppConfig(logger *zap.Logger, opts Options) (*AppConfig, error) {
	f := Default()

	path := opts.File
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	f.applyDefaults()
	if err := applyEnvOverrides(&f); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg := FromFile(logger, f)

	logger.Info("Configuration loaded",
		zap.String("file", path),
		zap.String("channelID", cfg.channel.ID),
		zap.String("importance", string(cfg.channel.Importance)),
		zap.String("assetDir", cfg.assetDir),
		zap.Stringer("priority", cfg.priority))

	return cfg, nil
}

// FromFile builds an AppConfig from an already validated File
func FromFile(logger *zap.Logger, f File) *AppConfig {
	priority, err := domain.ParsePriority(f.Priority)
	if err != nil {
		priority = domain.PriorityDefault
	}
	return &AppConfig{
		logger:        logger,
		appName:       f.AppName,
		assetDir:      expandPath(f.AssetDir),
		iconSize:      f.IconSize,
		fetchTimeout:  time.Duration(f.FetchTimeoutSeconds) * time.Second,
		expireTimeout: int32(f.ExpireTimeoutMillis),
		priority:      priority,
		channel: domain.Channel{
			ID:         f.Channel.ID,
			Name:       f.Channel.Name,
			Importance: domain.Importance(f.Channel.Importance),
		},
	}
}

// applyDefaults fills in zero values
func (f *File) applyDefaults() {
	d := Default()
	if f.AppName == "" {
		f.AppName = d.AppName
	}
	if f.AssetDir == "" {
		f.AssetDir = d.AssetDir
	}
	if f.IconSize == 0 {
		f.IconSize = d.IconSize
	}
	if f.FetchTimeoutSeconds == 0 {
		f.FetchTimeoutSeconds = d.FetchTimeoutSeconds
	}
	if f.Priority == "" {
		f.Priority = d.Priority
	}
	if f.Channel.ID == "" {
		f.Channel.ID = d.Channel.ID
	}
	if f.Channel.Name == "" {
		f.Channel.Name = d.Channel.Name
	}
	if f.Channel.Importance == "" {
		f.Channel.Importance = d.Channel.Importance
	}
}

// Validate checks the configuration for errors
func (f *File) Validate() error {
	var errs []error

	if f.IconSize < 0 || f.IconSize > maxIconSize {
		errs = append(errs, fmt.Errorf("icon_size must be between 0 and %d", maxIconSize))
	}
	if f.FetchTimeoutSeconds < 0 {
		errs = append(errs, errors.New("fetch_timeout_seconds must be non-negative"))
	}
	if f.ExpireTimeoutMillis < -1 {
		errs = append(errs, errors.New("expire_timeout_ms must be -1 (server default) or greater"))
	}
	if _, err := domain.ParsePriority(f.Priority); err != nil {
		errs = append(errs, err)
	}
	if _, err := domain.ParseImportance(f.Channel.Importance); err != nil {
		errs = append(errs, fmt.Errorf("channel: %w", err))
	}

	return errors.Join(errs...)
}

// findConfigFile returns the first existing config file path
func findConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}
	p := filepath.Join(xdgConfig, "medianotify", "config.toml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// applyEnvOverrides applies MEDIANOTIFY_* environment variables. Numbers
// that do not parse are reported rather than ignored.
func applyEnvOverrides(f *File) error {
	var errs []error
	envInt := func(key string, dst *int) {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			return
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %q is not a number", envPrefix, key, v))
			return
		}
		*dst = i
	}
	envString := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	envString("APP_NAME", &f.AppName)
	envString("ASSET_DIR", &f.AssetDir)
	envInt("ICON_SIZE", &f.IconSize)
	envInt("FETCH_TIMEOUT_SECONDS", &f.FetchTimeoutSeconds)
	envInt("EXPIRE_TIMEOUT_MS", &f.ExpireTimeoutMillis)
	envString("PRIORITY", &f.Priority)
	envString("CHANNEL_ID", &f.Channel.ID)
	envString("CHANNEL_NAME", &f.Channel.Name)
	envString("CHANNEL_IMPORTANCE", &f.Channel.Importance)

	return errors.Join(errs...)
}

// expandPath expands environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

// Channel returns the current channel tags
func (c *AppConfig) Channel() domain.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// SetChannelID changes the channel notifications are delivered on
func (c *AppConfig) SetChannelID(id string) {
	c.mu.Lock()
	c.channel.ID = id
	c.mu.Unlock()
}

// SetChannelName changes the display name of the channel
func (c *AppConfig) SetChannelName(name string) {
	c.mu.Lock()
	c.channel.Name = name
	c.mu.Unlock()
}

// SetChannelImportance changes the channel importance. Unknown names are rejected
// and leave the current value untouched.
func (c *AppConfig) SetChannelImportance(name string) error {
	imp, err := domain.ParseImportance(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.channel.Importance = imp
	c.mu.Unlock()

	c.logger.Debug("Channel importance changed", zap.String("importance", name))
	return nil
}

// AppName returns the application name reported to the notification server
func (c *AppConfig) AppName() string {
	return c.appName
}

// AssetDir returns the directory local album art is loaded from
func (c *AppConfig) AssetDir() string {
	return c.assetDir
}

// IconSize returns the edge length of large icons; 0 keeps the original size
func (c *AppConfig) IconSize() int {
	return c.iconSize
}

// FetchTimeout bounds a single album art fetch; 0 disables the bound
func (c *AppConfig) FetchTimeout() time.Duration {
	return c.fetchTimeout
}

// ExpireTimeout is the notification expiry passed to the server, in milliseconds
func (c *AppConfig) ExpireTimeout() int32 {
	return c.expireTimeout
}

// Priority is the priority player notifications are shown with
func (c *AppConfig) Priority() domain.Priority {
	return c.priority
}
