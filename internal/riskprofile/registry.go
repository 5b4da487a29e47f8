// Package riskprofile loads per-asset trailing overrides from a YAML file and
// hot-reloads them on edit. Majors usually get a wider trail than alts; the
// file lets operators tune that without a restart.
package riskprofile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"guardian/internal/logger"
	"guardian/internal/risk"
)

// FileConfig maps the profiles: block of the YAML file.
type FileConfig struct {
	Profiles map[string]risk.Profile `mapstructure:"profiles" yaml:"profiles"`
}

// Snapshot is the published profile set.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]risk.Profile
}

// Registry watches the profile file and serves the latest set.
type Registry struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	snapshot Snapshot
}

var _ risk.ProfileResolver = (*Registry)(nil)

// NewRegistry reads the profile file and watches it for updates.
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("risk profile registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read risk profile config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("risk profile reload failed: %v", err)
		}
	})
	v.WatchConfig()
	return r, nil
}

// Resolve returns the override for a base asset such as "BTC".
func (r *Registry) Resolve(base string) (risk.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Profiles[strings.ToUpper(strings.TrimSpace(base))]
	return p, ok
}

// Snapshot returns the current profile set.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dst := Snapshot{
		Version:  r.snapshot.Version,
		LoadedAt: r.snapshot.LoadedAt,
		Profiles: make(map[string]risk.Profile, len(r.snapshot.Profiles)),
	}
	for base, p := range r.snapshot.Profiles {
		dst.Profiles[base] = p
	}
	return dst
}

func (r *Registry) reload() error {
	cfg, err := readProfileFile(r.path)
	if err != nil {
		return err
	}
	profiles := make(map[string]risk.Profile, len(cfg.Profiles))
	for base, p := range cfg.Profiles {
		key := strings.ToUpper(strings.TrimSpace(base))
		if key == "" {
			continue
		}
		if err := validateProfile(key, p); err != nil {
			return err
		}
		profiles[key] = p
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
	}
	r.mu.Unlock()
	logger.Infof("Risk profile registry loaded %d overrides from %s", len(profiles), filepath.Base(r.path))
	return nil
}

func validateProfile(base string, p risk.Profile) error {
	if p.TrailATRMultiplier < 0 {
		return fmt.Errorf("risk profile %s: trail_atr_multiplier must be >= 0", base)
	}
	if p.TrailFallbackPct < 0 || p.TrailFallbackPct >= 1 {
		return fmt.Errorf("risk profile %s: trail_fallback_pct must be in [0, 1)", base)
	}
	if p.StopATRMultiplier < 0 {
		return fmt.Errorf("risk profile %s: stop_atr_multiplier must be >= 0", base)
	}
	return nil
}

func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read risk profile config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse risk profile config failed: %w", err)
	}
	return cfg, nil
}
