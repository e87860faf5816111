package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"thumbfix/thumbs"
)

// Gateway owns the live settings record. Load and Update are the only paths
// that change it locally; Watch applies remote changes.
type Gateway struct {
	store  Store
	legacy Store
	logger *log.Logger

	mu   sync.RWMutex
	cur  thumbs.Settings
	subs []func(thumbs.Settings)
}

var _ thumbs.SettingsSource = (*Gateway)(nil)

// NewGateway wires a gateway. legacy may be nil when there is nothing to
// migrate from.
func NewGateway(store Store, legacy Store, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{store: store, legacy: legacy, logger: logger.WithPrefix("settings")}
}

// Current implements thumbs.SettingsSource.
func (g *Gateway) Current() thumbs.Settings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cur
}

// OnChange registers fn to be called with the new record after every change.
func (g *Gateway) OnChange(fn func(thumbs.Settings)) {
	g.mu.Lock()
	g.subs = append(g.subs, fn)
	g.mu.Unlock()
}

func (g *Gateway) apply(key, canonical string) thumbs.Settings {
	g.mu.Lock()
	switch key {
	case KeyDomainOverride:
		g.cur.DomainOverride = canonical
	case KeyAllowCustom:
		g.cur.AllowCustomCrop = canonical == "true"
	}
	s := g.cur
	subs := append([]func(thumbs.Settings){}, g.subs...)
	g.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
	return s
}

// Load reads every key, migrating from the legacy store when the key is
// missing and writing back values that were not in canonical form. Read
// failures keep the default for that key and are only logged; the returned
// error reports failed write-backs.
func (g *Gateway) Load(ctx context.Context) error {
	var errs []error
	for _, key := range Keys {
		raw, ok, err := g.store.Get(ctx, key)
		if err != nil {
			g.logger.Error("failed to load setting, keeping default", "key", key, "err", err)
			continue
		}
		if !ok {
			raw = g.migrate(ctx, key)
		}
		canonical, _ := normalize(key, raw)
		g.apply(key, canonical)
		if ok && raw == canonical {
			continue
		}
		if err := g.store.Set(ctx, key, canonical); err != nil {
			errs = append(errs, fmt.Errorf("write back %s: %w", key, err))
		}
	}
	s := g.Current()
	g.logger.Debug("loaded", "domainOverride", s.DomainOverride, "allowCustom", s.AllowCustomCrop)
	return errors.Join(errs...)
}

func (g *Gateway) migrate(ctx context.Context, key string) string {
	if g.legacy == nil {
		return ""
	}
	old, _ := LegacyKey(key)
	raw, ok, err := g.legacy.Get(ctx, old)
	if err != nil {
		g.logger.Warn("failed to read legacy setting", "key", old, "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	if err := g.legacy.Delete(ctx, old); err != nil {
		g.logger.Warn("failed to remove legacy setting", "key", old, "err", err)
	}
	g.logger.Info("migrated legacy setting", "from", old, "to", key)
	return raw
}

// Watch subscribes to the store until ctx is done.
func (g *Gateway) Watch(ctx context.Context) error {
	if err := g.store.Subscribe(ctx, func(c Change) { g.onChange(ctx, c) }); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (g *Gateway) onChange(ctx context.Context, c Change) {
	if !c.Remote {
		return
	}
	canonical, err := normalize(c.Key, c.New)
	if err != nil {
		return
	}
	s := g.apply(c.Key, canonical)
	g.logger.Info("setting changed elsewhere", "key", c.Key, "value", canonical, "domainOverride", s.DomainOverride, "allowCustom", s.AllowCustomCrop)
	if c.Present && c.New == canonical {
		return
	}
	if err := g.store.Set(ctx, c.Key, canonical); err != nil {
		g.logger.Warn("failed to write back normalized setting", "key", c.Key, "err", err)
	}
}

// Update persists s and makes it live.
func (g *Gateway) Update(ctx context.Context, s thumbs.Settings) error {
	values := map[string]string{
		KeyDomainOverride: s.DomainOverride,
		KeyAllowCustom:    fmt.Sprint(s.AllowCustomCrop),
	}
	for _, key := range Keys {
		if err := g.SetValue(ctx, key, values[key]); err != nil {
			return err
		}
	}
	return nil
}

// SetValue normalizes and persists one key.
func (g *Gateway) SetValue(ctx context.Context, key, raw string) error {
	canonical, err := normalize(key, raw)
	if err != nil {
		return fmt.Errorf("%w: %q", err, key)
	}
	if err := g.store.Set(ctx, key, canonical); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	g.apply(key, canonical)
	return nil
}

// Values returns the live record in stored form.
func (g *Gateway) Values() map[string]string {
	s := g.Current()
	return map[string]string{
		KeyDomainOverride: s.DomainOverride,
		KeyAllowCustom:    fmt.Sprint(s.AllowCustomCrop),
	}
}
