// Package settings persists the user's rewrite preferences and keeps a live
// thumbs.Settings record in sync with changes made elsewhere.
package settings

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

const (
	KeyDomainOverride = "domainOverride"
	KeyAllowCustom    = "allowCustom"
)

// Keys lists the recognized keys in load order.
var Keys = []string{KeyDomainOverride, KeyAllowCustom}

// legacyKeys maps each key to the name it had in the older storage location.
var legacyKeys = map[string]string{
	KeyDomainOverride: "kepstinDomainOverride",
	KeyAllowCustom:    "kepstinAllowCustom",
}

// LegacyKey returns the pre-migration name for key.
func LegacyKey(key string) (string, bool) {
	k, ok := legacyKeys[key]
	return k, ok
}

var ErrUnknownKey = errors.New("settings: unknown key")

// Change describes one write observed by a store. Present is false when the
// key was deleted. Remote is set when the write came from another client.
type Change struct {
	Key     string
	Old     string
	New     string
	Present bool
	Remote  bool
}

// Store is persistent string key/value storage with change notification.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Subscribe registers fn until ctx is done. Callbacks may arrive on any
	// goroutine.
	Subscribe(ctx context.Context, fn func(Change)) error
}

// normalize returns the canonical stored form of a raw value.
func normalize(key, raw string) (string, error) {
	switch key {
	case KeyDomainOverride:
		return strings.TrimSpace(raw), nil
	case KeyAllowCustom:
		return strconv.FormatBool(truthy(raw)), nil
	}
	return "", ErrUnknownKey
}

// truthy accepts the usual boolean spellings; anything else non-empty counts
// as set.
func truthy(raw string) bool {
	raw = strings.TrimSpace(raw)
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	switch strings.ToLower(raw) {
	case "", "no", "off", "null", "undefined":
		return false
	}
	return true
}
