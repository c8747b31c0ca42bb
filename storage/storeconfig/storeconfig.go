// Package storeconfig opens storage from a JSON or YAML file.
package storeconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"xdao.co/feedsync/storage"
	"xdao.co/feedsync/storage/registry"
)

// Config describes how to open one or more backends via the registry.
// Callers still need to link desired backend plugins via blank imports.
//
// WritePolicy values:
//   - "first" (default): blobs are written to the first backend; reads fall back in order
//   - "all": blobs are written to every backend and must hash identically
//
// Feeds names the backend (by id) that stores feed updates. When empty the
// first backend able to store feeds is used.
//
// Example (YAML):
//
//	write_policy: all
//	feeds: local
//	backends:
//	  - name: sqlite
//	    id: local
//	    config: {sqlite-path: /var/lib/feedsync/store.db}
//	  - name: ipfs
//	    config: {ipfs-path: /tmp/ipfs}
type Config struct {
	WritePolicy string          `json:"write_policy,omitempty" yaml:"write_policy,omitempty"`
	Feeds       string          `json:"feeds,omitempty" yaml:"feeds,omitempty"`
	Backends    []BackendConfig `json:"backends" yaml:"backends"`
}

type BackendConfig struct {
	// Name is the registry backend name to open (e.g. "grpc", "sqlite", "ipfs").
	Name string `json:"name" yaml:"name"`
	// ID is an optional stable alias. If empty, Name is used.
	ID     string            `json:"id,omitempty" yaml:"id,omitempty"`
	Config map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
}

func (b BackendConfig) id() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

// LoadFile reads a config. Files ending in .yaml or .yml are parsed as YAML,
// anything else as JSON.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("storeconfig: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	default:
		err = json.Unmarshal(b, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("storeconfig: %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("storeconfig: at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("storeconfig: backend name is required")
		}
		if _, ok := seen[b.id()]; ok {
			return fmt.Errorf("storeconfig: duplicate backend id %q", b.id())
		}
		seen[b.id()] = struct{}{}
	}
	if c.Feeds != "" {
		if _, ok := seen[c.Feeds]; !ok {
			return fmt.Errorf("storeconfig: feeds backend %q not found", c.Feeds)
		}
	}
	switch c.WritePolicy {
	case "", "first", "all":
		return nil
	default:
		return fmt.Errorf("storeconfig: invalid write_policy %q", c.WritePolicy)
	}
}

// Open opens every configured backend and composes them into one Storage.
// The returned close function closes backends in reverse order.
func (c Config) Open(usage registry.Usage) (storage.Storage, func() error, error) {
	h, err := c.OpenHandle(usage)
	if err != nil {
		return nil, nil, err
	}
	st, err := h.Storage()
	if err != nil {
		_ = h.Close()
		return nil, nil, err
	}
	return st, h.Close, nil
}

// OpenHandle is like Open but returns the composed blob and feed stores
// unwrapped, for callers that serve or copy raw feed updates.
func (c Config) OpenHandle(usage registry.Usage) (registry.Handle, error) {
	if err := c.Validate(); err != nil {
		return registry.Handle{}, err
	}

	named := make([]storage.NamedBlobs, 0, len(c.Backends))
	closers := make([]func() error, 0, len(c.Backends))
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	var feeds storage.FeedStore
	for _, b := range c.Backends {
		h, err := registry.OpenWithConfig(b.Name, usage, b.Config)
		if err != nil {
			_ = closeAll()
			return registry.Handle{}, fmt.Errorf("storeconfig: backend %q: %w", b.id(), err)
		}
		if h.Close != nil {
			closers = append(closers, h.Close)
		}
		named = append(named, storage.NamedBlobs{Name: b.id(), Blobs: h.Blobs})
		if h.Feeds == nil {
			if c.Feeds == b.id() {
				_ = closeAll()
				return registry.Handle{}, fmt.Errorf("storeconfig: backend %q does not store feeds", b.id())
			}
			continue
		}
		if (c.Feeds == "" && feeds == nil) || c.Feeds == b.id() {
			feeds = h.Feeds
		}
	}
	if feeds == nil {
		_ = closeAll()
		return registry.Handle{}, errors.New("storeconfig: no configured backend stores feeds")
	}

	var blobs storage.Blobs
	switch {
	case len(named) == 1:
		blobs = named[0].Blobs
	case c.WritePolicy == "all":
		blobs = storage.ReplicatingBlobs{Backends: named}
	default:
		bs := make([]storage.Blobs, 0, len(named))
		for _, n := range named {
			bs = append(bs, n.Blobs)
		}
		blobs = storage.MultiBlobs{Backends: bs}
	}
	return registry.Handle{Blobs: blobs, Feeds: feeds, Close: closeAll}, nil
}
