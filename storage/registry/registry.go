// Package registry links storage backends into binaries.
//
// Backends are build-time plugins: each registers itself in init() and is
// enabled in a binary by importing the backend package, often as a blank import.
package registry

import (
	"flag"
	"fmt"
	"sort"
	"sync"

	"xdao.co/feedsync/storage"
)

// Usage restricts which programs accept a backend.
type Usage uint8

const (
	// UsageCLI marks backends usable by short-lived commands.
	UsageCLI Usage = 1 << iota
	// UsageDaemon marks backends usable by the storage daemon.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }

// Handle is an opened backend. Feeds is nil for backends that only store blobs.
type Handle struct {
	Blobs storage.Blobs
	Feeds storage.FeedStore
	Close func() error
}

// Storage returns the protocol view of h, signing feed writes locally.
// It fails when the backend cannot store feeds.
func (h Handle) Storage() (storage.Storage, error) {
	if h.Feeds == nil {
		return nil, fmt.Errorf("registry: backend does not store feeds")
	}
	return storage.Compose(h.Blobs, storage.SignedFeeds{Store: h.Feeds}), nil
}

// CloseQuietly calls Close when set.
func (h Handle) CloseQuietly() {
	if h.Close != nil {
		_ = h.Close()
	}
}

// Backend describes one registrable storage implementation.
type Backend struct {
	Name        string
	Description string
	Usage       Usage

	// RegisterFlags adds backend-specific flags to fs.
	RegisterFlags func(fs *flag.FlagSet)

	// Open constructs the backend using values parsed into the flags
	// registered by RegisterFlags.
	Open func() (Handle, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("registry: backend name is required")
	}
	if b.RegisterFlags == nil {
		return fmt.Errorf("registry: backend %q missing RegisterFlags", b.Name)
	}
	if b.Open == nil {
		return fmt.Errorf("registry: backend %q missing Open", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("registry: backend %q missing Usage", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("registry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// RegisterFlags registers flags for all backends matching usage, so a single
// parse pass accepts every backend's flags.
func RegisterFlags(fs *flag.FlagSet, usage Usage) {
	for _, b := range List(usage) {
		b.RegisterFlags(fs)
	}
}

func lookup(name string, usage Usage) (Backend, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return Backend{}, fmt.Errorf("registry: unknown backend %q", name)
	}
	if !b.Usage.allows(usage) {
		return Backend{}, fmt.Errorf("registry: backend %q not supported in this binary", name)
	}
	return b, nil
}

// Open opens the named backend using already parsed flags.
func Open(name string, usage Usage) (Handle, error) {
	b, err := lookup(name, usage)
	if err != nil {
		return Handle{}, err
	}
	return b.Open()
}

// OpenWithConfig opens the named backend with flag values taken from config.
// Keys are the backend's flag names without leading dashes.
func OpenWithConfig(name string, usage Usage, config map[string]string) (Handle, error) {
	b, err := lookup(name, usage)
	if err != nil {
		return Handle{}, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	b.RegisterFlags(fs)

	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if fs.Lookup(k) == nil {
			return Handle{}, fmt.Errorf("registry: backend %q has no option %q", name, k)
		}
		if err := fs.Set(k, config[k]); err != nil {
			return Handle{}, fmt.Errorf("registry: backend %q option %q: %w", name, k, err)
		}
	}
	return b.Open()
}
