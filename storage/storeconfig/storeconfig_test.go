package storeconfig

import (
	"context"
	"crypto/rand"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/storage"
	"xdao.co/feedsync/storage/localfs"
	_ "xdao.co/feedsync/storage/memory"
	"xdao.co/feedsync/storage/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:          "test-blobs-only",
		Description:   "blob store without feeds",
		Usage:         registry.UsageCLI,
		RegisterFlags: func(fs *flag.FlagSet) {},
		Open: func() (registry.Handle, error) {
			dir, err := os.MkdirTemp("", "storeconfig-blobs")
			if err != nil {
				return registry.Handle{}, err
			}
			s, err := localfs.New(dir)
			if err != nil {
				return registry.Handle{}, err
			}
			return registry.Handle{Blobs: s, Close: func() error { return os.RemoveAll(dir) }}, nil
		},
	})
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestLoadFileYAML(t *testing.T) {
	p := writeFile(t, "store.yaml", `
write_policy: all
feeds: b
backends:
  - name: localfs
    id: a
    config: {localfs-dir: /tmp/a}
  - name: localfs
    id: b
    config:
      localfs-dir: /tmp/b
`)
	cfg, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.WritePolicy != "all" || cfg.Feeds != "b" {
		t.Fatalf("policy/feeds: got %q/%q", cfg.WritePolicy, cfg.Feeds)
	}
	if len(cfg.Backends) != 2 {
		t.Fatalf("backends: got %d, want 2", len(cfg.Backends))
	}
	if got := cfg.Backends[1].Config["localfs-dir"]; got != "/tmp/b" {
		t.Fatalf("localfs-dir: got %q", got)
	}
}

func TestLoadFileJSON(t *testing.T) {
	p := writeFile(t, "store.json", `{"backends":[{"name":"memory"}]}`)
	cfg, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(cfg.Backends) != 1 || cfg.Backends[0].Name != "memory" {
		t.Fatalf("backends: got %+v", cfg.Backends)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]Config{
		"empty":         {},
		"missing name":  {Backends: []BackendConfig{{ID: "x"}}},
		"duplicate id":  {Backends: []BackendConfig{{Name: "memory"}, {Name: "memory"}}},
		"bad policy":    {WritePolicy: "some", Backends: []BackendConfig{{Name: "memory"}}},
		"unknown feeds": {Feeds: "nope", Backends: []BackendConfig{{Name: "memory"}}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestOpenReplicating(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	cfg := Config{
		WritePolicy: "all",
		Backends: []BackendConfig{
			{Name: "localfs", ID: "a", Config: map[string]string{"localfs-dir": dirA}},
			{Name: "localfs", ID: "b", Config: map[string]string{"localfs-dir": dirB}},
		},
	}
	st, closeFn, err := cfg.Open(registry.UsageCLI)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()

	h, err := st.Write(ctx, []byte("replicated"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	for _, dir := range []string{dirA, dirB} {
		s, err := localfs.New(dir)
		if err != nil {
			t.Fatalf("localfs.New: %v", err)
		}
		b, err := s.Read(ctx, h)
		if err != nil {
			t.Fatalf("Read from %s: %v", dir, err)
		}
		if string(b) != "replicated" {
			t.Fatalf("payload mismatch in %s", dir)
		}
	}

	owner, err := identity.Generate(rand.Reader)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := st.Feeds().Write(ctx, owner.Address, feed.ZeroTopic, h, feed.IdentitySigner(owner)); err != nil {
		t.Fatalf("Feeds().Write: %v", err)
	}

	// Feeds default to the first backend that stores them.
	a, err := localfs.New(dirA)
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	got, err := a.Get(ctx, owner.Address, feed.ZeroTopic)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Hash != h {
		t.Fatalf("feed hash: got %s, want %s", got.Hash, h)
	}

	b, err := localfs.New(dirB)
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	if _, err := b.Get(ctx, owner.Address, feed.ZeroTopic); !storage.IsNotFound(err) {
		t.Fatalf("second backend: expected not found, got %v", err)
	}
}

func TestOpenFeedsFromLaterBackend(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Backends: []BackendConfig{
		{Name: "test-blobs-only"},
		{Name: "memory"},
	}}
	st, closeFn, err := cfg.Open(registry.UsageCLI)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()

	owner, err := identity.Generate(rand.Reader)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	h, err := st.Write(ctx, []byte("first policy"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := st.Feeds().Write(ctx, owner.Address, feed.ZeroTopic, h, feed.IdentitySigner(owner)); err != nil {
		t.Fatalf("Feeds().Write: %v", err)
	}
	got, err := st.Feeds().Read(ctx, owner.Address, feed.ZeroTopic)
	if err != nil {
		t.Fatalf("Feeds().Read: %v", err)
	}
	if got != h {
		t.Fatalf("feed hash: got %s, want %s", got, h)
	}
}

func TestOpenRejectsBlobOnlyFeeds(t *testing.T) {
	cfg := Config{Feeds: "test-blobs-only", Backends: []BackendConfig{{Name: "test-blobs-only"}}}
	if _, _, err := cfg.Open(registry.UsageCLI); err == nil {
		t.Fatalf("expected error for explicit blob-only feeds backend")
	}

	cfg = Config{Backends: []BackendConfig{{Name: "test-blobs-only"}}}
	if _, _, err := cfg.Open(registry.UsageCLI); err == nil {
		t.Fatalf("expected error when no backend stores feeds")
	}
}

func TestOpenUnknownOption(t *testing.T) {
	cfg := Config{Backends: []BackendConfig{{Name: "memory", Config: map[string]string{"bogus": "1"}}}}
	if _, _, err := cfg.Open(registry.UsageCLI); err == nil {
		t.Fatalf("expected error for unknown option")
	}
}
