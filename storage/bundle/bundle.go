// Package bundle moves feeds between stores without a network: a bundle is a
// deterministic TAR holding signed feed updates and the blobs they point to.
//
// Entries:
//
//	blobs/<hash>                 raw blob bytes
//	feeds/<address>/<topic>.json one signed feed.Update
//	index.json                   optional, non-authoritative summary
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/storage"
	"xdao.co/feedsync/wire"
)

// FormatVersion is the current index schema version.
const FormatVersion = 1

var epoch0 = time.Unix(0, 0).UTC()

// FeedKey names one feed.
type FeedKey struct {
	Address identity.Address
	Topic   feed.Topic
}

func (k FeedKey) path() string {
	return "feeds/" + k.Address.Hex() + "/" + k.Topic.Hex() + ".json"
}

// ExportOptions selects what goes into a bundle.
type ExportOptions struct {
	// Feeds are exported with the blob each one points to.
	Feeds []FeedKey
	// Blobs are exported in addition to the feed targets.
	Blobs []contenthash.Hash
	// IncludeIndex adds index.json.
	IncludeIndex bool
}

// Export writes a bundle to w. The bytes depend only on the selected content:
// entries are sorted and TAR headers are normalized. Every blob is checked
// against its hash before it is written.
func Export(ctx context.Context, w io.Writer, blobs storage.Blobs, feeds storage.FeedStore, opts ExportOptions) error {
	if blobs == nil {
		return fmt.Errorf("bundle: nil blob store")
	}
	if len(opts.Feeds) > 0 && feeds == nil {
		return fmt.Errorf("bundle: nil feed store")
	}

	updates := make(map[string]feed.Update, len(opts.Feeds))
	hashes := make(map[contenthash.Hash]struct{}, len(opts.Blobs)+len(opts.Feeds))
	for _, k := range opts.Feeds {
		u, err := feeds.Get(ctx, k.Address, k.Topic)
		if err != nil {
			return fmt.Errorf("bundle: feed %s/%s: %w", k.Address, k.Topic, err)
		}
		updates[k.path()] = u
		hashes[u.Hash] = struct{}{}
	}
	for _, h := range opts.Blobs {
		if _, err := contenthash.Parse(string(h)); err != nil {
			return storage.ErrInvalidHash
		}
		hashes[h] = struct{}{}
	}

	tw := tar.NewWriter(w)
	idx := indexJSON{Version: FormatVersion, Multihash: "sha2-256"}

	for _, h := range sortedHashes(hashes) {
		b, err := blobs.Read(ctx, h)
		if err != nil {
			_ = tw.Close()
			return fmt.Errorf("bundle: blob %s: %w", h, err)
		}
		if !h.Matches(b) {
			_ = tw.Close()
			return storage.ErrHashMismatch
		}
		if err := writeFile(tw, "blobs/"+h.String(), b); err != nil {
			_ = tw.Close()
			return err
		}
		entry := indexBlob{Hash: h.String(), Size: len(b)}
		if id, err := h.CID(); err == nil {
			entry.CID = id.String()
		}
		idx.Blobs = append(idx.Blobs, entry)
	}

	paths := make([]string, 0, len(updates))
	for p := range updates {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		u := updates[p]
		b, err := wire.Marshal(u)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, p, append(b, '\n')); err != nil {
			_ = tw.Close()
			return err
		}
		idx.Feeds = append(idx.Feeds, indexFeed{
			Address: u.Address.Hex(),
			Topic:   u.Topic.Hex(),
			Epoch:   u.Epoch,
			Hash:    u.Hash.String(),
		})
	}

	if opts.IncludeIndex {
		b, err := wire.Marshal(idx)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, "index.json", append(b, '\n')); err != nil {
			_ = tw.Close()
			return err
		}
	}

	return tw.Close()
}

// ImportOptions controls bundle import behavior.
type ImportOptions struct {
	// IgnoreUnknown skips unknown entries instead of failing.
	IgnoreUnknown bool
}

// Summary counts what Import stored.
type Summary struct {
	Blobs int
	Feeds int
	// Stale counts feed updates skipped because the store already holds a newer epoch.
	Stale int
}

// Import reads a bundle from r into blobs and feeds. Blob bytes must match
// their entry name. Feed updates must be correctly signed, match their entry
// path and point to a blob that is in the bundle or already stored.
// Feeds may be nil when the bundle holds no feed entries.
func Import(ctx context.Context, r io.Reader, blobs storage.Blobs, feeds storage.FeedStore, opts ImportOptions) (Summary, error) {
	var sum Summary
	if blobs == nil {
		return sum, fmt.Errorf("bundle: nil blob store")
	}

	tr := tar.NewReader(r)
	seenBlobs := map[contenthash.Hash]struct{}{}
	seenFeeds := map[string]struct{}{}

	for {
		h, err := tr.Next()
		if err == io.EOF {
			return sum, nil
		}
		if err != nil {
			return sum, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return sum, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return sum, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		switch {
		case name == "index.json":
			_, _ = io.Copy(io.Discard, tr)

		case strings.HasPrefix(name, "blobs/"):
			want, err := contenthash.Parse(strings.TrimPrefix(name, "blobs/"))
			if err != nil {
				return sum, storage.ErrInvalidHash
			}
			if _, dup := seenBlobs[want]; dup {
				return sum, fmt.Errorf("bundle: duplicate blob entry: %s", want)
			}
			payload, err := io.ReadAll(tr)
			if err != nil {
				return sum, err
			}
			if !want.Matches(payload) {
				return sum, storage.ErrHashMismatch
			}
			got, err := blobs.Write(ctx, payload)
			if err != nil {
				return sum, err
			}
			if got != want {
				return sum, storage.ErrHashMismatch
			}
			seenBlobs[want] = struct{}{}
			sum.Blobs++

		case strings.HasPrefix(name, "feeds/"):
			if _, dup := seenFeeds[name]; dup {
				return sum, fmt.Errorf("bundle: duplicate feed entry: %s", name)
			}
			seenFeeds[name] = struct{}{}
			if feeds == nil {
				return sum, fmt.Errorf("bundle: nil feed store for %s", name)
			}
			payload, err := io.ReadAll(tr)
			if err != nil {
				return sum, err
			}
			stored, err := importFeed(ctx, name, payload, blobs, feeds, seenBlobs)
			if err != nil {
				return sum, err
			}
			if stored {
				sum.Feeds++
			} else {
				sum.Stale++
			}

		default:
			if opts.IgnoreUnknown {
				_, _ = io.Copy(io.Discard, tr)
				continue
			}
			return sum, fmt.Errorf("bundle: unknown entry: %s", name)
		}
	}
}

func importFeed(ctx context.Context, name string, payload []byte, blobs storage.Blobs, feeds storage.FeedStore, seen map[contenthash.Hash]struct{}) (bool, error) {
	var u feed.Update
	if err := wire.Unmarshal(payload, &u); err != nil {
		return false, fmt.Errorf("bundle: %s: %w", name, err)
	}
	if (FeedKey{Address: u.Address, Topic: u.Topic}).path() != name {
		return false, fmt.Errorf("bundle: %s holds the update of %s/%s", name, u.Address, u.Topic)
	}
	if err := storage.CheckUpdate(nil, u); err != nil {
		return false, err
	}
	if _, ok := seen[u.Hash]; !ok {
		if _, err := blobs.Read(ctx, u.Hash); err != nil {
			return false, fmt.Errorf("bundle: %s points to a missing blob: %w", name, err)
		}
	}

	current, err := feeds.Get(ctx, u.Address, u.Topic)
	switch {
	case err == nil:
		if current.Epoch.Compare(u.Epoch) > 0 {
			return false, nil
		}
	case storage.IsNotFound(err):
	default:
		return false, err
	}
	if err := feeds.Put(ctx, u); err != nil {
		return false, err
	}
	return true, nil
}

type indexJSON struct {
	Version   int         `json:"version"`
	Multihash string      `json:"multihash"`
	Blobs     []indexBlob `json:"blobs"`
	Feeds     []indexFeed `json:"feeds,omitempty"`
}

type indexBlob struct {
	Hash string `json:"hash"`
	CID  string `json:"cid,omitempty"`
	Size int    `json:"size"`
}

type indexFeed struct {
	Address string     `json:"address"`
	Topic   string     `json:"topic"`
	Epoch   feed.Epoch `json:"epoch"`
	Hash    string     `json:"hash"`
}

func sortedHashes(set map[contenthash.Hash]struct{}) []contenthash.Hash {
	out := make([]contenthash.Hash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	parts := strings.Split(name, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
