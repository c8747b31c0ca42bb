// Package ipfs stores blobs as raw blocks in a local Kubo repository.
//
// It shells out to the "ipfs" CLI and does not need a running daemon. Blocks
// are written as CIDv1 raw + sha2-256, so every block CID maps 1:1 to a
// contenthash.Hash. Feed updates are not supported; pair this backend with
// another FeedStore.
package ipfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/storage"
)

type Blobs struct {
	bin string
	env []string
}

var _ storage.Blobs = (*Blobs)(nil)

type Options struct {
	// Bin is the path to the ipfs binary. If empty, "ipfs" is used.
	Bin string
	// Env optionally overrides the command environment (e.g. to set IPFS_PATH).
	Env []string
}

func New(opts Options) *Blobs {
	bin := opts.Bin
	if bin == "" {
		bin = "ipfs"
	}
	return &Blobs{bin: bin, env: opts.Env}
}

func (b *Blobs) Write(ctx context.Context, data []byte) (contenthash.Hash, error) {
	h := contenthash.Sum(data)
	want, err := h.CID()
	if err != nil {
		return "", err
	}

	out, err := b.run(ctx, data,
		"block", "put",
		"--quiet",
		"--format=raw",
		"--mhtype=sha2-256",
		"--mhlen=32",
		"--cid-version=1",
		"/dev/stdin",
	)
	if err != nil {
		return "", err
	}

	got, err := cid.Decode(strings.TrimSpace(string(out)))
	if err != nil {
		return "", fmt.Errorf("ipfs: unexpected block put output: %w", err)
	}
	if !got.Equals(want) {
		return "", storage.ErrHashMismatch
	}
	return h, nil
}

func (b *Blobs) Read(ctx context.Context, h contenthash.Hash) ([]byte, error) {
	id, err := h.CID()
	if err != nil {
		return nil, storage.ErrInvalidHash
	}

	out, err := b.run(ctx, nil, "block", "get", id.String())
	if err != nil {
		if isLikelyNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if !h.Matches(out) {
		return nil, storage.ErrHashMismatch
	}
	return out, nil
}

func (b *Blobs) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, b.bin, args...)
	if b.env != nil {
		cmd.Env = b.env
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		s := strings.TrimSpace(string(ee.Stderr))
		if s == "" {
			return nil, fmt.Errorf("ipfs: %v", err)
		}
		return nil, fmt.Errorf("ipfs: %s", s)
	}
	return nil, err
}

func isLikelyNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found")
}
