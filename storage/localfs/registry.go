package localfs

import (
	"flag"
	"fmt"

	"xdao.co/feedsync/storage/registry"
)

var flagLocalDir string

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "localfs",
		Description: "Local filesystem blobs and feeds (directory)",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagLocalDir, "localfs-dir", "", "Storage directory (for --backend=localfs)")
		},
		Open: func() (registry.Handle, error) {
			if flagLocalDir == "" {
				return registry.Handle{}, fmt.Errorf("missing --localfs-dir")
			}
			s, err := New(flagLocalDir)
			if err != nil {
				return registry.Handle{}, err
			}
			return registry.Handle{Blobs: s, Feeds: s}, nil
		},
	})
}
