package sqlite

import (
	"flag"
	"fmt"

	"xdao.co/feedsync/storage/registry"
)

var flagPath string

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "sqlite",
		Description: "SQLite database file (blobs and feeds)",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagPath, "sqlite-path", "", "SQLite database path (for --backend=sqlite)")
		},
		Open: func() (registry.Handle, error) {
			if flagPath == "" {
				return registry.Handle{}, fmt.Errorf("missing --sqlite-path")
			}
			s, err := Open(flagPath)
			if err != nil {
				return registry.Handle{}, err
			}
			return registry.Handle{Blobs: s, Feeds: s, Close: s.Close}, nil
		},
	})
}
