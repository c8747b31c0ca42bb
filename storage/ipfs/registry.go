package ipfs

import (
	"flag"
	"os"

	"xdao.co/feedsync/storage/registry"
)

var (
	flagBin  string
	flagRepo string
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "ipfs",
		Description: "Local Kubo repository via the ipfs CLI (blobs only)",
		Usage:       registry.UsageCLI,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagBin, "ipfs-bin", "ipfs", "Path to the ipfs binary (for --backend=ipfs)")
			fs.StringVar(&flagRepo, "ipfs-path", "", "IPFS_PATH for the local repository (for --backend=ipfs)")
		},
		Open: func() (registry.Handle, error) {
			var env []string
			if flagRepo != "" {
				env = append(os.Environ(), "IPFS_PATH="+flagRepo)
			}
			return registry.Handle{Blobs: New(Options{Bin: flagBin, Env: env})}, nil
		},
	})
}
