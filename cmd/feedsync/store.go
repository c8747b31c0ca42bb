package main

import (
	"flag"
	"strings"

	"github.com/spf13/cobra"

	"xdao.co/feedsync/storage/registry"
	"xdao.co/feedsync/storage/storeconfig"
)

// storeOptions selects storage either from --config or from --backend and the
// backend's own flags.
type storeOptions struct {
	backend string
	usage   registry.Usage
}

func addStoreFlags(cmd *cobra.Command, usage registry.Usage, defaultBackend string) *storeOptions {
	o := &storeOptions{usage: usage}
	cmd.Flags().StringVar(&o.backend, "backend", defaultBackend,
		"storage backend ("+strings.Join(registry.Names(usage), ", ")+")")

	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	registry.RegisterFlags(fs, usage)
	cmd.Flags().AddGoFlagSet(fs)
	return o
}

func (o *storeOptions) open() (registry.Handle, error) {
	if configFile != "" {
		cfg, err := storeconfig.LoadFile(configFile)
		if err != nil {
			return registry.Handle{}, err
		}
		return cfg.OpenHandle(o.usage)
	}
	return registry.Open(o.backend, o.usage)
}

func (o *storeOptions) describe() string {
	if configFile != "" {
		return "config:" + configFile
	}
	return o.backend
}
