package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/storage/bundle"
	"xdao.co/feedsync/storage/registry"
)

func exportCmd() *cobra.Command {
	var (
		feeds []string
		blobs []string
		out   string
		index bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write feeds and blobs to an offline bundle",
		Example: `  # Export the handshake feed of an address and one extra blob
  feedsync export --feed 0x1234...abcd --blob 9f86d0... -o feeds.tar`,
		Args: cobra.NoArgs,
	}
	store := addStoreFlags(cmd, registry.UsageCLI, "localfs")
	cmd.Flags().StringSliceVar(&feeds, "feed", nil, "feed to export as ADDRESS or ADDRESS/TOPIC (repeatable)")
	cmd.Flags().StringSliceVar(&blobs, "blob", nil, "blob hash to export (repeatable)")
	cmd.Flags().StringVarP(&out, "output", "o", "-", "bundle file, - for stdout")
	cmd.Flags().BoolVar(&index, "index", true, "include index.json")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		opts := bundle.ExportOptions{IncludeIndex: index}
		for _, s := range feeds {
			k, err := parseFeedKey(s)
			if err != nil {
				return err
			}
			opts.Feeds = append(opts.Feeds, k)
		}
		for _, s := range blobs {
			h, err := contenthash.Parse(s)
			if err != nil {
				return err
			}
			opts.Blobs = append(opts.Blobs, h)
		}

		h, err := store.open()
		if err != nil {
			return err
		}
		defer h.CloseQuietly()

		if out == "-" {
			return bundle.Export(cmd.Context(), cmd.OutOrStdout(), h.Blobs, h.Feeds, opts)
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := bundle.Export(cmd.Context(), f, h.Blobs, h.Feeds, opts); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}
	return cmd
}

func importCmd() *cobra.Command {
	var ignoreUnknown bool
	cmd := &cobra.Command{
		Use:   "import BUNDLE",
		Short: "Load an offline bundle into storage (use - for stdin)",
		Args:  cobra.ExactArgs(1),
	}
	store := addStoreFlags(cmd, registry.UsageCLI, "localfs")
	cmd.Flags().BoolVar(&ignoreUnknown, "ignore-unknown", false, "skip unknown bundle entries instead of failing")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		h, err := store.open()
		if err != nil {
			return err
		}
		defer h.CloseQuietly()

		sum, err := bundle.Import(cmd.Context(), r, h.Blobs, h.Feeds, bundle.ImportOptions{IgnoreUnknown: ignoreUnknown})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "blobs\t%d\nfeeds\t%d\nstale\t%d\n", sum.Blobs, sum.Feeds, sum.Stale)
		return err
	}
	return cmd
}

func parseFeedKey(s string) (bundle.FeedKey, error) {
	addr, topic, hasTopic := strings.Cut(s, "/")
	a, err := identity.ParseAddress(addr)
	if err != nil {
		return bundle.FeedKey{}, err
	}
	k := bundle.FeedKey{Address: a, Topic: feed.ZeroTopic}
	if hasTopic {
		if k.Topic, err = feed.ParseTopic(topic); err != nil {
			return bundle.FeedKey{}, err
		}
	}
	return k, nil
}
