package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"xdao.co/feedsync/storage/grpcstore"
	"xdao.co/feedsync/storage/registry"
)

func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve blobs and feeds over gRPC",
		Long: `Start a storage daemon. Peers reach it with --backend=grpc. Feed updates are
verified before they are stored; blob-only backends reject feed calls.`,
		Args: cobra.NoArgs,
	}
	store := addStoreFlags(cmd, registry.UsageDaemon, "localfs")
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:7777", "listen address")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		logger := setupLogger(verbose)
		defer func() { _ = logger.Sync() }()

		h, err := store.open()
		if err != nil {
			return err
		}
		defer h.CloseQuietly()

		lis, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		defer lis.Close()

		s := grpc.NewServer(grpc.UnaryInterceptor(grpcstore.LoggingInterceptor(logger)))
		grpcstore.RegisterStorageServer(s, &grpcstore.Server{Blobs: h.Blobs, Feeds: h.Feeds})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			logger.Info("Shutting down storage daemon")
			s.GracefulStop()
		}()

		logger.Info("Starting storage daemon",
			zap.String("address", lis.Addr().String()),
			zap.String("backend", store.describe()),
			zap.Bool("feeds", h.Feeds != nil))
		return s.Serve(lis)
	}
	return cmd
}

func backendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List registered storage backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, b := range registry.List(registry.UsageCLI | registry.UsageDaemon) {
				if b.Description == "" {
					_, _ = fmt.Fprintf(out, "%s\n", b.Name)
					continue
				}
				_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
			}
			return nil
		},
	}
}
