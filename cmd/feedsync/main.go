// Command feedsync operates feed storage and drives contact handshakes and
// private channels from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	_ "xdao.co/feedsync/storage/grpcstore"
	_ "xdao.co/feedsync/storage/ipfs"
	_ "xdao.co/feedsync/storage/localfs"
	_ "xdao.co/feedsync/storage/memory"
	_ "xdao.co/feedsync/storage/sqlite"
)

var (
	configFile string
	keyDir     string
	verbose    bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "feedsync",
		Short: "Serverless feed sync over content-addressed storage",
		Long: `feedsync stores blobs and signed feed pointers, serves them to peers over
gRPC, and runs the contact handshake and private channel sync against any
configured storage backend.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "storage config file (YAML or JSON); overrides --backend")
	rootCmd.PersistentFlags().StringVar(&keyDir, "key-dir", "", "key store directory (default ~/.feedsync/keys)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		backendsCmd(),
		identityCmd(),
		inviteCmd(),
		acceptCmd(),
		advanceCmd(),
		syncCmd(),
		exportCmd(),
		importCmd(),
	)
	return rootCmd
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
