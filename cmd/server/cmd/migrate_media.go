package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/eventhorizon/server/internal/config"
	"github.com/eventhorizon/server/internal/filestore"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	migrateMediaDryRun       bool
	migrateMediaDeleteSource bool
	migrateMediaConcurrency  int
)

var migrateMediaCmd = &cobra.Command{
	Use:   "migrate-media",
	Short: "Copy local uploads to S3",
	Long: `Copy every file under STORAGE_LOCAL_ROOT/media to the configured S3 bucket.

STORAGE_BACKEND must be s3 or minio. Files already present in the bucket are
skipped, so the command can be re-run after a partial failure.

Examples:
  # Show what would be copied
  server migrate-media --dry-run

  # Copy and remove the local copies
  server migrate-media --delete-source`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if cfg.Storage.Backend == config.StorageBackendLocal {
			return fmt.Errorf("STORAGE_BACKEND must be s3 or minio to migrate media")
		}
		logger := config.NewLogger(cfg.Logging)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		localCfg := cfg.Storage
		localCfg.Backend = config.StorageBackendLocal
		src, err := filestore.New(ctx, localCfg, filestore.KindMedia)
		if err != nil {
			return fmt.Errorf("open local media: %w", err)
		}
		dst, err := filestore.New(ctx, cfg.Storage, filestore.KindMedia)
		if err != nil {
			return fmt.Errorf("open s3 media: %w", err)
		}

		result, err := migrateMedia(ctx, dst, src, filestore.CopyOptions{
			DryRun:       migrateMediaDryRun,
			DeleteSource: migrateMediaDeleteSource,
		}, migrateMediaConcurrency, logger)
		printCopyResult(cmd.OutOrStdout(), result, migrateMediaDryRun)
		if err != nil {
			return err
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d files failed to copy", result.Failed)
		}
		return nil
	},
}

func init() {
	migrateMediaCmd.Flags().BoolVar(&migrateMediaDryRun, "dry-run", false, "list the files that would be copied without uploading")
	migrateMediaCmd.Flags().BoolVar(&migrateMediaDeleteSource, "delete-source", false, "delete each local file after a verified upload")
	migrateMediaCmd.Flags().IntVar(&migrateMediaConcurrency, "concurrency", 8, "number of parallel uploads")
}

// migrateMedia copies every file src can enumerate into dst. Per-file
// failures are counted in the result; only a failed walk is returned.
func migrateMedia(ctx context.Context, dst, src filestore.Backend, opts filestore.CopyOptions, concurrency int, logger zerolog.Logger) (filestore.CopyResult, error) {
	var result filestore.CopyResult

	walker, ok := src.(filestore.Walker)
	if !ok {
		return result, fmt.Errorf("source storage cannot list its files")
	}
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	walkErr := walker.Walk(gctx, func(name string) error {
		g.Go(func() error {
			copied, err := filestore.CopyFile(gctx, dst, src, name, opts)
			mu.Lock()
			filestore.LogCopy(logger, &result, name, copied, err)
			mu.Unlock()
			return nil
		})
		return nil
	})
	_ = g.Wait()
	if walkErr != nil {
		return result, fmt.Errorf("list local media: %w", walkErr)
	}
	return result, nil
}

func printCopyResult(out io.Writer, result filestore.CopyResult, dryRun bool) {
	verb := "Copied"
	if dryRun {
		verb = "Would copy"
	}
	fmt.Fprintf(out, "%s: %d\n", verb, result.Copied)
	fmt.Fprintf(out, "Skipped:   %d\n", result.Skipped)
	fmt.Fprintf(out, "Failed:    %d\n", result.Failed)
}
