// Command inboxctl exercises a published collection from the terminal:
// inspect the manifest, resolve items, report cache statistics and sweep the
// persistent cache. Configuration comes from BIGINBOX_* environment
// variables (see biginbox.Config).
//
// Collections published to object storage are reachable with an s3:// base
// URL, e.g. BIGINBOX_BASE_URL=s3://my-bucket/collections/abc123.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	biginbox "github.com/morisy/big-inbox"
	"github.com/morisy/big-inbox/source"
	s3source "github.com/morisy/big-inbox/source/s3"
	"github.com/morisy/big-inbox/store/sqlite"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := biginbox.NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(context.Background(), logger, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "inboxctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: inboxctl [-v] <command> [args]

Commands:
  manifest              fetch and summarize the collection manifest
  get <item> [chunk]    resolve one item's content (chunk hint optional)
  stats                 report cache statistics after loading the manifest
  sweep                 remove expired records from the persistent cache
`)
}

func run(ctx context.Context, logger *biginbox.Logger, args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("no command")
	}

	cfg, err := biginbox.ParseEnv()
	if err != nil {
		return err
	}

	if args[0] == "sweep" {
		return runSweep(ctx, cfg)
	}

	loader, err := newLoader(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer loader.Close()

	if err := loader.Initialize(ctx); err != nil {
		return err
	}

	switch args[0] {
	case "manifest":
		man := loader.Manifest()
		fmt.Printf("items: %d\nchunks: %d\n", man.TotalItems, man.NumChunks())
		for _, d := range man.Chunks {
			fmt.Printf("  chunk %d: %s\n", d.ChunkID, d.Path)
		}
		return nil

	case "get":
		if len(args) < 2 {
			return fmt.Errorf("get: item id required")
		}
		hint := biginbox.NoHint
		if len(args) > 2 {
			hint, err = strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("get: bad chunk id %q", args[2])
			}
		}
		content, ok, err := loader.GetItem(ctx, args[1], hint)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("item %q not found", args[1])
		}
		fmt.Println(string(content))
		return nil

	case "stats":
		stats := loader.Stats()
		fmt.Printf("memory entries: %d\nchunks loaded: %d\nitems cached: %d\ntotal chunks: %d\n",
			stats.MemoryEntries, stats.ChunksLoaded, stats.ItemsCached, stats.TotalChunks)
		if stats.Store != nil {
			fmt.Printf("chunks stored: %d\nexpiry days: %d\n", stats.Store.ChunksStored, stats.Store.ExpiryDays)
		}
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// newLoader builds a loader for the configured base URL, routing s3:// URLs
// to the object-storage source.
func newLoader(ctx context.Context, cfg biginbox.Config, logger *biginbox.Logger) (*biginbox.Loader, error) {
	if !strings.HasPrefix(cfg.BaseURL, "s3://") {
		return cfg.NewLoader(logger)
	}

	if cfg.CollectionID == "" {
		return nil, fmt.Errorf("BIGINBOX_COLLECTION_ID is required")
	}

	bucket, prefix, _ := strings.Cut(strings.TrimPrefix(cfg.BaseURL, "s3://"), "/")
	if bucket == "" {
		return nil, fmt.Errorf("bad s3 base url %q", cfg.BaseURL)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var src source.Source = s3source.NewSource(awss3.NewFromConfig(awsCfg), bucket, prefix)

	opts := []biginbox.Option{
		biginbox.WithLogger(logger),
		biginbox.WithManifestPath(cfg.ManifestPath),
		biginbox.WithLoadTimeout(cfg.LoadTimeout),
		biginbox.WithPrefetchRadius(cfg.PrefetchRadius),
		biginbox.WithMemoryChunkCapacity(cfg.MemoryChunks),
	}
	if cfg.CachePath != "" {
		st, err := sqlite.Open(cfg.CachePath, sqlite.WithTTL(cfg.CacheTTL), sqlite.WithLogger(logger.Logger))
		if err != nil {
			logger.Warn("persistent cache unavailable, running memory-only", "path", cfg.CachePath, "error", err)
		} else {
			opts = append(opts, biginbox.WithPersistentTier(st))
		}
	}

	return biginbox.New(cfg.CollectionID, src, opts...), nil
}

func runSweep(ctx context.Context, cfg biginbox.Config) error {
	if cfg.CachePath == "" {
		return fmt.Errorf("sweep: BIGINBOX_CACHE_PATH is required")
	}

	st, err := sqlite.Open(cfg.CachePath, sqlite.WithTTL(cfg.CacheTTL), sqlite.WithSweepInterval(0))
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.SweepExpired(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d expired records\n", n)
	return nil
}
