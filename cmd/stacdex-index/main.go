// Command stacdex-index crawls a STAC catalog tree and builds an index
// snapshot. It prints the manifest URI of the committed snapshot to stdout.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/stacdex/stacdex/internal/config"
	"github.com/stacdex/stacdex/internal/crawler"
	"github.com/stacdex/stacdex/internal/index"
	"github.com/stacdex/stacdex/internal/source"
)

var (
	rootCatalogURI  string
	manifestJSONURI string
	outputURI       string
	indexConfigPath string
	maxConcurrency  int
	retainIndexes   int
	duckdbThreads   int
)

func main() {
	settings := config.Load()

	cmd := &cobra.Command{
		Use:   "stacdex-index",
		Short: "Build a searchable index snapshot from a STAC catalog tree",
		Long: `stacdex-index crawls a STAC catalog tree, validates the items it finds,
and commits an immutable columnar snapshot. Pass --root-catalog-uri to index
a tree from scratch, or --manifest-json-uri to re-index the tree recorded in
an existing snapshot with the same configuration.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings)
		},
	}

	cmd.Flags().StringVar(&rootCatalogURI, "root-catalog-uri", settings.RootCatalogURI,
		"URI of the root STAC catalog to crawl")
	cmd.Flags().StringVar(&manifestJSONURI, "manifest-json-uri", "",
		"manifest URI of a previous snapshot to re-index from")
	cmd.Flags().StringVar(&outputURI, "output-uri", settings.IndexOutputURI,
		"directory URI under which snapshot directories are created")
	cmd.Flags().StringVar(&indexConfigPath, "index-config", "",
		"path to the index configuration JSON (new indexes only)")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", settings.MaxConcurrency,
		"maximum parallel source reads")
	cmd.Flags().IntVar(&retainIndexes, "retain", settings.RetainIndexes,
		"number of snapshots to keep after a successful run")
	cmd.Flags().IntVar(&duckdbThreads, "duckdb-threads", settings.DuckDBThreads,
		"DuckDB thread count (0 = engine default)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, settings *config.Settings) error {
	if (rootCatalogURI == "") == (manifestJSONURI == "") {
		return fmt.Errorf("exactly one of --root-catalog-uri and --manifest-json-uri is required")
	}

	sources := source.NewRegistry(
		source.NewLocalSource(),
		source.NewHTTPSSource(),
		source.NewS3Source(source.S3Config{
			Region:       settings.S3Region,
			Endpoint:     settings.S3Endpoint,
			UsePathStyle: settings.S3ForcePathStyle,
		}),
	)

	opts := index.WriterOptions{
		OutputBaseURI:  outputURI,
		RootCatalogURI: rootCatalogURI,
		DuckDBThreads:  duckdbThreads,
		S3: source.S3Config{
			Region:       settings.S3Region,
			Endpoint:     settings.S3Endpoint,
			UsePathStyle: settings.S3ForcePathStyle,
		},
	}

	var indexConfig *index.Config
	if manifestJSONURI != "" {
		if indexConfigPath != "" {
			return fmt.Errorf("--index-config cannot be combined with --manifest-json-uri; the previous snapshot's configuration is reused")
		}
		previous, err := index.ReadManifest(ctx, sources, manifestJSONURI)
		if err != nil {
			return err
		}
		if previous.RootCatalogURI == "" {
			return fmt.Errorf("manifest %s records no root catalog uri", manifestJSONURI)
		}
		indexConfig = previous.IndexConfig
		opts.RootCatalogURI = previous.RootCatalogURI
		opts.PreviousManifestURI = manifestJSONURI
		// Snapshots live side by side under the same base directory.
		snapshotDir := source.ParentDir(manifestJSONURI)
		opts.OutputBaseURI = source.ParentDir(snapshotDir)
	} else if indexConfigPath != "" {
		cfg, err := index.LoadConfig(indexConfigPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		indexConfig = cfg
	}

	if opts.OutputBaseURI == "" {
		return fmt.Errorf("--output-uri is required (or set %sINDEX_OUTPUT_URI)", config.EnvPrefix)
	}

	writer, err := index.NewWriter(ctx, sources, indexConfig, opts)
	if err != nil {
		return err
	}
	defer writer.Close()

	log.Printf("indexing %s into snapshot %s", opts.RootCatalogURI, writer.LoadID())

	var fixNames []string
	if indexConfig != nil {
		fixNames = indexConfig.FixesToApply
	}
	c := crawler.New(sources, crawler.Options{
		MaxConcurrency: maxConcurrency,
		FixNames:       fixNames,
	})
	if err := c.Crawl(ctx, opts.RootCatalogURI, writer); err != nil {
		return err
	}

	manifestURI, err := writer.Finish(ctx)
	if err != nil {
		return err
	}
	fmt.Println(manifestURI)

	if err := index.Retain(ctx, sources, opts.OutputBaseURI, retainIndexes); err != nil {
		log.Printf("retention failed: %v", err)
	}
	return nil
}
