// Command stacdex serves the STAC API over the latest index snapshot.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	apihttp "github.com/stacdex/stacdex/internal/api/http"
	"github.com/stacdex/stacdex/internal/config"
	"github.com/stacdex/stacdex/internal/engine"
	"github.com/stacdex/stacdex/internal/search"
	"github.com/stacdex/stacdex/internal/server"
	"github.com/stacdex/stacdex/internal/source"
)

var (
	httpAddr        string
	manifestURI     string
	refreshInterval time.Duration
)

func main() {
	settings := config.Load()

	cmd := &cobra.Command{
		Use:          "stacdex",
		Short:        "Serve the STAC API over an index snapshot",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", settings.HTTPAddr, "listen address")
	cmd.Flags().StringVar(&manifestURI, "manifest-json-uri", settings.IndexManifestURI,
		"manifest URI of the snapshot to serve")
	cmd.Flags().DurationVar(&refreshInterval, "refresh-interval", 30*time.Second,
		"how often to check the manifest for a new snapshot")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, settings *config.Settings) error {
	settings.IndexManifestURI = manifestURI
	if err := settings.ValidateServer(); err != nil {
		return err
	}
	if settings.Debug() {
		log.Printf("config: manifest=%s addr=%s max_concurrency=%d",
			settings.IndexManifestURI, httpAddr, settings.MaxConcurrency)
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

	eng, err := engine.New(ctx, sources, engine.Options{
		ManifestURI:   settings.IndexManifestURI,
		DuckDBThreads: settings.DuckDBThreads,
		S3: source.S3Config{
			Region:       settings.S3Region,
			Endpoint:     settings.S3Endpoint,
			UsePathStyle: settings.S3ForcePathStyle,
		},
	})
	if err != nil {
		return err
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	go eng.Watch(watchCtx, refreshInterval)

	tokens := search.NewTokenCodec(settings.TokenJWTSecret)
	runtime := search.NewRuntime(eng, sources, tokens, settings.MaxConcurrency)
	handler := apihttp.NewHandler(runtime)

	shutdown := server.NewShutdownManager(0)
	shutdown.RegisterCloser(server.CloserFunc(func() error {
		cancelWatch()
		return eng.Close()
	}))

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           apihttp.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	graceful := server.NewGracefulHTTPServer(httpServer, shutdown)

	go func() {
		if err := shutdown.ListenForSignals(ctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("serving STAC API on %s from %s", httpAddr, settings.IndexManifestURI)
	return graceful.ListenAndServe()
}
