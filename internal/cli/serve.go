package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/fade/internal/engine"
	"github.com/lazypower/fade/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the trim schedule",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	vs, storeDesc, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer vs.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	emb, embDesc, err := newEmbedder(ctx, cfg, vs)
	if err != nil {
		return err
	}
	if err := ensureCollection(ctx, vs, emb.Dimensions()); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	params := scoringParams(cfg)
	svc := engine.NewService(vs, emb, params, engine.NewRetrievalState(),
		engine.WithQueueSize(cfg.WritebackQueueSize))
	defer svc.Close()

	trimmer := engine.NewTrimmer(vs, params, trimConfig(cfg))
	sched, err := engine.NewScheduler(trimmer, cfg.Trim.Schedule)
	if err != nil {
		return err
	}
	sched.Start(cfg.Trim.OnStartup)
	defer sched.Stop()

	srv := server.New(svc, VersionString(),
		server.WithTrimmer(trimmer),
		server.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "fade serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  store: %s\n", storeDesc)
		fmt.Fprintf(os.Stderr, "  embedder: %s\n", embDesc)
		fmt.Fprintf(os.Stderr, "  trim: %q threshold=%g batch=%d\n", cfg.Trim.Schedule, cfg.Trim.Threshold, cfg.Trim.BatchSize)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Deferred in reverse: scheduler stops, write-back drains, store closes.
	return httpServer.Shutdown(shutdownCtx)
}
