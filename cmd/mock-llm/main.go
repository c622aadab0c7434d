// Package main implements a fixture-driven LLM server for exercising
// semplan offline.
//
// It serves openai-compatible /v1/chat/completions, routing by the request's
// "model" field. Fixture files are named after the model:
//
//	planner.json        assistant content, repeated forever
//	planner.1.status    first call fails with the HTTP code in the file
//	planner.2.txt       second call returns the file verbatim
//
// Point a semplan provider with dialect openai at it to script primary
// failures, fallbacks and malformed replies.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		fixtureDir string
		addr       string
	)

	cmd := &cobra.Command{
		Use:          "mock-llm",
		Short:        "Serve scripted chat completions from fixture files",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fixtureDir == "" {
				fixtureDir = os.Getenv("MOCK_LLM_FIXTURES")
			}
			if fixtureDir == "" {
				return errors.New("--fixtures or MOCK_LLM_FIXTURES is required")
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			fixtures, err := loadFixtures(fixtureDir)
			if err != nil {
				return err
			}
			for model, seq := range fixtures {
				logger.Info("Fixture loaded", slog.String("model", model), slog.Int("replies", len(seq)))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr, newServer(fixtures, logger), logger)
		},
	}
	cmd.Flags().StringVar(&fixtureDir, "fixtures", "", "Directory of fixture files")
	cmd.Flags().StringVar(&addr, "addr", ":11434", "Listen address")
	return cmd
}

func serve(ctx context.Context, addr string, s *server, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Mock LLM listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
