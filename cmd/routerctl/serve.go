package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ryihan/dataroute/internal/inspector"
	"github.com/ryihan/dataroute/pkg/router"
	"github.com/ryihan/dataroute/pkg/router/instrument"
)

func serveCmd() *cobra.Command {
	var (
		addr        string
		metricsAddr string
		initialPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inspector HTTP/WebSocket bridge over a sample route tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, metricsAddr, initialPath)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "address the inspector HTTP API listens on")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (empty disables)")
	cmd.Flags().StringVar(&initialPath, "path", "/", "initial location the sample Router hydrates to")

	return cmd
}

func runServe(addr, metricsAddr, initialPath string) error {
	logger := slog.Default().With("component", "routerctl")

	var instr *instrument.Instrumentation
	if metricsAddr != "" {
		instr = instrument.New(instrument.WithNamespace("routerctl"))
	} else {
		instr = instrument.Nop()
	}

	r, err := router.NewRouter(router.RouterConfig{
		Routes:          sampleRoutes(),
		History:         router.NewMemoryHistory(router.Location{Pathname: initialPath}),
		Logger:          logger,
		Instrumentation: instr,
	})
	if err != nil {
		return fmt.Errorf("construct router: %w", err)
	}
	defer r.Close()

	insp := inspector.New(r, inspector.WithLogger(logger))

	srv := &http.Server{
		Addr:              addr,
		Handler:           insp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("inspector listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	if metricsAddr != "" {
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
		go func() {
			logger.Info("metrics listening", "addr", metricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-sigCh:
		logger.Info("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	}
}
