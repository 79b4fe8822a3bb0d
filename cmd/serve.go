package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/underwriter/internal/api"
)

const shutdownGrace = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the underwriting HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		handler := api.New(cfg.Server, env.Recalc, env.Resolver, env.Risk,
			api.WithAnalysis(env.Orchestrator()),
			api.WithComparables(env.Store),
			api.WithGatherer(env.Registry),
		).Handler()

		srv := &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Server.Port)),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("serve: listening",
				zap.String("addr", srv.Addr),
				zap.String("store", cfg.Store.Driver),
				zap.String("cache", cfg.Recalc.CacheBackend),
			)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "serve: listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("serve: draining connections", zap.Duration("grace", shutdownGrace))
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
			defer cancel()
			return eris.Wrap(srv.Shutdown(sctx), "serve: shutdown")
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default server.port)")
	rootCmd.AddCommand(serveCmd)
}
