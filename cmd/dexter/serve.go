package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"goa.design/clue/debug"
	"goa.design/clue/log"

	"github.com/dexterhq/dexter/transport/sse"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent over HTTP with server-sent events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := logContext()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		agent, internal, err := newAgent(cfg)
		if err != nil {
			return err
		}
		recorder, pingers, closeRecorder, err := newRecorder(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeRecorder(context.Background())

		srv, err := sse.New(sse.Options{
			Agent:          agent,
			Recorder:       recorder,
			InternalTools:  internal,
			MaxSteps:       cfg.MaxSteps,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Pingers:        pingers,
		})
		if err != nil {
			return err
		}

		var handler http.Handler = srv.Handler()
		if debugFlag {
			handler = debug.HTTP()(handler)
		}
		handler = log.HTTP(ctx)(handler)

		httpSrv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 60 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			log.Printf(ctx, "HTTP server listening on %q", cfg.HTTP.Addr)
			errc <- httpSrv.ListenAndServe()
		}()

		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)

		select {
		case err := <-errc:
			return err
		case <-sigc:
		}

		log.Printf(ctx, "shutting down HTTP server at %q", cfg.HTTP.Addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	},
}
