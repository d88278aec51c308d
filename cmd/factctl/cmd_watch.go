// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

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

	"github.com/AleutianAI/factstream/services/facts/engine"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws := cli.newWorkspace()
	defer ws.Close()

	opts := append(cli.cfg.WatcherOptions(),
		engine.WithWatcherLogger(cli.logger.Slog()),
		engine.WithUpdateHandler(reportUpdate),
	)
	w, err := engine.NewWatcher(ws, opts...)
	if err != nil {
		return err
	}
	defer w.Close()

	for _, path := range args {
		if err := w.Add(ctx, path); err != nil {
			return err
		}
		cli.out.Success("watching " + path)
	}

	if watchMetricsAddr != "" {
		srv := serveMetrics(watchMetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func reportUpdate(path string, results []engine.EditResult, err error) {
	if err != nil {
		cli.out.Error(fmt.Sprintf("%s: %v", path, err))
		return
	}
	relexed, invalidated := 0, 0
	for _, res := range results {
		relexed += res.RelexedTokens
		invalidated += res.Invalidated
	}
	cli.out.Line("%s: %d edits, %d tokens relexed, %d cache entries invalidated",
		path, len(results), relexed, invalidated)
}

// serveMetrics exposes the default Prometheus registry on addr.
func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()
	cli.logger.Slog().Info("serving metrics", slog.String("addr", addr))
	return srv
}
