package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/appointment-booking/internal/booking"
	"github.com/example/appointment-booking/internal/caldav"
	"github.com/example/appointment-booking/internal/config"
	"github.com/example/appointment-booking/internal/schedule"
	"github.com/example/appointment-booking/internal/server"
	"github.com/example/appointment-booking/internal/timezone"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	pluginLoc, err := timezone.ResolvePlugin(cfg.Calendar.Timezone)
	if err != nil {
		// Availability math still runs, anchored to UTC, but working hours
		// will drift for operators in any other zone.
		logger.Warn("plugin timezone unresolved, falling back to UTC", "setting", cfg.Calendar.Timezone, "error", err)
	}

	caldavClient, err := caldav.New(cfg.CalDAV, pluginLoc, logger)
	if err != nil {
		logger.Error("failed to initialize caldav client", "error", err)
		os.Exit(1)
	}
	caldavClient.Probe(ctx)

	resolver := &schedule.Resolver{
		Calendar:  cfg.Calendar,
		Events:    caldavClient,
		PluginLoc: pluginLoc,
		Now:       time.Now,
		Logger:    logger,
	}

	writer := &booking.Writer{
		Calendar:        caldavClient,
		Availability:    resolver,
		Sender:          &logSender{logger: logger},
		TimezoneSetting: cfg.Calendar.Timezone,
		PluginLoc:       pluginLoc,
		SiteName:        cfg.SiteName,
		SiteHost:        cfg.SiteHost,
		Logger:          logger,
	}

	srv := server.New(cfg, resolver, writer, caldavClient, pluginLoc, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("server started", "addr", cfg.ListenAddr, "timezone", pluginLoc.String())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// logSender stands in for the out-of-scope email collaborator: it receives
// the confirmation payload and generated ICS and records the handoff.
type logSender struct {
	logger *slog.Logger
}

func (s *logSender) SendConfirmation(ctx context.Context, conf booking.Confirmation) error {
	s.logger.Info("confirmation ready for delivery",
		"email", conf.Email,
		"type", conf.Type,
		"date", conf.Date,
		"time", conf.Time,
		"video_url", conf.VideoURL,
		"ics_bytes", len(conf.ICS),
	)
	return nil
}
