// Copyright © 2024 Mutker Telag <witty.text5011@fastmail.com>
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"codeberg.org/mutker/pzemd/internal/alert"
	"codeberg.org/mutker/pzemd/internal/baseline"
	"codeberg.org/mutker/pzemd/internal/config"
	"codeberg.org/mutker/pzemd/internal/engine"
	"codeberg.org/mutker/pzemd/internal/errors"
	"codeberg.org/mutker/pzemd/internal/httpapi"
	"codeberg.org/mutker/pzemd/internal/logger"
	"codeberg.org/mutker/pzemd/internal/meter"
	"codeberg.org/mutker/pzemd/internal/pid"
	"codeberg.org/mutker/pzemd/internal/store"
	"codeberg.org/mutker/pzemd/internal/transport"
	"github.com/spf13/pflag"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(cfg.PIDFile); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go handleSignals(cancel)

	code := 0
	if err := run(ctx, cfg); err != nil {
		if e, ok := err.(errors.Error); ok {
			logger.ErrorWithCode(e).Msg("pzemd stopped")
		} else {
			logger.Error().Err(err).Msg("pzemd stopped")
		}
		code = 1
	}
	cancel()

	if err := pid.Remove(cfg.PIDFile); err != nil {
		logger.Error().Err(err).Msg("failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config) error {
	errFactory := errors.New()

	st, err := store.Open(ctx, cfg.Store, logger.With("store"))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close store")
		}
	}()

	opts := engine.Options{
		Calendar:   cfg.Calendar(),
		Schedule:   cfg.Schedule(),
		Validator:  meter.NewValidator(cfg.Thresholds(), logger.With("validator")),
		Detector:   meter.NewDetector(cfg.Validation.ResetDropRatio),
		Sink:       st,
		Store:      st,
		StaleAfter: cfg.Health.StaleAfter,
		Logger:     logger.With("engine"),
	}

	if cfg.KafkaEnabled() {
		publisher, err := alert.New(cfg.Kafka, logger.With("alert"))
		if err != nil {
			return errFactory.Wrap(errors.ErrInitApp, err)
		}
		defer publisher.Close()
		opts.Alerts = publisher
	}

	// The subscriber is started only after the engine exists, so the
	// handler never sees a nil engine.
	var eng *engine.Engine
	sub, err := transport.New(cfg.MQTT, func(payload []byte) {
		eng.HandlePayload(ctx, payload)
	}, logger.With("mqtt"))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	opts.Transport = sub

	eng = engine.Bootstrap(ctx, st, baseline.Options{
		Lookback:     cfg.Recovery.Lookback,
		DayLookback:  cfg.Recovery.DayLookback,
		QueryTimeout: cfg.Recovery.QueryTimeout,
		Logger:       logger.With("baseline"),
	}, opts)

	if err := sub.Start(); err != nil {
		return errFactory.Wrap(errors.ErrTransport, err)
	}
	defer sub.Close()

	var wg sync.WaitGroup
	if cfg.HTTP.Listen != "" {
		srv := httpapi.NewServer(cfg.HTTP.Listen, eng, logger.With("http"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("status API stopped")
			}
		}()
	}

	err = eng.Run(ctx, engine.LoopOptions{
		HealthInterval:  cfg.Health.Interval,
		SummaryInterval: cfg.SummaryInterval,
	})
	wg.Wait()
	if err != nil {
		return errFactory.Wrap(errors.ErrMainLoop, err)
	}
	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
