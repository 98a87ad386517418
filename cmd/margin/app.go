package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fwojciec/margin"
	"github.com/fwojciec/margin/auth"
	"github.com/fwojciec/margin/config"
	mhttp "github.com/fwojciec/margin/http"
	marginjson "github.com/fwojciec/margin/json"
	"github.com/fwojciec/margin/telemetry"
	"go.uber.org/zap"
)

// app is everything one command invocation needs, built from config.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	providers *telemetry.Providers
	client    *mhttp.Client
	manager   *auth.Manager

	closers []io.Closer
	expired bool // the backend refused the saved credentials
}

// openApp loads config, sets up logging and telemetry, restores saved
// credentials and re-validates them with the backend. A backend that cannot
// be reached leaves the session signed out; the command decides whether
// that matters.
func openApp(ctx context.Context, c *cli) (*app, error) {
	dir := c.dir
	if dir == "" {
		d, err := config.Dir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	cfg, err := config.Load(dir, c.configPath, c.getenv)
	if err != nil {
		return nil, err
	}
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --base-url: %w", err)
		}
	}

	a := &app{cfg: cfg}
	if err := a.openLogger(); err != nil {
		return nil, err
	}
	if err := a.openTelemetry(ctx); err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	opts := []mhttp.Option{
		mhttp.WithBaseURL(cfg.BaseURL),
		mhttp.WithLoginPath(cfg.LoginPath),
		mhttp.WithDemoEmail(cfg.DemoEmail),
		mhttp.WithHeaderTimeout(cfg.HeaderTimeout.Duration),
		mhttp.WithLogger(a.logger.Named("http")),
	}
	a.client, err = mhttp.New(opts...)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	saved, err := marginjson.LoadSession(cfg.CredentialsPath)
	if err != nil {
		// A corrupt credentials file only costs a fresh sign-in.
		a.logger.Warn("ignoring saved credentials", zap.Error(err))
		saved = margin.SavedSession{}
	}
	if err := a.client.RestoreCookies(saved.Cookies); err != nil {
		a.logger.Warn("restore cookies failed", zap.Error(err))
	}
	a.manager = auth.New(a.client,
		auth.WithLogger(a.logger.Named("auth")),
		auth.WithTracerProvider(a.providers.TracerProvider),
		auth.WithGrant(margin.Grant{Token: saved.Token}),
	)
	if !saved.Empty() {
		if err := a.manager.Refresh(ctx); err != nil {
			a.logger.Warn("could not confirm saved session", zap.Error(err))
		} else if !margin.CanAccess(a.manager.Session()) {
			a.expired = true
		}
	}
	return a, nil
}

func (a *app) openLogger() error {
	f, err := telemetry.RotatingFile(a.cfg.Log.Path, telemetry.Rotation{
		MaxSizeMB:  a.cfg.Log.MaxSizeMB,
		MaxBackups: a.cfg.Log.MaxBackups,
		MaxAgeDays: a.cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	logger, err := telemetry.NewLogger(f, a.cfg.Log.Level)
	if err != nil {
		_ = f.Close()
		return err
	}
	a.logger = logger
	a.closers = append(a.closers, f)
	return nil
}

func (a *app) openTelemetry(ctx context.Context) error {
	if !a.cfg.Telemetry.Enabled {
		a.providers = telemetry.Noop()
		return nil
	}
	rot := telemetry.Rotation{
		MaxSizeMB:  a.cfg.Log.MaxSizeMB,
		MaxBackups: a.cfg.Log.MaxBackups,
		MaxAgeDays: a.cfg.Log.MaxAgeDays,
	}
	traces, err := telemetry.RotatingFile(a.cfg.Telemetry.TracesPath, rot)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, traces)
	metrics, err := telemetry.RotatingFile(a.cfg.Telemetry.MetricsPath, rot)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, metrics)

	a.providers, err = telemetry.Setup(ctx, traces, metrics, telemetry.WithVersion(version))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// save persists whatever credential material the session holds now. Saved
// credentials the backend refused are dropped, and an empty session removes
// the file.
func (a *app) save() error {
	var saved margin.SavedSession
	if s := a.manager.Session(); !a.expired || margin.CanAccess(s) {
		saved = margin.SavedSession{Token: s.Grant.Token, Cookies: a.client.Cookies()}
	}
	if err := marginjson.SaveSession(a.cfg.CredentialsPath, saved); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// close flushes telemetry and closes open files.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.providers != nil {
		if err := a.providers.Shutdown(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("flush telemetry: %w", err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
