// Package app wires configuration into storage, cache, metrics and services.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/and161185/basejwt/internal/cache"
	"github.com/and161185/basejwt/internal/config"
	pkgcrypto "github.com/and161185/basejwt/internal/crypto"
	"github.com/and161185/basejwt/internal/guard"
	"github.com/and161185/basejwt/internal/metrics"
	"github.com/and161185/basejwt/internal/repository/memory"
	"github.com/and161185/basejwt/internal/repository/postgres"
	"github.com/and161185/basejwt/internal/service"
	"github.com/and161185/basejwt/internal/token"
)

// App holds the wired services and the resources behind them.
type App struct {
	Services *service.Services
	Registry *prometheus.Registry

	closers []func()
}

// DefaultRoles are created on an empty in-memory store; postgres gets them from migrations.
var DefaultRoles = []struct {
	Name, Code, Description string
	IsDefault               bool
}{
	{"Patient", "PAT", "Self-registered patient", true},
	{"Clinician", "CLN", "Clinical staff", false},
	{"Administrator", "ADM", "System administrator", false},
}

// Build connects storage and cache and constructs the services. Migrations are
// not applied here.
// Resources acquired before a failure are released before Build returns.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	a := &App{Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(a.Registry)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	c, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	a.closers = append(a.closers, func() { _ = c.Close() })

	signer := token.NewHS256Signer([]byte(cfg.JWT.SigningKey), cfg.JWT.Leeway, nil)
	issuer := token.NewIssuer(token.Policy{
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		ResetTTL:   cfg.Reset.TTL,
	}, signer, pkgcrypto.NewHMACHasher([]byte(cfg.JWT.Pepper)), nil)

	d := service.Deps{
		Issuer:   issuer,
		Guard:    guard.New(guard.Policy{Threshold: cfg.Lockout.Threshold, LockoutDuration: cfg.Lockout.Duration}, nil),
		Cache:    c,
		CacheTTL: cfg.Cache.TTL,
		Metrics:  m,
		Log:      log,
	}

	seed := false
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := postgres.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		d.Users = postgres.NewUserRepo(db)
		d.Roles = postgres.NewRoleRepo(db)
		d.Tokens = postgres.NewRefreshTokenRepo(db)
		d.Resets = postgres.NewResetTokenRepo(db)
	case "memory":
		st := memory.New()
		d.Users, d.Roles, d.Tokens, d.Resets = st.Users(), st.Roles(), st.RefreshTokens(), st.ResetTokens()
		seed = true
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	a.Services = service.New(d)
	if seed {
		for _, r := range DefaultRoles {
			if _, err := a.Services.Access.CreateRole(ctx, r.Name, r.Code, r.Description, r.IsDefault); err != nil {
				return nil, fmt.Errorf("seed role %s: %w", r.Code, err)
			}
		}
	}
	log.Info("services ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("cache", cfg.Cache.Kind))
	return a, nil
}

// Close releases resources in reverse order of acquisition. It is safe on a nil App.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
