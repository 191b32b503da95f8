package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"shroud/internal/app/server"
	"shroud/internal/config"
	"shroud/internal/controller"
	"shroud/internal/filter"
	"shroud/internal/geo"
	"shroud/internal/intercept"
	"shroud/internal/metrics"
	"shroud/internal/netlog"
	"shroud/internal/proxy"
	"shroud/internal/relay"
	"shroud/internal/rodhost"
	"shroud/internal/session"
	"shroud/internal/store"
	"shroud/internal/support"
	"shroud/internal/surface"
)

func main() {
	configPath := flag.String("config", support.GetEnv("SHROUD_CONFIG", ""), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load configuration", "error", err)
	}
	config.SetConfig(cfg)
	setLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("shroud stopped", "error", err)
	}
	log.Info("shroud stopped")
}

func run(ctx context.Context, cfg *config.Config, configPath string) error {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	if closer, ok := st.(io.Closer); ok {
		defer closer.Close()
	}

	sess := session.New("main", session.WithDialTimeout(cfg.Proxy.DialTimeout))
	defer sess.Close()

	resolver, err := geo.NewResolver(ctx, geo.Options{
		Endpoint:          cfg.Verify.Endpoint,
		CityDBPath:        cfg.Geo.CityDBPath,
		ReverseGeocodeURL: cfg.Geo.ReverseGeocodeURL,
		CacheTTL:          cfg.Geo.CacheTTL,
	})
	if err != nil {
		return err
	}
	defer resolver.Close()

	m := metrics.New()

	bus, presence, err := openRelay(ctx, cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	manager := proxy.NewManager(sess, resolver, st, proxy.Options{
		Attempts:     cfg.Verify.Attempts,
		RetryDelay:   cfg.Verify.RetryDelay,
		ProbeTimeout: cfg.Verify.ProbeTimeout,
		NewIsolated: func() proxy.Session {
			return session.New("proxy-test", session.WithDialTimeout(cfg.Proxy.DialTimeout))
		},
	})

	// The pipeline reads state from the controller, which is built below and
	// assigned before any listener starts.
	var ctrl *controller.Controller
	nl := netlog.New(cfg.Filter.NetworkLogCapacity)
	pipeline := filter.New(filter.StateFunc(func() filter.State { return ctrl.Snapshot() }), nl)
	pipeline.SetExtraPatterns(cfg.Filter.ExtraTrackerPatterns, cfg.Filter.ExtraAdPatterns)
	pipeline.OnDecision = func(stage string, d filter.Decision) {
		m.FilterDecision(stage, d.Action.String())
	}

	clearers := dataClearers{sess}
	var host *rodhost.Host
	if cfg.Browser.Enabled {
		host, err = rodhost.Launch(ctx, rodhost.Options{
			Headless: cfg.Browser.Headless,
			Proxy:    "http://" + cfg.Intercept.Listen,
		})
		if err != nil {
			return err
		}
		defer host.Close()
		clearers = append(clearers, host)
	}

	ctrl = controller.New(controller.Deps{
		Manager:   manager,
		Session:   sess,
		Prober:    resolver,
		NetLog:    nl,
		Publisher: bus,
		Clearer:   clearers,
		Pipeline:  pipeline,
		Metrics:   m,
	}, controller.Options{ActivityCapacity: cfg.Intercept.ActivityCap})

	initial := ctrl.Snapshot()
	adapter := surface.New(initial.Profile, initial.Privacy)

	handler := intercept.NewHandler(pipeline, sess, intercept.Options{
		FirstParty: cfg.Intercept.FirstParty,
		Username:   cfg.Intercept.Username,
		Password:   cfg.Intercept.Password,
	})
	handler.OnOutcome = m.Intercepted

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return intercept.Serve(gctx, cfg.Intercept.Listen, handler) })
	g.Go(func() error {
		return intercept.Serve(gctx, cfg.Admin.Listen, server.NewRouter(server.Deps{
			Controller: ctrl,
			Metrics:    m,
			Presence:   presence,
		}))
	})
	g.Go(func() error {
		adapter.Follow(gctx, bus, func(kind relay.Kind) {
			if host == nil {
				return
			}
			if err := adapter.ApplyTo(gctx, host); err != nil {
				log.Warn("failed to refresh browser overrides", "kind", kind, "error", err)
			}
		})
		return nil
	})
	if presence != nil {
		g.Go(func() error {
			presence.Run(gctx)
			return nil
		})
	}

	if err := ctrl.Start(gctx); err != nil {
		log.Warn("failed to restore proxy profiles", "error", err)
	}

	if configPath != "" {
		err := config.Watch(gctx, configPath, func(next *config.Config) {
			config.SetConfig(next)
			setLogLevel(next.LogLevel)
			if err := ctrl.ApplyConfig(gctx, next); err != nil {
				log.Warn("failed to apply reloaded configuration", "error", err)
			}
		})
		if err != nil {
			log.Warn("configuration hot reload disabled", "path", configPath, "error", err)
		}
	}

	if host != nil {
		if err := adapter.ApplyTo(gctx, host); err != nil {
			log.Warn("some browser overrides failed", "error", err)
		}
		if err := host.Intercept(pipeline, sess.Client()); err != nil {
			return err
		}
		if err := host.Navigate(cfg.Browser.StartURL); err != nil {
			log.Error("failed to open start page", "url", cfg.Browser.StartURL, "error", err)
		}
	}

	log.Info("shroud running", "intercept", cfg.Intercept.Listen, "admin", cfg.Admin.Listen, "relay", cfg.Relay.Driver)
	return g.Wait()
}

func openRelay(ctx context.Context, cfg *config.Config) (relay.Relay, *relay.Presence, error) {
	if cfg.Relay.Driver != "redis" {
		return relay.NewLocal(), nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Relay.RedisAddr, DB: cfg.Relay.RedisDB})
	bus, err := relay.NewRedis(ctx, client, "")
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	presence := relay.NewPresence(client, relay.Instance{Listen: cfg.Intercept.Listen})
	return bus, presence, nil
}

// dataClearers clears every layer that holds browsing data.
type dataClearers []controller.DataClearer

func (d dataClearers) ClearData(ctx context.Context) error {
	var errs []error
	for _, c := range d {
		errs = append(errs, c.ClearData(ctx))
	}
	return errors.Join(errs...)
}

func setLogLevel(raw string) {
	level, err := log.ParseLevel(raw)
	if err != nil {
		log.Warn("unknown log level, keeping current", "level", raw)
		return
	}
	log.SetLevel(level)
}
