package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"

	"github.com/Pkv562/UNITE/pkg/capability"
	"github.com/Pkv562/UNITE/pkg/config"
	"github.com/Pkv562/UNITE/pkg/eventbus"
	"github.com/Pkv562/UNITE/pkg/featureflag"
	"github.com/Pkv562/UNITE/pkg/gateway"
	"github.com/Pkv562/UNITE/pkg/jurisdictions"
	"github.com/Pkv562/UNITE/pkg/metrics"
	"github.com/Pkv562/UNITE/pkg/requestsync"
	"github.com/Pkv562/UNITE/pkg/store"
	"github.com/Pkv562/UNITE/pkg/telemetry"
)

// app is the wired client stack one command runs against.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Registry
	bus     *eventbus.Bus
	flags   *featureflag.Store
	cache   *store.ClientCache
	gateway *gateway.Client
	source  *requestsync.VersionedSource
	actions *requestsync.Actions
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	reg := metrics.NewRegistry()
	bus := eventbus.New(eventbus.WithLogger(logger), eventbus.WithObserver(reg))
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: reg,
		bus:     bus,
		flags:   featureflag.New(bus, cfg.Flags, logger),
	}

	rdb, err := store.NewRedis(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, using memory cache", "addr", cfg.RedisAddr, "error", err)
		rdb = nil
	}
	if rdb != nil {
		a.closers = append(a.closers, rdb.Close)
	}
	a.cache = store.NewClientCache(store.NewCache(ctx, rdb),
		store.WithTTL(cfg.CacheTTL),
		store.WithLogger(logger),
		store.WithObserver(reg),
	)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	hc := telemetry.InstrumentClient(&http.Client{Timeout: cfg.RequestTimeout, Jar: jar})
	a.gateway = gateway.New(cfg.Gateway(),
		gateway.WithHTTPClient(hc),
		gateway.WithTokenStore(gateway.NewMemoryTokenStore(cfg.AuthToken, cfg.SessionToken)),
		gateway.WithObserver(reg),
		gateway.WithLogger(logger),
	)
	a.source = requestsync.NewVersionedSource(a.gateway, a.flags)
	a.actions = requestsync.NewActions(a.deps())
	return a, nil
}

func (a *app) deps() requestsync.Deps {
	return requestsync.Deps{Source: a.source, Cache: a.cache, Bus: a.bus, Flags: a.flags, Logger: a.logger}
}

func (a *app) jurisdictions() *jurisdictions.Service {
	base := jurisdictions.PathV1
	if a.flags.Get(featureflag.UseV2Jurisdictions) {
		base = jurisdictions.PathV2
	}
	return jurisdictions.New(a.gateway, base, a.logger)
}

func (a *app) Close() {
	for _, c := range a.closers {
		_ = c()
	}
}

// common are the flags every command accepts.
type common struct {
	overrides flagOverrides
	user      *string
	grants    *string
	envFile   *string
}

func addCommon(fs *flag.FlagSet) *common {
	c := &common{overrides: flagOverrides{}}
	fs.Var(c.overrides, "flag", "feature flag override name=bool (repeatable)")
	c.user = fs.String("user", env("UNITE_USER_ID", ""), "viewer user id for action resolution")
	c.grants = fs.String("grants", env("UNITE_GRANTS", ""), "viewer capabilities, comma separated (request.review,request.update)")
	c.envFile = fs.String("env-file", "", "dotenv file to load before the environment")
	return c
}

func (c *common) viewer() capability.Viewer {
	var perms []string
	for _, p := range strings.Split(*c.grants, ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	return capability.Viewer{UserID: strings.TrimSpace(*c.user), Grants: capability.ParseGrants(perms)}
}

// open loads config, wires the app and applies flag overrides.
func (c *common) open(ctx context.Context, logger *slog.Logger) (*app, error) {
	var files []string
	if f := strings.TrimSpace(*c.envFile); f != "" {
		files = append(files, f)
	}
	cfg, err := config.Load("unitectl", files...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate("unitectl"); err != nil {
		return nil, err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	for f, v := range c.overrides {
		a.flags.Set(f, v)
	}
	return a, nil
}

type flagOverrides map[featureflag.Flag]bool

func (o flagOverrides) String() string {
	parts := make([]string, 0, len(o))
	for _, f := range featureflag.All {
		if v, ok := o[f]; ok {
			parts = append(parts, fmt.Sprintf("%s=%t", f, v))
		}
	}
	return strings.Join(parts, ",")
}

func (o flagOverrides) Set(raw string) error {
	name, value, found := strings.Cut(raw, "=")
	f, ok := featureflag.Parse(name)
	if !ok {
		return fmt.Errorf("unknown feature flag: %s", strings.TrimSpace(name))
	}
	enabled := true
	if found {
		v, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("flag %s: %w", f, err)
		}
		enabled = v
	}
	o[f] = enabled
	return nil
}
