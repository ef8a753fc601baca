package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Pkv562/UNITE/pkg/eventbus"
	"github.com/Pkv562/UNITE/pkg/featureflag"
	"github.com/Pkv562/UNITE/pkg/requestsync"
	"github.com/Pkv562/UNITE/pkg/statebus"
)

const defaultPollInterval = 30 * time.Second

// runWatch keeps a list mounted until ctx ends, printing every state
// change. Remote change events arrive over websocket or kafka; polling
// follows the enable-request-polling flag.
func runWatch(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	c := addCommon(fs)
	ff := addFilters(fs)
	wsURL := fs.String("ws", "", "websocket change feed (defaults to UNITE_EVENTS_WS_URL)")
	kafkaBrokers := fs.String("kafka", "", "kafka brokers for the change feed (defaults to UNITE_KAFKA_BROKERS)")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics on this address")
	interval := fs.Duration("interval", defaultPollInterval, "polling interval when enable-request-polling is on")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := c.open(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	consumer, err := openFeed(ctx, a, strings.TrimSpace(*wsURL), strings.TrimSpace(*kafkaBrokers))
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if consumer != nil {
		relay := statebus.NewRelay(consumer, a.bus, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("relay stopped", "error", err)
			}
		}()
	}

	if addr := strings.TrimSpace(*metricsAddr); addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsRouter(a), ReadHeaderTimeout: 5 * time.Second}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var mu sync.Mutex
	emit := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	list := requestsync.NewList(a.deps(), ff.filters(), requestsync.Options{EnableCache: true})
	list.OnChange(func(st requestsync.ListState) {
		switch st.Phase {
		case requestsync.PhaseReady:
			emit("%s ready %d requests%s\n", time.Now().Format(time.TimeOnly), len(st.Data.Items), cachedSuffix(st.FromCache))
		case requestsync.PhaseError:
			emit("%s error %s\n", time.Now().Format(time.TimeOnly), st.Err)
		}
	})
	unwatchPolling := watchPolling(a.flags, list, *interval)
	defer unwatchPolling()
	unwatchChanges := a.bus.OnRequestsChanged(func(ev eventbus.RequestsChanged) {
		emit("%s changed %s %s\n", time.Now().Format(time.TimeOnly), ev.RequestID, ev.Action)
	})
	defer unwatchChanges()

	list.Mount(ctx)
	<-ctx.Done()
	list.Unmount()
	if consumer != nil {
		_ = consumer.Close()
	}
	wg.Wait()
	return nil
}

func cachedSuffix(fromCache bool) string {
	if fromCache {
		return " (cached)"
	}
	return ""
}

// watchPolling keeps the list's polling in step with the flag.
func watchPolling(flags *featureflag.Store, list *requestsync.List, every time.Duration) func() {
	enabled, stop := flags.Watch(featureflag.EnableRequestPolling, func(on bool) {
		list.SetAutoRefresh(on, every)
	})
	list.SetAutoRefresh(enabled, every)
	return stop
}

func openFeed(ctx context.Context, a *app, wsURL, brokers string) (statebus.Consumer, error) {
	if wsURL == "" {
		wsURL = a.cfg.EventsWSURL
	}
	if wsURL != "" {
		return statebus.DialWS(ctx, statebus.WSConfig{URL: wsURL, BearerToken: firstNonEmpty(a.cfg.AuthToken, a.cfg.SessionToken)})
	}
	kcfg := a.cfg.Kafka()
	if brokers != "" {
		kcfg.Brokers = statebus.ParseBrokers(brokers)
	}
	if len(kcfg.Brokers) > 0 {
		return statebus.NewKafkaConsumer(kcfg)
	}
	return nil, nil
}

func metricsRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", a.metrics.PrometheusHandler())
	r.Get("/metrics.json", a.metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	return r
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
