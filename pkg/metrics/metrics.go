package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry collects client-side counters. It satisfies the observer hooks
// of gateway.Client, store.ClientCache and eventbus.Bus.
type Registry struct {
	mu          sync.RWMutex
	endpoint    map[string]*EndpointStat
	events      map[string]int64
	listeners   map[string]int
	gauges      map[string]float64
	cacheHits   int64
	cacheMisses int64
	Histograms  *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type CacheStat struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

type Snapshot struct {
	GeneratedAt string                  `json:"generated_at"`
	Endpoints   map[string]EndpointStat `json:"endpoints"`
	Events      map[string]int64        `json:"events"`
	Listeners   map[string]int          `json:"listeners"`
	Gauges      map[string]float64      `json:"gauges"`
	Cache       CacheStat               `json:"cache"`
	Histograms  []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:   map[string]*EndpointStat{},
		events:     map[string]int64{},
		listeners:  map[string]int{},
		gauges:     map[string]float64{},
		Histograms: NewHistogramRegistry(),
	}
}

func (r *Registry) ObserveLatency(endpoint string, d time.Duration) {
	r.Histograms.ObserveDuration(endpoint, d)
}

// Observe records one HTTP exchange. Status 0 means the request never got
// a response and counts as an error.
func (r *Registry) Observe(path string, status int, d time.Duration) {
	if path == "" {
		return
	}
	r.ObserveLatency(path, d)
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status == 0 || status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

func (r *Registry) CacheLookup(hit bool) {
	r.mu.Lock()
	if hit {
		r.cacheHits++
	} else {
		r.cacheMisses++
	}
	r.mu.Unlock()
}

func (r *Registry) EventPublished(topic string, listeners int) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}
	r.mu.Lock()
	r.events[topic]++
	r.listeners[topic] = listeners
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Endpoints:   make(map[string]EndpointStat, len(r.endpoint)),
		Events:      make(map[string]int64, len(r.events)),
		Listeners:   make(map[string]int, len(r.listeners)),
		Gauges:      make(map[string]float64, len(r.gauges)),
		Cache:       CacheStat{Hits: r.cacheHits, Misses: r.cacheMisses},
	}
	if total := r.cacheHits + r.cacheMisses; total > 0 {
		out.Cache.HitRate = float64(r.cacheHits) / float64(total)
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.events {
		out.Events[k] = v
	}
	for k, v := range r.listeners {
		out.Listeners[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	sort.Slice(out.Histograms, func(i, j int) bool { return out.Histograms[i].Name < out.Histograms[j].Name })
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

// PrometheusHandler serves the registry in the prometheus text format from
// a dedicated prometheus registry, so process collectors of the host are
// not mixed in.
func (r *Registry) PrometheusHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(r))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
