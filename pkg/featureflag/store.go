// Package featureflag holds the process-wide boolean toggles. A value
// resolves as session override, then build/env default, then false.
package featureflag

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Pkv562/UNITE/pkg/eventbus"
)

type Flag string

const (
	UseV2EventRequests   Flag = "use-v2-event-requests"
	UseV2Jurisdictions   Flag = "use-v2-jurisdictions"
	EnableRequestPolling Flag = "enable-request-polling"
)

// All is the closed set of known flags.
var All = []Flag{UseV2EventRequests, UseV2Jurisdictions, EnableRequestPolling}

type Source string

const (
	SourceOverride Source = "override"
	SourceEnv      Source = "env"
	SourceDefault  Source = "default"
)

const EnvPrefix = "UNITE_FEATURE_"

func Parse(name string) (Flag, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, f := range All {
		if string(f) == name {
			return f, true
		}
	}
	return "", false
}

// EnvVar is the variable carrying the build-time default of f, e.g.
// UNITE_FEATURE_USE_V2_EVENT_REQUESTS.
func EnvVar(f Flag) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(string(f), "-", "_"))
}

// EnvDefaults reads the build-time defaults through lookup (os.LookupEnv in
// production). Unparseable values are ignored.
func EnvDefaults(lookup func(string) (string, bool)) map[Flag]bool {
	out := map[Flag]bool{}
	if lookup == nil {
		return out
	}
	for _, f := range All {
		raw, ok := lookup(EnvVar(f))
		if !ok {
			continue
		}
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		out[f] = v
	}
	return out
}

type State struct {
	Flag    Flag   `json:"flag"`
	Enabled bool   `json:"enabled"`
	Source  Source `json:"source"`
}

type Store struct {
	mu        sync.RWMutex
	overrides map[Flag]bool
	env       map[Flag]bool
	bus       *eventbus.Bus
	logger    *slog.Logger
}

// New builds a store broadcasting on bus. A nil bus gets a private one.
func New(bus *eventbus.Bus, env map[Flag]bool, logger *slog.Logger) *Store {
	if bus == nil {
		bus = eventbus.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{overrides: map[Flag]bool{}, env: map[Flag]bool{}, bus: bus, logger: logger}
	for f, v := range env {
		if known(f) {
			s.env[f] = v
		}
	}
	return s
}

func (s *Store) Bus() *eventbus.Bus { return s.bus }

func (s *Store) Get(f Flag) bool {
	v, _ := s.resolve(f)
	return v
}

func (s *Store) Source(f Flag) Source {
	_, src := s.resolve(f)
	return src
}

func (s *Store) resolve(f Flag) (bool, Source) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.overrides[f]; ok {
		return v, SourceOverride
	}
	if v, ok := s.env[f]; ok {
		return v, SourceEnv
	}
	return false, SourceDefault
}

// Set records a session override and broadcasts the resolved value.
func (s *Store) Set(f Flag, enabled bool) {
	if !known(f) {
		s.logger.Warn("ignoring unknown feature flag", "flag", string(f))
		return
	}
	s.mu.Lock()
	s.overrides[f] = enabled
	s.mu.Unlock()
	s.broadcast(f)
}

// Clear drops the override and broadcasts the value it falls back to.
func (s *Store) Clear(f Flag) {
	if !known(f) {
		s.logger.Warn("ignoring unknown feature flag", "flag", string(f))
		return
	}
	s.mu.Lock()
	delete(s.overrides, f)
	s.mu.Unlock()
	s.broadcast(f)
}

func (s *Store) broadcast(f Flag) {
	s.bus.PublishFeatureFlagChanged(eventbus.FeatureFlagChanged{Flag: string(f), Enabled: s.Get(f)})
}

// Watch returns the current value of f and calls fn with every later
// broadcast for f until the returned function is called.
func (s *Store) Watch(f Flag, fn func(enabled bool)) (bool, func()) {
	unsub := s.bus.OnFeatureFlagChanged(func(ev eventbus.FeatureFlagChanged) {
		if ev.Flag == string(f) && fn != nil {
			fn(ev.Enabled)
		}
	})
	return s.Get(f), unsub
}

// Snapshot lists every known flag with its resolved value.
func (s *Store) Snapshot() []State {
	out := make([]State, 0, len(All))
	for _, f := range All {
		v, src := s.resolve(f)
		out = append(out, State{Flag: f, Enabled: v, Source: src})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Flag < out[j].Flag })
	return out
}

func known(f Flag) bool {
	_, ok := Parse(string(f))
	return ok && string(f) == strings.ToLower(strings.TrimSpace(string(f)))
}
