package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pkv562/UNITE/pkg/apierrors"
	"github.com/Pkv562/UNITE/pkg/eventbus"
	"github.com/Pkv562/UNITE/pkg/eventrequests"
	"github.com/Pkv562/UNITE/pkg/gateway"
	"github.com/Pkv562/UNITE/pkg/jurisdictions"
	"github.com/Pkv562/UNITE/pkg/models"
	"github.com/Pkv562/UNITE/pkg/statebus"
	"github.com/Pkv562/UNITE/pkg/telemetry"
)

const secret = "mock-secret"

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (p *recordingPublisher) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func newTestServer(t *testing.T, cfg serverConfig) (*server, *httptest.Server) {
	t.Helper()
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "unite-mock"
	}
	if cfg.WriteLimit == 0 {
		cfg.WriteLimit = 100
	}
	cfg.Seed = true
	cfg.DevTokens = true
	srv := newServer(cfg, nil)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func serviceFor(t *testing.T, srv *server, ts *httptest.Server, user string, perms ...string) *eventrequests.Service {
	t.Helper()
	token := ""
	if srv.auth.Enabled() {
		var err error
		token, err = srv.auth.Issue(user, user, perms, time.Hour)
		require.NoError(t, err)
	}
	client := gateway.New(gateway.Config{BaseURL: ts.URL}, gateway.WithTokenStore(gateway.NewMemoryTokenStore(token, "")))
	return eventrequests.New(client)
}

var reviewer = []string{"request.review", "request.update", "request.cancel", "request.delete", "request.create"}

func TestListIncludesDeclaredActionsAndPagination(t *testing.T) {
	srv, ts := newTestServer(t, serverConfig{JWTSecret: secret})
	svc := serviceFor(t, srv, ts, "rev-prov", reviewer...)

	res, err := svc.ListRequests(context.Background(), models.Filters{Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	require.NotNil(t, res.Pagination)
	assert.Equal(t, 5, res.Pagination.TotalCount)
	assert.Equal(t, 3, res.Pagination.TotalPages)

	pending, err := svc.ListRequests(context.Background(), models.Filters{Status: "Pending Review"})
	require.NoError(t, err)
	require.Len(t, pending.Items, 1)
	payload, ok := pending.Items[0].Payload().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"accept", "reject", "cancel"}, payload["allowedActions"])
}

func TestLifecycleThroughClient(t *testing.T) {
	srv, ts := newTestServer(t, serverConfig{JWTSecret: secret})
	rev := serviceFor(t, srv, ts, "rev-prov", reviewer...)
	ctx := context.Background()

	rec, err := rev.ExecuteAction(ctx, "req-1002", models.ActionInput{Action: "reschedule"})
	require.Error(t, err)
	assert.Contains(t, apierrors.Message(err), "proposedDate")

	when := time.Date(2026, 12, 1, 9, 0, 0, 0, time.UTC)
	rec, err = rev.ExecuteAction(ctx, "req-1002", models.ActionInput{Action: "reschedule", ProposedDate: &when, Note: "holiday"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusReviewRescheduled, rec.Status)
	require.NotNil(t, rec.ActiveResponder)
	assert.Equal(t, models.ResponderRequester, rec.ActiveResponder.Role)

	_, err = rev.ExecuteAction(ctx, "req-1002", models.ActionInput{Action: "confirm"})
	require.Error(t, err, "the proposer is not the active responder")
	assert.Equal(t, http.StatusConflict, statusOf(err))

	requester := serviceFor(t, srv, ts, "coord-Minglanilla", "request.update")
	rec, err = requester.ExecuteAction(ctx, "req-1002", models.ActionInput{Action: "confirm"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, rec.Status)
	require.NotNil(t, rec.Start)
	assert.True(t, rec.Start.Equal(when))
	assert.Nil(t, rec.Reschedule)
	assert.Len(t, rec.StatusHistory, 4)
}

func TestForbiddenAndConflict(t *testing.T) {
	srv, ts := newTestServer(t, serverConfig{JWTSecret: secret})
	ctx := context.Background()
	viewer := serviceFor(t, srv, ts, "someone", "request.read")

	_, err := viewer.ExecuteAction(ctx, "req-1001", models.ActionInput{Action: "accept"})
	require.Error(t, err)
	assert.True(t, apierrors.IsKind(err, apierrors.KindForbidden))

	rev := serviceFor(t, srv, ts, "rev-prov", reviewer...)
	_, err = rev.ExecuteAction(ctx, "req-1003", models.ActionInput{Action: "accept"})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, statusOf(err))

	_, err = rev.DeleteRequest(ctx, "req-1001")
	assert.Equal(t, http.StatusConflict, statusOf(err))
	out, err := rev.DeleteRequest(ctx, "req-1003")
	require.NoError(t, err)
	assert.Equal(t, "Event request deleted", out.Message)
	_, err = rev.GetRequest(ctx, "req-1003")
	assert.Equal(t, http.StatusNotFound, statusOf(err))
}

func TestCreateUpdateAndReviewers(t *testing.T) {
	srv, ts := newTestServer(t, serverConfig{JWTSecret: secret})
	ctx := context.Background()
	rev := serviceFor(t, srv, ts, "coord-Danao", reviewer...)

	_, err := rev.CreateRequest(ctx, map[string]any{"title": "x", "category": "Picnic"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	rec, err := rev.CreateRequest(ctx, map[string]any{
		"title":    "Blood Letting",
		"category": "BloodDrive",
		"province": "Cebu",
		"district": "District 2",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingReview, rec.Status)
	assert.NotEmpty(t, rec.ID)

	rec, err = rev.UpdateRequest(ctx, rec.ID, map[string]any{"title": "Blood Letting Day"})
	require.NoError(t, err)
	assert.Equal(t, "Blood Letting Day", rec.Title)

	reviewers, err := rev.ListValidReviewers(ctx, rec.ID)
	require.NoError(t, err)
	var ids []string
	for _, r := range reviewers {
		ids = append(ids, r.UserID)
	}
	assert.ElementsMatch(t, []string{"rev-prov", "rev-d2"}, ids)
}

func TestAuthRequiredAndV1Family(t *testing.T) {
	_, ts := newTestServer(t, serverConfig{JWTSecret: secret})
	resp, err := http.Get(ts.URL + "/api/v2/event-requests")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := strings.NewReader(`{"userId":"rev-prov","perms":["request.review"]}`)
	resp, err = http.Post(ts.URL+"/api/dev/token", "application/json", body)
	require.NoError(t, err)
	var env struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	resp.Body.Close()
	require.NotEmpty(t, env.Data.Token)

	client := gateway.New(gateway.Config{BaseURL: ts.URL}, gateway.WithTokenStore(gateway.NewMemoryTokenStore(env.Data.Token, "")))
	v1 := eventrequests.New(client, eventrequests.WithBasePath(eventrequests.PathV1))
	res, err := v1.ListRequests(context.Background(), models.Filters{})
	require.NoError(t, err)
	assert.Len(t, res.Items, 5)
}

func TestJurisdictions(t *testing.T) {
	_, ts := newTestServer(t, serverConfig{})
	svc := jurisdictions.New(gateway.New(gateway.Config{BaseURL: ts.URL}), jurisdictions.PathV2, nil)
	ctx := context.Background()

	items, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 6)

	ok, err := svc.Validate(ctx, jurisdictions.ValidateInput{Province: "Cebu", District: "District 1", MunicipalityID: "Talisay"})
	require.NoError(t, err)
	assert.True(t, ok.Valid)

	bad, err := svc.Validate(ctx, jurisdictions.ValidateInput{Province: "Cebu", District: "District 2", MunicipalityID: "Talisay"})
	require.NoError(t, err)
	assert.False(t, bad.Valid)
	assert.Len(t, bad.Errors, 1)
}

func TestMutationsReachWebsocketAndKafka(t *testing.T) {
	srv, ts := newTestServer(t, serverConfig{})
	pub := &recordingPublisher{}
	srv.publisher = pub

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	consumer, err := statebus.DialWS(ctx, statebus.WSConfig{URL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"})
	require.NoError(t, err)
	defer consumer.Close()

	bus := eventbus.New()
	got := make(chan eventbus.RequestsChanged, 1)
	bus.OnRequestsChanged(func(ev eventbus.RequestsChanged) { got <- ev })
	go func() { _ = statebus.NewRelay(consumer, bus, nil).Run(ctx) }()

	require.Eventually(t, func() bool { return srv.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	svc := eventrequests.New(gateway.New(gateway.Config{BaseURL: ts.URL}))
	_, err = svc.ExecuteAction(ctx, "req-1001", models.ActionInput{Action: "accept"})
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.Equal(t, "req-1001", ev.RequestID)
		assert.Equal(t, "accept", ev.Action)
		assert.True(t, ev.ShouldRefresh)
	case <-ctx.Done():
		t.Fatal("no requests-changed event relayed")
	}
	assert.Equal(t, 1, pub.count())
	assert.Equal(t, "req-1001", string(pub.msgs[0].Key))
}

func TestKeyedFeedOnlyCarriesItsRequest(t *testing.T) {
	srv, ts := newTestServer(t, serverConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	consumer, err := statebus.DialWS(ctx, statebus.WSConfig{URL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events?requestId=req-1002"})
	require.NoError(t, err)
	defer consumer.Close()

	bus := eventbus.New()
	got := make(chan eventbus.RequestsChanged, 2)
	bus.OnRequestsChanged(func(ev eventbus.RequestsChanged) { got <- ev })
	go func() { _ = statebus.NewRelay(consumer, bus, nil).Run(ctx) }()
	require.Eventually(t, func() bool { return srv.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	svc := eventrequests.New(gateway.New(gateway.Config{BaseURL: ts.URL}))
	_, err = svc.ExecuteAction(ctx, "req-1001", models.ActionInput{Action: "accept"})
	require.NoError(t, err)
	_, err = svc.ExecuteAction(ctx, "req-1002", models.ActionInput{Action: "cancel"})
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.Equal(t, "req-1002", ev.RequestID)
		assert.Equal(t, "cancel", ev.Action)
	case <-ctx.Done():
		t.Fatal("no requests-changed event relayed")
	}
}

func TestWriteLimit(t *testing.T) {
	srv, ts := newTestServer(t, serverConfig{JWTSecret: secret, WriteLimit: 1})
	rev := serviceFor(t, srv, ts, "rev-prov", reviewer...)
	ctx := context.Background()
	_, err := rev.ExecuteAction(ctx, "req-1001", models.ActionInput{Action: "accept"})
	require.NoError(t, err)
	_, err = rev.ExecuteAction(ctx, "req-1002", models.ActionInput{Action: "cancel"})
	assert.Equal(t, http.StatusTooManyRequests, statusOf(err))
}

func TestMetricsUseRoutePatterns(t *testing.T) {
	srv, ts := newTestServer(t, serverConfig{})
	svc := eventrequests.New(gateway.New(gateway.Config{BaseURL: ts.URL}))
	_, err := svc.GetRequest(context.Background(), "req-1001")
	require.NoError(t, err)

	snap := srv.metrics.Snapshot()
	stat, ok := snap.Endpoints["GET /api/v2/event-requests/{id}"]
	require.True(t, ok, "endpoints: %v", snap.Endpoints)
	assert.EqualValues(t, 1, stat.Count)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRunUsesInjectedHooks(t *testing.T) {
	t.Setenv("ADDR", "127.0.0.1:0")
	t.Setenv("MOCK_API_ENV", "")
	t.Setenv("MOCK_API_KAFKA_BROKERS", "")
	t.Setenv("MOCK_API_REDIS_ADDR", "")
	var initCalled bool
	var served *http.Server
	err := run(context.Background(), nil,
		func(context.Context, telemetry.Config, *slog.Logger) (func(context.Context) error, error) {
			initCalled = true
			return func(context.Context) error { return nil }, nil
		},
		func(s *http.Server) error {
			served = s
			return nil
		})
	require.NoError(t, err)
	assert.True(t, initCalled)
	require.NotNil(t, served)
	assert.Equal(t, "127.0.0.1:0", served.Addr)
}

func statusOf(err error) int {
	if e, ok := apierrors.As(err); ok {
		return e.Status
	}
	return 0
}

func TestRunRefusesInsecureProduction(t *testing.T) {
	t.Setenv("MOCK_API_ENV", "production")
	t.Setenv("MOCK_API_JWT_SECRET", "")
	t.Setenv("MOCK_API_STRICT", "")
	listened := false
	err := run(context.Background(), nil,
		func(context.Context, telemetry.Config, *slog.Logger) (func(context.Context) error, error) {
			return func(context.Context) error { return nil }, nil
		},
		func(*http.Server) error {
			listened = true
			return nil
		})
	require.Error(t, err)
	assert.False(t, listened)
}
