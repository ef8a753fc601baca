package requestsync

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pkv562/UNITE/pkg/apierrors"
	"github.com/Pkv562/UNITE/pkg/eventbus"
	"github.com/Pkv562/UNITE/pkg/eventrequests"
	"github.com/Pkv562/UNITE/pkg/featureflag"
	"github.com/Pkv562/UNITE/pkg/gateway"
	"github.com/Pkv562/UNITE/pkg/models"
	"github.com/Pkv562/UNITE/pkg/store"
)

const settle = 80 * time.Millisecond

type fakeSource struct {
	mu        sync.Mutex
	listCalls []models.Filters
	getCalls  []string
	actions   []models.ActionInput
	deletes   []string
	listFn    func(n int, f models.Filters) (eventrequests.ListResult, error)
	getFn     func(n int, id string) (models.EventRequest, error)
	actionErr error
	deleteErr error
}

func (s *fakeSource) Version() string { return VersionV2 }
func (s *fakeSource) Pin() Source     { return s }

func (s *fakeSource) ListRequests(_ context.Context, f models.Filters) (eventrequests.ListResult, error) {
	s.mu.Lock()
	s.listCalls = append(s.listCalls, f)
	n := len(s.listCalls)
	fn := s.listFn
	s.mu.Unlock()
	if fn != nil {
		return fn(n, f)
	}
	return eventrequests.ListResult{Items: []models.EventRequest{{ID: "r1", Status: models.Status(f.Status)}}}, nil
}

func (s *fakeSource) GetRequest(_ context.Context, id string) (models.EventRequest, error) {
	s.mu.Lock()
	s.getCalls = append(s.getCalls, id)
	n := len(s.getCalls)
	fn := s.getFn
	s.mu.Unlock()
	if fn != nil {
		return fn(n, id)
	}
	return models.EventRequest{ID: id, Title: "Blood drive"}, nil
}

func (s *fakeSource) ExecuteAction(_ context.Context, id string, in models.ActionInput) (models.EventRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, in)
	if s.actionErr != nil {
		return models.EventRequest{}, s.actionErr
	}
	return models.EventRequest{ID: id, Status: models.StatusApproved}, nil
}

func (s *fakeSource) DeleteRequest(_ context.Context, id string) (eventrequests.DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, id)
	if s.deleteErr != nil {
		return eventrequests.DeleteResult{}, s.deleteErr
	}
	return eventrequests.DeleteResult{Message: "deleted"}, nil
}

func (s *fakeSource) lists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listCalls)
}

func (s *fakeSource) gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.getCalls)
}

func (s *fakeSource) actionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

func newDeps(src Source) Deps {
	return Deps{Source: src, Cache: store.NewClientCache(store.NewMemoryCache()), Bus: eventbus.New()}
}

func pending() models.Filters { return models.Filters{Status: "pending-review"} }

func TestListSharedCacheAndSingleRefetchAfterAction(t *testing.T) {
	src := &fakeSource{}
	deps := newDeps(src)
	opts := Options{EnableCache: true}

	first := NewList(deps, pending(), opts)
	first.Mount(context.Background())
	defer first.Unmount()
	first.Wait()
	require.Equal(t, 1, src.lists())
	require.Equal(t, PhaseReady, first.State().Phase)

	second := NewList(deps, models.Filters{Status: "pending-review"}, opts)
	second.Mount(context.Background())
	defer second.Unmount()
	assert.Equal(t, 1, src.lists(), "second controller must be served from cache")
	assert.True(t, second.State().FromCache)
	assert.Len(t, second.Items(), 1)

	_, err := NewActions(deps).Execute(context.Background(), "r1", "accept", ActionOptions{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return src.lists() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(settle)
	assert.Equal(t, 3, src.lists(), "each controller refetches exactly once")
	first.Wait()
	second.Wait()
	assert.Equal(t, PhaseReady, first.State().Phase)
	assert.Equal(t, PhaseReady, second.State().Phase)
}

func TestListFailureClearsData(t *testing.T) {
	src := &fakeSource{}
	src.listFn = func(n int, f models.Filters) (eventrequests.ListResult, error) {
		if n == 1 {
			return eventrequests.ListResult{Items: []models.EventRequest{{ID: "r1"}}}, nil
		}
		return eventrequests.ListResult{}, apierrors.Contract("GET /api/v2/event-requests", "Reviewer scope missing")
	}
	l := NewList(newDeps(src), pending(), Options{})
	l.Mount(context.Background())
	defer l.Unmount()
	l.Wait()
	require.Len(t, l.Items(), 1)

	l.Refresh()
	assert.True(t, l.State().Loading())
	assert.Len(t, l.Items(), 1, "rows stay visible while reloading")
	l.Wait()
	st := l.State()
	assert.Equal(t, PhaseError, st.Phase)
	assert.Nil(t, st.Data)
	assert.Equal(t, "Reviewer scope missing", st.Err)
	assert.True(t, apierrors.IsKind(st.Cause, apierrors.KindContract))
}

func TestListLatestFetchWins(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{}
	src.listFn = func(n int, f models.Filters) (eventrequests.ListResult, error) {
		if n == 1 {
			<-release
			return eventrequests.ListResult{Items: []models.EventRequest{{ID: "stale"}}}, nil
		}
		return eventrequests.ListResult{Items: []models.EventRequest{{ID: "fresh"}}}, nil
	}
	deps := newDeps(src)
	l := NewList(deps, pending(), Options{EnableCache: true})
	l.Mount(context.Background())
	defer l.Unmount()
	require.Eventually(t, func() bool { return src.lists() == 1 }, time.Second, time.Millisecond)

	l.Refresh()
	assert.Eventually(t, func() bool {
		items := l.Items()
		return len(items) == 1 && items[0].ID == "fresh"
	}, time.Second, 5*time.Millisecond)

	close(release)
	l.Wait()
	require.Len(t, l.Items(), 1)
	assert.Equal(t, "fresh", l.Items()[0].ID)

	var cached eventrequests.ListResult
	require.True(t, deps.Cache.Get(context.Background(), ListKey(VersionV2, pending()), &cached))
	assert.Equal(t, "fresh", cached.Items[0].ID, "superseded fetch must not write the cache")
}

func TestUnmountDiscardsInflightResult(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{}
	src.getFn = func(n int, id string) (models.EventRequest, error) {
		<-release
		return models.EventRequest{ID: id}, nil
	}
	d := NewDetail(newDeps(src), "A", Options{})
	var mu sync.Mutex
	var changes []DetailState
	d.OnChange(func(st DetailState) {
		mu.Lock()
		changes = append(changes, st)
		mu.Unlock()
	})
	d.Mount(context.Background())
	d.Unmount()
	close(release)
	d.Wait()

	assert.False(t, d.Mounted())
	assert.Equal(t, PhaseLoading, d.State().Phase)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 1)
	assert.Equal(t, PhaseLoading, changes[0].Phase)
}

func TestDetailIgnoresEventsForOtherRequests(t *testing.T) {
	src := &fakeSource{}
	deps := newDeps(src)
	d := NewDetail(deps, "A", Options{CoalesceWindow: 5 * time.Millisecond})
	d.Mount(context.Background())
	defer d.Unmount()
	d.Wait()
	require.Equal(t, 1, src.gets())
	require.Equal(t, "A", d.Request().ID)

	deps.Bus.PublishRequestsChanged(eventbus.RequestsChanged{RequestID: "B", Action: "accept"})
	deps.Bus.PublishRequestsChanged(eventbus.RequestsChanged{Action: "accept"})
	deps.Bus.PublishForceRefresh(eventbus.ForceRefresh{RequestID: "B"})
	time.Sleep(settle)
	assert.Equal(t, 1, src.gets())

	deps.Bus.PublishRequestsChanged(eventbus.RequestsChanged{RequestID: "A", Action: "accept"})
	assert.Eventually(t, func() bool { return src.gets() == 2 }, time.Second, 5*time.Millisecond)

	deps.Bus.PublishForceRefresh(eventbus.ForceRefresh{Reason: "manual"})
	assert.Eventually(t, func() bool { return src.gets() == 3 }, time.Second, 5*time.Millisecond)
}

func TestDetailWithoutIDIsValidationError(t *testing.T) {
	src := &fakeSource{}
	d := NewDetail(newDeps(src), "", Options{})
	d.Mount(context.Background())
	defer d.Unmount()
	d.Wait()
	assert.Equal(t, 0, src.gets())
	assert.Equal(t, PhaseError, d.State().Phase)
	assert.True(t, apierrors.IsKind(d.State().Cause, apierrors.KindValidation))

	d.SetID("B")
	d.Wait()
	assert.Equal(t, PhaseReady, d.State().Phase)
	assert.Equal(t, "B", d.Request().ID)
}

func TestInvalidateDropsOnlyOwnEntry(t *testing.T) {
	src := &fakeSource{}
	deps := newDeps(src)
	ctx := context.Background()
	l := NewList(deps, pending(), Options{EnableCache: true})
	d := NewDetail(deps, "A", Options{EnableCache: true})
	l.Mount(ctx)
	d.Mount(ctx)
	defer l.Unmount()
	defer d.Unmount()
	l.Wait()
	d.Wait()

	l.Invalidate()
	var list eventrequests.ListResult
	var detail models.EventRequest
	assert.False(t, deps.Cache.Get(ctx, ListKey(VersionV2, pending()), &list))
	assert.True(t, deps.Cache.Get(ctx, DetailKey(VersionV2, "A"), &detail))
	assert.Equal(t, 1, src.lists(), "invalidate does not refetch")
}

func TestAutoRefreshPollsUntilStopped(t *testing.T) {
	src := &fakeSource{}
	l := NewList(newDeps(src), pending(), Options{AutoRefresh: true, RefreshInterval: 10 * time.Millisecond})
	l.Mount(context.Background())
	assert.Eventually(t, func() bool { return src.lists() >= 3 }, time.Second, 5*time.Millisecond)

	l.SetAutoRefresh(false, 0)
	time.Sleep(20 * time.Millisecond)
	l.Wait()
	n := src.lists()
	time.Sleep(settle)
	assert.Equal(t, n, src.lists())

	l.SetAutoRefresh(true, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return src.lists() > n }, time.Second, 5*time.Millisecond)
	l.Unmount()
	l.Wait()
	n = src.lists()
	time.Sleep(settle)
	assert.Equal(t, n, src.lists())
}

func TestExecuteValidatesBeforeNetwork(t *testing.T) {
	src := &fakeSource{}
	a := NewActions(newDeps(src))
	ctx := context.Background()

	_, err := a.Execute(ctx, "r1", "Reschedule", ActionOptions{Note: "later"})
	require.Error(t, err)
	assert.True(t, apierrors.IsKind(err, apierrors.KindValidation))
	assert.Equal(t, 0, src.actionCount())
	assert.NotEmpty(t, a.State().Err)
	assert.False(t, a.State().Loading)

	a.ClearError()
	assert.Equal(t, ActionState{}, a.State())

	_, err = a.Execute(ctx, " ", "accept", ActionOptions{})
	assert.True(t, apierrors.IsKind(err, apierrors.KindValidation))
	_, err = a.Execute(ctx, "r1", "", ActionOptions{})
	assert.True(t, apierrors.IsKind(err, apierrors.KindValidation))
	assert.Equal(t, 0, src.actionCount())

	when := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	_, err = a.Execute(ctx, "r1", "reschedule", ActionOptions{ProposedDate: &when})
	require.NoError(t, err)
	require.Equal(t, 1, src.actionCount())
	assert.Equal(t, &when, src.actions[0].ProposedDate)
}

func TestExecuteFailureKeepsCacheAndStaysQuiet(t *testing.T) {
	failure := apierrors.FromStatus("POST /api/v2/event-requests/r1/actions", http.StatusForbidden, map[string]any{"message": "Not your jurisdiction"}, true)
	src := &fakeSource{actionErr: failure}
	deps := newDeps(src)
	ctx := context.Background()
	deps.Cache.Set(ctx, DetailKey(VersionV2, "r1"), models.EventRequest{ID: "r1"})

	events := 0
	deps.Bus.Subscribe(eventbus.TopicRequestsChanged, func(eventbus.Event) { events++ })
	deps.Bus.Subscribe(eventbus.TopicForceRefresh, func(eventbus.Event) { events++ })

	a := NewActions(deps)
	_, err := a.Execute(ctx, "r1", "accept", ActionOptions{})
	assert.Same(t, failure, err, "caller receives the service error")
	assert.Equal(t, "Not your jurisdiction", a.State().Err)
	assert.Equal(t, 0, events)

	var kept models.EventRequest
	assert.True(t, deps.Cache.Get(ctx, DetailKey(VersionV2, "r1"), &kept))
}

func TestExecuteAnnouncesChange(t *testing.T) {
	src := &fakeSource{}
	deps := newDeps(src)
	now := time.UnixMilli(1_760_000_000_000)
	deps.Now = func() time.Time { return now }
	ctx := context.Background()
	deps.Cache.Set(ctx, ListKey(VersionV2, pending()), eventrequests.ListResult{})
	deps.Cache.Set(ctx, DetailKey(VersionV1, "r9"), models.EventRequest{ID: "r9"})
	deps.Cache.Set(ctx, "jurisdictions:all", []string{"x"})

	var changed []eventbus.RequestsChanged
	var forced []eventbus.ForceRefresh
	deps.Bus.OnRequestsChanged(func(ev eventbus.RequestsChanged) { changed = append(changed, ev) })
	deps.Bus.OnForceRefresh(func(ev eventbus.ForceRefresh) { forced = append(forced, ev) })

	out, err := NewActions(deps).Execute(ctx, "r1", "accept", ActionOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, out.Status)

	require.Len(t, changed, 1)
	assert.Equal(t, eventbus.RequestsChanged{RequestID: "r1", Action: "accept", Timestamp: now.UnixMilli(), ShouldRefresh: true, ForceRefresh: true}, changed[0])
	require.Len(t, forced, 1)
	assert.Equal(t, eventbus.ForceRefresh{RequestID: "r1", Reason: "action:accept"}, forced[0])

	var sink any
	assert.False(t, deps.Cache.Get(ctx, ListKey(VersionV2, pending()), &sink))
	assert.False(t, deps.Cache.Get(ctx, DetailKey(VersionV1, "r9"), &sink))
	assert.True(t, deps.Cache.Get(ctx, "jurisdictions:all", &sink))
}

func TestDeleteAnnounces(t *testing.T) {
	src := &fakeSource{}
	deps := newDeps(src)
	var reasons []string
	deps.Bus.OnForceRefresh(func(ev eventbus.ForceRefresh) { reasons = append(reasons, ev.Reason) })

	res, err := NewActions(deps).Delete(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "deleted", res.Message)
	assert.Equal(t, []string{"delete"}, reasons)

	_, err = NewActions(deps).Delete(context.Background(), "")
	assert.True(t, apierrors.IsKind(err, apierrors.KindValidation))
}

type pathAPI struct {
	mu    sync.Mutex
	paths []string
}

func (p *pathAPI) RequestJSON(_ context.Context, path string, _ gateway.Options) (json.RawMessage, error) {
	p.mu.Lock()
	p.paths = append(p.paths, path)
	p.mu.Unlock()
	return json.RawMessage(`{"success":true,"data":{"requests":[]}}`), nil
}

func (p *pathAPI) count(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, path := range p.paths {
		if strings.HasPrefix(path, prefix) {
			n++
		}
	}
	return n
}

func TestVersionedSourceFollowsFlag(t *testing.T) {
	api := &pathAPI{}
	flags := featureflag.New(nil, nil, nil)
	src := NewVersionedSource(api, flags)
	assert.Equal(t, VersionV1, src.Version())
	assert.Equal(t, eventrequests.PathV1, src.Current().BasePath())

	flags.Set(featureflag.UseV2EventRequests, true)
	assert.Equal(t, VersionV2, src.Version())
	assert.NotEqual(t, ListKey(VersionV1, pending()), ListKey(VersionV2, pending()))
}

func TestFlagChangeReloadsFromOtherFamily(t *testing.T) {
	api := &pathAPI{}
	flags := featureflag.New(nil, nil, nil)
	deps := Deps{Source: NewVersionedSource(api, flags), Flags: flags}
	l := NewList(deps, pending(), Options{EnableCache: true, CoalesceWindow: 5 * time.Millisecond})
	l.Mount(context.Background())
	defer l.Unmount()
	l.Wait()
	require.Equal(t, 1, api.count(eventrequests.PathV1))

	flags.Set(featureflag.UseV2EventRequests, true)
	assert.Eventually(t, func() bool { return api.count(eventrequests.PathV2) == 1 }, time.Second, 5*time.Millisecond)

	flags.Set(featureflag.EnableRequestPolling, true)
	time.Sleep(settle)
	assert.Equal(t, 1, api.count(eventrequests.PathV2), "unrelated flags do not reload")
}

func TestFlagChangesReachControllersOnSeparateBus(t *testing.T) {
	api := &pathAPI{}
	flags := featureflag.New(nil, nil, nil)
	deps := Deps{Source: NewVersionedSource(api, flags), Flags: flags, Bus: eventbus.New()}
	require.NotSame(t, deps.Bus, flags.Bus())
	l := NewList(deps, pending(), Options{CoalesceWindow: 5 * time.Millisecond})
	l.Mount(context.Background())
	defer l.Unmount()
	l.Wait()
	require.Equal(t, 1, api.count(eventrequests.PathV1))

	flags.Set(featureflag.UseV2EventRequests, true)
	assert.Eventually(t, func() bool { return api.count(eventrequests.PathV2) == 1 }, time.Second, 5*time.Millisecond)
}

func TestPinnedSourceIgnoresLaterFlips(t *testing.T) {
	api := &pathAPI{}
	flags := featureflag.New(nil, nil, nil)
	src := NewVersionedSource(api, flags)
	pinned := src.Pin()

	flags.Set(featureflag.UseV2EventRequests, true)
	assert.Equal(t, VersionV1, pinned.Version())
	assert.Equal(t, VersionV2, src.Version())
	_, err := pinned.ListRequests(context.Background(), pending())
	require.NoError(t, err)
	assert.Equal(t, 1, api.count(eventrequests.PathV1))
	assert.Equal(t, 0, api.count(eventrequests.PathV2))
	assert.Equal(t, VersionV2, src.Pin().Version())
}

func TestFetchSettlingAfterFlipStaysUnderItsKey(t *testing.T) {
	api := &gatedAPI{release: make(chan struct{})}
	flags := featureflag.New(nil, nil, nil)
	deps := Deps{Source: NewVersionedSource(api, flags), Flags: flags, Cache: store.NewClientCache(store.NewMemoryCache())}
	l := NewList(deps, pending(), Options{EnableCache: true, CoalesceWindow: time.Hour})
	l.Mount(context.Background())
	defer l.Unmount()

	flags.Set(featureflag.UseV2EventRequests, true)
	close(api.release)
	l.Wait()

	var v1 eventrequests.ListResult
	require.True(t, deps.Cache.Get(context.Background(), ListKey(VersionV1, pending()), &v1))
	require.Len(t, v1.Items, 1)
	assert.Equal(t, eventrequests.PathV1, v1.Items[0].ID)
	var v2 eventrequests.ListResult
	assert.False(t, deps.Cache.Get(context.Background(), ListKey(VersionV2, pending()), &v2))
}

// gatedAPI holds every call until release is closed and echoes the path
// it was called with as the item id.
type gatedAPI struct {
	release chan struct{}
}

func (g *gatedAPI) RequestJSON(ctx context.Context, path string, _ gateway.Options) (json.RawMessage, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return json.RawMessage(`{"success":true,"data":{"requests":[{"id":"` + path + `"}]}}`), nil
}

func TestSetIDHidesPreviousRecord(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{}
	src.getFn = func(n int, id string) (models.EventRequest, error) {
		if id == "B" {
			<-release
		}
		return models.EventRequest{ID: id}, nil
	}
	d := NewDetail(newDeps(src), "A", Options{})
	d.Mount(context.Background())
	defer d.Unmount()
	d.Wait()
	require.Equal(t, "A", d.Request().ID)

	var mu sync.Mutex
	var seen []DetailState
	d.OnChange(func(st DetailState) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})
	d.SetID("B")
	assert.Equal(t, PhaseLoading, d.State().Phase)
	assert.Nil(t, d.Request(), "the old record must not show under the new id")

	close(release)
	d.Wait()
	assert.Equal(t, "B", d.Request().ID)
	mu.Lock()
	defer mu.Unlock()
	for _, st := range seen {
		if st.Data != nil {
			assert.Equal(t, "B", st.Data.ID)
		}
	}
}
