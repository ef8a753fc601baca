package requestsync

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Pkv562/UNITE/pkg/apierrors"
	"github.com/Pkv562/UNITE/pkg/eventbus"
	"github.com/Pkv562/UNITE/pkg/eventrequests"
	"github.com/Pkv562/UNITE/pkg/models"
	"github.com/Pkv562/UNITE/pkg/store"
)

type ActionOptions struct {
	Note         string
	ProposedDate *time.Time
}

type ActionState struct {
	Loading bool
	Err     string
	Cause   error
}

// Actions executes lifecycle actions and tells every mounted controller the
// requests changed.
type Actions struct {
	deps Deps

	mu    sync.Mutex
	state ActionState
}

func NewActions(deps Deps) *Actions {
	return &Actions{deps: deps.withDefaults()}
}

func (a *Actions) State() ActionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Actions) ClearError() {
	a.mu.Lock()
	a.state.Err = ""
	a.state.Cause = nil
	a.mu.Unlock()
}

// Execute runs action on request id. Validation failures are returned
// before any network call and are reflected in State like server errors.
func (a *Actions) Execute(ctx context.Context, id, action string, opts ActionOptions) (models.EventRequest, error) {
	const op = "requestsync.Execute"
	id = strings.TrimSpace(id)
	action = strings.TrimSpace(action)
	var verr error
	switch {
	case id == "":
		verr = apierrors.Validation(op, "request id is required")
	case action == "":
		verr = apierrors.Validation(op, "action is required")
	case strings.EqualFold(action, eventrequests.ActionReschedule) && (opts.ProposedDate == nil || opts.ProposedDate.IsZero()):
		verr = apierrors.Validation(op, "proposedDate is required for reschedule")
	}
	if verr != nil {
		a.finish(verr)
		return models.EventRequest{}, verr
	}

	a.begin()
	out, err := a.deps.Source.ExecuteAction(ctx, id, models.ActionInput{
		Action:       action,
		Note:         opts.Note,
		ProposedDate: opts.ProposedDate,
	})
	if err != nil {
		a.deps.Logger.Warn("request action failed", "op", op, "id", id, "action", action, "error", err)
		a.finish(err)
		return models.EventRequest{}, err
	}
	a.announce(ctx, id, action, "action:"+action)
	a.finish(nil)
	return out, nil
}

// Delete hard-deletes a request and announces it like any other action.
func (a *Actions) Delete(ctx context.Context, id string) (eventrequests.DeleteResult, error) {
	const op = "requestsync.Delete"
	id = strings.TrimSpace(id)
	if id == "" {
		err := apierrors.Validation(op, "request id is required")
		a.finish(err)
		return eventrequests.DeleteResult{}, err
	}
	a.begin()
	res, err := a.deps.Source.DeleteRequest(ctx, id)
	if err != nil {
		a.deps.Logger.Warn("request delete failed", "op", op, "id", id, "error", err)
		a.finish(err)
		return eventrequests.DeleteResult{}, err
	}
	a.announce(ctx, id, "delete", "delete")
	a.finish(nil)
	return res, nil
}

func (a *Actions) announce(ctx context.Context, id, action, reason string) {
	purged := a.deps.Cache.InvalidateMatching(ctx, store.Substring(Namespace))
	a.deps.Logger.Debug("request changed", "id", id, "action", action, "purged", purged, "reason", reason)
	a.deps.Bus.PublishRequestsChanged(eventbus.RequestsChanged{
		RequestID:     id,
		Action:        action,
		Timestamp:     a.deps.Now().UnixMilli(),
		ShouldRefresh: true,
		ForceRefresh:  true,
	})
	a.deps.Bus.PublishForceRefresh(eventbus.ForceRefresh{RequestID: id, Reason: reason})
}

func (a *Actions) begin() {
	a.mu.Lock()
	a.state = ActionState{Loading: true}
	a.mu.Unlock()
}

func (a *Actions) finish(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Loading = false
	if err != nil {
		a.state.Err = apierrors.Message(err)
		a.state.Cause = err
	}
}
