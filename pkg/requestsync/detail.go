package requestsync

import (
	"context"
	"sync"

	"github.com/Pkv562/UNITE/pkg/apierrors"
	"github.com/Pkv562/UNITE/pkg/eventbus"
	"github.com/Pkv562/UNITE/pkg/models"
)

type DetailState = State[models.EventRequest]

// Detail keeps a single request current. Change events naming another
// request are ignored.
type Detail struct {
	*controller[models.EventRequest]

	imu sync.Mutex
	id  string
}

func NewDetail(deps Deps, id string, opts Options) *Detail {
	d := &Detail{id: id}
	d.controller = newController[models.EventRequest](deps, opts, "detail")
	d.key = func(version string) string { return DetailKey(version, d.ID()) }
	d.fetch = func(ctx context.Context, src Source) (*models.EventRequest, error) {
		id := d.ID()
		if id == "" {
			return nil, apierrors.Validation("requestsync.Detail", "request id is required")
		}
		req, err := src.GetRequest(ctx, id)
		if err != nil {
			return nil, err
		}
		return &req, nil
	}
	d.accepts = d.concerns
	return d
}

func (d *Detail) ID() string {
	d.imu.Lock()
	defer d.imu.Unlock()
	return d.id
}

// SetID points the controller at another request and loads it. The old
// record is never shown under the new id.
func (d *Detail) SetID(id string) {
	d.imu.Lock()
	changed := d.id != id
	d.id = id
	d.imu.Unlock()
	if changed {
		d.forget()
	}
	d.load(false)
}

// Request returns the visible record, or nil.
func (d *Detail) Request() *models.EventRequest {
	return d.State().Data
}

// concerns: requests-changed must name this request; force-refresh applies
// unless it names a different one.
func (d *Detail) concerns(ev eventbus.Event) bool {
	id := d.ID()
	switch ev.Topic {
	case eventbus.TopicRequestsChanged:
		rid := eventbus.Decode[eventbus.RequestsChanged](ev).RequestID
		return rid != "" && rid == id
	case eventbus.TopicForceRefresh:
		rid := eventbus.Decode[eventbus.ForceRefresh](ev).RequestID
		return rid == "" || rid == id
	}
	return false
}
