package requestsync

import (
	"context"
	"sync"

	"github.com/Pkv562/UNITE/pkg/eventrequests"
	"github.com/Pkv562/UNITE/pkg/models"
)

type ListState = State[eventrequests.ListResult]

// List keeps one filtered page of requests current.
type List struct {
	*controller[eventrequests.ListResult]

	fmu     sync.Mutex
	filters models.Filters
}

func NewList(deps Deps, filters models.Filters, opts Options) *List {
	l := &List{filters: filters}
	l.controller = newController[eventrequests.ListResult](deps, opts, "list")
	l.key = func(version string) string { return ListKey(version, l.Filters()) }
	l.fetch = func(ctx context.Context, src Source) (*eventrequests.ListResult, error) {
		res, err := src.ListRequests(ctx, l.Filters())
		if err != nil {
			return nil, err
		}
		return &res, nil
	}
	return l
}

func (l *List) Filters() models.Filters {
	l.fmu.Lock()
	defer l.fmu.Unlock()
	return l.filters
}

// SetFilters switches the page and loads it, from cache when possible.
func (l *List) SetFilters(f models.Filters) {
	l.fmu.Lock()
	l.filters = f
	l.fmu.Unlock()
	l.load(false)
}

// Items is a convenience over State for the currently visible rows.
func (l *List) Items() []models.EventRequest {
	st := l.State()
	if st.Data == nil {
		return nil
	}
	return st.Data.Items
}
