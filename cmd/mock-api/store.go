package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Pkv562/UNITE/pkg/capability"
	"github.com/Pkv562/UNITE/pkg/lifecycle"
	"github.com/Pkv562/UNITE/pkg/models"
)

// apiError carries the status and envelope message a handler writes.
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

func fail(status int, format string, args ...any) error {
	return &apiError{status: status, msg: fmt.Sprintf(format, args...)}
}

// requestStore is the in-memory source of truth behind the mock API. Every
// mutation goes through it so lifecycle rules live in one place.
type requestStore struct {
	mu            sync.Mutex
	items         map[string]*models.EventRequest
	reviewers     []models.Reviewer
	jurisdictions []models.Jurisdiction
	now           func() time.Time
}

func newRequestStore(now func() time.Time) *requestStore {
	if now == nil {
		now = time.Now
	}
	return &requestStore{items: map[string]*models.EventRequest{}, now: now}
}

type page struct {
	Items      []models.EventRequest
	Page       int
	Limit      int
	TotalCount int
	TotalPages int
}

func (s *requestStore) list(f models.Filters) page {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.EventRequest
	for _, r := range s.items {
		if matches(r, f) {
			matched = append(matched, *r)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return createdAt(matched[i]).After(createdAt(matched[j]))
	})
	p := page{Page: f.Page, Limit: f.Limit, TotalCount: len(matched)}
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = 20
	}
	p.TotalPages = (p.TotalCount + p.Limit - 1) / p.Limit
	start := (p.Page - 1) * p.Limit
	if start > len(matched) {
		start = len(matched)
	}
	end := min(start+p.Limit, len(matched))
	p.Items = matched[start:end]
	return p
}

func createdAt(r models.EventRequest) time.Time {
	if len(r.StatusHistory) == 0 {
		return time.Time{}
	}
	return r.StatusHistory[0].Timestamp
}

func matches(r *models.EventRequest, f models.Filters) bool {
	eq := func(want, got string) bool { return want == "" || strings.EqualFold(want, got) }
	if f.Status != "" && models.NormalizeStatus(models.Status(f.Status)) != models.NormalizeStatus(r.Status) {
		return false
	}
	return eq(f.OrganizationID, r.OrganizationID) &&
		eq(f.MunicipalityID, r.Municipality) &&
		eq(f.District, r.District) &&
		eq(f.Province, r.Province) &&
		eq(f.Category, string(r.Category))
}

func (s *requestStore) get(id string) (models.EventRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return models.EventRequest{}, fail(http.StatusNotFound, "Event request %s not found", id)
	}
	return *r, nil
}

// validReviewers implements broadcast visibility: every reviewer whose
// jurisdiction covers the request.
func (s *requestStore) validReviewers(id string) ([]models.Reviewer, error) {
	r, err := s.get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Reviewer{}
	for _, rv := range s.reviewers {
		if rv.Province != "" && !strings.EqualFold(rv.Province, r.Province) {
			continue
		}
		if rv.District != "" && !strings.EqualFold(rv.District, r.District) {
			continue
		}
		out = append(out, rv)
	}
	return out, nil
}

type createInput struct {
	Title          string          `json:"title"`
	Category       models.Category `json:"category"`
	Location       string          `json:"location"`
	Description    string          `json:"description"`
	Start          *time.Time      `json:"startDate"`
	End            *time.Time      `json:"endDate"`
	Province       string          `json:"province"`
	District       string          `json:"district"`
	MunicipalityID string          `json:"municipalityId"`
	OrganizationID string          `json:"organizationId"`
	Details        map[string]any  `json:"categoryDetails"`
}

func (s *requestStore) create(actor capability.Viewer, in createInput) (models.EventRequest, error) {
	if strings.TrimSpace(in.Title) == "" {
		return models.EventRequest{}, fail(http.StatusBadRequest, "title is required")
	}
	switch in.Category {
	case models.CategoryTraining, models.CategoryBloodDrive, models.CategoryAdvocacy:
	default:
		return models.EventRequest{}, fail(http.StatusBadRequest, "category must be one of Training, BloodDrive, Advocacy")
	}
	if in.Start != nil && in.End != nil && in.End.Before(*in.Start) {
		return models.EventRequest{}, fail(http.StatusBadRequest, "endDate must not be before startDate")
	}
	now := s.now().UTC()
	r := &models.EventRequest{
		ID:             uuid.NewString(),
		Title:          strings.TrimSpace(in.Title),
		Category:       in.Category,
		Location:       in.Location,
		Description:    in.Description,
		Start:          in.Start,
		End:            in.End,
		Status:         models.StatusPendingReview,
		Province:       in.Province,
		District:       in.District,
		Municipality:   in.MunicipalityID,
		OrganizationID: in.OrganizationID,
		Requester:      &models.Person{UserID: actor.UserID},
		Details:        in.Details,
		StatusHistory:  []models.HistoryEntry{{Status: models.StatusPendingReview, Actor: actor.UserID, Timestamp: now}},
	}
	s.mu.Lock()
	s.items[r.ID] = r
	s.mu.Unlock()
	return *r, nil
}

// update applies the editable fields of partial while the request is still
// pending review.
func (s *requestStore) update(id string, partial map[string]json.RawMessage) (models.EventRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return models.EventRequest{}, fail(http.StatusNotFound, "Event request %s not found", id)
	}
	if r.Status != models.StatusPendingReview {
		return models.EventRequest{}, fail(http.StatusConflict, "Only pending requests can be edited")
	}
	next := *r
	fields := map[string]any{
		"title":       &next.Title,
		"location":    &next.Location,
		"description": &next.Description,
		"startDate":   &next.Start,
		"endDate":     &next.End,
	}
	for key, raw := range partial {
		dst, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return models.EventRequest{}, fail(http.StatusBadRequest, "invalid %s", key)
		}
	}
	if strings.TrimSpace(next.Title) == "" {
		return models.EventRequest{}, fail(http.StatusBadRequest, "title is required")
	}
	*r = next
	return *r, nil
}

// act runs one lifecycle action for actor. Capability checks come first so
// a forbidden caller learns nothing about the request state.
func (s *requestStore) act(actor capability.Viewer, id string, in models.ActionInput) (models.EventRequest, error) {
	action := strings.ToLower(strings.TrimSpace(in.Action))
	required, known := capability.RequiredCapability[action]
	if !known || action == capability.ActionDelete {
		return models.EventRequest{}, fail(http.StatusBadRequest, "Unknown action %q", in.Action)
	}
	if !capability.HasCapability(actor.Grants, required) {
		return models.EventRequest{}, fail(http.StatusForbidden, "You do not have permission to %s this request", action)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return models.EventRequest{}, fail(http.StatusNotFound, "Event request %s not found", id)
	}
	if !capability.Resolve(actor, *r).Allows(action) {
		return models.EventRequest{}, fail(http.StatusConflict, "Cannot %s a request that is %s", action, r.Status)
	}

	to, err := lifecycle.Next(r.Status, action)
	if err != nil {
		return models.EventRequest{}, fail(http.StatusConflict, "Cannot %s a request that is %s", action, r.Status)
	}
	next := *r
	next.Status = to
	switch action {
	case capability.ActionCancel:
		next.Reschedule, next.ActiveResponder = nil, nil
	case capability.ActionReschedule:
		if in.ProposedDate == nil || in.ProposedDate.IsZero() {
			return models.EventRequest{}, fail(http.StatusBadRequest, "proposedDate is required for reschedule")
		}
		next.Reschedule = &models.RescheduleProposal{ProposedBy: actor.UserID, ProposedDate: in.ProposedDate.UTC(), Note: in.Note}
		role := models.ResponderRequester
		if r.Requester != nil && r.Requester.UserID == actor.UserID {
			role = models.ResponderReviewer
		}
		next.ActiveResponder = &models.ActiveResponder{Role: role}
	case capability.ActionConfirm:
		if next.Reschedule != nil {
			start := next.Reschedule.ProposedDate
			if next.Start != nil && next.End != nil {
				end := start.Add(next.End.Sub(*next.Start))
				next.End = &end
			}
			next.Start = &start
		}
		next.Reschedule, next.ActiveResponder = nil, nil
	case capability.ActionDecline:
		next.Reschedule, next.ActiveResponder = nil, nil
	}
	next.StatusHistory = append(append([]models.HistoryEntry(nil), r.StatusHistory...), models.HistoryEntry{
		Status:    next.Status,
		Actor:     actor.UserID,
		Timestamp: s.now().UTC(),
		Note:      in.Note,
	})
	*r = next
	return next, nil
}

func (s *requestStore) remove(actor capability.Viewer, id string) error {
	if !capability.HasCapability(actor.Grants, capability.RequiredCapability[capability.ActionDelete]) {
		return fail(http.StatusForbidden, "You do not have permission to delete this request")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return fail(http.StatusNotFound, "Event request %s not found", id)
	}
	if !capability.CanDelete(actor.Grants, r.Status) {
		return fail(http.StatusConflict, "Only cancelled or rejected requests can be deleted")
	}
	delete(s.items, id)
	return nil
}

// validate checks that the named places exist and nest correctly.
func (s *requestStore) validate(province, district, municipality string) (bool, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	find := func(kind, name, parent string) (models.Jurisdiction, bool) {
		for _, j := range s.jurisdictions {
			if j.Type == kind && (strings.EqualFold(j.Name, name) || j.ID == name) && (parent == "" || j.ParentID == parent) {
				return j, true
			}
		}
		return models.Jurisdiction{}, false
	}
	var errs []string
	var parent string
	if province != "" {
		p, ok := find("province", province, "")
		if !ok {
			errs = append(errs, fmt.Sprintf("unknown province %q", province))
		}
		parent = p.ID
	}
	if district != "" {
		d, ok := find("district", district, parent)
		if !ok {
			errs = append(errs, fmt.Sprintf("district %q is not in province %q", district, province))
		}
		parent = d.ID
	}
	if municipality != "" {
		if _, ok := find("municipality", municipality, parent); !ok {
			errs = append(errs, fmt.Sprintf("municipality %q is not in district %q", municipality, district))
		}
	}
	return len(errs) == 0, errs
}

func (s *requestStore) allJurisdictions() []models.Jurisdiction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Jurisdiction(nil), s.jurisdictions...)
}

func asAPIError(err error) (*apiError, bool) {
	var ae *apiError
	ok := errors.As(err, &ae)
	return ae, ok
}
